package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Hour), mr
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	tenant := uuid.New()
	conv := uuid.New()

	err := store.Save(context.Background(), PromptSnapshot{
		TenantID:       tenant.String(),
		ConversationID: conv.String(),
		Model:          "anthropic.claude-3-haiku",
		System:         []string{"Responde en espanol."},
		Messages: []PromptMessage{
			{Role: "user", Content: "hola"},
			{Role: "assistant", Content: "hola, como estas?"},
		},
	})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), tenant, conv)
	require.NoError(t, err)
	assert.Equal(t, conv.String(), got.ConversationID)
	assert.Len(t, got.Messages, 2)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSnapshotExpires(t *testing.T) {
	store, mr := newTestStore(t)
	tenant := uuid.New()
	conv := uuid.New()

	require.NoError(t, store.Save(context.Background(), PromptSnapshot{
		TenantID:       tenant.String(),
		ConversationID: conv.String(),
		Model:          "m",
	}))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(context.Background(), tenant, conv)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesPrevious(t *testing.T) {
	store, _ := newTestStore(t)
	tenant := uuid.New()
	conv := uuid.New()

	require.NoError(t, store.Save(context.Background(), PromptSnapshot{
		TenantID: tenant.String(), ConversationID: conv.String(), Model: "first",
	}))
	require.NoError(t, store.Save(context.Background(), PromptSnapshot{
		TenantID: tenant.String(), ConversationID: conv.String(), Model: "second",
	}))

	got, err := store.Get(context.Background(), tenant, conv)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Model)
}

func TestNilStoreIsNoop(t *testing.T) {
	var store *Store
	require.NoError(t, store.Save(context.Background(), PromptSnapshot{TenantID: "t", ConversationID: "c"}))
	_, err := store.Get(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
