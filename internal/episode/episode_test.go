package episode

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanamente-ai/sanamente-platform/internal/signals"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name      string
		remaining int
		flags     signals.Flags
		disabled  bool
		want      Action
	}{
		{"high risk wins with budget left", 5, signals.Flags{HighRisk: true}, false, ActionSafetyClose},
		{"high risk wins with budget gone", 0, signals.Flags{HighRisk: true}, false, ActionSafetyClose},
		{"high risk wins over disabled limit", 0, signals.Flags{HighRisk: true}, true, ActionSafetyClose},
		{"budget exhausted", 0, signals.Flags{}, false, ActionLimitClose},
		{"budget negative", -2, signals.Flags{}, false, ActionLimitClose},
		{"last turn gets addendum", 1, signals.Flags{}, false, ActionFinalReply},
		{"plain turn", 2, signals.Flags{}, false, ActionReply},
		{"other signals do not close", 1, signals.Flags{Anger: true, Rumination: true}, false, ActionFinalReply},
		{"disabled limit never closes", 0, signals.Flags{}, true, ActionReply},
		{"disabled limit skips addendum", 1, signals.Flags{}, true, ActionReply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.remaining, tc.flags, tc.disabled))
		})
	}
}

type fakeEpisodeStore struct {
	open      *store.Episode
	created   int
	findErr   error
	createErr error
}

func (f *fakeEpisodeStore) FindOpen(_ context.Context, _, _ uuid.UUID) (store.Episode, error) {
	if f.findErr != nil {
		return store.Episode{}, f.findErr
	}
	if f.open == nil {
		return store.Episode{}, store.ErrNotFound
	}
	return *f.open, nil
}

func (f *fakeEpisodeStore) CreateOpen(_ context.Context, tenantID, conversationID uuid.UUID) (store.Episode, error) {
	if f.createErr != nil {
		return store.Episode{}, f.createErr
	}
	f.created++
	ep := store.Episode{ID: uuid.New(), TenantID: tenantID, ConversationID: conversationID, EpisodeNumber: 1, IsOpen: true}
	f.open = &ep
	return ep, nil
}

func TestEnsureOpenReturnsExisting(t *testing.T) {
	existing := store.Episode{ID: uuid.New(), EpisodeNumber: 3, AITurnsUsed: 2, IsOpen: true}
	fake := &fakeEpisodeStore{open: &existing}
	o := NewOrchestrator(fake, nil)

	got, err := o.EnsureOpen(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Zero(t, fake.created)
}

func TestEnsureOpenCreatesWhenMissing(t *testing.T) {
	fake := &fakeEpisodeStore{}
	o := NewOrchestrator(fake, nil)

	got, err := o.EnsureOpen(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.True(t, got.IsOpen)
	assert.Equal(t, 1, fake.created)
}

func TestEnsureOpenPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	o := NewOrchestrator(&fakeEpisodeStore{findErr: boom}, nil)

	_, err := o.EnsureOpen(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, boom)
}
