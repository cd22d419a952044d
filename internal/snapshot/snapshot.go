// Package snapshot stores short-lived copies of the exact prompt sent to the
// language model, for operator debugging. Snapshots are best-effort: losing
// one never affects the reply path.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const keyPrefix = "prompt_snapshot:"

// ErrNotFound is returned when no snapshot exists (or it expired).
var ErrNotFound = errors.New("snapshot: not found")

// PromptMessage is one entry of the prompt as sent to the provider.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptSnapshot is the operator-facing debug payload.
type PromptSnapshot struct {
	TenantID       string          `json:"tenantId"`
	ConversationID string          `json:"conversationId"`
	CreatedAt      time.Time       `json:"createdAt"`
	Model          string          `json:"model"`
	System         []string        `json:"system,omitempty"`
	Messages       []PromptMessage `json:"messages"`
}

// Store keeps snapshots in Redis with a bounded TTL.
type Store struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		redis:  redisClient,
		tracer: otel.Tracer("sanamente.internal.snapshot"),
		ttl:    ttl,
	}
}

// Save writes the snapshot, replacing any previous one for the conversation.
func (s *Store) Save(ctx context.Context, snap PromptSnapshot) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if snap.TenantID == "" || snap.ConversationID == "" {
		return errors.New("snapshot: tenant and conversation ids required")
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "snapshot.save")
	defer span.End()

	if err := s.redis.Set(ctx, snapshotKey(snap.TenantID, snap.ConversationID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("snapshot: save: %w", err)
	}
	return nil
}

// Get loads the snapshot for a tenant+conversation.
func (s *Store) Get(ctx context.Context, tenantID, conversationID uuid.UUID) (PromptSnapshot, error) {
	if s == nil || s.redis == nil {
		return PromptSnapshot{}, ErrNotFound
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := s.tracer.Start(ctx, "snapshot.get")
	defer span.End()

	raw, err := s.redis.Get(ctx, snapshotKey(tenantID.String(), conversationID.String())).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PromptSnapshot{}, ErrNotFound
		}
		span.RecordError(err)
		return PromptSnapshot{}, fmt.Errorf("snapshot: get: %w", err)
	}

	var snap PromptSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return PromptSnapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return snap, nil
}

func snapshotKey(tenantID, conversationID string) string {
	return keyPrefix + tenantID + ":" + conversationID
}
