package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sanamente-ai/sanamente-platform/internal/tenancy"
)

// Episode close reasons.
const (
	CloseReasonSafety    = "SAFETY"
	CloseReasonTurnLimit = "TURN_LIMIT"
	CloseReasonProvider  = "PROVIDER_FAILURE"
)

// Episode is a bounded run of AI turns within a conversation. Episode numbers
// are strictly increasing per conversation and never reused; at most one open
// episode exists per conversation, enforced by a partial unique index.
type Episode struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	EpisodeNumber  int
	AITurnsUsed    int
	IsOpen         bool
	CloseReason    string
	CreatedAt      time.Time
	ClosedAt       *time.Time
}

type EpisodeStore struct {
	db Querier
}

const episodeOpenConstraint = "uq_ai_episodes_open"

const episodeColumns = `id, tenant_id, conversation_id, episode_number, ai_turns_used, is_open, COALESCE(close_reason, ''), created_at, closed_at`

func scanEpisode(row pgx.Row) (Episode, error) {
	var e Episode
	err := row.Scan(&e.ID, &e.TenantID, &e.ConversationID, &e.EpisodeNumber, &e.AITurnsUsed, &e.IsOpen, &e.CloseReason, &e.CreatedAt, &e.ClosedAt)
	return e, err
}

// FindOpen returns the conversation's open episode, or ErrNotFound.
func (s *EpisodeStore) FindOpen(ctx context.Context, tenantID, conversationID uuid.UUID) (Episode, error) {
	if err := tenancy.RequireTenant("ai_episode", tenancy.OpFind, tenantID); err != nil {
		return Episode{}, err
	}

	query := `
		SELECT ` + episodeColumns + `
		FROM ai_episodes
		WHERE tenant_id = $1 AND conversation_id = $2 AND is_open
	`
	e, err := scanEpisode(s.db.QueryRow(ctx, query, tenantID, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Episode{}, ErrNotFound
		}
		return Episode{}, fmt.Errorf("store: find open episode: %w", err)
	}
	return e, nil
}

// CreateOpen opens the next episode for the conversation. The episode number
// is allocated as max+1 in the insert itself; a concurrent open (unique
// violation on the partial index) resolves by returning the episode the other
// writer created, so callers never observe two open episodes.
func (s *EpisodeStore) CreateOpen(ctx context.Context, tenantID, conversationID uuid.UUID) (Episode, error) {
	if err := tenancy.Require("ai_episode", tenancy.OpCreate, tenantID, tenantID); err != nil {
		return Episode{}, err
	}

	query := `
		INSERT INTO ai_episodes (id, tenant_id, conversation_id, episode_number, ai_turns_used, is_open)
		SELECT $1, $2, $3, COALESCE(MAX(episode_number), 0) + 1, 0, TRUE
		FROM ai_episodes
		WHERE tenant_id = $2 AND conversation_id = $3
		RETURNING ` + episodeColumns + `
	`
	e, err := scanEpisode(s.db.QueryRow(ctx, query, uuid.New(), tenantID, conversationID))
	if err != nil {
		if isUniqueViolation(err, episodeOpenConstraint) {
			return s.FindOpen(ctx, tenantID, conversationID)
		}
		return Episode{}, fmt.Errorf("store: create episode: %w", err)
	}
	return e, nil
}

// RecordTurn increments the turn counter after a successful completion,
// optionally closing the episode in the same statement.
func (s *EpisodeStore) RecordTurn(ctx context.Context, tenantID, episodeID uuid.UUID, closeNow bool, closeReason string) (Episode, error) {
	if err := tenancy.RequireTenant("ai_episode", tenancy.OpUpdate, tenantID); err != nil {
		return Episode{}, err
	}

	query := `
		UPDATE ai_episodes
		SET ai_turns_used = ai_turns_used + 1,
			is_open = CASE WHEN $3 THEN FALSE ELSE is_open END,
			close_reason = CASE WHEN $3 THEN $4 ELSE close_reason END,
			closed_at = CASE WHEN $3 THEN now() ELSE closed_at END
		WHERE tenant_id = $1 AND id = $2 AND is_open
		RETURNING ` + episodeColumns + `
	`
	e, err := scanEpisode(s.db.QueryRow(ctx, query, tenantID, episodeID, closeNow, nullIfEmpty(closeReason)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Episode{}, ErrNotFound
		}
		return Episode{}, fmt.Errorf("store: record episode turn: %w", err)
	}
	return e, nil
}

// Close terminates an episode without consuming a turn (safety close, turn
// exhaustion before a model call, provider failure).
func (s *EpisodeStore) Close(ctx context.Context, tenantID, episodeID uuid.UUID, closeReason string) (Episode, error) {
	if err := tenancy.RequireTenant("ai_episode", tenancy.OpUpdate, tenantID); err != nil {
		return Episode{}, err
	}

	query := `
		UPDATE ai_episodes
		SET is_open = FALSE, close_reason = $3, closed_at = now()
		WHERE tenant_id = $1 AND id = $2 AND is_open
		RETURNING ` + episodeColumns + `
	`
	e, err := scanEpisode(s.db.QueryRow(ctx, query, tenantID, episodeID, nullIfEmpty(closeReason)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Episode{}, ErrNotFound
		}
		return Episode{}, fmt.Errorf("store: close episode: %w", err)
	}
	return e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
