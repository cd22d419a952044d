// Package episode drives the per-conversation AI episode state machine: one
// open episode at a time, a bounded number of AI turns, and a terminal close
// with a recorded reason.
package episode

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/signals"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// Action is what the reply pipeline should do for the current patient turn.
type Action int

const (
	// ActionSafetyClose sends the fixed safety reply and closes the episode
	// without calling the model or consuming a turn.
	ActionSafetyClose Action = iota
	// ActionLimitClose sends the fixed turn-limit reply and closes the
	// episode; the budget was already exhausted before this turn.
	ActionLimitClose
	// ActionFinalReply calls the model, appends the closing addendum, and
	// closes the episode after recording the turn.
	ActionFinalReply
	// ActionReply calls the model and records the turn; the episode stays
	// open.
	ActionReply
)

func (a Action) String() string {
	switch a {
	case ActionSafetyClose:
		return "safety_close"
	case ActionLimitClose:
		return "limit_close"
	case ActionFinalReply:
		return "final_reply"
	default:
		return "reply"
	}
}

// Decide picks the action for one patient turn. remaining is the turn budget
// left before this turn (maxTurns - aiTurnsUsed). Safety wins over everything;
// the turn limit is only consulted when it is enabled.
func Decide(remaining int, flags signals.Flags, turnLimitDisabled bool) Action {
	if flags.HighRisk {
		return ActionSafetyClose
	}
	if turnLimitDisabled {
		return ActionReply
	}
	if remaining <= 0 {
		return ActionLimitClose
	}
	if remaining == 1 {
		return ActionFinalReply
	}
	return ActionReply
}

// episodeStore is the slice of the store the orchestrator needs.
type episodeStore interface {
	FindOpen(ctx context.Context, tenantID, conversationID uuid.UUID) (store.Episode, error)
	CreateOpen(ctx context.Context, tenantID, conversationID uuid.UUID) (store.Episode, error)
}

// Orchestrator resolves the open episode for a conversation, creating one
// when none exists.
type Orchestrator struct {
	episodes episodeStore
	logger   *logging.Logger
}

func NewOrchestrator(episodes episodeStore, logger *logging.Logger) *Orchestrator {
	if episodes == nil {
		panic("episode: episode store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{episodes: episodes, logger: logger}
}

// EnsureOpen returns the conversation's open episode, creating the next one
// when no episode is open. Creation is race-guarded at the database level, so
// two concurrent callers always converge on the same episode.
func (o *Orchestrator) EnsureOpen(ctx context.Context, tenantID, conversationID uuid.UUID) (store.Episode, error) {
	ep, err := o.episodes.FindOpen(ctx, tenantID, conversationID)
	if err == nil {
		return ep, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Episode{}, fmt.Errorf("episode: find open: %w", err)
	}

	ep, err = o.episodes.CreateOpen(ctx, tenantID, conversationID)
	if err != nil {
		return store.Episode{}, fmt.Errorf("episode: open: %w", err)
	}
	o.logger.Info("opened ai episode",
		"tenant_id", tenantID.String(),
		"conversation_id", conversationID.String(),
		"episode_number", ep.EpisodeNumber,
	)
	return ep, nil
}
