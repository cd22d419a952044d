// Package store holds the tenant-scoped repositories. Every method takes an
// explicit tenant id and pins it in the query it builds; a nil tenant fails
// closed with a tenancy.ScopeViolationError before any SQL runs. The single
// deliberate exception is documented in users.go.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates the requested row does not exist within the
	// caller's tenant. Pipeline callers absorb it with an audit trail.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateDelivery indicates a unique-constraint collision on
	// (tenant_id, external_message_id): the channel delivered the same
	// message twice. Expected, not exceptional.
	ErrDuplicateDelivery = errors.New("store: duplicate delivery")
)

// Querier is the pgx query surface shared by pool and transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the repositories over one connection pool.
type Store struct {
	Patients      *PatientStore
	Conversations *ConversationStore
	Messages      *MessageStore
	Episodes      *EpisodeStore
	Policies      *PolicyStore
	Users         *UserStore
	Jobs          *JobStore
}

// New builds the repository bundle.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("store: pgx pool cannot be nil")
	}
	return newWithQuerier(pool)
}

func newWithQuerier(q Querier) *Store {
	return &Store{
		Patients:      &PatientStore{db: q},
		Conversations: &ConversationStore{db: q},
		Messages:      &MessageStore{db: q},
		Episodes:      &EpisodeStore{db: q},
		Policies:      &PolicyStore{db: q},
		Users:         &UserStore{db: q},
		Jobs:          &JobStore{db: q},
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
