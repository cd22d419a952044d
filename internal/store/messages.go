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

// Message directions.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// Message authors.
const (
	AuthorPatient      = "PATIENT"
	AuthorPsychologist = "PSYCHOLOGIST"
	AuthorAI           = "AI"
	AuthorSystem       = "SYSTEM"
)

// Message is a stored encrypted message. Body plaintext never touches the
// database: only ciphertext, nonce, and tag are persisted. Attachments keep
// their ciphertext in blob storage; the row records the key and AEAD segments.
type Message struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Direction      string
	Author         string

	Ciphertext []byte
	Nonce      []byte
	Tag        []byte

	AttachmentKey   string
	AttachmentNonce []byte
	AttachmentTag   []byte
	AttachmentMime  string
	AttachmentSize  int64

	ExternalMessageID string // dedup key when the channel supplies one
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

type MessageStore struct {
	db Querier
}

const messageDedupConstraint = "uq_messages_tenant_external_id"

// Insert persists a message. A collision on (tenant_id, external_message_id)
// returns ErrDuplicateDelivery; this is the pipeline's idempotency boundary.
func (s *MessageStore) Insert(ctx context.Context, tenantID uuid.UUID, m Message) (Message, error) {
	if err := tenancy.Require("message", tenancy.OpCreate, m.TenantID, tenantID); err != nil {
		return Message{}, err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	query := `
		INSERT INTO messages (
			id, tenant_id, conversation_id, direction, author,
			ciphertext, nonce, tag,
			attachment_key, attachment_nonce, attachment_tag, attachment_mime, attachment_size,
			external_message_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11,NULLIF($12,''),$13,NULLIF($14,''))
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		m.ID, m.TenantID, m.ConversationID, m.Direction, m.Author,
		m.Ciphertext, m.Nonce, m.Tag,
		m.AttachmentKey, m.AttachmentNonce, m.AttachmentTag, m.AttachmentMime, m.AttachmentSize,
		m.ExternalMessageID,
	).Scan(&m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, messageDedupConstraint) {
			return Message{}, ErrDuplicateDelivery
		}
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	}
	return m, nil
}

const messageColumns = `
	id, tenant_id, conversation_id, direction, author,
	ciphertext, nonce, tag,
	COALESCE(attachment_key, ''), attachment_nonce, attachment_tag,
	COALESCE(attachment_mime, ''), attachment_size,
	COALESCE(external_message_id, ''), created_at, deleted_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.TenantID, &m.ConversationID, &m.Direction, &m.Author,
		&m.Ciphertext, &m.Nonce, &m.Tag,
		&m.AttachmentKey, &m.AttachmentNonce, &m.AttachmentTag,
		&m.AttachmentMime, &m.AttachmentSize,
		&m.ExternalMessageID, &m.CreatedAt, &m.DeletedAt,
	)
	return m, err
}

// Get loads one message within the tenant.
func (s *MessageStore) Get(ctx context.Context, tenantID, messageID uuid.UUID) (Message, error) {
	if err := tenancy.RequireTenant("message", tenancy.OpFind, tenantID); err != nil {
		return Message{}, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`
	m, err := scanMessage(s.db.QueryRow(ctx, query, tenantID, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("store: get message: %w", err)
	}
	return m, nil
}

// Recent returns the most recent limit messages of a conversation in
// chronological order, excluding soft-deleted rows.
func (s *MessageStore) Recent(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]Message, error) {
	if err := tenancy.RequireTenant("message", tenancy.OpFind, tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE tenant_id = $1 AND conversation_id = $2 AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT $3
		) recent ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return messages, nil
}

// SoftDelete marks a message deleted. Messages are never physically removed.
func (s *MessageStore) SoftDelete(ctx context.Context, tenantID, messageID uuid.UUID) error {
	if err := tenancy.RequireTenant("message", tenancy.OpDelete, tenantID); err != nil {
		return err
	}

	query := `UPDATE messages SET deleted_at = now() WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`
	ct, err := s.db.Exec(ctx, query, tenantID, messageID)
	if err != nil {
		return fmt.Errorf("store: soft delete message: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
