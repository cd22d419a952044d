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

// Conversation statuses.
const (
	ConversationOpen   = "OPEN"
	ConversationClosed = "CLOSED"
)

// Conversation links a psychologist and a patient. EncryptedDEK is the
// wrapped per-conversation data key; it is opaque outside internal/crypto and
// unwrapped transiently per operation, never cached.
type Conversation struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PsychologistID uuid.UUID
	PatientID      uuid.UUID
	AIEnabled      bool
	EncryptedDEK   string
	Status         string
	CreatedAt      time.Time
}

type ConversationStore struct {
	db Querier
}

const conversationColumns = `id, tenant_id, psychologist_id, patient_id, ai_enabled, encrypted_dek, status, created_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.PsychologistID, &c.PatientID, &c.AIEnabled, &c.EncryptedDEK, &c.Status, &c.CreatedAt)
	return c, err
}

// Get loads a conversation by id within the tenant.
func (s *ConversationStore) Get(ctx context.Context, tenantID, conversationID uuid.UUID) (Conversation, error) {
	if err := tenancy.RequireTenant("conversation", tenancy.OpFind, tenantID); err != nil {
		return Conversation{}, err
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = $1 AND id = $2`
	c, err := scanConversation(s.db.QueryRow(ctx, query, tenantID, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("store: get conversation: %w", err)
	}
	return c, nil
}

// FindOpenByPatient resolves the patient's open conversation, most recently
// created first.
func (s *ConversationStore) FindOpenByPatient(ctx context.Context, tenantID, patientID uuid.UUID) (Conversation, error) {
	if err := tenancy.RequireTenant("conversation", tenancy.OpFind, tenantID); err != nil {
		return Conversation{}, err
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND patient_id = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	c, err := scanConversation(s.db.QueryRow(ctx, query, tenantID, patientID, ConversationOpen))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("store: find open conversation: %w", err)
	}
	return c, nil
}

// Create persists a new conversation. The payload must carry the caller's
// tenant id.
func (s *ConversationStore) Create(ctx context.Context, tenantID uuid.UUID, c Conversation) (Conversation, error) {
	if err := tenancy.Require("conversation", tenancy.OpCreate, c.TenantID, tenantID); err != nil {
		return Conversation{}, err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = ConversationOpen
	}

	query := `
		INSERT INTO conversations (id, tenant_id, psychologist_id, patient_id, ai_enabled, encrypted_dek, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query, c.ID, c.TenantID, c.PsychologistID, c.PatientID, c.AIEnabled, c.EncryptedDEK, c.Status).Scan(&c.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: create conversation: %w", err)
	}
	return c, nil
}
