package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sanamente-ai/sanamente-platform/internal/tenancy"
)

// Patient is a care recipient reachable over an external channel.
type Patient struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	DisplayName       string
	ChannelAddress    string // E.164 phone for WhatsApp
	PreferredLanguage string // BCP-47-ish tag, e.g. "es"
}

type PatientStore struct {
	db Querier
}

// FindByChannelAddress resolves a patient by tenant + external channel
// address. Returns ErrNotFound for unknown senders.
func (s *PatientStore) FindByChannelAddress(ctx context.Context, tenantID uuid.UUID, address string) (Patient, error) {
	if err := tenancy.RequireTenant("patient", tenancy.OpFind, tenantID); err != nil {
		return Patient{}, err
	}

	query := `
		SELECT id, tenant_id, display_name, channel_address, preferred_language
		FROM patients
		WHERE tenant_id = $1 AND channel_address = $2
	`
	var p Patient
	err := s.db.QueryRow(ctx, query, tenantID, address).Scan(
		&p.ID, &p.TenantID, &p.DisplayName, &p.ChannelAddress, &p.PreferredLanguage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Patient{}, ErrNotFound
		}
		return Patient{}, fmt.Errorf("store: find patient by channel address: %w", err)
	}
	return p, nil
}

// Get loads a patient by id within the tenant.
func (s *PatientStore) Get(ctx context.Context, tenantID, patientID uuid.UUID) (Patient, error) {
	if err := tenancy.RequireTenant("patient", tenancy.OpFind, tenantID); err != nil {
		return Patient{}, err
	}

	query := `
		SELECT id, tenant_id, display_name, channel_address, preferred_language
		FROM patients
		WHERE tenant_id = $1 AND id = $2
	`
	var p Patient
	err := s.db.QueryRow(ctx, query, tenantID, patientID).Scan(
		&p.ID, &p.TenantID, &p.DisplayName, &p.ChannelAddress, &p.PreferredLanguage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Patient{}, ErrNotFound
		}
		return Patient{}, fmt.Errorf("store: get patient: %w", err)
	}
	return p, nil
}
