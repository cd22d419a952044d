package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sanamente-ai/sanamente-platform/internal/policy"
	"github.com/sanamente-ai/sanamente-platform/internal/tenancy"
)

type PolicyStore struct {
	db Querier
}

const policyColumns = `id, tenant_id, scope, owner_id, policy_text, tuning, signal_overrides, updated_at`

func scanPolicy(row pgx.Row) (policy.Policy, error) {
	var (
		p            policy.Policy
		tuningJSON   []byte
		overrideJSON []byte
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Scope, &p.OwnerID, &p.Text, &tuningJSON, &overrideJSON, &p.UpdatedAt); err != nil {
		return policy.Policy{}, err
	}
	if len(tuningJSON) > 0 {
		if err := json.Unmarshal(tuningJSON, &p.Tuning); err != nil {
			return policy.Policy{}, fmt.Errorf("store: decode policy tuning: %w", err)
		}
	}
	if len(overrideJSON) > 0 {
		if err := json.Unmarshal(overrideJSON, &p.SignalOverrides); err != nil {
			return policy.Policy{}, fmt.Errorf("store: decode signal overrides: %w", err)
		}
	}
	return p, nil
}

// ForReply loads the policies consulted at reply time: the psychologist's
// policy and the conversation's policy, in that order.
func (s *PolicyStore) ForReply(ctx context.Context, tenantID, psychologistID, conversationID uuid.UUID) ([]policy.Policy, error) {
	if err := tenancy.RequireTenant("ai_policy", tenancy.OpFind, tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + policyColumns + `
		FROM ai_policies
		WHERE tenant_id = $1
		  AND ((scope = $2 AND owner_id = $3) OR (scope = $4 AND owner_id = $5))
		ORDER BY CASE scope WHEN $2 THEN 0 ELSE 1 END
	`
	rows, err := s.db.Query(ctx, query, tenantID,
		string(policy.ScopePsychologist), psychologistID,
		string(policy.ScopeConversation), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	defer rows.Close()

	var policies []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate policies: %w", err)
	}
	return policies, nil
}

// Upsert writes a policy for its owner, replacing any previous one of the
// same scope.
func (s *PolicyStore) Upsert(ctx context.Context, tenantID uuid.UUID, p policy.Policy) (policy.Policy, error) {
	if err := tenancy.Require("ai_policy", tenancy.OpUpsert, p.TenantID, tenantID); err != nil {
		return policy.Policy{}, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	tuningJSON, err := json.Marshal(p.Tuning)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("store: encode policy tuning: %w", err)
	}
	overrideJSON, err := json.Marshal(p.SignalOverrides)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("store: encode signal overrides: %w", err)
	}

	query := `
		INSERT INTO ai_policies (id, tenant_id, scope, owner_id, policy_text, tuning, signal_overrides, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (tenant_id, scope, owner_id) DO UPDATE
		SET policy_text = EXCLUDED.policy_text,
			tuning = EXCLUDED.tuning,
			signal_overrides = EXCLUDED.signal_overrides,
			updated_at = now()
		RETURNING id, updated_at
	`
	var updatedAt time.Time
	var id uuid.UUID
	if err := s.db.QueryRow(ctx, query, p.ID, p.TenantID, string(p.Scope), p.OwnerID, p.Text, tuningJSON, overrideJSON).Scan(&id, &updatedAt); err != nil {
		return policy.Policy{}, fmt.Errorf("store: upsert policy: %w", err)
	}
	p.ID = id
	p.UpdatedAt = updatedAt
	return p, nil
}
