package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const tenantKey ctxKey = "sanamente.tenant_id"

// WithTenantID stores the tenant id in context.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	val := ctx.Value(tenantKey)
	if val == nil {
		return uuid.Nil, false
	}
	tenantID, ok := val.(uuid.UUID)
	return tenantID, ok && tenantID != uuid.Nil
}
