package tenancy

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestTenantIDRoundTrip(t *testing.T) {
	tenantID := uuid.New()
	ctx := WithTenantID(context.Background(), tenantID)

	got, ok := TenantIDFromContext(ctx)
	if !ok || got != tenantID {
		t.Fatalf("expected %s, got %s ok=%v", tenantID, got, ok)
	}
}

func TestTenantIDMissing(t *testing.T) {
	if _, ok := TenantIDFromContext(context.Background()); ok {
		t.Fatal("expected no tenant id in empty context")
	}
}

func TestTenantIDNilRejected(t *testing.T) {
	ctx := WithTenantID(context.Background(), uuid.Nil)
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatal("nil tenant id should not count as present")
	}
}
