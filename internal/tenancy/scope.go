// Package tenancy enforces the platform's hard isolation invariant: every
// data access carries an explicit tenant filter. Repositories take a tenant
// id parameter and build the filter internally; the guard in this package
// verifies filter trees on the generic query path and write payloads on the
// create path. A missing tenant scope is a programming error, not a runtime
// condition, and fails closed before reaching storage.
package tenancy

import (
	"fmt"

	"github.com/google/uuid"
)

// TenantField is the column every core entity carries.
const TenantField = "tenant_id"

// Operation classifies a data access for violation reporting.
type Operation string

const (
	OpCreate     Operation = "create"
	OpCreateMany Operation = "createMany"
	OpFind       Operation = "find"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpUpsert     Operation = "upsert"
)

// ScopeViolationError reports an access that lacked tenant scoping.
type ScopeViolationError struct {
	Entity    string
	Operation Operation
	Reason    string
}

func (e *ScopeViolationError) Error() string {
	return fmt.Sprintf("tenancy: %s %s is not tenant-scoped: %s", e.Operation, e.Entity, e.Reason)
}

// Filter is a composable query condition. Exactly one of Eq, And, Or, or Not
// is set per node.
type Filter struct {
	Field string
	Value any

	And []Filter
	Or  []Filter
	Not *Filter
}

// Eq builds a field equality condition.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// And builds a conjunction.
func And(filters ...Filter) Filter { return Filter{And: filters} }

// Or builds a disjunction.
func Or(filters ...Filter) Filter { return Filter{Or: filters} }

// Not negates a condition.
func Not(filter Filter) Filter { return Filter{Not: &filter} }

// Verify checks that the filter's effective scope includes tenant_id equal to
// the caller's tenant:
//   - a direct tenant_id equality scopes the access;
//   - an AND is scoped if any operand is scoped;
//   - an OR is scoped only if every operand is scoped (one unscoped branch
//     would leak rows from other tenants);
//   - a NOT never contributes scope (NOT tenant_id = X matches other tenants).
func Verify(entity string, op Operation, filter Filter, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return &ScopeViolationError{Entity: entity, Operation: op, Reason: "caller tenant id is nil"}
	}
	if !scoped(filter, tenantID) {
		return &ScopeViolationError{Entity: entity, Operation: op, Reason: "filter does not pin tenant_id to the caller's tenant"}
	}
	return nil
}

func scoped(f Filter, tenantID uuid.UUID) bool {
	switch {
	case f.Field != "":
		if f.Field != TenantField {
			return false
		}
		v, ok := f.Value.(uuid.UUID)
		return ok && v == tenantID
	case len(f.And) > 0:
		for _, child := range f.And {
			if scoped(child, tenantID) {
				return true
			}
		}
		return false
	case len(f.Or) > 0:
		for _, child := range f.Or {
			if !scoped(child, tenantID) {
				return false
			}
		}
		return true
	case f.Not != nil:
		return false
	default:
		return false
	}
}

// RequireTenant rejects accesses made without a caller tenant. Repository
// methods call this before building any query.
func RequireTenant(entity string, op Operation, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return &ScopeViolationError{Entity: entity, Operation: op, Reason: "caller tenant id is nil"}
	}
	return nil
}

// Require checks a write payload's tenant id. Used by create, createMany (per
// row), update, delete, and upsert paths in the repositories.
func Require(entity string, op Operation, payloadTenant, callerTenant uuid.UUID) error {
	if callerTenant == uuid.Nil {
		return &ScopeViolationError{Entity: entity, Operation: op, Reason: "caller tenant id is nil"}
	}
	if payloadTenant == uuid.Nil {
		return &ScopeViolationError{Entity: entity, Operation: op, Reason: "payload is missing tenant_id"}
	}
	if payloadTenant != callerTenant {
		return &ScopeViolationError{Entity: entity, Operation: op, Reason: "payload tenant_id does not match the caller's tenant"}
	}
	return nil
}

// RequireAll verifies every row of a batch write.
func RequireAll(entity string, payloadTenants []uuid.UUID, callerTenant uuid.UUID) error {
	if len(payloadTenants) == 0 {
		return &ScopeViolationError{Entity: entity, Operation: OpCreateMany, Reason: "empty batch"}
	}
	for _, payloadTenant := range payloadTenants {
		if err := Require(entity, OpCreateMany, payloadTenant, callerTenant); err != nil {
			return err
		}
	}
	return nil
}
