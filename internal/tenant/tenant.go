// Package tenant carries the active tenant scope for a logical operation.
//
// The scope rides on the context.Context of the operation: entering a scope
// derives a child context, so concurrent operations never observe each
// other's tenant, a nested WithTenant shadows the outer one only for code
// holding the inner context, and unwinding the call stack restores the prior
// scope on every exit path, error or not.
package tenant

import (
	"context"

	appErr "github.com/quarryai/quarry/internal/pkg/errors"
)

type ctxKey struct{}

// WithTenant enters a tenant scope. Every tenant-scoped read or write made
// with the returned context is constrained to this tenant.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext reports the active tenant, if any. A context with no scope is
// a privileged/administrative path and must be treated as such by callers.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// MustFromContext returns the active tenant or ErrForbidden. Operations that
// are meaningless without a tenant (retrieval, chat turns) use this.
func MustFromContext(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", appErr.ErrForbidden
	}
	return id, nil
}

// Scope appends the implicit tenant predicate to a gendry where-map. Repos
// route every tenant-scoped query through here so the filter cannot be
// forgotten at individual call sites.
func Scope(ctx context.Context, where map[string]interface{}) map[string]interface{} {
	if where == nil {
		where = map[string]interface{}{}
	}
	if id, ok := FromContext(ctx); ok {
		where["tenant_id"] = id
	}
	return where
}
