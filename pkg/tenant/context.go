// Package tenant carries the restaurant a request acts for.
package tenant

import (
	"context"
	"errors"
)

// Header is set by the gateway when the token carries no tenant
const Header = "X-Tenant-ID"

type contextKey struct{}

// ErrMissing is returned when the context carries no tenant
var ErrMissing = errors.New("no tenant in context")

// WithTenantID returns a copy of ctx scoped to the restaurant tenantID
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// TenantID returns the restaurant ctx is scoped to, or ErrMissing.
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok || id == "" {
		return "", ErrMissing
	}
	return id, nil
}
