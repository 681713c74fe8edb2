package shared

import (
	"context"
	"slices"
)

// Principal identifies the authenticated caller forwarded by the gateway.
type Principal struct {
	UserID string
	Roles  []string
}

// HasAnyRole reports whether the principal holds one of roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if slices.Contains(p.Roles, role) {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// ActorFromContext returns the caller id or "system" for background work.
func ActorFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.UserID != "" {
		return p.UserID
	}
	return "system"
}
