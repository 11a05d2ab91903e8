package identity

import (
	"context"
	"time"
)

// Role is a coarse authorization grant derived per request from live
// account/user state, never trusted from the token body.
type Role string

const (
	RoleUser          Role = "User"
	RolePrimaryUser   Role = "PrimaryUser"
	RoleSystemAccount Role = "SystemAccount"
	RoleImpersonator  Role = "Impersonator"
)

// Principal is the authenticated identity for a single request. It carries
// the validated token identity plus the role set computed from current
// account/user state. Nothing here survives the request.
type Principal struct {
	AccountID    int64
	UserID       string
	FriendlyName string
	Roles        map[Role]struct{}
	ExpiresAt    time.Time

	// Impersonation provenance, empty for ordinary logins.
	ImpersonatedBy    string
	ImpersonatingFrom string
}

// HasRole reports whether the principal holds the given role.
func (p Principal) HasRole(role Role) bool {
	_, ok := p.Roles[role]
	return ok
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
