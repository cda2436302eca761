package auth

import (
	"context"
	"strings"
)

// Roles carried in the bearer token's role claim.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// HasRole reports whether the identity carries the role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && i.Role == role
}

// HasAnyRole reports whether the identity carries any of the roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsStaff is true for sellers and admins, who may act on orders they do not own.
func (i *Identity) IsStaff() bool {
	return i.HasAnyRole(RoleSeller, RoleAdmin)
}

type identityKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func validRole(role string) bool {
	switch role {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	default:
		return false
	}
}
