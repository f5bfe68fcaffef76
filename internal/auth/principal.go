package auth

import "context"

// Principal is the caller identity attached to a request after the gate
// accepts its bearer token.
type Principal struct {
	Subject   string
	Roles     []Role
	TokenID   string
	Anonymous bool
}

func (p Principal) HasRole(roles ...Role) bool {
	return HasAnyRole(p.Roles, roles...)
}

// AnonymousPrincipal is attached to upload routes that bypass token checks.
func AnonymousPrincipal() *Principal {
	return &Principal{
		Subject:   "anonymous",
		Roles:     []Role{RoleAnonymous},
		Anonymous: true,
	}
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns nil when the request carries no identity.
func PrincipalFromContext(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}
	principal, _ := ctx.Value(principalKey{}).(*Principal)
	return principal
}
