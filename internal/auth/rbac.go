package auth

import "strings"

type Role string

const (
	RoleUser      Role = "ROLE_USER"
	RoleAdmin     Role = "ROLE_ADMIN"
	RoleAnonymous Role = "ROLE_ANONYMOUS"
)

// DefaultRoles is the role set given to self-registered accounts.
func DefaultRoles() []Role {
	return []Role{RoleUser}
}

// NormalizeRole accepts "admin", "ADMIN" or "ROLE_ADMIN" and returns the
// canonical role. Unknown values return ok=false.
func NormalizeRole(role string) (Role, bool) {
	value := strings.ToUpper(strings.TrimSpace(role))
	if value != "" && !strings.HasPrefix(value, "ROLE_") {
		value = "ROLE_" + value
	}
	switch Role(value) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleAnonymous:
		return RoleAnonymous, true
	default:
		return "", false
	}
}

// ParseRoles normalizes a list of role names, dropping unknown and duplicate entries.
func ParseRoles(values []string) []Role {
	roles := make([]Role, 0, len(values))
	seen := make(map[Role]struct{}, len(values))
	for _, value := range values {
		role, ok := NormalizeRole(value)
		if !ok {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles
}

func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}

// HasAnyRole reports whether roles contains at least one of allowed.
func HasAnyRole(roles []Role, allowed ...Role) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, have := range roles {
		for _, want := range allowed {
			if have == want {
				return true
			}
		}
	}
	return false
}
