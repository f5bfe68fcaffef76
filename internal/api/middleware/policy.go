package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/eventboard/server/internal/auth"
	"gopkg.in/yaml.v3"
)

// Access says what a request needs before it reaches its handler.
type Access string

const (
	// AccessPublic routes skip token checks entirely.
	AccessPublic Access = "public"
	// AccessUpload routes skip token checks and run as the anonymous principal.
	AccessUpload Access = "upload"
	// AccessAuthenticated routes need a valid access token.
	AccessAuthenticated Access = "authenticated"
	// AccessRole routes need a valid access token carrying one of Roles.
	AccessRole Access = "role"
)

type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
)

// RouteRule is one row of the route policy table. An empty Methods list
// matches every method.
type RouteRule struct {
	Methods  []string  `yaml:"methods"`
	Patterns []string  `yaml:"patterns"`
	Match    MatchKind `yaml:"match"`
	Access   Access    `yaml:"access"`
	Roles    []string  `yaml:"roles"`

	roles []auth.Role
}

// RequiredRoles returns the normalized roles of an AccessRole rule.
func (r RouteRule) RequiredRoles() []auth.Role {
	return r.roles
}

func (r RouteRule) matches(method, path string) bool {
	if len(r.Methods) > 0 {
		found := false
		for _, m := range r.Methods {
			if strings.EqualFold(m, method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, pattern := range r.Patterns {
		switch r.Match {
		case MatchPrefix:
			if matchPrefix(pattern, path) {
				return true
			}
		default:
			if path == pattern {
				return true
			}
		}
	}
	return false
}

// matchPrefix matches whole path segments: "/events" matches "/events" and
// "/events/7" but not "/eventsfoo".
func matchPrefix(pattern, path string) bool {
	trimmed := strings.TrimSuffix(pattern, "/")
	if trimmed == "" {
		return true
	}
	return path == trimmed || strings.HasPrefix(path, trimmed+"/")
}

// RoutePolicy is an ordered rule table. The first matching rule wins and
// unmatched requests need authentication.
type RoutePolicy struct {
	rules    []RouteRule
	fallback RouteRule
}

func NewRoutePolicy(rules []RouteRule) (*RoutePolicy, error) {
	compiled := make([]RouteRule, 0, len(rules))
	for i, rule := range rules {
		if len(rule.Patterns) == 0 {
			return nil, fmt.Errorf("route rule %d: at least one pattern is required", i)
		}
		for _, pattern := range rule.Patterns {
			if !strings.HasPrefix(pattern, "/") {
				return nil, fmt.Errorf("route rule %d: pattern %q must start with /", i, pattern)
			}
		}
		switch rule.Match {
		case "":
			rule.Match = MatchExact
		case MatchExact, MatchPrefix:
		default:
			return nil, fmt.Errorf("route rule %d: unknown match %q", i, rule.Match)
		}
		switch rule.Access {
		case AccessPublic, AccessUpload, AccessAuthenticated:
		case AccessRole:
			rule.roles = auth.ParseRoles(rule.Roles)
			if len(rule.roles) == 0 {
				return nil, fmt.Errorf("route rule %d: role access needs at least one known role", i)
			}
		default:
			return nil, fmt.Errorf("route rule %d: unknown access %q", i, rule.Access)
		}
		for j, m := range rule.Methods {
			rule.Methods[j] = strings.ToUpper(strings.TrimSpace(m))
		}
		compiled = append(compiled, rule)
	}
	return &RoutePolicy{
		rules:    compiled,
		fallback: RouteRule{Access: AccessAuthenticated},
	}, nil
}

// Match returns the rule governing method and path.
func (p *RoutePolicy) Match(method, path string) RouteRule {
	for _, rule := range p.rules {
		if rule.matches(method, path) {
			return rule
		}
	}
	return p.fallback
}

type policyFile struct {
	Rules []RouteRule `yaml:"rules"`
}

// LoadRoutePolicy reads a YAML rule table that replaces the default one.
func LoadRoutePolicy(path string) (*RoutePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route policy: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse route policy: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("route policy %s has no rules", path)
	}
	return NewRoutePolicy(file.Rules)
}

// DefaultRoutePolicy is the built-in table: auth endpoints, catalog reads,
// uploads and probes are open; creating events needs ROLE_ADMIN; everything
// else needs a valid access token.
func DefaultRoutePolicy() *RoutePolicy {
	policy, err := NewRoutePolicy(defaultRules())
	if err != nil {
		panic(fmt.Sprintf("default route policy: %v", err))
	}
	return policy
}

func defaultRules() []RouteRule {
	readOnly := []string{http.MethodGet, http.MethodHead}
	return []RouteRule{
		{
			Methods:  []string{http.MethodGet},
			Patterns: []string{"/api/v1/auth/me"},
			Match:    MatchExact,
			Access:   AccessAuthenticated,
		},
		{
			Patterns: []string{"/api/v1/auth/"},
			Match:    MatchPrefix,
			Access:   AccessPublic,
		},
		{
			Methods:  []string{http.MethodGet, http.MethodPost},
			Patterns: []string{"/uploadImage", "/uploadFile"},
			Match:    MatchExact,
			Access:   AccessUpload,
		},
		{
			Methods:  []string{http.MethodPost},
			Patterns: []string{"/events", "/api/v1/events"},
			Match:    MatchExact,
			Access:   AccessRole,
			Roles:    []string{string(auth.RoleAdmin)},
		},
		{
			Methods: readOnly,
			Patterns: []string{
				"/events", "/api/v1/events",
				"/event", "/api/v1/event",
				"/organizations", "/api/v1/organizations",
				"/auction-items", "/api/v1/auction-items",
				"/students", "/api/v1/students",
				"/organizers", "/api/v1/organizers",
			},
			Match:  MatchPrefix,
			Access: AccessPublic,
		},
		{
			Methods:  readOnly,
			Patterns: []string{"/healthz", "/readyz", "/metrics", "/version"},
			Match:    MatchExact,
			Access:   AccessPublic,
		},
	}
}
