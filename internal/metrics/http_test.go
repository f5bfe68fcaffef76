package metrics

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "static path", input: "/api/v1/events", expected: "/api/v1/events"},
		{name: "numeric id", input: "/events/42", expected: "/events/{id}"},
		{name: "uuid", input: "/api/v1/users/6f1c2a0e-4c1b-4b8e-9a57-0c6d3f2b1e11/roles", expected: "/api/v1/users/{id}/roles"},
		{name: "ulid", input: "/api/v1/tokens/01HZX3J5K9T2M8Q4R6V7W8Y9ZA", expected: "/api/v1/tokens/{id}"},
		{name: "route param", input: "/api/v1/events/{eventID}", expected: "/api/v1/events/{id}"},
		{name: "trailing slash", input: "/api/v1/auth/", expected: "/api/v1/auth/"},
		{name: "empty path", input: "", expected: ""},
		{name: "non-path input", input: "api/v1/events/7", expected: "api/v1/events/7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePath(tt.input)
			if got != tt.expected {
				t.Fatalf("normalizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
