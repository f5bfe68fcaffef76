package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Text strips all HTML and returns plain text with surrounding whitespace
// removed. Entities escaped by the policy are decoded again since display
// names are stored as plain text and encoded on output.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(input)))
}
