// Package locator builds XPath expressions that embed arbitrary visible text.
package locator

import (
	"fmt"
	"strings"
)

// ToQueryTextLiteral renders text as an XPath 1.0 string literal that evaluates
// back to exactly text. XPath 1.0 has no escape sequences, so text containing
// both quote characters is assembled with concat().
func ToQueryTextLiteral(text string) string {
	switch {
	case text == "":
		return "''"
	case !strings.Contains(text, "'"):
		return "'" + text + "'"
	case !strings.Contains(text, `"`):
		return `"` + text + `"`
	}

	parts := strings.Split(text, "'")
	args := make([]string, 0, 2*len(parts))
	for i, part := range parts {
		if part != "" {
			args = append(args, "'"+part+"'")
		}
		if i < len(parts)-1 {
			args = append(args, `"'"`)
		}
	}
	// Both quote kinds are present, so there are always at least two arguments.
	return "concat(" + strings.Join(args, ",") + ")"
}

// ContainsText matches tag elements whose direct text contains text.
func ContainsText(tag, text string) string {
	return fmt.Sprintf("//%s[contains(text(),%s)]", tag, ToQueryTextLiteral(text))
}

// NormalizedEquals matches tag elements whose whitespace-normalized string value equals text.
func NormalizedEquals(tag, text string) string {
	return fmt.Sprintf("//%s[normalize-space(.)=%s]", tag, ToQueryTextLiteral(text))
}

// NormalizedContains matches tag elements whose whitespace-normalized string value contains text.
func NormalizedContains(tag, text string) string {
	return fmt.Sprintf("//%s[contains(normalize-space(.),%s)]", tag, ToQueryTextLiteral(text))
}

// IDPrefixWithText matches tag elements whose id contains idFragment and whose
// normalized text contains text.
func IDPrefixWithText(tag, idFragment, text string) string {
	return fmt.Sprintf("//%s[contains(@id,%s) and contains(normalize-space(.),%s)]",
		tag, ToQueryTextLiteral(idFragment), ToQueryTextLiteral(text))
}
