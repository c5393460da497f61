// Package sanitize scrubs free-text form input before it reaches the record
// store.
package sanitize

import (
	"regexp"
	"strings"
)

const maxLen = 1000

var (
	jsScheme = regexp.MustCompile(`(?i)javascript:`)
	handlers = regexp.MustCompile(`(?i)on\w+=`)
	rutChars = regexp.MustCompile(`[^0-9kK.\-]`)
)

// Scrub trims, strips angle brackets, javascript: schemes and inline event
// handlers, and caps the result at 1000 characters.
func Scrub(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = jsScheme.ReplaceAllString(s, "")
	s = handlers.ReplaceAllString(s, "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// RUT keeps only RUT-legal characters, capped at 12.
func RUT(s string) string {
	s = rutChars.ReplaceAllString(s, "")
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

// Email lowercases, trims and caps at 254 characters.
func Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 254 {
		s = s[:254]
	}
	return s
}
