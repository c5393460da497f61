// Package rut validates and formats Chilean national identifiers (RUT).
package rut

import "strings"

// clean strips dots, hyphens and any other separator, keeping digits and the
// check letter K.
func clean(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'k' || r == 'K':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format returns the canonical d.ddd.ddd-d rendering of a RUT. It is a pure
// best-effort formatter: malformed input comes back cleaned but ungrouped.
func Format(raw string) string {
	c := clean(raw)
	if len(c) < 2 {
		return c
	}
	body := c[:len(c)-1]
	dv := c[len(c)-1:]

	var groups []string
	for len(body) > 3 {
		groups = append([]string{body[len(body)-3:]}, groups...)
		body = body[:len(body)-3]
	}
	groups = append([]string{body}, groups...)

	return strings.Join(groups, ".") + "-" + dv
}

// Validate reports whether s carries a correct check digit. Separators are
// ignored; the cleaned value must be 8 or 9 characters long.
func Validate(s string) bool {
	c := clean(s)
	if len(c) < 8 || len(c) > 9 {
		return false
	}

	body := c[:len(c)-1]
	dv := strings.ToLower(c[len(c)-1:])

	expected := CheckDigit(body)
	return expected != "" && dv == expected
}

// CheckDigit computes the expected check character for a RUT body made of
// digits only. Returns "" when the body contains a non-digit.
func CheckDigit(body string) string {
	sum := 0
	multiplier := 2
	for i := len(body) - 1; i >= 0; i-- {
		d := body[i]
		if d < '0' || d > '9' {
			return ""
		}
		sum += int(d-'0') * multiplier
		if multiplier == 7 {
			multiplier = 2
		} else {
			multiplier++
		}
	}

	r := sum % 11
	switch {
	case r < 2:
		return string(rune('0' + r))
	case 11-r == 10:
		return "k"
	default:
		return string(rune('0' + (11 - r)))
	}
}
