package sanitize

import (
	"strings"
	"testing"
)

func TestScrub(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  hola  ", "hola"},
		{"<script>alert(1)</script>", "scriptalert(1)/script"},
		{"javascript:alert(1)", "alert(1)"},
		{"JaVaScRiPt:x", "x"},
		{`<img onerror=alert(1)>`, "img alert(1)"},
		{"texto normal", "texto normal"},
	}
	for _, c := range cases {
		if got := Scrub(c.in); got != c.want {
			t.Errorf("Scrub(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if got := Scrub(strings.Repeat("a", 2000)); len(got) != 1000 {
		t.Errorf("Scrub must cap at 1000 chars, got %d", len(got))
	}
}

func TestRUT(t *testing.T) {
	if got := RUT("12.345.678-5; DROP"); got != "12.345.678-5" {
		t.Errorf("RUT() = %q", got)
	}
	if got := RUT("123456789012345"); len(got) != 12 {
		t.Errorf("RUT must cap at 12 chars, got %d", len(got))
	}
}

func TestEmail(t *testing.T) {
	if got := Email("  Ana.SOTO@Example.COM "); got != "ana.soto@example.com" {
		t.Errorf("Email() = %q", got)
	}
}
