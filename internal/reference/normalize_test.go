package reference

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{name: "spaces and dash", raw: "  ab-12c ", want: "AB12C", ok: true},
		{name: "already normal", raw: "AB12C", want: "AB12C", ok: true},
		{name: "punctuation only", raw: "--//..", ok: false},
		{name: "empty", raw: "", ok: false},
		{name: "all zeros", raw: "000-00", ok: false},
		{name: "zeros with letter", raw: "00A0", want: "00A0", ok: true},
		{name: "too long", raw: strings.Repeat("A", 21), ok: false},
		{name: "max length", raw: strings.Repeat("b", 20), want: strings.Repeat("B", 20), ok: true},
		{name: "non ascii letters dropped", raw: "ré-12", want: "R12", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			if ok != tt.ok {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"  ab-12c ", "x", "0001", "a b c d e f g", "ÄÖ-99", "", "0", "12 34 56 78 90 12 34 56 78 90"}
	for _, in := range inputs {
		once, ok := Normalize(in)
		if !ok {
			continue
		}
		twice, ok2 := Normalize(once)
		if !ok2 || twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q then %q (ok=%v)", in, once, twice, ok2)
		}
	}
}

func TestFormatForDisplay(t *testing.T) {
	if got := FormatForDisplay("AB12C"); got != "AB12C" {
		t.Fatalf("FormatForDisplay = %q", got)
	}
	if got := FormatForDisplay(FormatForDisplay("AB12C")); got != "AB12C" {
		t.Fatalf("FormatForDisplay not idempotent: %q", got)
	}
}
