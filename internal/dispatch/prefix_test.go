package dispatch

import "testing"

func TestPrefixNormalizer_Apply(t *testing.T) {
	dot := NewPrefixNormalizer(".")
	bang := NewPrefixNormalizer("!", "¡")

	tests := []struct {
		name string
		p    *PrefixNormalizer
		in   string
		want string
	}{
		{"fullwidth stop", dot, "．ping", ".ping"},
		{"small full stop", dot, "﹒ping", ".ping"},
		{"one dot leader", dot, "․ping", ".ping"},
		{"halfwidth ideographic", dot, "｡ping", ".ping"},
		{"canonical untouched", dot, ".ping", ".ping"},
		{"no marker", dot, "ping", "ping"},
		{"zero width then lookalike", dot, "\u200b\u200e．help", ".help"},
		{"bidi isolate", dot, "\u2066\u202b.menu", ".menu"},
		{"bom and arabic mark", dot, "\ufeff\u061c.x", ".x"},
		{"lookalike not leading", dot, "a．b", "a．b"},
		{"fullwidth bang", bang, "！ping", "!ping"},
		{"latin retroflex click", bang, "ǃping", "!ping"},
		{"configured alias", bang, "¡ping", "!ping"},
		{"other set not applied", bang, "．ping", "．ping"},
		{"empty", dot, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Apply(tt.in); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPrefixNormalizer_MultiRuneAliasWins(t *testing.T) {
	p := NewPrefixNormalizer("/", "//", "/")
	if got := p.Apply("//ping"); got != "/ping" {
		t.Errorf("got %q", got)
	}
}

func TestPrefixNormalizer_IsCommand(t *testing.T) {
	p := NewPrefixNormalizer(".")
	if !p.IsCommand(".ping") || p.IsCommand("ping") {
		t.Error("IsCommand mismatch")
	}
}
