package dispatch

import (
	"strings"
	"unicode/utf8"
)

// lookalikes maps a canonical marker to glyphs that IMEs and auto-correct
// commonly substitute for it.
var lookalikes = map[string][]string{
	".": {"．", "﹒", "․", "｡"},
	"!": {"！", "ǃ", "﹗"},
}

func isInvisibleMark(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F,
		r >= 0x202A && r <= 0x202E,
		r >= 0x2066 && r <= 0x2069,
		r == 0x061C, r == 0xFEFF:
		return true
	}
	return false
}

// PrefixNormalizer rewrites a leading look-alike command marker to the
// canonical one. It is immutable and safe for concurrent use.
type PrefixNormalizer struct {
	marker  string
	aliases []string // longest first
}

// NewPrefixNormalizer builds a normalizer for marker. extra adds configured
// look-alikes on top of the built-in set.
func NewPrefixNormalizer(marker string, extra ...string) *PrefixNormalizer {
	seen := map[string]bool{marker: true}
	var aliases []string
	for _, a := range append(append([]string{}, lookalikes[marker]...), extra...) {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		aliases = append(aliases, a)
	}
	// Longest alias first so multi-rune aliases win over their prefixes.
	for i := 1; i < len(aliases); i++ {
		for j := i; j > 0 && utf8.RuneCountInString(aliases[j]) > utf8.RuneCountInString(aliases[j-1]); j-- {
			aliases[j], aliases[j-1] = aliases[j-1], aliases[j]
		}
	}
	return &PrefixNormalizer{marker: marker, aliases: aliases}
}

// Marker returns the canonical marker.
func (p *PrefixNormalizer) Marker() string { return p.marker }

// Apply strips leading invisible marks and canonicalizes the leading marker.
// Text without a marker is returned with the invisible marks removed.
func (p *PrefixNormalizer) Apply(text string) string {
	text = strings.TrimLeftFunc(text, isInvisibleMark)
	if strings.HasPrefix(text, p.marker) {
		return text
	}
	for _, a := range p.aliases {
		if rest, ok := strings.CutPrefix(text, a); ok {
			return p.marker + rest
		}
	}
	return text
}

// IsCommand reports whether normalized text starts with the marker.
func (p *PrefixNormalizer) IsCommand(normalized string) bool {
	return p.marker != "" && strings.HasPrefix(normalized, p.marker)
}
