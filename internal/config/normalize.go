package config

import (
	"regexp"
	"strings"
)

const DefaultSessionID = "main"

var (
	validIDRe    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^[-_]+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeSessionID turns a user-provided name into a usable session id:
//   - max 64 chars, only [A-Za-z0-9_-]
//   - runs of invalid chars become "-"
//   - leading separators and trailing dashes are stripped
//   - an empty result falls back to "main"
func NormalizeSessionID(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultSessionID
	}
	if validIDRe.MatchString(trimmed) {
		return trimmed
	}

	result := invalidChars.ReplaceAllString(trimmed, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return DefaultSessionID
	}
	return result
}
