package config

import (
	"regexp"
	"strings"
)

// DefaultAgentID is used when no agent name is configured.
const DefaultAgentID = "default"

var (
	validIDRe      = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)
)

// NormalizeAgentID converts a user-provided agent name into the id form
// embedded in session keys: lowercase, [a-z0-9_-], max 64 chars, no
// leading or trailing dashes. Empty input falls back to the default.
func NormalizeAgentID(name string) string {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return DefaultAgentID
	}
	if validIDRe.MatchString(trimmed) {
		return trimmed
	}
	out := invalidIDChars.ReplaceAllString(trimmed, "-")
	out = strings.Trim(out, "-")
	if len(out) > 64 {
		out = out[:64]
	}
	if out == "" {
		return DefaultAgentID
	}
	return out
}
