// Package sessions tracks the set of known conversation threads and
// which one is active, reconciling the gateway's session directory with
// optimistic local state.
package sessions

import "strings"

// Session keys are human-composed as agent:channel:peer but must be
// treated as opaque stable identifiers for reconciliation.

// BuildKey composes a session key from its parts.
func BuildKey(agent, channel, peer string) string {
	if agent == "" {
		agent = "default"
	}
	return agent + ":" + channel + ":" + peer
}

// SplitKey breaks a session key into its parts for display. ok is false
// when the key does not follow the composed form; callers must still
// treat such keys as valid opaque identifiers.
func SplitKey(key string) (agent, channel, peer string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
