package protocol

// WebSocket event names pushed from the gateway.
//
// Streaming chat and tool lifecycle data has arrived under several wire
// shapes over the protocol's history: direct "chat"/"tool" events, tool
// events nested under a generic "stream" envelope, and tool-shaped data
// embedded in an "agent" envelope. internal/events normalizes all of
// them into one canonical shape.
const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat"
	EventTool             = "tool"
	EventStream           = "stream"
	EventAgent            = "agent"
	EventTick             = "tick"
	EventHeartbeat        = "heartbeat"
	EventShutdown         = "shutdown"
	EventHealth           = "health"
	EventPresence         = "presence"
	EventSessionsChanged  = "sessions.changed"
)

// Chat event states (in payload.state). Deltas carry whole-so-far text
// snapshots, not incremental diffs.
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// Client modes sent in the connect handshake.
const (
	ClientModeBackend = "backend"
	ClientModeCLI     = "cli"
	ClientModeProbe   = "probe"
)
