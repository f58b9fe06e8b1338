// Package events collapses the gateway's streaming wire shapes into one
// canonical event form.
//
// The same logical chat/tool lifecycle event has arrived under three
// shapes over the protocol's history: direct "chat"/"tool" events, tool
// events nested under a generic "stream" envelope, and tool-shaped data
// embedded in an "agent" envelope. Normalize decodes any of them into a
// StreamEvent; anything else is reported as unrecognized, never as an
// error, so unknown future event types stay forward-compatible no-ops.
package events

import (
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/clawlink/pkg/protocol"
)

// Kind tags the canonical event union.
type Kind int

const (
	ChatDelta Kind = iota
	ChatFinal
	ChatError
	ChatAborted
	ToolStart
	ToolUpdate
	ToolEnd
)

func (k Kind) String() string {
	switch k {
	case ChatDelta:
		return "chat.delta"
	case ChatFinal:
		return "chat.final"
	case ChatError:
		return "chat.error"
	case ChatAborted:
		return "chat.aborted"
	case ToolStart:
		return "tool.start"
	case ToolUpdate:
		return "tool.update"
	case ToolEnd:
		return "tool.end"
	default:
		return "unknown"
	}
}

// StreamEvent is the canonical shape all wire variants collapse into.
type StreamEvent struct {
	Kind       Kind
	SessionKey string
	RunID      string

	// Text carries the whole-so-far snapshot for chat deltas, the final
	// content for chat finals, and serialized output for tool events.
	Text    string
	ErrText string

	// ToolCallID is stable across updates of one tool invocation. When
	// the wire carries no explicit id it is synthesized from
	// (runID, toolName) so repeated updates keep the same identity.
	ToolCallID string
	ToolName   string
}

// rawPayload is the loose union of fields seen across wire shapes.
type rawPayload struct {
	SessionKey string          `json:"sessionKey"`
	RunID      string          `json:"runId"`
	Stream     string          `json:"stream"`
	State      string          `json:"state"`
	Phase      string          `json:"phase"`
	Text       string          `json:"text"`
	Message    json.RawMessage `json:"message"`
	Error      json.RawMessage `json:"error"`
	ToolCallID string          `json:"toolCallId"`
	CallID     string          `json:"callId"`
	Name       string          `json:"name"`
	ToolName   string          `json:"toolName"`
	Tool       json.RawMessage `json:"tool"`
	Data       json.RawMessage `json:"data"`
	Output     json.RawMessage `json:"output"`
	Result     json.RawMessage `json:"result"`
	Args       json.RawMessage `json:"args"`
}

// Normalize decodes an inbound event frame. ok is false when the frame
// is not a recognized streaming or tool event.
func Normalize(frame protocol.EventFrame) (StreamEvent, bool) {
	var p rawPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return StreamEvent{}, false
	}

	switch frame.Event {
	case protocol.EventChat:
		return chatEvent(p)

	case protocol.EventTool:
		return toolEvent(p, p)

	case protocol.EventStream:
		inner := p
		if len(p.Data) > 0 {
			// Envelope fields win only where the inner record is silent.
			if err := json.Unmarshal(p.Data, &inner); err != nil {
				return StreamEvent{}, false
			}
			if inner.SessionKey == "" {
				inner.SessionKey = p.SessionKey
			}
			if inner.RunID == "" {
				inner.RunID = p.RunID
			}
		}
		switch p.Stream {
		case "tool":
			return toolEvent(inner, p)
		case "assistant", "chat":
			return chatEvent(inner)
		default:
			return StreamEvent{}, false
		}

	case protocol.EventAgent:
		switch p.Stream {
		case "tool":
			inner := p
			if len(p.Tool) > 0 {
				if err := json.Unmarshal(p.Tool, &inner); err != nil {
					return StreamEvent{}, false
				}
				if inner.SessionKey == "" {
					inner.SessionKey = p.SessionKey
				}
				if inner.RunID == "" {
					inner.RunID = p.RunID
				}
			}
			return toolEvent(inner, p)
		case "assistant", "chat":
			return chatEvent(p)
		default:
			return StreamEvent{}, false
		}

	default:
		return StreamEvent{}, false
	}
}

func chatEvent(p rawPayload) (StreamEvent, bool) {
	ev := StreamEvent{SessionKey: p.SessionKey, RunID: p.RunID}

	switch p.State {
	case protocol.ChatStateDelta, "chunk":
		ev.Kind = ChatDelta
	case protocol.ChatStateFinal, "message":
		ev.Kind = ChatFinal
	case protocol.ChatStateError:
		ev.Kind = ChatError
		ev.ErrText = errText(p.Error)
	case protocol.ChatStateAborted:
		ev.Kind = ChatAborted
	default:
		return StreamEvent{}, false
	}

	ev.Text = p.Text
	if ev.Text == "" {
		ev.Text = textFromMessage(p.Message)
	}
	return ev, true
}

// toolEvent builds a tool lifecycle event. Explicit tool-call ids are
// preferred, checking the inner record before the envelope; a stable id
// is synthesized from (runID, toolName) only when neither carries one.
func toolEvent(p, envelope rawPayload) (StreamEvent, bool) {
	name := p.Name
	if name == "" {
		name = p.ToolName
	}
	if name == "" && p.RunID == "" {
		return StreamEvent{}, false
	}

	ev := StreamEvent{
		SessionKey: p.SessionKey,
		RunID:      p.RunID,
		ToolName:   name,
	}

	switch {
	case p.ToolCallID != "":
		ev.ToolCallID = p.ToolCallID
	case p.CallID != "":
		ev.ToolCallID = p.CallID
	case envelope.ToolCallID != "":
		ev.ToolCallID = envelope.ToolCallID
	case envelope.CallID != "":
		ev.ToolCallID = envelope.CallID
	default:
		ev.ToolCallID = ev.RunID + "#" + name
	}

	ev.Kind = resolvePhase(phaseOf(p))

	output := p.Output
	if len(output) == 0 {
		output = p.Result
	}
	ev.Text = serializeOutput(output)
	ev.ErrText = errText(p.Error)
	return ev, true
}

func phaseOf(p rawPayload) string {
	if p.Phase != "" {
		return p.Phase
	}
	return p.State
}

// resolvePhase maps the fixed set of synonymous terminal-phase strings
// onto the canonical terminal phase. Unknown phases default to a
// non-terminal update rather than erroring.
func resolvePhase(phase string) Kind {
	switch strings.ToLower(phase) {
	case "start", "started", "begin":
		return ToolStart
	case "result", "complete", "completed", "done", "finish", "finished":
		return ToolEnd
	default:
		return ToolUpdate
	}
}

// serializeOutput renders a tool output as text. Structured values are
// re-marshaled from their decoded form, which yields deterministic
// key-sorted JSON.
func serializeOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// textFromMessage extracts text from the wire's message field, which may
// be a plain string, {content: string}, or {content: [{type,text}...]}.
func textFromMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj.Content) == 0 {
		return ""
	}
	if err := json.Unmarshal(obj.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(obj.Content, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "" || blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func errText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
