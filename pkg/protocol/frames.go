// Package protocol defines the wire format for the Clawlink Gateway
// WebSocket protocol. This is the client-side view of the contract: all
// frames are JSON records over a single duplex connection, and payloads
// stay raw JSON until a component decodes them.
package protocol

import "encoding/json"

// Protocol version. Clients negotiate this during the connect handshake.
const ProtocolVersion = 3

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by the client to invoke an RPC method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // unique request ID (client-generated)
	Method string          `json:"method"` // RPC method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the gateway in response to a request.
type ResponseFrame struct {
	Type    string          `json:"type"`              // always "res"
	ID      string          `json:"id"`                // matches request ID
	OK      bool            `json:"ok"`                // true if success
	Payload json.RawMessage `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape     `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	Details      json.RawMessage `json:"details,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	RetryAfterMs int             `json:"retryAfterMs,omitempty"`
}

// EventFrame is pushed from the gateway without a preceding request.
type EventFrame struct {
	Type    string          `json:"type"`              // always "event"
	Event   string          `json:"event"`             // event name
	Payload json.RawMessage `json:"payload,omitempty"` // event data
	Seq     int64           `json:"seq,omitempty"`     // ordering sequence number
}

// RPC methods consumed by this client.
const (
	MethodConnect        = "connect"
	MethodChatSend       = "chat.send"
	MethodChatHistory    = "chat.history"
	MethodChatAbort      = "chat.abort"
	MethodSessionsList   = "sessions.list"
	MethodSessionsPatch  = "sessions.patch"
	MethodSessionsDelete = "sessions.delete"
	MethodSkillsStatus   = "skills.status"
)

// NewRequest creates a request frame.
func NewRequest(id, method string, params json.RawMessage) *RequestFrame {
	return &RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: params,
	}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
