package events

import (
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/clawlink/pkg/protocol"
)

func frame(event string, payload string) protocol.EventFrame {
	return protocol.EventFrame{
		Type:    protocol.FrameTypeEvent,
		Event:   event,
		Payload: json.RawMessage(payload),
	}
}

func TestNormalizeChatStates(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    StreamEvent
	}{
		{
			name:    "delta carries whole-so-far text",
			payload: `{"sessionKey":"a:cli:dm:x","runId":"r1","state":"delta","text":"Hel"}`,
			want:    StreamEvent{Kind: ChatDelta, SessionKey: "a:cli:dm:x", RunID: "r1", Text: "Hel"},
		},
		{
			name:    "legacy chunk state maps to delta",
			payload: `{"runId":"r1","state":"chunk","text":"He"}`,
			want:    StreamEvent{Kind: ChatDelta, RunID: "r1", Text: "He"},
		},
		{
			name:    "final with plain text",
			payload: `{"runId":"r1","state":"final","text":"Hello"}`,
			want:    StreamEvent{Kind: ChatFinal, RunID: "r1", Text: "Hello"},
		},
		{
			name:    "legacy message state maps to final",
			payload: `{"runId":"r1","state":"message","message":"Hello"}`,
			want:    StreamEvent{Kind: ChatFinal, RunID: "r1", Text: "Hello"},
		},
		{
			name:    "message as object with string content",
			payload: `{"runId":"r1","state":"final","message":{"content":"Hi"}}`,
			want:    StreamEvent{Kind: ChatFinal, RunID: "r1", Text: "Hi"},
		},
		{
			name:    "message as content block list",
			payload: `{"runId":"r1","state":"final","message":{"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}]}}`,
			want:    StreamEvent{Kind: ChatFinal, RunID: "r1", Text: "Hi there"},
		},
		{
			name:    "error with structured payload",
			payload: `{"runId":"r1","state":"error","error":{"message":"model overloaded"}}`,
			want:    StreamEvent{Kind: ChatError, RunID: "r1", ErrText: "model overloaded"},
		},
		{
			name:    "error with string payload",
			payload: `{"runId":"r1","state":"error","error":"boom"}`,
			want:    StreamEvent{Kind: ChatError, RunID: "r1", ErrText: "boom"},
		},
		{
			name:    "aborted",
			payload: `{"runId":"r1","state":"aborted"}`,
			want:    StreamEvent{Kind: ChatAborted, RunID: "r1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(frame(protocol.EventChat, tc.payload))
			if !ok {
				t.Fatal("event not recognized")
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNormalizeToolShapes(t *testing.T) {
	// The same logical tool event in its three historical wire shapes
	// must normalize identically.
	direct := frame(protocol.EventTool,
		`{"sessionKey":"s","runId":"r1","toolCallId":"tc-9","name":"web_search","phase":"start"}`)
	streamWrapped := frame(protocol.EventStream,
		`{"stream":"tool","sessionKey":"s","runId":"r1","data":{"toolCallId":"tc-9","name":"web_search","phase":"start"}}`)
	agentWrapped := frame(protocol.EventAgent,
		`{"stream":"tool","sessionKey":"s","runId":"r1","tool":{"toolCallId":"tc-9","name":"web_search","phase":"start"}}`)

	want := StreamEvent{
		Kind:       ToolStart,
		SessionKey: "s",
		RunID:      "r1",
		ToolCallID: "tc-9",
		ToolName:   "web_search",
	}
	for i, f := range []protocol.EventFrame{direct, streamWrapped, agentWrapped} {
		got, ok := Normalize(f)
		if !ok {
			t.Fatalf("shape %d not recognized", i)
		}
		if got != want {
			t.Errorf("shape %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestSynthesizedToolCallIDIsStable(t *testing.T) {
	start, ok := Normalize(frame(protocol.EventTool,
		`{"runId":"r1","name":"read_file","phase":"start"}`))
	if !ok {
		t.Fatal("start not recognized")
	}
	update, ok := Normalize(frame(protocol.EventTool,
		`{"runId":"r1","name":"read_file","phase":"update","output":"partial"}`))
	if !ok {
		t.Fatal("update not recognized")
	}
	if start.ToolCallID == "" || start.ToolCallID != update.ToolCallID {
		t.Fatalf("synthesized ids differ: %q vs %q", start.ToolCallID, update.ToolCallID)
	}
	if start.ToolCallID != "r1#read_file" {
		t.Errorf("synthesized id = %q", start.ToolCallID)
	}

	// A different run must not collide.
	other, _ := Normalize(frame(protocol.EventTool,
		`{"runId":"r2","name":"read_file","phase":"start"}`))
	if other.ToolCallID == start.ToolCallID {
		t.Fatal("ids collide across runs")
	}
}

func TestExplicitToolCallIDWins(t *testing.T) {
	// Inner record id beats the envelope id, which beats synthesis.
	got, ok := Normalize(frame(protocol.EventStream,
		`{"stream":"tool","runId":"r1","callId":"env-1","data":{"toolCallId":"inner-1","name":"t","phase":"update"}}`))
	if !ok {
		t.Fatal("not recognized")
	}
	if got.ToolCallID != "inner-1" {
		t.Errorf("ToolCallID = %q, want inner-1", got.ToolCallID)
	}

	got, ok = Normalize(frame(protocol.EventStream,
		`{"stream":"tool","runId":"r1","callId":"env-1","data":{"name":"t","phase":"update"}}`))
	if !ok {
		t.Fatal("not recognized")
	}
	if got.ToolCallID != "env-1" {
		t.Errorf("ToolCallID = %q, want env-1", got.ToolCallID)
	}
}

func TestTerminalPhaseSynonyms(t *testing.T) {
	terminal := []string{"result", "complete", "completed", "done", "finish", "finished", "DONE"}
	for _, phase := range terminal {
		got, ok := Normalize(frame(protocol.EventTool,
			`{"runId":"r1","name":"t","phase":"`+phase+`"}`))
		if !ok || got.Kind != ToolEnd {
			t.Errorf("phase %q: kind = %v, want tool.end", phase, got.Kind)
		}
	}

	// Unknown phases are non-terminal updates, never errors.
	got, ok := Normalize(frame(protocol.EventTool,
		`{"runId":"r1","name":"t","phase":"negotiating"}`))
	if !ok || got.Kind != ToolUpdate {
		t.Errorf("unknown phase: kind = %v ok = %v, want tool.update", got.Kind, ok)
	}
}

func TestStructuredOutputSerializesDeterministically(t *testing.T) {
	a, _ := Normalize(frame(protocol.EventTool,
		`{"runId":"r1","name":"t","phase":"result","output":{"zebra":1,"apple":2}}`))
	b, _ := Normalize(frame(protocol.EventTool,
		`{"runId":"r1","name":"t","phase":"result","output":{"apple":2,"zebra":1}}`))
	if a.Text != b.Text {
		t.Fatalf("same logical output serialized differently: %q vs %q", a.Text, b.Text)
	}
	if a.Text != `{"apple":2,"zebra":1}` {
		t.Errorf("serialized output = %q", a.Text)
	}

	// String outputs pass through unquoted; result is a fallback field.
	c, _ := Normalize(frame(protocol.EventTool,
		`{"runId":"r1","name":"t","phase":"result","result":"42 files"}`))
	if c.Text != "42 files" {
		t.Errorf("string output = %q", c.Text)
	}
}

func TestUnrecognizedEventsAreDropped(t *testing.T) {
	cases := []protocol.EventFrame{
		frame(protocol.EventHeartbeat, `{}`),
		frame(protocol.EventTick, `{"n":1}`),
		frame(protocol.EventChat, `{"state":"who-knows"}`),
		frame(protocol.EventStream, `{"stream":"telemetry","data":{}}`),
		frame(protocol.EventChat, `not json`),
	}
	for i, f := range cases {
		if _, ok := Normalize(f); ok {
			t.Errorf("case %d: unrecognized event was accepted", i)
		}
	}
}
