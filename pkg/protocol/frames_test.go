package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseFrameType(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`{"type":"req","id":"c-1"}`, FrameTypeRequest, false},
		{`{"type":"res","id":"c-1","ok":true}`, FrameTypeResponse, false},
		{`{"type":"event","event":"chat"}`, FrameTypeEvent, false},
		{`{"id":"c-1"}`, "", false},
		{`nope`, "", true},
	}
	for _, c := range cases {
		got, err := ParseFrameType([]byte(c.in))
		if (err != nil) != c.wantErr {
			t.Errorf("ParseFrameType(%q) err = %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseFrameType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRequestFrameWire(t *testing.T) {
	req := NewRequest("c-7", MethodChatSend, json.RawMessage(`{"sessionKey":"k"}`))
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "req" || decoded["id"] != "c-7" || decoded["method"] != "chat.send" {
		t.Fatalf("wire form = %s", data)
	}

	// Params are omitted entirely when absent, not sent as null.
	bare, _ := json.Marshal(NewRequest("c-8", MethodSessionsList, nil))
	var m map[string]any
	_ = json.Unmarshal(bare, &m)
	if _, ok := m["params"]; ok {
		t.Fatalf("empty params serialized: %s", bare)
	}
}
