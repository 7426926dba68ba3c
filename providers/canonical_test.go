package providers

import (
	"encoding/json"
	"testing"
)

func TestMessageMarshal_StringContent(t *testing.T) {
	m := Message{Role: RoleUser, Content: "hi"}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["content"] != "hi" {
		t.Fatalf("content = %v, want string \"hi\"", decoded["content"])
	}
}

func TestMessageMarshal_PartsContent(t *testing.T) {
	m := Message{Role: RoleUser, ContentParts: []ContentPart{{Type: ContentTypeText, Text: "hi"}}}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["content"].([]interface{}); !ok {
		t.Fatalf("content = %v (%T), want array", decoded["content"], decoded["content"])
	}
}

func TestMessageUnmarshal_StringContent(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello" {
		t.Fatalf("content = %q", m.Content)
	}
}

func TestMessageUnmarshal_ArrayContent(t *testing.T) {
	var m Message
	raw := `{"role":"user","content":[{"type":"text","text":"part one"},{"type":"text","text":" two"}]}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	if len(m.ContentParts) != 2 {
		t.Fatalf("contentParts = %+v", m.ContentParts)
	}
	if m.Content != "part one two" {
		t.Fatalf("flattened content = %q", m.Content)
	}
}

func TestMessageUnmarshal_NullContent(t *testing.T) {
	var m Message
	raw := `{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"f","arguments":"{}"}}]}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "" {
		t.Fatalf("content = %q, want empty", m.Content)
	}
	if len(m.ToolCalls) != 1 || m.ToolCalls[0].ID != "c1" {
		t.Fatalf("toolCalls = %+v", m.ToolCalls)
	}
}

func TestUnifyFinishReason(t *testing.T) {
	cases := map[string]UnifiedFinishReason{
		"stop":           FinishCompleted,
		"length":         FinishLengthLimit,
		"content_filter": FinishContentFilter,
		"tool_calls":     FinishToolCalls,
		"incomplete":     FinishIncomplete,
		"":               FinishUnknown,
		"something_else": FinishUnknown,
	}
	for in, want := range cases {
		if got := UnifyFinishReason(in); got != want {
			t.Errorf("UnifyFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
