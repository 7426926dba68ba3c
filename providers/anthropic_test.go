package providers

import (
	"context"
	"strings"
	"testing"
)

func TestAnthropicParseResponse_TextAndUsage(t *testing.T) {
	a := NewAnthropicAdapter("key", "")
	body := []byte(`{
		"content": [{"type":"text","text":"hello there"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5, "cache_creation_input_tokens": 2, "cache_read_input_tokens": 3}
	}`)
	resp, err := a.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("finish = %q", resp.FinishReason)
	}
	if resp.PromptTokens != 15 {
		t.Fatalf("promptTokens = %d, want 15 (input+cache_creation+cache_read)", resp.PromptTokens)
	}
	if resp.CachedTokens != 3 {
		t.Fatalf("cachedTokens = %d, want 3", resp.CachedTokens)
	}
}

func TestAnthropicParseResponse_ToolUse(t *testing.T) {
	a := NewAnthropicAdapter("key", "")
	body := []byte(`{
		"content": [{"type":"tool_use","id":"t1","name":"lookup","input":{"q":"x"}}],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`)
	resp, err := a.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "lookup" {
		t.Fatalf("toolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Function.Arguments != `{"q":"x"}` {
		t.Fatalf("arguments = %q", resp.ToolCalls[0].Function.Arguments)
	}
}

// TestAnthropicParseStream_ToolCallSequence mirrors the exact sequence
// described for Anthropic streaming tool calls: an opening chunk with
// id/name/empty-arguments, two argument-appending chunks, then a terminal
// chunk with finish_reason "tool_calls".
func TestAnthropicParseStream_ToolCallSequence(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"lookup"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":\"x"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"}"}}`,
		`data: {"type":"message_stop","stop_reason":"tool_use"}`,
		"",
	}, "\n\n")

	a := NewAnthropicAdapter("key", "")
	ch, err := a.ParseStream(context.Background(), strings.NewReader(sse))
	if err != nil {
		t.Fatal(err)
	}

	var chunks []CanonicalChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4: %+v", len(chunks), chunks)
	}

	open := chunks[0].Choices[0].Delta.ToolCalls[0]
	if open.ID != "t1" || open.Function.Name != "lookup" || open.Function.Arguments != "" {
		t.Fatalf("open chunk = %+v", open)
	}
	if *open.Index != 0 {
		t.Fatalf("open index = %d, want 0", *open.Index)
	}

	if chunks[1].Choices[0].Delta.ToolCalls[0].Function.Arguments != `{"q":"x` {
		t.Fatalf("first append = %+v", chunks[1].Choices[0].Delta.ToolCalls[0])
	}
	if chunks[2].Choices[0].Delta.ToolCalls[0].Function.Arguments != `"}` {
		t.Fatalf("second append = %+v", chunks[2].Choices[0].Delta.ToolCalls[0])
	}

	terminal := chunks[3].Choices[0]
	if terminal.FinishReason != "tool_calls" {
		t.Fatalf("terminal finish_reason = %q, want tool_calls", terminal.FinishReason)
	}
}

func TestAnthropicBuildRequest_FoldsSystemMessages(t *testing.T) {
	a := NewAnthropicAdapter("key", "")
	req := Request{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hi"},
		},
	}
	_, _, headers, body, err := a.BuildRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if headers["x-api-key"] != "key" || headers["anthropic-version"] != "2023-06-01" {
		t.Fatalf("headers = %+v", headers)
	}
	if !strings.Contains(string(body), `"system":"be terse"`) {
		t.Fatalf("body missing folded system message: %s", body)
	}
	if strings.Contains(string(body), `"role":"system"`) {
		t.Fatalf("system message leaked into messages array: %s", body)
	}
}
