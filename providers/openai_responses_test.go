package providers

import "testing"

func TestOpenAIResponsesParseResponse_MessageReasoningAndToolCall(t *testing.T) {
	o := NewOpenAIResponsesAdapter("key", "")
	body := []byte(`{
		"status": "completed",
		"output": [
			{"type": "reasoning", "summary": [{"text": "thinking it through"}]},
			{"type": "message", "content": [{"type": "output_text", "text": "the answer"}],
			 "annotations": [{"type": "url_citation", "url": "https://e.com", "title": "E"}]},
			{"type": "function_call", "call_id": "call1", "name": "lookup", "arguments": "{}"}
		],
		"usage": {"input_tokens": 10, "output_tokens": 4,
			"output_tokens_details": {"reasoning_tokens": 2},
			"input_tokens_details": {"cached_tokens": 1}}
	}`)
	resp, err := o.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "the answer" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.ReasoningContent != "thinking it through" {
		t.Fatalf("reasoning = %q", resp.ReasoningContent)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish = %q, want tool_calls (completed + tool call present)", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call1" {
		t.Fatalf("toolCalls = %+v", resp.ToolCalls)
	}
	if len(resp.Annotations) != 1 || resp.Annotations[0].URL != "https://e.com" {
		t.Fatalf("annotations = %+v", resp.Annotations)
	}
	if resp.ReasoningTokens != 2 || resp.CachedTokens != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestOpenAIResponsesParseResponse_IncompleteStatusPassesThrough(t *testing.T) {
	o := NewOpenAIResponsesAdapter("key", "")
	body := []byte(`{"status": "incomplete", "output": [{"type":"message","content":[{"type":"output_text","text":"partial"}]}]}`)
	resp, err := o.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != "incomplete" {
		t.Fatalf("finish = %q, want incomplete", resp.FinishReason)
	}
}

func TestOpenAIResponsesParseResponse_WebSearchCount(t *testing.T) {
	o := NewOpenAIResponsesAdapter("key", "")
	body := []byte(`{"status":"completed","output":[{"type":"web_search_call"},{"type":"web_search_call"},{"type":"message","content":[{"type":"output_text","text":"x"}]}]}`)
	resp, err := o.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.WebSearchCount != 2 {
		t.Fatalf("webSearchCount = %d, want 2", resp.WebSearchCount)
	}
}
