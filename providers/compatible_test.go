package providers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestCompatibleParseResponse_ReasoningContentRenamed(t *testing.T) {
	c := NewGroqAdapter("key", "")
	body := []byte(`{
		"choices": [{"message": {"content": "hi", "reasoning_content": "because"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2,
			"prompt_tokens_details": {"cached_tokens": 1},
			"completion_tokens_details": {"reasoning_tokens": 3}}
	}`)
	resp, err := c.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ReasoningContent != "because" {
		t.Fatalf("reasoningContent = %q", resp.ReasoningContent)
	}
	if resp.CachedTokens != 1 || resp.ReasoningTokens != 3 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCompatibleParseResponse_MistralFencedJSONExtracted(t *testing.T) {
	m := NewMistralAdapter("key", "")
	fence := string([]byte{'`', '`', '`'})
	fenced := fence + "json\n{\"a\": 1, \"b\": 2}\n" + fence
	payload := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": fenced}, "finish_reason": "stop"},
		},
		"usage": map[string]interface{}{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := m.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != `{"a":1,"b":2}` {
		t.Fatalf("content = %q, want re-serialized JSON", resp.Content)
	}
}

func TestCompatibleParseResponse_NonFencedContentUnchangedEvenWhenExtractionEnabled(t *testing.T) {
	m := NewMistralAdapter("key", "")
	body := []byte(`{"choices":[{"message":{"content":"plain text"},"finish_reason":"stop"}],"usage":{}}`)
	resp, err := m.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "plain text" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestCompatibleParseResponse_ZAIWebSearchBecomesAnnotations(t *testing.T) {
	z := NewZAIAdapter("key", "")
	body := []byte(`{
		"choices": [{"message": {"content": "x", "web_search": [{"url": "https://e.com", "title": "E"}]}, "finish_reason": "stop"}],
		"usage": {}
	}`)
	resp, err := z.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Annotations) != 1 || resp.Annotations[0].URL != "https://e.com" {
		t.Fatalf("annotations = %+v", resp.Annotations)
	}
}

func TestCompatibleParseResponse_FinishReasonMapping(t *testing.T) {
	c := NewGroqAdapter("key", "")
	body := []byte(`{"choices":[{"message":{"content":"x"},"finish_reason":"tool_use"}],"usage":{}}`)
	resp, err := c.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish = %q, want tool_calls", resp.FinishReason)
	}
}

func TestCompatibleParseStream_ReasoningContentAndUsageLift(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"c1","model":"llama","choices":[{"index":0,"delta":{"reasoning_content":"thinking"}}]}`,
		`data: {"id":"c1","model":"llama","choices":[{"index":0,"delta":{"content":"answer"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2,"completion_tokens_details":{"reasoning_tokens":5}}}`,
		`data: [DONE]`,
		"",
	}, "\n\n")

	c := NewGroqAdapter("key", "")
	ch, err := c.ParseStream(context.Background(), strings.NewReader(sse))
	if err != nil {
		t.Fatal(err)
	}
	var chunks []CanonicalChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Reasoning != "thinking" {
		t.Fatalf("reasoning = %q", chunks[0].Choices[0].Delta.Reasoning)
	}
	if chunks[1].Usage == nil || chunks[1].Usage.ReasoningTokens != 5 {
		t.Fatalf("usage = %+v", chunks[1].Usage)
	}
	if chunks[0].Object != "chat.completion.chunk" {
		t.Fatalf("object = %q", chunks[0].Object)
	}
}

func TestAzureOpenAIAdapter_UsesAPIKeyHeader(t *testing.T) {
	a := NewAzureOpenAIAdapter("secret", "https://my-resource.openai.azure.com/openai/deployments/gpt-4o")
	_, url, headers, _, err := a.BuildRequest(Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if headers["api-key"] != "secret" {
		t.Fatalf("headers = %+v, want api-key header", headers)
	}
	if _, ok := headers["Authorization"]; ok {
		t.Fatalf("azure should not set Authorization header")
	}
	if !strings.Contains(url, "api-version") {
		t.Fatalf("url = %q", url)
	}
}
