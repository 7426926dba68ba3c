package providers

import (
	"context"
	"strings"
	"testing"
)

func TestGeminiParseResponse_FunctionCallAndRecomputedTotal(t *testing.T) {
	g := NewGeminiAdapter("key", "")
	body := []byte(`{
		"candidates": [{
			"content": {"parts": [{"functionCall": {"name": "lookup", "args": {"q": "x"}}}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "thoughtsTokenCount": 3, "totalTokenCount": 6}
	}`)
	resp, err := g.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "lookup" {
		t.Fatalf("toolCalls = %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("finish = %q", resp.FinishReason)
	}
	// The upstream totalTokenCount (6) deliberately disagrees with
	// prompt+completion+reasoning (4+2+3=9): spec.md §4.4/§9 requires the
	// recomputed total, discarding totalTokenCount outright.
	if resp.TotalTokens != 9 {
		t.Fatalf("totalTokens = %d, want 9 (prompt+completion+reasoning, ignoring upstream totalTokenCount)", resp.TotalTokens)
	}
}

func TestGeminiParseResponse_SafetyMapsToContentFilter(t *testing.T) {
	g := NewGeminiAdapter("key", "")
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]},"finishReason":"SAFETY"}]}`)
	resp, err := g.ParseResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != "content_filter" {
		t.Fatalf("finish = %q, want content_filter", resp.FinishReason)
	}
}

func TestGeminiParseStream_ThoughtAndText(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"candidates":[{"content":{"parts":[{"thought":true,"text":"thinking..."}]}}]}`,
		`data: {"candidates":[{"content":{"parts":[{"text":"answer"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"thoughtsTokenCount":1,"totalTokenCount":2}}`,
		"",
	}, "\n\n")

	g := NewGeminiAdapter("key", "")
	ch, err := g.ParseStream(context.Background(), strings.NewReader(sse))
	if err != nil {
		t.Fatal(err)
	}
	var chunks []CanonicalChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Reasoning != "thinking..." {
		t.Fatalf("reasoning delta = %q", chunks[0].Choices[0].Delta.Reasoning)
	}
	if chunks[1].Choices[0].Delta.Content != "answer" {
		t.Fatalf("content delta = %q", chunks[1].Choices[0].Delta.Content)
	}
	if chunks[1].Choices[0].FinishReason != "stop" {
		t.Fatalf("finish = %q", chunks[1].Choices[0].FinishReason)
	}
	// Upstream totalTokenCount (2) disagrees with prompt+completion+reasoning
	// (1+1+1=3); the terminal usage chunk must use the recomputed total.
	if chunks[1].Usage == nil || chunks[1].Usage.TotalTokens != 3 {
		t.Fatalf("usage = %+v, want TotalTokens=3 (ignoring upstream totalTokenCount)", chunks[1].Usage)
	}
}

func TestGeminiBuildRequest_SystemInstructionFolded(t *testing.T) {
	g := NewGeminiAdapter("key", "")
	req := Request{
		Model: "gemini-2.0-flash",
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hi"},
		},
	}
	_, url, _, body, err := g.BuildRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(url, "generateContent") {
		t.Fatalf("url = %q", url)
	}
	if !strings.Contains(string(body), `"systemInstruction"`) {
		t.Fatalf("body missing systemInstruction: %s", body)
	}
}
