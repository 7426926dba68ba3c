package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// AnthropicAdapter implements Adapter for the Anthropic Messages API.
//
// Grounded on the bufio.Scanner-over-"data: "-lines idiom of the teacher's
// Anthropic provider, generalized to the full canonical parsing rules:
// thinking blocks, tool_use blocks, web_search_tool_result blocks and
// inline citations, and the corrected prompt-token accounting that folds in
// both cache-creation and cache-read tokens.
type AnthropicAdapter struct {
	APIKey  string
	BaseURL string
}

func NewAnthropicAdapter(apiKey, baseURL string) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicAdapter{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (a *AnthropicAdapter) ID() string { return "anthropic" }

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicContentPart `json:"content"`
}

type anthropicContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
	Tools       []anthropicToolSpec `json:"tools,omitempty"`
}

type anthropicToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

func (a *AnthropicAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	var system strings.Builder
	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
			continue
		}
		msgs = append(msgs, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContentPart{{Type: ContentTypeText, Text: m.Content}},
		})
	}

	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	tools := make([]anthropicToolSpec, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropicToolSpec{Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters})
	}

	ar := anthropicRequest{
		Model:       req.Model,
		System:      system.String(),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Tools:       tools,
	}
	body, err = json.Marshal(ar)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	headers = map[string]string{
		"x-api-key":         a.APIKey,
		"anthropic-version": "2023-06-01",
		"content-type":      "application/json",
	}
	return "POST", a.BaseURL + "/v1/messages", headers, body, nil
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Citations []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"citations,omitempty"`
	Content []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"content,omitempty"` // web_search_tool_result content
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// anthropicFinish maps Anthropic's stop_reason to the OpenAI-style
// vocabulary UnifyFinishReason expects.
func anthropicFinish(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

func (a *AnthropicAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	var r anthropicResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, fmt.Errorf("anthropic: parse response: %w", err)
	}

	var content, reasoning strings.Builder
	var toolCalls []ToolCall
	var annotations []Annotation
	var webSearchCount int64

	for _, block := range r.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
			for _, c := range block.Citations {
				annotations = append(annotations, Annotation{Type: "url_citation", URL: c.URL, Title: c.Title})
			}
		case "thinking":
			reasoning.WriteString(block.Thinking)
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		case "web_search_tool_result":
			webSearchCount++
			for _, c := range block.Content {
				annotations = append(annotations, Annotation{Type: "url_citation", URL: c.URL, Title: c.Title})
			}
		}
	}

	promptTokens := r.Usage.InputTokens + r.Usage.CacheCreationInputTokens + r.Usage.CacheReadInputTokens
	return CanonicalResponse{
		Content:          content.String(),
		ReasoningContent: reasoning.String(),
		FinishReason:     anthropicFinish(r.StopReason),
		PromptTokens:     promptTokens,
		CompletionTokens: r.Usage.OutputTokens,
		TotalTokens:      promptTokens + r.Usage.OutputTokens,
		CachedTokens:     r.Usage.CacheReadInputTokens,
		ToolCalls:        toolCalls,
		Annotations:      annotations,
		WebSearchCount:   webSearchCount,
	}, nil
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage,omitempty"`
	// StopReason is read directly off a message_stop event in the rare case
	// an upstream (or a test fixture) puts it there instead of on a
	// preceding message_delta.
	StopReason string `json:"stop_reason,omitempty"`
}

// ParseStream translates Anthropic's SSE event stream into canonical chunks,
// preserving the ordering rule that a tool-call's opening chunk (carrying
// id/type/name) precedes any argument-delta chunk for the same index.
func (a *AnthropicAdapter) ParseStream(ctx context.Context, body io.Reader) (<-chan CanonicalChunk, error) {
	ch := make(chan CanonicalChunk)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == SSEDone {
				return
			}

			var ev anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "content_block_start":
				if ev.ContentBlock == nil {
					continue
				}
				if ev.ContentBlock.Type == "tool_use" {
					idx := ev.Index
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{
						ToolCalls: []ToolCall{{
							Index: &idx,
							ID:    ev.ContentBlock.ID,
							Type:  "function",
							Function: FunctionCall{
								Name:      ev.ContentBlock.Name,
								Arguments: "",
							},
						}},
					}}}
				} else if ev.ContentBlock.Type == "web_search_tool_result" {
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{
						Annotations: []Annotation{{Type: "url_citation"}},
					}}}}
				}
			case "content_block_delta":
				if ev.Delta == nil {
					continue
				}
				switch {
				case ev.Delta.Text != "":
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{Content: ev.Delta.Text}}}}
				case ev.Delta.Thinking != "":
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{Reasoning: ev.Delta.Thinking}}}}
				case ev.Delta.PartialJSON != "":
					idx := ev.Index
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{
						ToolCalls: []ToolCall{{Index: &idx, Function: FunctionCall{Arguments: ev.Delta.PartialJSON}}},
					}}}}
				}
			case "message_delta":
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					var usage *CanonicalUsage
					if ev.Usage != nil {
						usage = &CanonicalUsage{CompletionTokens: ev.Usage.OutputTokens}
					}
					ch <- CanonicalChunk{
						Choices: []CanonicalChoice{{FinishReason: anthropicFinish(ev.Delta.StopReason)}},
						Usage:   usage,
					}
				}
			case "message_stop":
				if ev.StopReason != "" {
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{FinishReason: anthropicFinish(ev.StopReason)}}}
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- CanonicalChunk{Error: err}
		}
	}()
	return ch, nil
}
