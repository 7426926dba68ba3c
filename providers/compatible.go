package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// CompatibleAdapter implements Adapter/StreamingAdapter for any upstream
// that speaks the OpenAI chat-completions wire format with only small
// deviations — mistral, novita, groq, zai, together, cerebras, xai,
// deepseek, perplexity, inference.net, moonshot, nebius, nanogpt,
// bytedance, minimax, canopywave, cloudrift, obsidian, and the `custom`
// sentinel all compose this one adapter with per-family overrides instead
// of each re-implementing the wire format, per spec.md §9's redesign note.
//
// Grounded on the teacher's plain-HTTP+JSON mistral.go/groq.go (no SDK,
// bufio.Scanner SSE loop) generalized with the normalizer rules from
// spec.md §4.4/§4.5: reasoning_content -> reasoning, cached_tokens lift,
// non-OpenAI finish-reason mapping, and the Mistral/Novita fenced-```json
// extraction. That extraction step has no direct teacher precedent — it is
// synthesized from the spec text against the shared request/response shape
// mistral.go/groq.go establish (see DESIGN.md).
type CompatibleAdapter struct {
	ProviderID      string
	APIKey          string
	BaseURL         string
	AuthHeaderName  string // defaults to "Authorization" with a Bearer prefix
	PathOverride     string // defaults to "/v1/chat/completions"
	ExtractJSONFence bool   // mistral, novita
	WebSearchField   bool   // zai: message.web_search[*] -> annotations
}

func NewCompatibleAdapter(providerID, apiKey, baseURL string) *CompatibleAdapter {
	return &CompatibleAdapter{ProviderID: providerID, APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (c *CompatibleAdapter) ID() string { return c.ProviderID }

type compatibleMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type compatibleRequest struct {
	Model            string              `json:"model"`
	Messages         []compatibleMessage `json:"messages"`
	Temperature      *float64            `json:"temperature,omitempty"`
	TopP             *float64            `json:"top_p,omitempty"`
	N                *int                `json:"n,omitempty"`
	MaxTokens        *int                `json:"max_tokens,omitempty"`
	PresencePenalty  *float64            `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64            `json:"frequency_penalty,omitempty"`
	Stop             []string            `json:"stop,omitempty"`
	Tools            []Tool              `json:"tools,omitempty"`
	Stream           bool                `json:"stream,omitempty"`
}

func (c *CompatibleAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	msgs := make([]compatibleMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, compatibleMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID})
	}
	cr := compatibleRequest{
		Model: req.Model, Messages: msgs, Temperature: req.Temperature, TopP: req.TopP,
		N: req.N, MaxTokens: req.MaxTokens, PresencePenalty: req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty, Stop: req.Stop, Tools: req.Tools, Stream: req.Stream,
	}
	body, err = json.Marshal(cr)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("%s: marshal request: %w", c.ProviderID, err)
	}

	authHeader := c.AuthHeaderName
	if authHeader == "" {
		authHeader = "Authorization"
	}
	headers = map[string]string{"content-type": "application/json"}
	if authHeader == "Authorization" {
		headers[authHeader] = "Bearer " + c.APIKey
	} else {
		headers[authHeader] = c.APIKey
	}
	path := c.PathOverride
	if path == "" {
		path = "/v1/chat/completions"
	}
	return "POST", c.BaseURL + path, headers, body, nil
}

type compatibleToolCall = ToolCall

type compatibleWebSearchItem struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type compatibleChoice struct {
	Message struct {
		Content          string                    `json:"content"`
		Reasoning        string                    `json:"reasoning,omitempty"`
		ReasoningContent string                    `json:"reasoning_content,omitempty"`
		ToolCalls        []compatibleToolCall      `json:"tool_calls,omitempty"`
		Annotations      []Annotation              `json:"annotations,omitempty"`
		WebSearch        []compatibleWebSearchItem `json:"web_search,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type compatibleUsage struct {
	PromptTokens            int64 `json:"prompt_tokens"`
	CompletionTokens        int64 `json:"completion_tokens"`
	TotalTokens             int64 `json:"total_tokens"`
	PromptTokensDetails     *struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

type compatibleResponse struct {
	Choices []compatibleChoice `json:"choices"`
	Usage   compatibleUsage    `json:"usage"`
}

// extractFencedJSON re-serializes content that Mistral/Novita sometimes wrap
// in a ```json ... ``` fence, returning the original content unchanged if it
// isn't fenced or doesn't parse as JSON.
func extractFencedJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return content
	}
	reserialized, err := json.Marshal(v)
	if err != nil {
		return content
	}
	return string(reserialized)
}

func compatibleFinish(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "":
		return "stop"
	default:
		return reason
	}
}

func (c *CompatibleAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	var r compatibleResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, fmt.Errorf("%s: parse response: %w", c.ProviderID, err)
	}
	if len(r.Choices) == 0 {
		return CanonicalResponse{}, fmt.Errorf("%s: response carried no choices", c.ProviderID)
	}
	choice := r.Choices[0]

	content := choice.Message.Content
	if c.ExtractJSONFence {
		content = extractFencedJSON(content)
	}

	reasoning := choice.Message.Reasoning
	if reasoning == "" {
		reasoning = choice.Message.ReasoningContent
	}

	annotations := choice.Message.Annotations
	if c.WebSearchField {
		for _, ws := range choice.Message.WebSearch {
			annotations = append(annotations, Annotation{Type: "url_citation", URL: ws.URL, Title: ws.Title})
		}
	}

	var reasoningTokens, cachedTokens int64
	if r.Usage.CompletionTokensDetails != nil {
		reasoningTokens = r.Usage.CompletionTokensDetails.ReasoningTokens
	}
	if r.Usage.PromptTokensDetails != nil {
		cachedTokens = r.Usage.PromptTokensDetails.CachedTokens
	}

	return CanonicalResponse{
		Content:          content,
		ReasoningContent: reasoning,
		FinishReason:     compatibleFinish(choice.FinishReason),
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		TotalTokens:      r.Usage.TotalTokens,
		ReasoningTokens:  reasoningTokens,
		CachedTokens:     cachedTokens,
		ToolCalls:        choice.Message.ToolCalls,
		Annotations:      annotations,
	}, nil
}

type compatibleStreamDelta struct {
	Content          string       `json:"content,omitempty"`
	Reasoning        string       `json:"reasoning,omitempty"`
	ReasoningContent string       `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall   `json:"tool_calls,omitempty"`
	Annotations      []Annotation `json:"annotations,omitempty"`
	Role             string       `json:"role,omitempty"`
}

type compatibleStreamChoice struct {
	Index        int                    `json:"index"`
	Delta        compatibleStreamDelta  `json:"delta"`
	FinishReason string                 `json:"finish_reason,omitempty"`
}

type compatibleStreamChunk struct {
	ID      string                    `json:"id"`
	Model   string                    `json:"model"`
	Choices []compatibleStreamChoice  `json:"choices"`
	Usage   *compatibleUsage          `json:"usage,omitempty"`
}

func (c *CompatibleAdapter) ParseStream(ctx context.Context, body io.Reader) (<-chan CanonicalChunk, error) {
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

			var chunk compatibleStreamChunk
			if json.Unmarshal([]byte(data), &chunk) != nil {
				continue
			}

			out := CanonicalChunk{ID: chunk.ID, Object: "chat.completion.chunk", Model: chunk.Model}
			for _, ch0 := range chunk.Choices {
				reasoning := ch0.Delta.Reasoning
				if reasoning == "" {
					reasoning = ch0.Delta.ReasoningContent
				}
				out.Choices = append(out.Choices, CanonicalChoice{
					Index: ch0.Index,
					Delta: CanonicalDelta{
						Role:        ch0.Delta.Role,
						Content:     ch0.Delta.Content,
						Reasoning:   reasoning,
						ToolCalls:   ch0.Delta.ToolCalls,
						Annotations: ch0.Delta.Annotations,
					},
					FinishReason: compatibleFinish(ch0.FinishReason),
				})
			}
			if chunk.Usage != nil {
				var reasoningTokens, cachedTokens int64
				if chunk.Usage.CompletionTokensDetails != nil {
					reasoningTokens = chunk.Usage.CompletionTokensDetails.ReasoningTokens
				}
				if chunk.Usage.PromptTokensDetails != nil {
					cachedTokens = chunk.Usage.PromptTokensDetails.CachedTokens
				}
				out.Usage = &CanonicalUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
					ReasoningTokens:  reasoningTokens,
					CachedTokens:     cachedTokens,
				}
			}
			ch <- out
		}
		if err := scanner.Err(); err != nil {
			ch <- CanonicalChunk{Error: err}
		}
	}()
	return ch, nil
}
