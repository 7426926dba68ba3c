package gatewayhttp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaywire/gatewd/dispatch"
	"github.com/relaywire/gatewd/providers"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// chatRequest is the OpenAI-compatible wire shape accepted by
// POST /v1/chat/completions (spec.md §6). providers.Request has no JSON tags
// of its own — canonical types are gateway-internal — so this is the actual
// decode target, converted below.
type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	Stream              bool            `json:"stream"`
	Tools               []wireTool      `json:"tools,omitempty"`
	ToolChoice          interface{}     `json:"tool_choice,omitempty"`
	ResponseFormat      *wireRespFormat `json:"response_format,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	N                   *int            `json:"n,omitempty"`
	Seed                *int64          `json:"seed,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	User                string          `json:"user,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	WebSearch           bool            `json:"web_search,omitempty"`
	ImageConfig         json.RawMessage `json:"image_config,omitempty"`
}

type chatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type wireRespFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// toProvidersRequest converts the decoded wire request into the canonical
// Request the Dispatcher and provider adapters operate on.
func (cr chatRequest) toProvidersRequest() (providers.Request, error) {
	req := providers.Request{
		Model:               cr.Model,
		Stream:              cr.Stream,
		ToolChoice:          cr.ToolChoice,
		Temperature:         cr.Temperature,
		TopP:                cr.TopP,
		N:                   cr.N,
		Seed:                cr.Seed,
		MaxTokens:           cr.MaxTokens,
		MaxCompletionTokens: cr.MaxCompletionTokens,
		PresencePenalty:     cr.PresencePenalty,
		FrequencyPenalty:    cr.FrequencyPenalty,
		Stop:                cr.Stop,
		User:                cr.User,
		ReasoningEffort:     cr.ReasoningEffort,
		WebSearch:           cr.WebSearch,
		ImageConfig:         cr.ImageConfig,
	}
	if cr.ResponseFormat != nil {
		req.ResponseFormat = &providers.ResponseFormat{Type: cr.ResponseFormat.Type, JSONSchema: cr.ResponseFormat.JSONSchema}
	}
	for _, t := range cr.Tools {
		req.Tools = append(req.Tools, providers.Tool{
			Type: t.Type,
			Function: providers.Function{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
				Strict:      t.Function.Strict,
			},
		})
	}
	for _, m := range cr.Messages {
		msg := providers.Message{Role: m.Role, Name: m.Name, ToolCallID: m.ToolCallID}
		if len(m.Content) > 0 && string(m.Content) != "null" {
			var s string
			if err := json.Unmarshal(m.Content, &s); err == nil {
				msg.Content = s
			} else {
				var parts []providers.ContentPart
				if err := json.Unmarshal(m.Content, &parts); err != nil {
					return providers.Request{}, fmt.Errorf("message content must be a string or an array of parts: %w", err)
				}
				msg.ContentParts = parts
				for _, p := range parts {
					if p.Type == providers.ContentTypeText {
						msg.Content += p.Text
					}
				}
			}
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: providers.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		req.Messages = append(req.Messages, msg)
	}
	return req, nil
}

// wireChatCompletion is the non-streamed OpenAI chat.completion response shape.
type wireChatCompletion struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []wireChoice  `json:"choices"`
	Usage   *wireUsage    `json:"usage,omitempty"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireMessage struct {
	Role             string            `json:"role"`
	Content          string            `json:"content"`
	ReasoningContent string            `json:"reasoning_content,omitempty"`
	ToolCalls        []wireToolCall    `json:"tool_calls,omitempty"`
	Annotations      []wireAnnotation  `json:"annotations,omitempty"`
	Images           []wireImage       `json:"images,omitempty"`
}

type wireAnnotation struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

type wireImage struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	ReasoningTokens  int64 `json:"reasoning_tokens,omitempty"`
	CachedTokens     int64 `json:"cached_tokens,omitempty"`
}

func canonicalToWire(model string, resp *providers.CanonicalResponse) wireChatCompletion {
	msg := wireMessage{
		Role:             providers.RoleAssistant,
		Content:          resp.Content,
		ReasoningContent: resp.ReasoningContent,
	}
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: wireFunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	for _, a := range resp.Annotations {
		msg.Annotations = append(msg.Annotations, wireAnnotation{
			Type: a.Type, URL: a.URL, Title: a.Title, StartIndex: a.StartIndex, EndIndex: a.EndIndex,
		})
	}
	for _, img := range resp.Images {
		msg.Images = append(msg.Images, wireImage{URL: img.URL, B64JSON: img.B64JSON})
	}
	return wireChatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []wireChoice{{Index: 0, Message: msg, FinishReason: unifiedFinishReasonToOpenAI(resp.FinishReason)}},
		Usage: &wireUsage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TotalTokens:      resp.TotalTokens,
			ReasoningTokens:  resp.ReasoningTokens,
			CachedTokens:     resp.CachedTokens,
		},
	}
}

// unifiedFinishReasonToOpenAI passes most provider finish reasons through
// unchanged; adapters already normalize the handful that diverge from
// OpenAI's vocabulary (see providers/*.go per-family mapping functions).
func unifiedFinishReasonToOpenAI(reason string) string {
	if reason == "" {
		return "stop"
	}
	return reason
}

// wireChatCompletionChunk is the OpenAI chat.completion.chunk SSE shape.
type wireChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []wireChunkChoice `json:"choices"`
	Usage   *wireUsage        `json:"usage,omitempty"`
}

type wireChunkChoice struct {
	Index        int        `json:"index"`
	Delta        wireDelta  `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type wireDelta struct {
	Role        string           `json:"role,omitempty"`
	Content     string           `json:"content,omitempty"`
	Reasoning   string           `json:"reasoning,omitempty"`
	ToolCalls   []wireToolCall   `json:"tool_calls,omitempty"`
	Annotations []wireAnnotation `json:"annotations,omitempty"`
}

func canonicalChunkToWire(id string, created int64, chunk providers.CanonicalChunk) wireChatCompletionChunk {
	out := wireChatCompletionChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: chunk.Model}
	for _, c := range chunk.Choices {
		choice := wireChunkChoice{Index: c.Index, Delta: wireDelta{
			Role:      c.Delta.Role,
			Content:   c.Delta.Content,
			Reasoning: c.Delta.Reasoning,
		}}
		for _, tc := range c.Delta.ToolCalls {
			choice.Delta.ToolCalls = append(choice.Delta.ToolCalls, wireToolCall{
				ID: tc.ID, Type: tc.Type,
				Function: wireFunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		for _, a := range c.Delta.Annotations {
			choice.Delta.Annotations = append(choice.Delta.Annotations, wireAnnotation{
				Type: a.Type, URL: a.URL, Title: a.Title, StartIndex: a.StartIndex, EndIndex: a.EndIndex,
			})
		}
		if c.FinishReason != "" {
			fr := c.FinishReason
			choice.FinishReason = &fr
		}
		out.Choices = append(out.Choices, choice)
	}
	if chunk.Usage != nil {
		out.Usage = &wireUsage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
			ReasoningTokens:  chunk.Usage.ReasoningTokens,
			CachedTokens:     chunk.Usage.CachedTokens,
		}
	}
	return out
}

// handleChatCompletions implements POST /v1/chat/completions (spec.md §6):
// decode, validate against the JSON schema, build a dispatch.Input from the
// request plus its auth/source headers, dispatch, and render either a full
// chat.completion or an SSE stream.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	if err := s.schema.Validate(body); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	var cr chatRequest
	if err := json.Unmarshal(body, &cr); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	req, err := cr.toProvidersRequest()
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	in := dispatch.Input{
		RequestID:      requestIDFrom(r),
		OrganizationID: r.Header.Get("X-Organization-Id"),
		ProjectID:      r.Header.Get("X-Project-Id"),
		APIKeyID:       apiKeyIDFrom(r),
		Mode:           modeFrom(r),
		Source:         r.Header.Get("X-Source"),
		NoFallback:     r.Header.Get("X-No-Fallback") == "true",
		BYOKKey:        r.Header.Get("X-LLMGateway-Key"),
		Request:        req,
	}
	if cp := gjson.GetBytes(body, "custom_provider_base_url").String(); cp != "" {
		in.CustomBaseURL = cp
	}

	outcome, err := s.dispatcher.Dispatch(r.Context(), in)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	if outcome.Stream != nil {
		writeChatStream(w, r, outcome)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(canonicalToWire(req.Model, outcome.Response))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("request body is required")
	}
	defer func() { _ = r.Body.Close() }()
	r.Body = http.MaxBytesReader(nil, r.Body, 20<<20)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}
