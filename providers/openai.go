package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter implements Adapter for OpenAI's chat completions API,
// reusing the openai-go SDK client rather than hand-rolled HTTP like the
// OpenAI-compatible third-party adapters. Grounded directly on the teacher's
// OpenAIProvider: same client construction, same buildOpenAIMessages/
// applyOpenAIParams helpers, generalized to emit the canonical schema instead
// of the teacher's own Response/StreamChunk types.
//
// Like BedrockAdapter, this adapter talks to its upstream through a typed SDK
// client rather than through BuildRequest/ParseResponse; Invoke/InvokeStream
// are what the dispatcher calls for provider id "openai" (and any
// OpenAI-compatible variant that chooses to reuse the SDK instead of
// compatible.go's raw-HTTP path).
type OpenAIAdapter struct {
	client  openai.Client
	baseURL string
}

func NewOpenAIAdapter(apiKey, baseURL string) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	resolved := "https://api.openai.com"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		resolved = baseURL
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), baseURL: resolved}
}

func (p *OpenAIAdapter) ID() string { return "openai" }

// BuildRequest is unused: OpenAIAdapter is invoked through Invoke/InvokeStream.
func (p *OpenAIAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	return "", "", nil, nil, nil
}

// ParseResponse is unused; see BuildRequest.
func (p *OpenAIAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	return CanonicalResponse{}, fmt.Errorf("openai: ParseResponse is not used, call Invoke directly")
}

// buildOpenAIMessages converts canonical messages to the SDK's union type.
func buildOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// applyOpenAIParams maps every optional canonical Request field onto the SDK params struct.
func applyOpenAIParams(params *openai.ChatCompletionNewParams, req Request) {
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.N != nil {
		params.N = openai.Int(int64(*req.N))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.MaxCompletionTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxCompletionTokens))
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = openai.ReasoningEffort(req.ReasoningEffort)
	}
	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "json_object":
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
			}
		case "json_schema":
			if len(req.ResponseFormat.JSONSchema) > 0 {
				var schema openai.ResponseFormatJSONSchemaJSONSchemaParam
				if err := json.Unmarshal(req.ResponseFormat.JSONSchema, &schema); err == nil {
					params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
						OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schema},
					}
				}
			}
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var paramSchema openai.FunctionParameters
			if len(t.Function.Parameters) > 0 {
				_ = json.Unmarshal(t.Function.Parameters, &paramSchema)
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Function.Name,
					Description: openai.String(t.Function.Description),
					Parameters:  paramSchema,
					Strict:      openai.Bool(t.Function.Strict),
				},
			})
		}
		params.Tools = tools
	}
}

// Invoke sends a non-streamed chat completion via the SDK client.
func (p *OpenAIAdapter) Invoke(ctx context.Context, req Request) (CanonicalResponse, error) {
	params := openai.ChatCompletionNewParams{Messages: buildOpenAIMessages(req.Messages), Model: req.Model}
	applyOpenAIParams(&params, req)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CanonicalResponse{}, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return CanonicalResponse{}, fmt.Errorf("openai: response carried no choices")
	}
	choice := completion.Choices[0]

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:       tc.ID,
			Type:     string(tc.Type),
			Function: FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}

	return CanonicalResponse{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
		// CompletionTokensDetails/PromptTokensDetails are value structs in
		// the SDK, not pointers, so these are simply 0 when absent.
		ReasoningTokens: completion.Usage.CompletionTokensDetails.ReasoningTokens,
		CachedTokens:    completion.Usage.PromptTokensDetails.CachedTokens,
		ToolCalls:       toolCalls,
	}, nil
}

// InvokeStream sends a streaming chat completion via the SDK client,
// translating the SDK's own chunk type into canonical chunks.
func (p *OpenAIAdapter) InvokeStream(ctx context.Context, req Request) (<-chan CanonicalChunk, error) {
	params := openai.ChatCompletionNewParams{Messages: buildOpenAIMessages(req.Messages), Model: req.Model}
	applyOpenAIParams(&params, req)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan CanonicalChunk)
	go func() {
		defer close(ch)
		for stream.Next() {
			chunk := stream.Current()
			out := CanonicalChunk{ID: chunk.ID, Model: chunk.Model}
			for _, c := range chunk.Choices {
				delta := CanonicalDelta{Role: c.Delta.Role, Content: c.Delta.Content}
				for _, tc := range c.Delta.ToolCalls {
					idx := int(tc.Index)
					delta.ToolCalls = append(delta.ToolCalls, ToolCall{
						Index:    &idx,
						ID:       tc.ID,
						Type:     string(tc.Type),
						Function: FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
					})
				}
				out.Choices = append(out.Choices, CanonicalChoice{Index: int(c.Index), Delta: delta, FinishReason: c.FinishReason})
			}
			if chunk.Usage.TotalTokens > 0 {
				out.Usage = &CanonicalUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
					ReasoningTokens:  chunk.Usage.CompletionTokensDetails.ReasoningTokens,
					CachedTokens:     chunk.Usage.PromptTokensDetails.CachedTokens,
				}
			}
			ch <- out
		}
		if err := stream.Err(); err != nil {
			ch <- CanonicalChunk{Error: err}
		}
	}()

	return ch, nil
}
