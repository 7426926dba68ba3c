package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockAdapter implements Adapter/StreamingAdapter for AWS Bedrock.
//
// The teacher dispatched per-family (Anthropic/Titan/Llama) InvokeModel
// payloads by model-ID prefix; this adapter is built on the Bedrock runtime's
// own Converse/ConverseStream API instead, which normalizes that same family
// differences away inside the SDK — one request/response shape for every
// Bedrock-hosted model, which is a closer match to this gateway's own
// single-canonical-schema goal. BuildRequest/ParseResponse below exist to
// satisfy the Adapter interface uniformly with every other provider, but the
// actual upstream call goes through the AWS SDK client rather than raw HTTP;
// url/headers/method are unused placeholders the dispatcher recognizes.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	region string
}

func NewBedrockAdapter(ctx context.Context, region string) (*BedrockAdapter, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return &BedrockAdapter{client: bedrockruntime.NewFromConfig(cfg), region: region}, nil
}

func (b *BedrockAdapter) ID() string { return "bedrock" }

// BuildRequest is a no-op for Bedrock: the dispatcher recognizes this
// adapter's ID and calls Invoke/InvokeStream directly against the AWS SDK
// client instead of issuing an HTTP round trip with this method/url/body.
func (b *BedrockAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	return "", "", nil, nil, nil
}

// ParseResponse is unused; Bedrock responses are parsed directly from the
// SDK's typed Converse output in Invoke, never from a raw HTTP body.
func (b *BedrockAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	return CanonicalResponse{}, fmt.Errorf("bedrock: ParseResponse is not used, call Invoke directly")
}

func toBedrockMessages(messages []Message) (system []types.SystemContentBlock, converted []types.Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		var blocks []types.ContentBlock
		if m.Content != "" {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
		}
		converted = append(converted, types.Message{Role: role, Content: blocks})
	}
	return system, converted
}

func toBedrockToolConfig(tools []Tool) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var doc map[string]interface{}
		_ = json.Unmarshal(t.Function.Parameters, &doc)
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Function.Name),
				Description: aws.String(t.Function.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: documentFromMap(doc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

func mapBedrockStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return "stop"
	case types.StopReasonMaxTokens:
		return "length"
	case types.StopReasonToolUse:
		return "tool_calls"
	case types.StopReasonContentFiltered:
		return "content_filter"
	default:
		return "stop"
	}
}

// Invoke drives the Bedrock Converse API directly, bypassing the
// BuildRequest/ParseResponse HTTP path the other adapters use.
func (b *BedrockAdapter) Invoke(ctx context.Context, req Request) (CanonicalResponse, error) {
	system, messages := toBedrockMessages(req.Messages)
	input := &bedrockruntime.ConverseInput{
		ModelId:    aws.String(req.Model),
		System:     system,
		Messages:   messages,
		ToolConfig: toBedrockToolConfig(req.Tools),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: float32Ptr(req.Temperature),
			TopP:        float32Ptr(req.TopP),
			MaxTokens:   int32Ptr(req.MaxTokens),
			StopSequences: req.Stop,
		},
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return CanonicalResponse{}, fmt.Errorf("bedrock: converse: %w", err)
	}

	var content string
	var toolCalls []ToolCall
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *types.ContentBlockMemberText:
				content += v.Value
			case *types.ContentBlockMemberToolUse:
				args, _ := json.Marshal(documentToMap(v.Value.Input))
				toolCalls = append(toolCalls, ToolCall{
					ID:       aws.ToString(v.Value.ToolUseId),
					Type:     "function",
					Function: FunctionCall{Name: aws.ToString(v.Value.Name), Arguments: string(args)},
				})
			}
		}
	}

	var promptTokens, completionTokens, totalTokens int64
	if out.Usage != nil {
		promptTokens = int64(aws.ToInt32(out.Usage.InputTokens))
		completionTokens = int64(aws.ToInt32(out.Usage.OutputTokens))
		totalTokens = int64(aws.ToInt32(out.Usage.TotalTokens))
	}

	return CanonicalResponse{
		Content:          content,
		FinishReason:     mapBedrockStopReason(out.StopReason),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		ToolCalls:        toolCalls,
	}, nil
}

// InvokeStream drives ConverseStream and emits canonical chunks.
func (b *BedrockAdapter) InvokeStream(ctx context.Context, req Request) (<-chan CanonicalChunk, error) {
	system, messages := toBedrockMessages(req.Messages)
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(req.Model),
		System:     system,
		Messages:   messages,
		ToolConfig: toBedrockToolConfig(req.Tools),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature:   float32Ptr(req.Temperature),
			TopP:          float32Ptr(req.TopP),
			MaxTokens:     int32Ptr(req.MaxTokens),
			StopSequences: req.Stop,
		},
	}

	out, err := b.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}

	ch := make(chan CanonicalChunk)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		var toolIndex = -1
		for event := range stream.Events() {
			switch e := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolIndex++
					idx := toolIndex
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{
						ToolCalls: []ToolCall{{Index: &idx, ID: aws.ToString(tu.Value.ToolUseId), Type: "function", Function: FunctionCall{Name: aws.ToString(tu.Value.Name)}}},
					}}}}
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := e.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{Content: d.Value}}}}
				case *types.ContentBlockDeltaMemberToolUse:
					idx := toolIndex
					ch <- CanonicalChunk{Choices: []CanonicalChoice{{Delta: CanonicalDelta{
						ToolCalls: []ToolCall{{Index: &idx, Function: FunctionCall{Arguments: aws.ToString(d.Value.Input)}}},
					}}}}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				ch <- CanonicalChunk{Choices: []CanonicalChoice{{FinishReason: mapBedrockStopReason(e.Value.StopReason)}}}
			case *types.ConverseStreamOutputMemberMetadata:
				if e.Value.Usage != nil {
					ch <- CanonicalChunk{Usage: &CanonicalUsage{
						PromptTokens:     int64(aws.ToInt32(e.Value.Usage.InputTokens)),
						CompletionTokens: int64(aws.ToInt32(e.Value.Usage.OutputTokens)),
						TotalTokens:      int64(aws.ToInt32(e.Value.Usage.TotalTokens)),
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- CanonicalChunk{Error: err}
		}
	}()

	return ch, nil
}

func float32Ptr(f *float64) *float32 {
	if f == nil {
		return nil
	}
	v := float32(*f)
	return &v
}

func int32Ptr(i *int) *int32 {
	if i == nil {
		return nil
	}
	v := int32(*i)
	return &v
}

// documentFromMap/documentToMap bridge plain Go maps and the Bedrock SDK's
// document.Interface used for free-form tool schemas and arguments.
func documentFromMap(m map[string]interface{}) document.Interface {
	return document.NewLazyDocument(m)
}

func documentToMap(doc document.Interface) map[string]interface{} {
	var m map[string]interface{}
	if doc == nil {
		return m
	}
	_ = doc.UnmarshalSmithyDocument(&m)
	return m
}
