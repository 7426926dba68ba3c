package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// GeminiAdapter implements Adapter/StreamingAdapter for Google's
// generateContent/streamGenerateContent API.
//
// Grounded on the teacher's bufio.Scanner-over-SSE streaming idiom and its
// convertMessagesToGemini role-folding helper, generalized to carry function
// calls, thought signatures and grounding-metadata citations through the
// canonical schema.
type GeminiAdapter struct {
	APIKey  string
	BaseURL string
}

func NewGeminiAdapter(apiKey, baseURL string) *GeminiAdapter {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiAdapter{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (g *GeminiAdapter) ID() string { return "gemini" }

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	Thought          bool                `json:"thought,omitempty"`
	ThoughtSignature string              `json:"thoughtSignature,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFuncResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
}

// convertMessagesToGemini converts canonical messages into Gemini contents,
// folding system messages into a dedicated systemInstruction field and
// mapping tool-call history onto functionCall/functionResponse parts.
func convertMessagesToGemini(messages []Message, signatures map[string]string) (system *geminiContent, contents []geminiContent) {
	var systemText strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if systemText.Len() > 0 {
				systemText.WriteString("\n")
			}
			systemText.WriteString(msg.Content)
		case RoleTool:
			contents = append(contents, geminiContent{
				Role: "function",
				Parts: []geminiPart{{FunctionResponse: &geminiFuncResponse{
					Name:     msg.Name,
					Response: json.RawMessage(fmt.Sprintf(`{"result":%q}`, msg.Content)),
				}}},
			})
		default:
			role := msg.Role
			if role == RoleAssistant {
				role = "model"
			}
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				part := geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Function.Name,
					Args: json.RawMessage(tc.Function.Arguments),
				}}
				if sig := signatures[tc.ID]; sig != "" {
					part.ThoughtSignature = sig
				}
				parts = append(parts, part)
			}
			contents = append(contents, geminiContent{Role: role, Parts: parts})
		}
	}
	if systemText.Len() > 0 {
		system = &geminiContent{Parts: []geminiPart{{Text: systemText.String()}}}
	}
	return system, contents
}

// geminiToolCallID synthesizes the deterministic non-streamed tool-call id
// spec.md §4.4 requires: name_candidateIndex_partIndex.
func geminiToolCallID(name string, candidateIdx, partIdx int) string {
	return fmt.Sprintf("%s_%d_%d", name, candidateIdx, partIdx)
}

// geminiStreamToolCallID synthesizes the streamed tool-call id spec.md §4.5
// requires: <name>_<ts>_<idx>.
func geminiStreamToolCallID(name string, partIdx int) string {
	return fmt.Sprintf("%s_%d_%d", name, time.Now().UnixNano(), partIdx)
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return "stop"
	}
}

func (g *GeminiAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	system, contents := convertMessagesToGemini(req.Messages, req.ToolSignatures)
	gr := geminiRequest{SystemInstruction: system, Contents: contents}

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || len(req.Stop) > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
		}
		gr.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	body, err = json.Marshal(gr)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	action := "generateContent"
	if req.Stream {
		action = "streamGenerateContent"
	}
	u := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", g.BaseURL, req.Model, action, g.APIKey)
	if req.Stream {
		u += "&alt=sse"
	}
	return "POST", u, map[string]string{"content-type": "application/json"}, body, nil
}

type geminiGroundingChunk struct {
	Web struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
		Role  string       `json:"role"`
	} `json:"content"`
	FinishReason      string `json:"finishReason"`
	GroundingMetadata *struct {
		GroundingChunks []geminiGroundingChunk `json:"groundingChunks"`
	} `json:"groundingMetadata,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
	TotalTokenCount         int64 `json:"totalTokenCount"`
	ThoughtsTokenCount      int64 `json:"thoughtsTokenCount"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func annotationsFromGrounding(md *struct {
	GroundingChunks []geminiGroundingChunk `json:"groundingChunks"`
}) []Annotation {
	if md == nil {
		return nil
	}
	anns := make([]Annotation, 0, len(md.GroundingChunks))
	for _, c := range md.GroundingChunks {
		anns = append(anns, Annotation{Type: "url_citation", URL: c.Web.URI, Title: c.Web.Title})
	}
	return anns
}

func (g *GeminiAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	var errResp geminiErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return CanonicalResponse{}, fmt.Errorf("gemini: upstream error: %s", errResp.Error.Message)
	}

	var r geminiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, fmt.Errorf("gemini: parse response: %w", err)
	}
	if len(r.Candidates) == 0 {
		return CanonicalResponse{}, fmt.Errorf("gemini: response carried no candidates")
	}

	candidate := r.Candidates[0]
	var content, reasoning strings.Builder
	var toolCalls []ToolCall
	for partIdx, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := string(part.FunctionCall.Args)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:               geminiToolCallID(part.FunctionCall.Name, 0, partIdx),
				Type:             "function",
				Function:         FunctionCall{Name: part.FunctionCall.Name, Arguments: args},
				ThoughtSignature: part.ThoughtSignature,
			})
		case part.Thought:
			reasoning.WriteString(part.Text)
		default:
			content.WriteString(part.Text)
		}
	}

	// spec.md §4.4/§9: the upstream totalTokenCount is explicitly discarded;
	// total is recomputed from the parts Google itself bills for.
	totalTokens := r.UsageMetadata.PromptTokenCount + r.UsageMetadata.CandidatesTokenCount + r.UsageMetadata.ThoughtsTokenCount

	return CanonicalResponse{
		Content:          content.String(),
		ReasoningContent: reasoning.String(),
		FinishReason:     mapGeminiFinishReason(candidate.FinishReason),
		PromptTokens:     r.UsageMetadata.PromptTokenCount,
		CompletionTokens: r.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      totalTokens,
		ReasoningTokens:  r.UsageMetadata.ThoughtsTokenCount,
		CachedTokens:     r.UsageMetadata.CachedContentTokenCount,
		ToolCalls:        toolCalls,
		Annotations:      annotationsFromGrounding(candidate.GroundingMetadata),
	}, nil
}

func (g *GeminiAdapter) ParseStream(ctx context.Context, body io.Reader) (<-chan CanonicalChunk, error) {
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

			var chunk geminiResponse
			if json.Unmarshal([]byte(data), &chunk) != nil {
				continue
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			candidate := chunk.Candidates[0]

			var delta CanonicalDelta
			for partIdx, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					args := string(part.FunctionCall.Args)
					if args == "" {
						args = "{}"
					}
					delta.ToolCalls = append(delta.ToolCalls, ToolCall{
						ID:               geminiStreamToolCallID(part.FunctionCall.Name, partIdx),
						Type:             "function",
						Function:         FunctionCall{Name: part.FunctionCall.Name, Arguments: args},
						ThoughtSignature: part.ThoughtSignature,
					})
				case part.Thought:
					delta.Reasoning += part.Text
				default:
					delta.Content += part.Text
				}
			}
			delta.Annotations = annotationsFromGrounding(candidate.GroundingMetadata)

			out := CanonicalChunk{Choices: []CanonicalChoice{{Delta: delta}}}
			if candidate.FinishReason != "" {
				out.Choices[0].FinishReason = mapGeminiFinishReason(candidate.FinishReason)
				// Ignore the upstream totalTokenCount, same as the
				// non-streamed parser above.
				totalTokens := chunk.UsageMetadata.PromptTokenCount + chunk.UsageMetadata.CandidatesTokenCount + chunk.UsageMetadata.ThoughtsTokenCount
				out.Usage = &CanonicalUsage{
					PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
					CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      totalTokens,
					ReasoningTokens:  chunk.UsageMetadata.ThoughtsTokenCount,
					CachedTokens:     chunk.UsageMetadata.CachedContentTokenCount,
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
