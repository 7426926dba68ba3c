package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAIResponsesAdapter implements Adapter for OpenAI's Responses API
// (`/v1/responses`), used for reasoning-heavy models whose output is a
// heterogeneous `output[]` array rather than a `choices[]` array. Grounded
// on the request-construction idiom of the teacher's OpenAIProvider (same
// BaseURL/APIKey shape), with the parsing rules of spec.md §4.4: message
// text from output[type=message].content[0].text, reasoning summaries from
// output[type=reasoning].summary[0].text, tool calls from
// output[type=function_call], and the status-based finish-reason mapping.
type OpenAIResponsesAdapter struct {
	APIKey  string
	BaseURL string
}

func NewOpenAIResponsesAdapter(apiKey, baseURL string) *OpenAIResponsesAdapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIResponsesAdapter{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (o *OpenAIResponsesAdapter) ID() string { return "openai-responses" }

type responsesInputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model       string               `json:"model"`
	Input       []responsesInputItem `json:"input"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxOutputTokens *int             `json:"max_output_tokens,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

func (o *OpenAIResponsesAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	items := make([]responsesInputItem, 0, len(req.Messages))
	for _, m := range req.Messages {
		items = append(items, responsesInputItem{Role: m.Role, Content: m.Content})
	}
	rr := responsesRequest{Model: req.Model, Input: items, Temperature: req.Temperature, MaxOutputTokens: req.MaxTokens, Stream: req.Stream}
	body, err = json.Marshal(rr)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("openai-responses: marshal request: %w", err)
	}
	headers = map[string]string{"Authorization": "Bearer " + o.APIKey, "content-type": "application/json"}
	return "POST", o.BaseURL + "/v1/responses", headers, body, nil
}

type responsesOutputItem struct {
	Type    string `json:"type"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
	Summary []struct {
		Text string `json:"text"`
	} `json:"summary,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Annotations []struct {
		Type  string `json:"type"`
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"annotations,omitempty"`
}

type responsesResponse struct {
	Status string                `json:"status"`
	Output []responsesOutputItem `json:"output"`
	Usage  struct {
		InputTokens         int64 `json:"input_tokens"`
		OutputTokens        int64 `json:"output_tokens"`
		OutputTokensDetails struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
		} `json:"output_tokens_details"`
		InputTokensDetails struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"input_tokens_details"`
	} `json:"usage"`
}

func (o *OpenAIResponsesAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	var r responsesResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, fmt.Errorf("openai-responses: parse response: %w", err)
	}

	var content, reasoning strings.Builder
	var toolCalls []ToolCall
	var annotations []Annotation
	var webSearchCount int64

	for _, item := range r.Output {
		switch item.Type {
		case "message":
			if len(item.Content) > 0 {
				content.WriteString(item.Content[0].Text)
			}
			for _, a := range item.Annotations {
				if a.Type == "url_citation" {
					annotations = append(annotations, Annotation{Type: "url_citation", URL: a.URL, Title: a.Title})
				}
			}
		case "reasoning":
			if len(item.Summary) > 0 {
				reasoning.WriteString(item.Summary[0].Text)
			}
		case "function_call":
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			toolCalls = append(toolCalls, ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: item.Name, Arguments: item.Arguments}})
		case "web_search_call":
			webSearchCount++
		}
	}

	finish := "stop"
	if r.Status == "completed" && len(toolCalls) > 0 {
		finish = "tool_calls"
	} else if r.Status != "completed" && r.Status != "" {
		finish = r.Status
	}

	promptTokens := r.Usage.InputTokens
	completionTokens := r.Usage.OutputTokens
	return CanonicalResponse{
		Content:          content.String(),
		ReasoningContent: reasoning.String(),
		FinishReason:     finish,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		ReasoningTokens:  r.Usage.OutputTokensDetails.ReasoningTokens,
		CachedTokens:     r.Usage.InputTokensDetails.CachedTokens,
		ToolCalls:        toolCalls,
		Annotations:      annotations,
		WebSearchCount:   webSearchCount,
	}, nil
}
