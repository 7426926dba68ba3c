package providers

import (
	"encoding/json"
	"fmt"
)

// DashScopeAdapter implements Adapter for Alibaba DashScope's image
// generation endpoint. Grounded on the teacher's discovery.go
// OpenAI-compatible-GET pattern for the request shape and on spec.md §4.4
// for the response: output.choices[0].message.content is an array of
// items, items carrying `.image` become canonical images, content is set
// to a fixed placeholder string, and every token count is zero.
type DashScopeAdapter struct {
	APIKey  string
	BaseURL string
}

func NewDashScopeAdapter(apiKey, baseURL string) *DashScopeAdapter {
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/api/v1"
	}
	return &DashScopeAdapter{APIKey: apiKey, BaseURL: baseURL}
}

func (d *DashScopeAdapter) ID() string { return "dashscope" }

type dashScopeRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []compatibleMessage `json:"messages"`
	} `json:"input"`
}

func (d *DashScopeAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	var dr dashScopeRequest
	dr.Model = req.Model
	for _, m := range req.Messages {
		dr.Input.Messages = append(dr.Input.Messages, compatibleMessage{Role: m.Role, Content: m.Content})
	}
	body, err = json.Marshal(dr)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("dashscope: marshal request: %w", err)
	}
	headers = map[string]string{"Authorization": "Bearer " + d.APIKey, "content-type": "application/json"}
	return "POST", d.BaseURL + "/services/aigc/multimodal-generation/generation", headers, body, nil
}

type dashScopeContentItem struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type dashScopeResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []dashScopeContentItem `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
}

func (d *DashScopeAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	var r dashScopeResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, fmt.Errorf("dashscope: parse response: %w", err)
	}
	if len(r.Output.Choices) == 0 {
		return CanonicalResponse{}, fmt.Errorf("dashscope: response carried no choices")
	}

	var images []Image
	for _, item := range r.Output.Choices[0].Message.Content {
		if item.Image != "" {
			images = append(images, Image{URL: item.Image})
		}
	}

	return CanonicalResponse{Content: "Generated image", FinishReason: "stop", Images: images}, nil
}
