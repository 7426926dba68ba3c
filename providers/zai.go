package providers

import (
	"encoding/json"
	"fmt"
)

// NewZAIAdapter builds the OpenAI-compatible chat adapter for ZAI, enabling
// the message.web_search[*] -> annotations pull spec.md §4.4 calls out.
func NewZAIAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.z.ai/api/paas/v4"
	}
	a := NewCompatibleAdapter("zai", apiKey, baseURL)
	a.WebSearchField = true
	return a
}

// ZAIImageAdapter implements Adapter for ZAI's CogView image-generation
// endpoint. Grounded on the generic request/response shape of
// compatible.go, restricted to the image payload spec.md §4.4 describes:
// a top-level data[] array of {url} items, zero token accounting.
type ZAIImageAdapter struct {
	APIKey  string
	BaseURL string
}

func NewZAIImageAdapter(apiKey, baseURL string) *ZAIImageAdapter {
	if baseURL == "" {
		baseURL = "https://api.z.ai/api/paas/v4"
	}
	return &ZAIImageAdapter{APIKey: apiKey, BaseURL: baseURL}
}

func (z *ZAIImageAdapter) ID() string { return "zai-image" }

type zaiImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (z *ZAIImageAdapter) BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error) {
	prompt := ""
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			prompt = m.Content
		}
	}
	body, err = json.Marshal(zaiImageRequest{Model: req.Model, Prompt: prompt})
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("zai-image: marshal request: %w", err)
	}
	headers = map[string]string{"Authorization": "Bearer " + z.APIKey, "content-type": "application/json"}
	return "POST", z.BaseURL + "/images/generations", headers, body, nil
}

type zaiImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (z *ZAIImageAdapter) ParseResponse(body []byte) (CanonicalResponse, error) {
	var r zaiImageResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, fmt.Errorf("zai-image: parse response: %w", err)
	}
	images := make([]Image, 0, len(r.Data))
	for _, d := range r.Data {
		images = append(images, Image{URL: d.URL})
	}
	return CanonicalResponse{Content: "Generated image", FinishReason: "stop", Images: images}, nil
}
