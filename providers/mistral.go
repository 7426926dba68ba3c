package providers

// NewMistralAdapter builds the OpenAI-compatible adapter for Mistral,
// enabling the ```json fence extraction spec.md §4.4 calls out for this
// family.
func NewMistralAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai"
	}
	a := NewCompatibleAdapter("mistral", apiKey, baseURL)
	a.ExtractJSONFence = true
	return a
}

// NewNovitaAdapter builds the OpenAI-compatible adapter for Novita, which
// shares Mistral's fenced-JSON quirk.
func NewNovitaAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.novita.ai/v3/openai"
	}
	a := NewCompatibleAdapter("novita", apiKey, baseURL)
	a.ExtractJSONFence = true
	return a
}
