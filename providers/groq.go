package providers

// NewGroqAdapter builds the plain OpenAI-compatible adapter for Groq.
func NewGroqAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai"
	}
	return NewCompatibleAdapter("groq", apiKey, baseURL)
}

// NewCerebrasAdapter builds the plain OpenAI-compatible adapter for Cerebras.
func NewCerebrasAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.cerebras.ai"
	}
	return NewCompatibleAdapter("cerebras", apiKey, baseURL)
}

// NewXAIAdapter builds the plain OpenAI-compatible adapter for xAI.
func NewXAIAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.x.ai"
	}
	return NewCompatibleAdapter("xai", apiKey, baseURL)
}

// NewDeepSeekAdapter builds the plain OpenAI-compatible adapter for DeepSeek.
func NewDeepSeekAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	return NewCompatibleAdapter("deepseek", apiKey, baseURL)
}

// NewPerplexityAdapter builds the plain OpenAI-compatible adapter for Perplexity.
func NewPerplexityAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	return NewCompatibleAdapter("perplexity", apiKey, baseURL)
}

// NewMoonshotAdapter builds the plain OpenAI-compatible adapter for Moonshot.
func NewMoonshotAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.moonshot.cn"
	}
	return NewCompatibleAdapter("moonshot", apiKey, baseURL)
}
