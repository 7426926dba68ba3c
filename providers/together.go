package providers

// NewTogetherAdapter builds the plain OpenAI-compatible adapter for Together AI.
func NewTogetherAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.together.xyz"
	}
	return NewCompatibleAdapter("together", apiKey, baseURL)
}

// NewInferenceNetAdapter builds the plain OpenAI-compatible adapter for Inference.net.
func NewInferenceNetAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.inference.net"
	}
	return NewCompatibleAdapter("inference.net", apiKey, baseURL)
}

// NewNebiusAdapter builds the plain OpenAI-compatible adapter for Nebius.
func NewNebiusAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.studio.nebius.ai"
	}
	return NewCompatibleAdapter("nebius", apiKey, baseURL)
}

// NewNanoGPTAdapter builds the plain OpenAI-compatible adapter for NanoGPT.
func NewNanoGPTAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://nano-gpt.com/api"
	}
	return NewCompatibleAdapter("nanogpt", apiKey, baseURL)
}

// NewBytedanceAdapter builds the plain OpenAI-compatible adapter for Bytedance.
func NewBytedanceAdapter(apiKey, baseURL string) *CompatibleAdapter {
	return NewCompatibleAdapter("bytedance", apiKey, baseURL)
}

// NewMiniMaxAdapter builds the plain OpenAI-compatible adapter for MiniMax.
func NewMiniMaxAdapter(apiKey, baseURL string) *CompatibleAdapter {
	if baseURL == "" {
		baseURL = "https://api.minimax.chat"
	}
	return NewCompatibleAdapter("minimax", apiKey, baseURL)
}

// NewCanopywaveAdapter builds the plain OpenAI-compatible adapter for Canopywave.
func NewCanopywaveAdapter(apiKey, baseURL string) *CompatibleAdapter {
	return NewCompatibleAdapter("canopywave", apiKey, baseURL)
}

// NewCloudriftAdapter builds the plain OpenAI-compatible adapter for Cloudrift.
func NewCloudriftAdapter(apiKey, baseURL string) *CompatibleAdapter {
	return NewCompatibleAdapter("cloudrift", apiKey, baseURL)
}

// NewObsidianAdapter builds the plain OpenAI-compatible adapter for Obsidian.
func NewObsidianAdapter(apiKey, baseURL string) *CompatibleAdapter {
	return NewCompatibleAdapter("obsidian", apiKey, baseURL)
}

// NewCustomAdapter builds the `custom` sentinel adapter for a user-supplied
// OpenAI-compatible base URL.
func NewCustomAdapter(apiKey, baseURL string) *CompatibleAdapter {
	return NewCompatibleAdapter("custom", apiKey, baseURL)
}
