package providers

import (
	"context"
	"fmt"
)

// Credentials carries the resolved secret material for one upstream call;
// the Dispatcher fills this in from the selected key before building an
// adapter for a given provider id.
type Credentials struct {
	APIKey  string
	BaseURL string
	Region  string // bedrock only
}

// Registry maps provider ids to constructors, grounded on the teacher's
// providers/registry.go FindByModel lookup table, generalized into the
// ProviderAdapter-registry shape spec.md §9 calls for.
type Registry struct {
	factories map[string]func(Credentials) (Adapter, error)
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func(Credentials) (Adapter, error))}
	r.registerDefaults()
	return r
}

func (r *Registry) Register(id string, factory func(Credentials) (Adapter, error)) {
	r.factories[id] = factory
}

func (r *Registry) Build(id string, creds Credentials) (Adapter, error) {
	factory, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("providers: no adapter registered for %q", id)
	}
	return factory(creds)
}

func (r *Registry) registerDefaults() {
	r.Register("openai", func(c Credentials) (Adapter, error) { return NewOpenAIAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("openai-responses", func(c Credentials) (Adapter, error) { return NewOpenAIResponsesAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("anthropic", func(c Credentials) (Adapter, error) { return NewAnthropicAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("gemini", func(c Credentials) (Adapter, error) { return NewGeminiAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("bedrock", func(c Credentials) (Adapter, error) { return NewBedrockAdapter(context.Background(), c.Region) })
	r.Register("azure-openai", func(c Credentials) (Adapter, error) { return NewAzureOpenAIAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("mistral", func(c Credentials) (Adapter, error) { return NewMistralAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("novita", func(c Credentials) (Adapter, error) { return NewNovitaAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("groq", func(c Credentials) (Adapter, error) { return NewGroqAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("cerebras", func(c Credentials) (Adapter, error) { return NewCerebrasAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("xai", func(c Credentials) (Adapter, error) { return NewXAIAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("deepseek", func(c Credentials) (Adapter, error) { return NewDeepSeekAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("perplexity", func(c Credentials) (Adapter, error) { return NewPerplexityAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("moonshot", func(c Credentials) (Adapter, error) { return NewMoonshotAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("together", func(c Credentials) (Adapter, error) { return NewTogetherAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("inference.net", func(c Credentials) (Adapter, error) { return NewInferenceNetAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("nebius", func(c Credentials) (Adapter, error) { return NewNebiusAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("nanogpt", func(c Credentials) (Adapter, error) { return NewNanoGPTAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("bytedance", func(c Credentials) (Adapter, error) { return NewBytedanceAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("minimax", func(c Credentials) (Adapter, error) { return NewMiniMaxAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("canopywave", func(c Credentials) (Adapter, error) { return NewCanopywaveAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("cloudrift", func(c Credentials) (Adapter, error) { return NewCloudriftAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("obsidian", func(c Credentials) (Adapter, error) { return NewObsidianAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("custom", func(c Credentials) (Adapter, error) { return NewCustomAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("zai", func(c Credentials) (Adapter, error) { return NewZAIAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("zai-image", func(c Credentials) (Adapter, error) { return NewZAIImageAdapter(c.APIKey, c.BaseURL), nil })
	r.Register("dashscope", func(c Credentials) (Adapter, error) { return NewDashScopeAdapter(c.APIKey, c.BaseURL), nil })
}
