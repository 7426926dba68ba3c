package providers

import "strings"

// NewAzureOpenAIAdapter builds the OpenAI-compatible adapter for Azure
// OpenAI deployments. Grounded on the teacher's azure_openai.go
// AuthHeaders/deployment-name pattern: Azure authenticates via the
// `api-key` header instead of `Authorization: Bearer`, and the deployment
// name (not the model name) appears in the URL path, so BaseURL is expected
// to already carry the full `/openai/deployments/<name>` prefix the caller
// resolved from the model mapping.
func NewAzureOpenAIAdapter(apiKey, baseURL string) *CompatibleAdapter {
	a := NewCompatibleAdapter("azure-openai", apiKey, strings.TrimRight(baseURL, "/"))
	a.AuthHeaderName = "api-key"
	a.PathOverride = "/chat/completions?api-version=2024-06-01"
	return a
}
