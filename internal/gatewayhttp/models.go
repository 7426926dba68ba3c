package gatewayhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaywire/gatewd/catalog"
)

// wireModel is the per-model shape GET /v1/models returns, per spec.md §6.
type wireModel struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Created            int64              `json:"created"`
	Architecture      wireArchitecture   `json:"architecture"`
	TopProvider       string             `json:"top_provider"`
	Providers         []wireModelMapping `json:"providers"`
	Pricing           wirePricing        `json:"pricing"`
	Family            string             `json:"family"`
	JSONOutput        bool               `json:"json_output"`
	StructuredOutputs bool               `json:"structured_outputs"`
	Stability         string             `json:"stability,omitempty"`
	DeprecatedAt      *time.Time         `json:"deprecated_at,omitempty"`
	DeactivatedAt     *time.Time         `json:"deactivated_at,omitempty"`
}

type wireArchitecture struct {
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
}

type wirePricing struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

type wireModelMapping struct {
	ProviderID string `json:"providerId"`
	ModelName  string `json:"modelName"`
}

// handleModels implements GET /v1/models (spec.md §6): the include_deactivated
// and exclude_deprecated query params gate catalog.ModelsList, and the
// response groups each model's providers plus a representative (cheapest)
// provider's pricing for the top-level pricing block.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	includeDeactivated := r.URL.Query().Get("include_deactivated") == "true"
	excludeDeprecated := r.URL.Query().Get("exclude_deprecated") == "true"

	models := s.catalog.ModelsList(time.Now(), includeDeactivated, excludeDeprecated)
	out := make([]wireModel, 0, len(models))
	for _, m := range models {
		out = append(out, modelToWire(m))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   out,
	})
}

func modelToWire(m catalog.Model) wireModel {
	wm := wireModel{
		ID:         m.ID,
		Name:       m.ID,
		Family:     m.Family,
		Stability:  string(m.Stability),
		Architecture: wireArchitecture{
			InputModalities:  []string{"text"},
			OutputModalities: m.Output,
		},
	}
	if len(m.Providers) > 0 {
		wm.TopProvider = m.Providers[0].ProviderID
	}
	var cheapest *catalog.Mapping
	for i := range m.Providers {
		mp := m.Providers[i]
		wm.Providers = append(wm.Providers, wireModelMapping{ProviderID: mp.ProviderID, ModelName: mp.ModelName})
		if mp.JSONOutput {
			wm.JSONOutput = true
		}
		if mp.Tools {
			wm.StructuredOutputs = true
		}
		if mp.DeprecatedAt != nil && (wm.DeprecatedAt == nil || mp.DeprecatedAt.Before(*wm.DeprecatedAt)) {
			wm.DeprecatedAt = mp.DeprecatedAt
		}
		if mp.DeactivatedAt != nil && (wm.DeactivatedAt == nil || mp.DeactivatedAt.Before(*wm.DeactivatedAt)) {
			wm.DeactivatedAt = mp.DeactivatedAt
		}
		if cheapest == nil || mp.InputPrice+mp.OutputPrice < cheapest.InputPrice+cheapest.OutputPrice {
			cp := mp
			cheapest = &cp
		}
	}
	if cheapest != nil {
		wm.Pricing = wirePricing{Prompt: cheapest.InputPrice, Completion: cheapest.OutputPrice}
	}
	return wm
}
