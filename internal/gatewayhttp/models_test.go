package gatewayhttp

import (
	"testing"
	"time"

	"github.com/relaywire/gatewd/catalog"
)

func TestModelToWire_PicksCheapestPricingAndAggregatesFlags(t *testing.T) {
	deprecatedA := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deprecatedB := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	m := catalog.Model{
		ID:     "gpt-4o",
		Family: "gpt",
		Output: []string{"text"},
		Providers: []catalog.Mapping{
			{ProviderID: "openai", ModelName: "gpt-4o", InputPrice: 5, OutputPrice: 15, JSONOutput: true, DeprecatedAt: &deprecatedB},
			{ProviderID: "azure", ModelName: "gpt-4o", InputPrice: 2, OutputPrice: 6, Tools: true, DeprecatedAt: &deprecatedA},
		},
	}

	wire := modelToWire(m)

	if wire.TopProvider != "openai" {
		t.Errorf("top provider = %q, want openai (first in list)", wire.TopProvider)
	}
	if wire.Pricing.Prompt != 2 || wire.Pricing.Completion != 6 {
		t.Errorf("pricing = %+v, want the cheapest mapping (azure)", wire.Pricing)
	}
	if !wire.JSONOutput {
		t.Error("JSONOutput = false, want true (OR across mappings)")
	}
	if !wire.StructuredOutputs {
		t.Error("StructuredOutputs = false, want true (OR across mappings)")
	}
	if wire.DeprecatedAt == nil || !wire.DeprecatedAt.Equal(deprecatedA) {
		t.Errorf("DeprecatedAt = %v, want the earliest mapping deprecation (%v)", wire.DeprecatedAt, deprecatedA)
	}
}

func TestModelToWire_NoProviders(t *testing.T) {
	wire := modelToWire(catalog.Model{ID: "ghost", Output: []string{"text"}})
	if wire.TopProvider != "" {
		t.Errorf("top provider = %q, want empty with no mappings", wire.TopProvider)
	}
	if wire.Pricing != (wirePricing{}) {
		t.Errorf("pricing = %+v, want zero value with no mappings", wire.Pricing)
	}
}
