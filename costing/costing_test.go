package costing

import (
	"testing"

	"github.com/relaywire/gatewd/catalog"
	"github.com/shopspring/decimal"
)

func TestTieredDiscountedCost(t *testing.T) {
	mapping := catalog.Mapping{
		InputPrice:  2,
		OutputPrice: 6,
		PricingTiers: []catalog.PricingTier{
			{Name: "base", UpToTokens: 200000, InputPrice: 1.5, OutputPrice: 5},
		},
		Discount: 0.2,
	}
	promptTokens := int64(250000)
	in := Input{PromptTokens: &promptTokens, CompletionTokens: 1000}

	r := Calculate(mapping, in)

	wantInput := decimal.NewFromInt(250000).Mul(decimal.NewFromFloat(2)).Mul(decimal.NewFromFloat(0.8))
	wantOutput := decimal.NewFromInt(1000).Mul(decimal.NewFromFloat(6)).Mul(decimal.NewFromFloat(0.8))

	if !r.InputCost.Equal(wantInput) {
		t.Fatalf("inputCost = %v, want %v", r.InputCost, wantInput)
	}
	if !r.OutputCost.Equal(wantOutput) {
		t.Fatalf("outputCost = %v, want %v", r.OutputCost, wantOutput)
	}
}

func TestTotalCostIsSumOfComponents(t *testing.T) {
	mapping := catalog.Mapping{InputPrice: 1, OutputPrice: 2}
	rp := 0.01
	ws := 0.02
	mapping.RequestPrice = &rp
	mapping.WebSearchPrice = &ws
	promptTokens := int64(1000)
	in := Input{PromptTokens: &promptTokens, CompletionTokens: 500, WebSearchCount: 3}

	r := Calculate(mapping, in)
	sum := r.InputCost.Add(r.OutputCost).Add(r.CachedInputCost).Add(r.RequestCost).Add(r.WebSearchCost).Add(r.ImageOutputCost)
	if !sum.Equal(r.TotalCost) {
		t.Fatalf("total = %v, sum of components = %v", r.TotalCost, sum)
	}
}

func TestCachedInputCostZeroWhenNoCachedTokens(t *testing.T) {
	cip := 0.5
	mapping := catalog.Mapping{InputPrice: 1, OutputPrice: 2, CachedInputPrice: &cip}
	promptTokens := int64(1000)

	r := Calculate(mapping, Input{PromptTokens: &promptTokens, CachedTokens: 0})
	if !r.CachedInputCost.IsZero() {
		t.Fatalf("expected zero cachedInputCost, got %v", r.CachedInputCost)
	}
}

func TestDiscountScalesCostLinearly(t *testing.T) {
	mapping0 := catalog.Mapping{InputPrice: 3, OutputPrice: 9, Discount: 0}
	mapping30 := catalog.Mapping{InputPrice: 3, OutputPrice: 9, Discount: 0.3}
	promptTokens := int64(1000)
	in := Input{PromptTokens: &promptTokens, CompletionTokens: 100}

	r0 := Calculate(mapping0, in)
	r30 := Calculate(mapping30, in)

	want := r0.TotalCost.Mul(decimal.NewFromFloat(0.7))
	if !r30.TotalCost.Equal(want) {
		t.Fatalf("discounted total = %v, want %v (70%% of %v)", r30.TotalCost, want, r0.TotalCost)
	}
}

func TestMissingPromptTokensYieldsNullCosts(t *testing.T) {
	mapping := catalog.Mapping{InputPrice: 1, OutputPrice: 2}
	r := Calculate(mapping, Input{})
	if !r.TotalCost.IsZero() {
		t.Fatalf("expected zero/null total cost, got %v", r.TotalCost)
	}
}

type stubEstimator struct{ tokens int64 }

func (s stubEstimator) EstimateTokens(string) int64 { return s.tokens }

func TestEngineEstimatesWhenTokensMissing(t *testing.T) {
	c, err := catalog.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	e := &Engine{Catalog: c, Estimator: stubEstimator{tokens: 42}}
	r := e.Estimate(Input{ModelKey: "gpt-4o", ProviderID: "openai"}, "some full completion text")
	if !r.EstimatedCost {
		t.Fatal("expected EstimatedCost=true when tokens were estimated")
	}
	if r.TotalCost.IsZero() {
		t.Fatal("expected a non-zero cost once tokens are estimated")
	}
}

func TestEngineUnknownModelYieldsNotFound(t *testing.T) {
	c, err := catalog.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	e := &Engine{Catalog: c}
	r := e.Estimate(Input{ModelKey: "no-such-model", ProviderID: "openai"}, "")
	if r.Found {
		t.Fatal("expected Found=false for an unresolvable model")
	}
}
