// Package costing computes the cost of a single completion under tiered,
// discounted, decimal-precision pricing, per the Cost Engine design.
//
// Every computation runs in shopspring/decimal; callers convert to float64
// only when populating the log record's storage-convenience `cost` column.
package costing

import (
	"github.com/relaywire/gatewd/catalog"
	"github.com/shopspring/decimal"
)

// ImageSize selects the token-equivalent charged per output image.
type ImageSize string

const (
	ImageSizeStandard ImageSize = ""
	ImageSize4K       ImageSize = "4K"
)

const (
	tokensPerInputImage   = 560
	outputImageTokens4K   = 2000
	outputImageTokensBase = 1120
)

// Input carries everything the engine needs to cost one completion.
type Input struct {
	ModelKey         string // m.id or any mapping.modelName
	ProviderID       string
	PromptTokens     *int64
	CompletionTokens int64
	CachedTokens     int64
	ReasoningTokens  int64
	InputImageCount  int64
	OutputImageCount int64
	ImageSize        ImageSize
	WebSearchCount   int64
}

// Result is the full cost breakdown for one completion.
type Result struct {
	InputCost       decimal.Decimal
	OutputCost      decimal.Decimal
	CachedInputCost decimal.Decimal
	RequestCost     decimal.Decimal
	ImageInputCost  decimal.Decimal
	ImageOutputCost decimal.Decimal
	WebSearchCost   decimal.Decimal
	TotalCost       decimal.Decimal
	PricingTier     string
	Discount        decimal.Decimal
	EstimatedCost   bool
	Found           bool // false when the model/mapping could not be resolved
}

// Calculate implements spec.md §4.7 steps 4-6: tier selection, decimal
// pricing, and summation. Step 1 (model/mapping lookup) and step 2/3
// (token estimation / missing-prompt-tokens short-circuit) are the caller's
// responsibility (the Cost Engine proper, below), since they need the full
// catalog and an optional tokenizer.
func Calculate(mapping catalog.Mapping, in Input) Result {
	if in.PromptTokens == nil {
		return Result{Found: true}
	}
	promptTokens := *in.PromptTokens

	inputPrice, outputPrice, cachedInputPrice, tierName := selectTier(mapping, promptTokens)
	discount := decimal.NewFromFloat(mapping.Discount)
	one := decimal.NewFromInt(1)
	oneMinusDiscount := one.Sub(discount)

	if mapping.ImageInputPrice != nil && in.InputImageCount > 0 {
		promptTokens += in.InputImageCount * tokensPerInputImage
	}
	uncachedPrompt := promptTokens - in.CachedTokens
	if uncachedPrompt < 0 {
		uncachedPrompt = 0
	}
	inputCost := decimal.NewFromInt(uncachedPrompt).Mul(inputPrice).Mul(oneMinusDiscount)

	totalOutputTokens := in.CompletionTokens + in.ReasoningTokens

	var outputCost, imageOutputCost decimal.Decimal
	if mapping.ImageOutputPrice != nil && in.OutputImageCount > 0 {
		perImage := int64(outputImageTokensBase)
		if in.ImageSize == ImageSize4K {
			perImage = outputImageTokens4K
		}
		imageTokens := in.OutputImageCount * perImage
		textTokens := totalOutputTokens - imageTokens
		if textTokens < 0 {
			textTokens = 0
		}
		outputCost = decimal.NewFromInt(textTokens).Mul(outputPrice).Mul(oneMinusDiscount)
		imageOutputCost = decimal.NewFromFloat(*mapping.ImageOutputPrice).Mul(decimal.NewFromInt(in.OutputImageCount)).Mul(oneMinusDiscount)
	} else {
		outputCost = decimal.NewFromInt(totalOutputTokens).Mul(outputPrice).Mul(oneMinusDiscount)
	}

	var cachedInputCost decimal.Decimal
	if in.CachedTokens > 0 && cachedInputPrice != nil {
		cachedInputCost = decimal.NewFromInt(in.CachedTokens).Mul(*cachedInputPrice).Mul(oneMinusDiscount)
	}

	var requestCost decimal.Decimal
	if mapping.RequestPrice != nil {
		requestCost = decimal.NewFromFloat(*mapping.RequestPrice).Mul(oneMinusDiscount)
	}

	var webSearchCost decimal.Decimal
	if mapping.WebSearchPrice != nil && in.WebSearchCount > 0 {
		webSearchCost = decimal.NewFromFloat(*mapping.WebSearchPrice).Mul(decimal.NewFromInt(in.WebSearchCount)).Mul(oneMinusDiscount)
	}

	var imageInputCost decimal.Decimal
	// Image-input tokens were folded into the prompt-token count above and
	// are already billed through inputCost. imageInputCost is never computed
	// and stays zero: no per-image input pricing is applied.
	_ = imageInputCost

	total := inputCost.Add(outputCost).Add(cachedInputCost).Add(requestCost).Add(imageOutputCost).Add(webSearchCost)

	return Result{
		InputCost:       inputCost,
		OutputCost:      outputCost,
		CachedInputCost: cachedInputCost,
		RequestCost:     requestCost,
		ImageOutputCost: imageOutputCost,
		WebSearchCost:   webSearchCost,
		TotalCost:       total,
		PricingTier:     tierName,
		Discount:        discount,
		Found:           true,
	}
}

// selectTier picks the first tier whose upToTokens covers promptTokens.
// When no tier covers it (promptTokens exceeds every tier's cap), pricing
// falls back to the mapping's base prices rather than the last tier's —
// spec.md §8's worked example (250k tokens against a single 200k-capped
// tier) bills at the base rate, not the tier rate.
func selectTier(mapping catalog.Mapping, promptTokens int64) (inputPrice, outputPrice decimal.Decimal, cachedInputPrice *decimal.Decimal, name string) {
	for _, tier := range mapping.PricingTiers {
		if promptTokens <= tier.UpToTokens {
			ip := decimal.NewFromFloat(tier.InputPrice)
			op := decimal.NewFromFloat(tier.OutputPrice)
			var cip *decimal.Decimal
			if tier.CachedInputPrice != nil {
				v := decimal.NewFromFloat(*tier.CachedInputPrice)
				cip = &v
			}
			return ip, op, cip, tier.Name
		}
	}

	ip := decimal.NewFromFloat(mapping.InputPrice)
	op := decimal.NewFromFloat(mapping.OutputPrice)
	var cip *decimal.Decimal
	if mapping.CachedInputPrice != nil {
		v := decimal.NewFromFloat(*mapping.CachedInputPrice)
		cip = &v
	}
	return ip, op, cip, ""
}

// Engine wraps Calculate with the catalog-lookup and token-estimation steps
// from spec.md §4.7 steps 1-3.
type Engine struct {
	Catalog    *catalog.Catalog
	Estimator  TokenEstimator
}

// TokenEstimator estimates prompt/completion tokens from full output content
// when the upstream response omitted usage entirely.
type TokenEstimator interface {
	EstimateTokens(text string) int64
}

// Estimate looks up the model/mapping and computes its cost, falling back to
// an all-null result when the model or mapping cannot be resolved (step 1)
// or prompt tokens remain unknown even after estimation (step 3).
func (e *Engine) Estimate(in Input, fullOutputForEstimation string) Result {
	model, ok := e.Catalog.Get(in.ModelKey)
	if !ok {
		return Result{}
	}
	mapping, ok := model.MappingFor(in.ProviderID)
	if !ok {
		return Result{}
	}

	if in.PromptTokens == nil && fullOutputForEstimation != "" && e.Estimator != nil {
		estimated := e.Estimator.EstimateTokens(fullOutputForEstimation)
		in.PromptTokens = &estimated
		r := Calculate(mapping, in)
		r.EstimatedCost = true
		return r
	}

	return Calculate(mapping, in)
}
