// Package resolver parses the caller's free-form model identifier into a
// concrete (requested model, requested provider, custom provider name)
// triple, against the read-only catalog.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relaywire/gatewd/catalog"
)

// GatewaySentinel is the pseudo-provider used for "auto" and "custom" model
// inputs, where the Scorer (not the resolver) picks the concrete provider.
const GatewaySentinel = "llmgateway"

// CustomProviderSentinel is the pseudo-provider used when the caller's
// "head/tail" prefix names a provider the catalog doesn't recognize
// (spec.md §4.1 step 2): provider becomes this sentinel, and
// CustomProviderName carries the caller's literal head string.
const CustomProviderSentinel = "custom"

// Result is the outcome of resolving a caller-supplied model string.
type Result struct {
	RequestedModel      string
	RequestedProvider   string // empty when unresolved (Scorer decides)
	CustomProviderName  string // set only when the provider prefix is unknown to the catalog
}

// Error is returned for any malformed or unresolvable model input. It is
// always a client-facing BadRequest per the gateway's error taxonomy.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Resolve implements the precedence rules: exact "auto"/"custom" sentinels,
// then an explicit "provider/model" prefix, then a bare canonical model id,
// then a bare provider-specific name (which is rejected with guidance to use
// the prefixed form).
func Resolve(c *catalog.Catalog, modelInput string) (Result, error) {
	if modelInput == "" {
		return Result{}, badRequest("model is required")
	}

	if modelInput == "auto" || modelInput == "custom" {
		return Result{RequestedProvider: GatewaySentinel, RequestedModel: modelInput}, nil
	}

	if idx := strings.Index(modelInput, "/"); idx >= 0 {
		head, tail := modelInput[:idx], modelInput[idx+1:]
		if tail == "" {
			return Result{}, badRequest("model %q is missing a model name after the provider prefix", modelInput)
		}

		if _, ok := c.GetProvider(head); !ok {
			// Unknown prefix: per spec.md §4.1 step 2, the provider becomes
			// the custom sentinel with customProviderName = head; the tail
			// model string forwards verbatim with no validation.
			return Result{RequestedProvider: CustomProviderSentinel, CustomProviderName: head, RequestedModel: tail}, nil
		}

		provider := head
		if m, ok := c.Models[tail]; ok {
			if _, ok := m.MappingFor(provider); !ok {
				return Result{}, badRequest("provider %q does not support model %q", provider, tail)
			}
			return Result{RequestedProvider: provider, RequestedModel: tail}, nil
		}
		// (b) some mapping.modelName == tail && mapping.providerId == provider
		for _, m := range c.Models {
			if mp, ok := m.MappingFor(provider); ok && mp.ModelName == tail {
				return Result{RequestedProvider: provider, RequestedModel: mp.ModelName}, nil
			}
		}
		return Result{}, badRequest("unsupported model %q for provider %q", tail, provider)
	}

	if _, ok := c.Models[modelInput]; ok {
		return Result{RequestedModel: modelInput}, nil
	}

	// Bare provider-specific name without a prefix: reject with guidance,
	// naming whichever provider actually maps it (first match wins — the
	// catalog is expected to keep provider-specific names unique).
	for _, m := range c.Models {
		for _, mp := range m.Providers {
			if mp.ModelName == modelInput {
				return Result{}, badRequest(
					"model %q must be requested with a provider prefix. Use the format: %s/%s",
					modelInput, mp.ProviderID, modelInput,
				)
			}
		}
	}

	return Result{}, badRequest("unsupported model %q", modelInput)
}

// IsBadRequest reports whether err originated from Resolve.
func IsBadRequest(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
