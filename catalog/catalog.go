// Package catalog holds the read-only registry of providers, models, and
// (provider, model) mappings: pricing, capabilities, and stability.
//
// The catalog is immutable at runtime. It loads from an embedded JSON
// snapshot and optionally refreshes from a remote URL on startup, falling
// back silently to the embedded copy when the refresh fails or times out.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

//go:embed data/catalog.json
var embeddedCatalog []byte

// Stability describes how production-ready a mapping or model is.
type Stability string

const (
	StabilityStable       Stability = "stable"
	StabilityBeta         Stability = "beta"
	StabilityUnstable     Stability = "unstable"
	StabilityExperimental Stability = "experimental"
)

// Provider is an upstream LLM vendor known to the gateway.
type Provider struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Priority     float64 `json:"priority"`
	Streaming    bool    `json:"streaming"`
	Cancellation bool    `json:"cancellation"`
}

// PricingTier is a volume-based pricing band: prompt sizes up to UpToTokens
// use this tier's prices instead of the Mapping's base prices.
type PricingTier struct {
	Name            string   `json:"name"`
	UpToTokens      int64    `json:"upToTokens"`
	InputPrice      float64  `json:"inputPrice"`
	OutputPrice     float64  `json:"outputPrice"`
	CachedInputPrice *float64 `json:"cachedInputPrice,omitempty"`
}

// Mapping binds a Model to a specific Provider: the provider-specific wire
// name, pricing, and capability flags.
type Mapping struct {
	ProviderID       string        `json:"providerId"`
	ModelName        string        `json:"modelName"`
	InputPrice       float64       `json:"inputPrice"`
	OutputPrice      float64       `json:"outputPrice"`
	CachedInputPrice *float64      `json:"cachedInputPrice,omitempty"`
	ImageInputPrice  *float64      `json:"imageInputPrice,omitempty"`
	ImageOutputPrice *float64      `json:"imageOutputPrice,omitempty"`
	RequestPrice     *float64      `json:"requestPrice,omitempty"`
	WebSearchPrice   *float64      `json:"webSearchPrice,omitempty"`
	PricingTiers     []PricingTier `json:"pricingTiers,omitempty"`
	ContextSize      *int64        `json:"contextSize,omitempty"`
	MaxOutput        *int64        `json:"maxOutput,omitempty"`
	Streaming        bool          `json:"streaming"`
	Vision           bool          `json:"vision,omitempty"`
	Reasoning        bool          `json:"reasoning,omitempty"`
	Tools            bool          `json:"tools,omitempty"`
	JSONOutput       bool          `json:"jsonOutput"`
	WebSearch        bool          `json:"webSearch"`
	Discount         float64       `json:"discount,omitempty"`
	Stability        Stability     `json:"stability"`
	DeprecatedAt     *time.Time    `json:"deprecatedAt,omitempty"`
	DeactivatedAt    *time.Time    `json:"deactivatedAt,omitempty"`
}

// Available reports whether this mapping can still be routed to, per the
// invariant in the data model: available iff now < deactivatedAt or there is
// no deactivation date.
func (m Mapping) Available(now time.Time) bool {
	return m.DeactivatedAt == nil || now.Before(*m.DeactivatedAt)
}

// Mode classifies what a model is billed/parsed as.
type Mode string

const (
	ModeChat      Mode = "chat"
	ModeEmbedding Mode = "embedding"
	ModeImage     Mode = "image"
	ModeAudioIn   Mode = "audio_in"
	ModeAudioOut  Mode = "audio_out"
)

// Model is a logical model identity that may be served by several providers.
type Model struct {
	ID        string    `json:"id"`
	Family    string    `json:"family"`
	Free      bool      `json:"free"`
	Output    []string  `json:"output"` // "text" | "image"
	Mode      Mode      `json:"mode"`
	Stability Stability `json:"stability"`
	Providers []Mapping `json:"providers"`
}

// MappingFor returns the Mapping serving this model on the given provider,
// if any.
func (m Model) MappingFor(providerID string) (Mapping, bool) {
	for _, mp := range m.Providers {
		if mp.ProviderID == providerID {
			return mp, true
		}
	}
	return Mapping{}, false
}

// Deprecated reports whether every mapping for this model has a DeprecatedAt
// in the past — used by the /v1/models exclusion semantics, which operate at
// the model level. A mapping's deactivation is not considered here.
func (m Model) Deprecated(now time.Time) bool {
	if len(m.Providers) == 0 {
		return false
	}
	for _, mp := range m.Providers {
		if mp.DeprecatedAt == nil || now.Before(*mp.DeprecatedAt) {
			return false
		}
	}
	return true
}

// Deactivated reports whether every mapping for this model is deactivated.
func (m Model) Deactivated(now time.Time) bool {
	if len(m.Providers) == 0 {
		return false
	}
	for _, mp := range m.Providers {
		if mp.Available(now) {
			return false
		}
	}
	return true
}

// Catalog is the immutable, process-wide registry of providers and models.
type Catalog struct {
	Providers map[string]Provider `json:"providers"`
	Models    map[string]Model    `json:"models"`
}

// snapshot mirrors the JSON document shape (a slice form is friendlier to
// hand-edit than a map-of-maps).
type snapshot struct {
	Providers []Provider `json:"providers"`
	Models    []Model    `json:"models"`
}

func fromSnapshot(s snapshot) *Catalog {
	c := &Catalog{
		Providers: make(map[string]Provider, len(s.Providers)),
		Models:    make(map[string]Model, len(s.Models)),
	}
	for _, p := range s.Providers {
		if p.Priority == 0 {
			p.Priority = 1
		}
		c.Providers[p.ID] = p
	}
	for _, m := range s.Models {
		c.Models[m.ID] = m
	}
	return c
}

// LoadEmbedded parses the catalog baked into the binary via go:embed.
func LoadEmbedded() (*Catalog, error) {
	var s snapshot
	if err := json.Unmarshal(embeddedCatalog, &s); err != nil {
		return nil, fmt.Errorf("catalog: parse embedded snapshot: %w", err)
	}
	return fromSnapshot(s), nil
}

// Load returns the embedded catalog, optionally refreshed from remoteURL.
// Any failure to fetch, read, or parse the remote document is swallowed and
// the embedded catalog is returned instead — mirroring the load-then-fall-
// back idiom used throughout this codebase for non-critical startup data.
func Load(ctx context.Context, remoteURL string) (*Catalog, error) {
	embedded, err := LoadEmbedded()
	if err != nil {
		return nil, err
	}
	if remoteURL == "" {
		return embedded, nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return embedded, nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return embedded, nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return embedded, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return embedded, nil
	}
	var s snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return embedded, nil
	}
	return fromSnapshot(s), nil
}

// Get looks up a model by its canonical id, then (fallback) by scanning
// every mapping's provider-specific ModelName.
func (c *Catalog) Get(key string) (Model, bool) {
	if m, ok := c.Models[key]; ok {
		return m, true
	}
	for _, m := range c.Models {
		for _, mp := range m.Providers {
			if mp.ModelName == key {
				return m, true
			}
		}
	}
	return Model{}, false
}

// GetProvider looks up a provider by id.
func (c *Catalog) GetProvider(id string) (Provider, bool) {
	p, ok := c.Providers[id]
	return p, ok
}

// ModelsList returns every model, filtering out deprecated/deactivated ones
// per the flags (mirroring the GET /v1/models query params).
func (c *Catalog) ModelsList(now time.Time, includeDeactivated, excludeDeprecated bool) []Model {
	out := make([]Model, 0, len(c.Models))
	for _, m := range c.Models {
		if !includeDeactivated && m.Deactivated(now) {
			continue
		}
		if excludeDeprecated && m.Deprecated(now) {
			continue
		}
		out = append(out, m)
	}
	return out
}
