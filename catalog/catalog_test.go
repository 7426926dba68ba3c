package catalog

import (
	"testing"
	"time"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}
	if len(c.Models) == 0 {
		t.Fatal("expected at least one model in the embedded catalog")
	}
	if _, ok := c.GetProvider("anthropic"); !ok {
		t.Fatal("expected anthropic provider to be present")
	}
}

func TestGetByCanonicalID(t *testing.T) {
	c, err := LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := c.Get("gpt-4o")
	if !ok {
		t.Fatal("expected gpt-4o to resolve")
	}
	if m.ID != "gpt-4o" {
		t.Fatalf("got model id %q", m.ID)
	}
}

func TestGetByProviderSpecificModelName(t *testing.T) {
	c, err := LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := c.Get("Meta-Llama-3.1-8B-Instruct-Turbo")
	if !ok {
		t.Fatal("expected provider-specific model name to resolve")
	}
	if m.ID != "llama-3.3-70b-versatile" {
		t.Fatalf("got model id %q", m.ID)
	}
}

func TestMappingAvailable(t *testing.T) {
	now := time.Now()
	m := Mapping{}
	if !m.Available(now) {
		t.Fatal("mapping with no DeactivatedAt should be available")
	}
	past := now.Add(-time.Hour)
	m.DeactivatedAt = &past
	if m.Available(now) {
		t.Fatal("mapping deactivated in the past should not be available")
	}
	future := now.Add(time.Hour)
	m.DeactivatedAt = &future
	if !m.Available(now) {
		t.Fatal("mapping deactivated in the future should still be available")
	}
}

func TestModelDeprecatedRequiresAllMappings(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	m := Model{Providers: []Mapping{
		{ProviderID: "a", DeprecatedAt: &past},
		{ProviderID: "b"},
	}}
	if m.Deprecated(now) {
		t.Fatal("model should not be deprecated while one mapping is not")
	}
	m.Providers[1].DeprecatedAt = &past
	if !m.Deprecated(now) {
		t.Fatal("model should be deprecated once all mappings are")
	}
}

func TestModelsListFiltersDeactivated(t *testing.T) {
	c, err := LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	all := c.ModelsList(now, true, false)
	filtered := c.ModelsList(now, false, false)
	if len(filtered) > len(all) {
		t.Fatal("filtered list should never be larger than the unfiltered list")
	}
}
