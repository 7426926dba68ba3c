package scorer

import (
	"testing"

	"github.com/relaywire/gatewd/catalog"
)

// noExploration always reports a value above the exploration threshold.
type noExploration struct{}

func (noExploration) Float64() float64 { return 0.5 }

func mkCandidate(providerID string, inputPrice, outputPrice float64) Candidate {
	return Candidate{
		Mapping:  catalog.Mapping{ProviderID: providerID, ModelName: "m", InputPrice: inputPrice, OutputPrice: outputPrice},
		Provider: catalog.Provider{ID: providerID, Priority: 1},
	}
}

func TestSingleCandidateAlwaysChosen(t *testing.T) {
	c := []Candidate{mkCandidate("openai", 1, 1)}
	chosen, meta := Pick(c, nil, false, noExploration{})
	if chosen.Provider.ID != "openai" {
		t.Fatalf("got %v", chosen.Provider.ID)
	}
	if meta.Chosen != "openai" {
		t.Fatalf("meta.Chosen = %v", meta.Chosen)
	}
}

func TestCheaperCandidateWinsOnPriceOnly(t *testing.T) {
	c := []Candidate{
		mkCandidate("expensive", 10, 10),
		mkCandidate("cheap", 1, 1),
	}
	chosen, meta := Pick(c, nil, false, noExploration{})
	if chosen.Provider.ID != "cheap" {
		t.Fatalf("got %v, want cheap", chosen.Provider.ID)
	}
	if meta.Reason != "price-only-no-metrics" {
		t.Fatalf("reason = %v", meta.Reason)
	}
}

func TestHighUptimeWinsDespiteHigherPrice(t *testing.T) {
	low, high := 50.0, 99.0
	candidates := []Candidate{
		mkCandidate("cheap-unreliable", 1, 1),
		mkCandidate("expensive-reliable", 10, 10),
	}
	metrics := map[string]CandidateMetrics{
		"cheap-unreliable/m":   {Uptime: &low},
		"expensive-reliable/m": {Uptime: &high},
	}
	chosen, meta := Pick(candidates, metrics, false, noExploration{})
	if chosen.Provider.ID != "expensive-reliable" {
		t.Fatalf("got %v, want expensive-reliable to win on uptime penalty", chosen.Provider.ID)
	}
	if meta.Reason != "weighted-score" {
		t.Fatalf("reason = %v", meta.Reason)
	}
}

func TestNoCandidatesReturnsEmpty(t *testing.T) {
	chosen, meta := Pick(nil, nil, false, noExploration{})
	if chosen.Provider.ID != "" {
		t.Fatalf("expected zero-value candidate, got %+v", chosen)
	}
	if meta.Chosen != "" {
		t.Fatalf("expected empty metadata, got %+v", meta)
	}
}

func TestLatencyOnlyCountsWhenStreaming(t *testing.T) {
	lowLatency, highLatency := 100.0, 5000.0
	candidates := []Candidate{
		mkCandidate("slow", 1, 1),
		mkCandidate("fast", 1, 1),
	}
	metrics := map[string]CandidateMetrics{
		"slow/m": {AverageLatency: &highLatency},
		"fast/m": {AverageLatency: &lowLatency},
	}
	// Non-streaming: identical price and uptime/throughput defaults, so
	// latency must not be allowed to break the tie — the first candidate by
	// stable iteration wins ties (no error from weight renormalization).
	chosen, meta := Pick(candidates, metrics, false, noExploration{})
	if meta.Reason != "weighted-score" {
		t.Fatalf("reason = %v", meta.Reason)
	}
	if chosen.Provider.ID != "slow" {
		t.Fatalf("non-streaming got %v, want slow (tie kept by first candidate)", chosen.Provider.ID)
	}
	// Streaming: latency is weighted in, so the low-latency candidate wins.
	chosen, _ = Pick(candidates, metrics, true, noExploration{})
	if chosen.Provider.ID != "fast" {
		t.Fatalf("streaming got %v, want fast", chosen.Provider.ID)
	}
}
