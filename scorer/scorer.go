// Package scorer picks one upstream (provider, model) mapping from a set of
// candidates surviving availability/health/stability filtering, using either
// a price-only heuristic (no live metrics) or a weighted multi-factor score.
//
// Grounded on the weighted-candidate-selection shape of a load-balancing
// strategy and the ordered-candidate-retry shape of a fallback strategy,
// generalized from teacher's weighted-random choice to the deterministic
// min-max-normalized scoring spec.md requires.
package scorer

import (
	"math/rand"

	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/keyhealth"
)

const explorationProbability = 0.01

// CandidateMetrics carries the live signal for one (model, provider) pair.
// Zero-value fields mean "unknown" and fall back to the defaults below.
type CandidateMetrics struct {
	Uptime         *float64
	AverageLatency *float64
	Throughput     *float64
}

// Candidate is one routable mapping plus its owning provider (for priority).
type Candidate struct {
	Mapping  catalog.Mapping
	Provider catalog.Provider
}

// ScoredCandidate records the metrics computed for one candidate, used for
// RoutingMetadata regardless of whether it was chosen.
type ScoredCandidate struct {
	ProviderID string
	Score      float64
	Uptime     *float64
	Latency    *float64
	Throughput *float64
	Price      float64
	Priority   float64
}

// RoutingMetadata captures the full scoring decision for observability and
// for the Dispatcher's fallback-to-next-candidate logic.
type RoutingMetadata struct {
	AvailableProviders []string
	Candidates         []ScoredCandidate
	Chosen             string
	Reason             string

	// OriginalProvider/OriginalProviderUptime record the Dispatcher's
	// initial pick when it fell back to the next candidate because the
	// chosen provider's key uptime was below the configured threshold
	// (spec.md §4.8 step 4). NoFallback mirrors the caller's X-No-Fallback
	// header (spec.md §6).
	OriginalProvider       string   `json:"originalProvider,omitempty"`
	OriginalProviderUptime *float64 `json:"originalProviderUptime,omitempty"`
	NoFallback             bool     `json:"noFallback,omitempty"`
}

// Rand abstracts the exploration coin-flip so tests can disable it.
type Rand interface {
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// Pick selects one candidate. metrics may be nil or incomplete; streaming
// controls whether the latency factor participates in weighted scoring.
func Pick(candidates []Candidate, metrics map[string]CandidateMetrics, streaming bool, r Rand) (Candidate, RoutingMetadata) {
	if len(candidates) == 0 {
		return Candidate{}, RoutingMetadata{}
	}

	available := make([]string, len(candidates))
	for i, c := range candidates {
		available[i] = c.Provider.ID
	}

	if r == nil {
		r = defaultRand{}
	}
	if r.Float64() < explorationProbability {
		idx := int(r.Float64() * float64(len(candidates)))
		if idx >= len(candidates) {
			idx = len(candidates) - 1
		}
		chosen := candidates[idx]
		return chosen, RoutingMetadata{
			AvailableProviders: available,
			Chosen:             chosen.Provider.ID,
			Reason:             "random-exploration",
		}
	}

	if len(metrics) == 0 {
		return pickPriceOnly(candidates, available)
	}
	return pickWeighted(candidates, metrics, streaming, available)
}

func price(m catalog.Mapping) float64 {
	return (m.InputPrice + m.OutputPrice) / 2 * (1 - m.Discount)
}

func priority(p catalog.Provider) float64 {
	if p.Priority == 0 {
		return 1
	}
	return p.Priority
}

func pickPriceOnly(candidates []Candidate, available []string) (Candidate, RoutingMetadata) {
	best := candidates[0]
	bestEffective := price(best.Mapping) / priority(best.Provider)
	scored := make([]ScoredCandidate, len(candidates))

	for i, c := range candidates {
		p := price(c.Mapping)
		effective := p / priority(c.Provider)
		scored[i] = ScoredCandidate{ProviderID: c.Provider.ID, Score: effective, Price: p, Priority: priority(c.Provider)}
		if effective < bestEffective {
			bestEffective = effective
			best = c
		}
	}

	return best, RoutingMetadata{
		AvailableProviders: available,
		Candidates:         scored,
		Chosen:             best.Provider.ID,
		Reason:             "price-only-no-metrics",
	}
}

const (
	weightPrice      = 0.2
	weightUptime     = 0.5
	weightThroughput = 0.2
	weightLatency    = 0.1

	defaultUptime     = 100.0
	defaultLatency    = 1000.0
	defaultThroughput = 50.0
)

func normalize(values []float64, invert bool) []float64 {
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	span := max - min
	for i, v := range values {
		var n float64
		if span == 0 {
			n = 0
		} else {
			n = (v - min) / span
		}
		if invert {
			n = 1 - n
		}
		out[i] = n
	}
	return out
}

func pickWeighted(candidates []Candidate, metrics map[string]CandidateMetrics, streaming bool, available []string) (Candidate, RoutingMetadata) {
	n := len(candidates)
	prices := make([]float64, n)
	uptimes := make([]float64, n)
	throughputs := make([]float64, n)
	latencies := make([]float64, n)

	rawUptime := make([]*float64, n)
	rawLatency := make([]*float64, n)
	rawThroughput := make([]*float64, n)

	for i, c := range candidates {
		prices[i] = price(c.Mapping)
		m := metrics[metricsKey(c)]
		rawUptime[i], uptimes[i] = orDefault(m.Uptime, defaultUptime)
		rawLatency[i], latencies[i] = orDefault(m.AverageLatency, defaultLatency)
		rawThroughput[i], throughputs[i] = orDefault(m.Throughput, defaultThroughput)
	}

	priceNorm := normalize(prices, false)     // lower price = better = 0
	uptimeNorm := normalize(uptimes, true)    // higher uptime = better = invert
	throughputNorm := normalize(throughputs, true)
	var latencyNorm []float64
	if streaming {
		latencyNorm = normalize(latencies, false) // lower latency = better
	}

	wPrice, wUptime, wThroughput, wLatency := weightPrice, weightUptime, weightThroughput, weightLatency
	if !streaming {
		kept := wPrice + wUptime + wThroughput
		wPrice /= kept
		wUptime /= kept
		wThroughput /= kept
		wLatency = 0
	}

	scored := make([]ScoredCandidate, n)
	bestIdx := 0
	var bestScore float64
	for i, c := range candidates {
		score := wPrice*priceNorm[i] + wUptime*uptimeNorm[i] + wThroughput*throughputNorm[i]
		if streaming {
			score += wLatency * latencyNorm[i]
		}
		score += 1 - priority(c.Provider)
		score += keyhealth.PenaltyForUptime(uptimes[i])

		scored[i] = ScoredCandidate{
			ProviderID: c.Provider.ID,
			Score:      score,
			Uptime:     rawUptime[i],
			Latency:    rawLatency[i],
			Throughput: rawThroughput[i],
			Price:      prices[i],
			Priority:   priority(c.Provider),
		}
		if i == 0 || score < bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	return candidates[bestIdx], RoutingMetadata{
		AvailableProviders: available,
		Candidates:         scored,
		Chosen:             candidates[bestIdx].Provider.ID,
		Reason:             "weighted-score",
	}
}

func orDefault(v *float64, def float64) (*float64, float64) {
	if v == nil {
		return nil, def
	}
	return v, *v
}

func metricsKey(c Candidate) string {
	return c.Provider.ID + "/" + c.Mapping.ModelName
}
