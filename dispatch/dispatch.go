package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/config"
	"github.com/relaywire/gatewd/costing"
	"github.com/relaywire/gatewd/internal/metrics"
	"github.com/relaywire/gatewd/keyhealth"
	"github.com/relaywire/gatewd/logqueue"
	"github.com/relaywire/gatewd/providers"
	"github.com/relaywire/gatewd/resolver"
	"github.com/relaywire/gatewd/scorer"
	"github.com/relaywire/gatewd/store"
	"github.com/relaywire/gatewd/thoughtcache"
	"github.com/google/uuid"
)

const geminiProviderID = "gemini"

func newID() string { return uuid.NewString() }

// defaultUptimeFallbackThreshold is the uptime percentage below which the
// Dispatcher prefers the next candidate over the Scorer's literal pick, per
// spec.md §4.8 step 4.
const defaultUptimeFallbackThreshold = 80.0

const maxCandidateAttempts = 4

// HTTPDoer is the subset of *http.Client the Dispatcher needs; tests supply
// a stub.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IAMPolicy is an optional allow/deny filter applied to the candidate set
// before scoring (spec.md §4.8 step 3). A nil policy permits everything.
type IAMPolicy struct {
	AllowModels    []string
	DenyModels     []string
	AllowProviders []string
	DenyProviders  []string
}

func (p *IAMPolicy) permits(modelID, providerID string) bool {
	if p == nil {
		return true
	}
	if contains(p.DenyModels, modelID) || contains(p.DenyProviders, providerID) {
		return false
	}
	if len(p.AllowModels) > 0 && !contains(p.AllowModels, modelID) {
		return false
	}
	if len(p.AllowProviders) > 0 && !contains(p.AllowProviders, providerID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Input is everything the Dispatcher needs to route and forward one request.
type Input struct {
	RequestID      string
	OrganizationID string
	ProjectID      string
	APIKeyID       string // the caller's gateway API key row id, for logging/billing
	Mode           string // api-keys | credits | hybrid
	Source         string
	NoFallback     bool
	IAM            *IAMPolicy

	// BYOKKey, when Mode is api-keys, is the caller's own upstream provider
	// key (from X-LLMGateway-Key), used directly with no health-pool
	// selection. CustomBaseURL is the endpoint for an unrecognized provider
	// prefix (resolver.Result.CustomProviderName), forwarded via the
	// generic "custom" adapter.
	BYOKKey       string
	CustomBaseURL string

	Request providers.Request // Request.Model carries the caller's raw model string
}

// Outcome is the result of one Dispatch call. Exactly one of Response or
// Stream is set.
type Outcome struct {
	Response        *providers.CanonicalResponse
	Stream          <-chan providers.CanonicalChunk
	ChosenProvider  string
	RoutingMetadata scorer.RoutingMetadata
}

// Dispatcher implements spec.md §4.8's nine-step request lifecycle.
type Dispatcher struct {
	Catalog   *catalog.Catalog
	Config    config.Config
	KeyHealth *keyhealth.Tracker
	Providers *providers.Registry
	Queue     *logqueue.Queue
	HTTPClient HTTPDoer

	// ThoughtCache holds Google's opaque multi-turn replay tokens (spec.md
	// §9). Nil disables the lookup/store entirely, which is safe: every
	// non-Gemini adapter ignores Request.ToolSignatures anyway.
	ThoughtCache *thoughtcache.Cache

	Rand                    scorer.Rand
	Now                     func() time.Time
	UptimeFallbackThreshold float64
}

// New builds a Dispatcher with spec.md defaults.
func New(cat *catalog.Catalog, cfg config.Config, kh *keyhealth.Tracker, reg *providers.Registry, q *logqueue.Queue) *Dispatcher {
	return &Dispatcher{
		Catalog:                 cat,
		Config:                  cfg,
		KeyHealth:               kh,
		Providers:               reg,
		Queue:                   q,
		HTTPClient:              &http.Client{Timeout: 300 * time.Second},
		Now:                     time.Now,
		UptimeFallbackThreshold: defaultUptimeFallbackThreshold,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch runs the full request lifecycle: resolve, filter, score, select a
// key, forward, and (for non-streaming calls) normalize, cost, and log.
// Streaming calls return immediately with a channel; costing and logging for
// those happen in a background goroutine once the stream completes (see
// runStream).
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (*Outcome, error) {
	started := d.now()

	res, err := resolver.Resolve(d.Catalog, in.Request.Model)
	if err != nil {
		d.logError(ctx, in, "", "", started, newError(KindBadRequest, 0, err.Error(), err))
		return nil, newError(KindBadRequest, 0, err.Error(), err)
	}

	candidates, err := candidatesFromResolved(d.Catalog, res, in.IAM, started)
	if err != nil {
		d.logError(ctx, in, res.RequestedModel, "", started, err)
		return nil, err
	}

	metrics := d.metricsFor(candidates)
	remaining := append([]scorer.Candidate(nil), candidates...)
	var lastErr error
	var originalProvider string
	var originalUptime *float64

	for attempt := 0; attempt < maxCandidateAttempts && len(remaining) > 0; attempt++ {
		chosen, meta := scorer.Pick(remaining, metrics, in.Request.Stream, d.Rand)
		remaining = removeCandidate(remaining, chosen)

		if attempt == 0 && !in.NoFallback && len(remaining) > 0 {
			if u, ok := uptimeOf(metrics, chosen); ok && u < d.UptimeFallbackThreshold {
				originalProvider = chosen.Provider.ID
				originalUptime = &u
				continue
			}
		}
		if originalProvider != "" {
			meta.Reason = "fallback-low-uptime"
		}

		outcome, err := d.attempt(ctx, in, chosen, meta, originalProvider, originalUptime, started)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		if de, ok := AsDispatchError(err); ok && de.Kind == KindCanceled {
			return nil, err
		}
		if de, ok := AsDispatchError(err); !ok || !de.Kind.Retryable() || in.NoFallback || len(remaining) == 0 {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = newError(KindBadRequest, 0, "no available provider for requested model", nil)
	}
	return nil, lastErr
}

func uptimeOf(metrics map[string]scorer.CandidateMetrics, c scorer.Candidate) (float64, bool) {
	m, ok := metrics[c.Provider.ID+"/"+c.Mapping.ModelName]
	if !ok || m.Uptime == nil {
		return 0, false
	}
	return *m.Uptime, true
}

func removeCandidate(list []scorer.Candidate, target scorer.Candidate) []scorer.Candidate {
	out := make([]scorer.Candidate, 0, len(list))
	removed := false
	for _, c := range list {
		if !removed && c.Provider.ID == target.Provider.ID && c.Mapping.ModelName == target.Mapping.ModelName {
			removed = true
			continue
		}
		out = append(out, c)
	}
	return out
}

// attempt builds and forwards the upstream request for one chosen candidate.
func (d *Dispatcher) attempt(ctx context.Context, in Input, chosen scorer.Candidate, meta scorer.RoutingMetadata, originalProvider string, originalUptime *float64, started time.Time) (*Outcome, error) {
	if originalProvider != "" {
		meta.OriginalProvider = originalProvider
		meta.OriginalProviderUptime = originalUptime
	}
	meta.NoFallback = in.NoFallback

	apiKey, envVar, keyIdx, err := d.selectKey(in, chosen.Provider.ID)
	if err != nil {
		return nil, err
	}

	adapter, err := d.buildAdapter(chosen.Provider.ID, apiKey, in)
	if err != nil {
		return nil, newError(KindGatewayInternal, 0, "build upstream adapter", err)
	}

	req := in.Request
	req.Model = chosen.Mapping.ModelName
	d.loadToolSignatures(ctx, chosen.Provider.ID, &req)

	if req.Stream && chosen.Mapping.Streaming {
		streamAdapter, ok := adapter.(providers.StreamingAdapter)
		if ok {
			return d.runStream(ctx, in, chosen, meta, streamAdapter, req, envVar, keyIdx, started)
		}
	}
	return d.runOnce(ctx, in, chosen, meta, adapter, req, envVar, keyIdx, started)
}

// loadToolSignatures populates req.ToolSignatures from the thought-signature
// cache for every prior tool-call id referenced in the conversation, per
// spec.md §9. Only Gemini requests pay the lookup cost; every other provider
// ignores the field.
func (d *Dispatcher) loadToolSignatures(ctx context.Context, providerID string, req *providers.Request) {
	if providerID != geminiProviderID || d.ThoughtCache == nil {
		return
	}
	var signatures map[string]string
	for _, msg := range req.Messages {
		if msg.ToolCallID == "" {
			continue
		}
		if sig, ok := d.ThoughtCache.Get(ctx, msg.ToolCallID); ok {
			if signatures == nil {
				signatures = make(map[string]string)
			}
			signatures[msg.ToolCallID] = sig
		}
	}
	req.ToolSignatures = signatures
}

// storeToolSignatures caches any thought signature surfaced on a tool call
// in the response, keyed by that call's id, so it can be replayed on the
// conversation's next turn.
func (d *Dispatcher) storeToolSignatures(ctx context.Context, providerID string, toolCalls []providers.ToolCall) {
	if providerID != geminiProviderID || d.ThoughtCache == nil {
		return
	}
	for _, tc := range toolCalls {
		if tc.ThoughtSignature != "" {
			d.ThoughtCache.Put(ctx, tc.ID, tc.ThoughtSignature)
		}
	}
}

func (d *Dispatcher) buildAdapter(providerID, apiKey string, in Input) (providers.Adapter, error) {
	adapter, err := d.Providers.Build(providerID, providers.Credentials{APIKey: apiKey})
	if err == nil {
		return adapter, nil
	}
	if in.CustomBaseURL != "" {
		return d.Providers.Build("custom", providers.Credentials{APIKey: apiKey, BaseURL: in.CustomBaseURL})
	}
	return nil, err
}

func (d *Dispatcher) selectKey(in Input, providerID string) (apiKey, envVar string, idx int, err error) {
	if in.Mode == "api-keys" && in.BYOKKey != "" {
		return in.BYOKKey, "", -1, nil
	}

	envVar = d.Config.EnvVarForProvider(providerID)
	keys := d.Config.KeysForProvider(providerID)
	if len(keys) == 0 {
		return "", envVar, 0, newError(KindGatewayInternal, 0, fmt.Sprintf("no API key configured for provider %q", providerID), nil)
	}
	for i, k := range keys {
		if d.KeyHealth.IsHealthy(envVar, i) {
			return k, envVar, i, nil
		}
	}
	bestIdx, bestUptime := 0, -1.0
	for i := range keys {
		if u := d.KeyHealth.Metrics(envVar, i).Uptime; u > bestUptime {
			bestUptime, bestIdx = u, i
		}
	}
	return keys[bestIdx], envVar, bestIdx, nil
}

func (d *Dispatcher) metricsFor(candidates []scorer.Candidate) map[string]scorer.CandidateMetrics {
	out := make(map[string]scorer.CandidateMetrics, len(candidates))
	seen := make(map[string]bool)
	for _, c := range candidates {
		key := c.Provider.ID + "/" + c.Mapping.ModelName
		if seen[key] {
			continue
		}
		seen[key] = true

		envVar := d.Config.EnvVarForProvider(c.Provider.ID)
		keys := d.Config.KeysForProvider(c.Provider.ID)
		if len(keys) == 0 {
			continue
		}
		var sum float64
		for i := range keys {
			sum += d.KeyHealth.Metrics(envVar, i).Uptime
		}
		avg := sum / float64(len(keys))
		out[key] = scorer.CandidateMetrics{Uptime: &avg}
	}
	return out
}

// runOnce handles the non-streaming path: forward, collect, parse, cost,
// report, log.
func (d *Dispatcher) runOnce(ctx context.Context, in Input, chosen scorer.Candidate, meta scorer.RoutingMetadata, adapter providers.Adapter, req providers.Request, envVar string, keyIdx int, started time.Time) (*Outcome, error) {
	method, url, headers, body, err := adapter.BuildRequest(req)
	if err != nil {
		return nil, newError(KindBadRequest, 0, "build upstream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, newReader(body))
	if err != nil {
		return nil, newError(KindGatewayInternal, 0, "construct upstream request", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			d.emitLog(ctx, in, chosen, meta, nil, time.Duration(0), false, "", true, started)
			return nil, newError(KindCanceled, 0, "client disconnected", ctx.Err())
		}
		d.reportError(envVar, keyIdx, 0, err.Error())
		derr := newError(KindUpstream5xx, 0, "upstream transport error", err)
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), false, err.Error(), false, started)
		return nil, derr
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		d.reportError(envVar, keyIdx, resp.StatusCode, err.Error())
		derr := newError(kindForStatus(resp.StatusCode), resp.StatusCode, "read upstream response", err)
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), false, err.Error(), false, started)
		return nil, derr
	}

	if resp.StatusCode >= 400 {
		d.reportError(envVar, keyIdx, resp.StatusCode, string(respBody))
		derr := newError(kindForStatus(resp.StatusCode), resp.StatusCode, "upstream error response", fmt.Errorf("%s", string(respBody)))
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), false, string(respBody), false, started)
		return nil, derr
	}

	canonical, err := adapter.ParseResponse(respBody)
	if err != nil {
		d.reportError(envVar, keyIdx, resp.StatusCode, err.Error())
		derr := newError(KindGatewayInternal, 0, "parse upstream response", err)
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), false, err.Error(), false, started)
		return nil, derr
	}

	d.reportSuccess(envVar, keyIdx)
	d.storeToolSignatures(ctx, chosen.Provider.ID, canonical.ToolCalls)
	d.emitLog(ctx, in, chosen, meta, &canonical, d.now().Sub(started), false, "", false, started)

	return &Outcome{Response: &canonical, ChosenProvider: chosen.Provider.ID, RoutingMetadata: meta}, nil
}

func newReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return &byteReader{b: body}
}

// byteReader is a minimal io.Reader over a byte slice, avoiding an extra
// bytes.Reader import-cycle concern for the zero-body case above.
type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindUpstream4xx
	case status >= 400 && status < 500:
		return KindUpstream4xx
	case status >= 500:
		return KindUpstream5xx
	default:
		return KindGatewayInternal
	}
}

func (d *Dispatcher) reportSuccess(envVar string, keyIdx int) {
	if keyIdx < 0 {
		return
	}
	d.KeyHealth.ReportSuccess(envVar, keyIdx)
	metrics.KeyHealthUptime.WithLabelValues(envVar, fmt.Sprint(keyIdx)).Set(d.KeyHealth.Metrics(envVar, keyIdx).Uptime)
}

func (d *Dispatcher) reportError(envVar string, keyIdx, status int, text string) {
	metrics.ProviderErrors.WithLabelValues(envVar, errorTypeForStatus(status)).Inc()
	if keyIdx < 0 {
		return
	}
	d.KeyHealth.ReportError(envVar, keyIdx, status, text)
	metrics.KeyHealthUptime.WithLabelValues(envVar, fmt.Sprint(keyIdx)).Set(d.KeyHealth.Metrics(envVar, keyIdx).Uptime)
}

func errorTypeForStatus(status int) string {
	switch {
	case status == 0:
		return "transport_error"
	case status >= 500:
		return "upstream_5xx"
	case status >= 400:
		return "upstream_4xx"
	default:
		return "provider_error"
	}
}

// runStream handles the streaming path: forward, open the upstream stream,
// and relay chunks to the caller while accumulating usage for the
// finalization step that runs once the stream ends.
func (d *Dispatcher) runStream(ctx context.Context, in Input, chosen scorer.Candidate, meta scorer.RoutingMetadata, adapter providers.StreamingAdapter, req providers.Request, envVar string, keyIdx int, started time.Time) (*Outcome, error) {
	method, url, headers, body, err := adapter.BuildRequest(req)
	if err != nil {
		return nil, newError(KindBadRequest, 0, "build upstream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, newReader(body))
	if err != nil {
		return nil, newError(KindGatewayInternal, 0, "construct upstream request", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		d.reportError(envVar, keyIdx, 0, err.Error())
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), false, err.Error(), false, started)
		return nil, newError(KindUpstream5xx, 0, "upstream transport error", err)
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		respBody, _ := io.ReadAll(resp.Body)
		d.reportError(envVar, keyIdx, resp.StatusCode, string(respBody))
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), false, string(respBody), false, started)
		return nil, newError(kindForStatus(resp.StatusCode), resp.StatusCode, "upstream error response", fmt.Errorf("%s", string(respBody)))
	}

	inner, err := adapter.ParseStream(ctx, resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		d.reportError(envVar, keyIdx, resp.StatusCode, err.Error())
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), false, err.Error(), false, started)
		return nil, newError(KindGatewayInternal, 0, "open upstream stream", err)
	}

	out := make(chan providers.CanonicalChunk)
	go d.pumpStream(ctx, in, chosen, meta, resp.Body, inner, out, envVar, keyIdx, started)

	return &Outcome{Stream: out, ChosenProvider: chosen.Provider.ID, RoutingMetadata: meta}, nil
}

func (d *Dispatcher) pumpStream(ctx context.Context, in Input, chosen scorer.Candidate, meta scorer.RoutingMetadata, respBody io.Closer, inner <-chan providers.CanonicalChunk, out chan<- providers.CanonicalChunk, envVar string, keyIdx int, started time.Time) {
	defer close(out)
	defer func() { _ = respBody.Close() }()

	var usage *providers.CanonicalUsage
	var hasError bool
	var errText string
	canceled := false

loop:
	for {
		select {
		case <-ctx.Done():
			canceled = true
			break loop
		case chunk, ok := <-inner:
			if !ok {
				break loop
			}
			if chunk.Error != nil {
				hasError = true
				errText = chunk.Error.Error()
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			for _, choice := range chunk.Choices {
				d.storeToolSignatures(ctx, chosen.Provider.ID, choice.Delta.ToolCalls)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				canceled = true
				break loop
			}
		}
	}

	if canceled {
		d.emitLog(ctx, in, chosen, meta, nil, d.now().Sub(started), true, "", true, started)
		return
	}
	if hasError {
		d.reportError(envVar, keyIdx, 0, errText)
	} else {
		d.reportSuccess(envVar, keyIdx)
	}

	var canonical *providers.CanonicalResponse
	if usage != nil {
		canonical = &providers.CanonicalResponse{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			ReasoningTokens:  usage.ReasoningTokens,
			CachedTokens:     usage.CachedTokens,
		}
	}
	d.emitLog(ctx, in, chosen, meta, canonical, d.now().Sub(started), true, errText, false, started)
}

// emitLog builds the log record for one request attempt and pushes it to the
// log queue, non-blocking with respect to the originating request per
// spec.md §4.8 step 9. A background context is used for the push so that a
// canceled request context doesn't also cancel the enqueue.
func (d *Dispatcher) emitLog(ctx context.Context, in Input, chosen scorer.Candidate, meta scorer.RoutingMetadata, resp *providers.CanonicalResponse, duration time.Duration, streamed bool, errText string, canceled bool, started time.Time) {
	metaJSON, _ := json.Marshal(meta)

	status := "error"
	if resp != nil && errText == "" && !canceled {
		status = "success"
	}
	metrics.RequestsTotal.WithLabelValues(chosen.Provider.ID, chosen.Mapping.ModelName, status).Inc()
	metrics.RequestDuration.WithLabelValues(chosen.Provider.ID, chosen.Mapping.ModelName).Observe(duration.Seconds())
	if resp != nil {
		metrics.TokensInput.WithLabelValues(chosen.Provider.ID, chosen.Mapping.ModelName).Add(float64(resp.PromptTokens))
		metrics.TokensOutput.WithLabelValues(chosen.Provider.ID, chosen.Mapping.ModelName).Add(float64(resp.CompletionTokens))
	}

	l := store.Log{
		ID:                 newID(),
		RequestID:          in.RequestID,
		OrganizationID:     in.OrganizationID,
		ProjectID:          in.ProjectID,
		APIKeyID:           in.APIKeyID,
		CreatedAt:          started,
		Duration:           duration,
		RequestedModel:     in.Request.Model,
		UsedModel:          chosen.Mapping.ModelName,
		UsedProvider:       chosen.Provider.ID,
		Streamed:           streamed,
		Canceled:           canceled,
		Mode:               in.Mode,
		UsedMode:           in.Mode,
		Source:             in.Source,
		RoutingMetadata:    string(metaJSON),
	}

	if errText != "" || canceled {
		l.HasError = errText != ""
		l.ErrorDetails = errText
		switch {
		case canceled:
			l.UnifiedFinishReason = KindCanceled.UnifiedFinishReason()
		default:
			l.UnifiedFinishReason = KindUpstream5xx.UnifiedFinishReason()
		}
	}

	if resp != nil {
		l.Content = resp.Content
		l.ReasoningContent = resp.ReasoningContent
		l.FinishReason = resp.FinishReason
		l.PromptTokens = resp.PromptTokens
		l.CompletionTokens = resp.CompletionTokens
		l.TotalTokens = resp.TotalTokens
		l.ReasoningTokens = resp.ReasoningTokens
		l.CachedTokens = resp.CachedTokens
		if l.UnifiedFinishReason == "" {
			l.UnifiedFinishReason = "stop"
		}

		var promptTokens *int64
		if resp.PromptTokens > 0 || resp.TotalTokens > 0 {
			pt := resp.PromptTokens
			promptTokens = &pt
		}
		result := costing.Calculate(chosen.Mapping, costing.Input{
			ModelKey:         chosen.Mapping.ModelName,
			ProviderID:       chosen.Provider.ID,
			PromptTokens:     promptTokens,
			CompletionTokens: resp.CompletionTokens,
			CachedTokens:     resp.CachedTokens,
			ReasoningTokens:  resp.ReasoningTokens,
		})
		l.Cost = result.TotalCost
		l.InputCost = result.InputCost
		l.OutputCost = result.OutputCost
		l.CachedInputCost = result.CachedInputCost
		l.RequestCost = result.RequestCost
		l.ImageOutputCost = result.ImageOutputCost
		l.WebSearchCost = result.WebSearchCost
		l.EstimatedCost = result.EstimatedCost
		l.PricingTier = result.PricingTier
		if !result.Discount.IsZero() {
			disc := result.Discount
			l.Discount = &disc
		}
	}

	if d.Queue == nil {
		return
	}
	if err := d.Queue.Push(context.Background(), l); err != nil {
		// Per spec.md §4.8 step 9 and §7, a log-enqueue failure must never
		// fail the originating (already-returned) request. The error is
		// dropped here, and Queue.Push does not log it either.
		_ = err
	}
}

func (d *Dispatcher) logError(ctx context.Context, in Input, requestedModel, providerID string, started time.Time, derr *Error) {
	if d.Queue == nil {
		return
	}
	metaJSON, _ := json.Marshal(scorer.RoutingMetadata{})
	l := store.Log{
		ID:                  newID(),
		RequestID:           in.RequestID,
		OrganizationID:      in.OrganizationID,
		ProjectID:           in.ProjectID,
		APIKeyID:            in.APIKeyID,
		CreatedAt:           started,
		Duration:            d.now().Sub(started),
		RequestedModel:      requestedModel,
		UsedProvider:        providerID,
		Mode:                in.Mode,
		UsedMode:            in.Mode,
		Source:              in.Source,
		HasError:            true,
		ErrorDetails:        derr.Message,
		UnifiedFinishReason: derr.Kind.UnifiedFinishReason(),
		RoutingMetadata:     string(metaJSON),
	}
	_ = d.Queue.Push(context.Background(), l)
}

func candidatesFromResolved(cat *catalog.Catalog, res resolver.Result, iam *IAMPolicy, now time.Time) ([]scorer.Candidate, error) {
	var raw []scorer.Candidate

	switch {
	case res.CustomProviderName != "":
		raw = []scorer.Candidate{{
			Mapping: catalog.Mapping{
				ProviderID: res.CustomProviderName,
				ModelName:  res.RequestedModel,
				Streaming:  true,
				Stability:  catalog.StabilityStable,
			},
			Provider: catalog.Provider{ID: res.CustomProviderName, Name: res.CustomProviderName, Priority: 1, Streaming: true},
		}}

	case res.RequestedProvider == resolver.GatewaySentinel:
		for _, m := range cat.Models {
			for _, mp := range m.Providers {
				raw = append(raw, scorer.Candidate{Mapping: mp, Provider: cat.Providers[mp.ProviderID]})
			}
		}

	case res.RequestedProvider != "":
		model, ok := cat.Get(res.RequestedModel)
		if !ok {
			return nil, newError(KindBadRequest, 0, fmt.Sprintf("unknown model %q", res.RequestedModel), nil)
		}
		mp, ok := model.MappingFor(res.RequestedProvider)
		if !ok {
			return nil, newError(KindBadRequest, 0, fmt.Sprintf("provider %q does not support model %q", res.RequestedProvider, res.RequestedModel), nil)
		}
		raw = []scorer.Candidate{{Mapping: mp, Provider: cat.Providers[mp.ProviderID]}}

	default:
		model, ok := cat.Get(res.RequestedModel)
		if !ok {
			return nil, newError(KindBadRequest, 0, fmt.Sprintf("unknown model %q", res.RequestedModel), nil)
		}
		for _, mp := range model.Providers {
			raw = append(raw, scorer.Candidate{Mapping: mp, Provider: cat.Providers[mp.ProviderID]})
		}
	}

	out := make([]scorer.Candidate, 0, len(raw))
	for _, c := range raw {
		if c.Mapping.Stability == catalog.StabilityUnstable || c.Mapping.Stability == catalog.StabilityExperimental {
			continue
		}
		if !c.Mapping.Available(now) {
			continue
		}
		if !iam.permits(c.Mapping.ModelName, c.Provider.ID) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, newError(KindBadRequest, 0, "no available provider for requested model", nil)
	}
	return out, nil
}
