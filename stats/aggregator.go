// Package stats is the Stats Aggregator (C11): it backfills hourly
// statistics for buckets that have never been rolled up, re-aggregates
// buckets that have gone stale (new logs arrived after the last rollup),
// and refreshes the current hour every cycle, writing idempotent
// ON CONFLICT DO UPDATE upserts to four tables per bucket.
//
// Grounded on the teacher's internal/admin/sql_store.go upsert idiom
// (ON CONFLICT DO UPDATE), applied to spec.md §4.11's three-phase
// aggregation cycle.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaywire/gatewd/internal/metrics"
	"github.com/relaywire/gatewd/store"
)

// Aggregator runs the three aggregation phases against Store.
type Aggregator struct {
	Store *store.Store

	BatchSize       int
	BackfillEnabled bool
	BackfillWindow  time.Duration // how far back backfill looks, e.g. 30 days
	StaleEnabled    bool
	StaleWindow     time.Duration // how far back stale detection looks, e.g. 7 days

	Now func() time.Time
}

// New builds an Aggregator from spec.md §6's config-driven parameters.
func New(s *store.Store, batchSize int, backfillEnabled bool, backfillDays int, staleEnabled bool, staleDays int) *Aggregator {
	return &Aggregator{
		Store:           s,
		BatchSize:       batchSize,
		BackfillEnabled: backfillEnabled,
		BackfillWindow:  time.Duration(backfillDays) * 24 * time.Hour,
		StaleEnabled:    staleEnabled,
		StaleWindow:     time.Duration(staleDays) * 24 * time.Hour,
		Now:             time.Now,
	}
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Run ticks every interval, running one full cycle (backfill, stale,
// current-hour) per tick, until ctx is canceled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.RunCycle(ctx); err != nil {
				slog.ErrorContext(ctx, "stats: aggregation cycle failed", "error", err)
			}
		}
	}
}

// RunCycle runs the backfill phase, the stale phase, and the current-hour
// refresh, in that order, per spec.md §4.11.
func (a *Aggregator) RunCycle(ctx context.Context) error {
	now := a.now()
	currentHourStart := store.TruncHour(now)

	if a.BackfillEnabled {
		if err := a.runBackfill(ctx, currentHourStart); err != nil {
			return err
		}
	}
	if a.StaleEnabled {
		if err := a.runStale(ctx); err != nil {
			return err
		}
	}
	return a.runCurrentHour(ctx, currentHourStart, now)
}

func (a *Aggregator) runBackfill(ctx context.Context, currentHourStart time.Time) error {
	since := time.Time{}
	if a.BackfillWindow > 0 {
		since = currentHourStart.Add(-a.BackfillWindow)
	}
	buckets, err := a.Store.BackfillBuckets(ctx, since, currentHourStart, a.BatchSize)
	if err != nil {
		return err
	}
	for _, bucket := range buckets {
		if err := a.rollupBucket(ctx, bucket.ProjectID, bucket.HourTimestamp); err != nil {
			return err
		}
		metrics.StatsBucketsProcessed.WithLabelValues("backfill").Inc()
	}
	return nil
}

func (a *Aggregator) runStale(ctx context.Context) error {
	buckets, err := a.Store.StaleBuckets(ctx, a.BatchSize)
	if err != nil {
		return err
	}
	for _, bucket := range buckets {
		if err := a.rollupBucket(ctx, bucket.ProjectID, bucket.HourTimestamp); err != nil {
			return err
		}
		metrics.StatsBucketsProcessed.WithLabelValues("stale").Inc()
	}
	return nil
}

func (a *Aggregator) runCurrentHour(ctx context.Context, hourStart, now time.Time) error {
	projects, err := a.Store.CurrentHourProjects(ctx, hourStart, now)
	if err != nil {
		return err
	}
	for _, projectID := range projects {
		if err := a.rollupBucket(ctx, projectID, hourStart); err != nil {
			return err
		}
		metrics.StatsBucketsProcessed.WithLabelValues("current").Inc()
	}
	return nil
}

// rollupBucket runs all four upserts for one (project, hour) bucket:
// project totals, project×model, api-key totals (for every api key active
// in the bucket), and api-key×model.
func (a *Aggregator) rollupBucket(ctx context.Context, projectID string, hour time.Time) error {
	now := a.now()
	hourEnd := hour.Add(time.Hour)

	totals, err := a.Store.AggregateProjectHour(ctx, projectID, hour, hourEnd)
	if err != nil {
		return err
	}
	if err := a.Store.UpsertProjectHourlyStats(ctx, projectID, hour, totals, now); err != nil {
		return err
	}

	models, err := a.Store.ModelBucketsForHour(ctx, projectID, hour, hourEnd)
	if err != nil {
		return err
	}
	for _, m := range models {
		modelTotals, err := a.Store.AggregateProjectHourModel(ctx, projectID, m.UsedModel, m.UsedProvider, hour, hourEnd)
		if err != nil {
			return err
		}
		if err := a.Store.UpsertProjectHourlyModelStats(ctx, projectID, m.UsedModel, m.UsedProvider, hour, modelTotals, now); err != nil {
			return err
		}
	}

	apiKeys, err := a.Store.APIKeysForHour(ctx, projectID, hour, hourEnd)
	if err != nil {
		return err
	}
	for _, apiKeyID := range apiKeys {
		keyTotals, err := a.Store.AggregateAPIKeyHour(ctx, apiKeyID, hour, hourEnd)
		if err != nil {
			return err
		}
		if err := a.Store.UpsertAPIKeyHourlyStats(ctx, apiKeyID, hour, keyTotals, now); err != nil {
			return err
		}

		keyModels, err := a.Store.APIKeyModelBucketsForHour(ctx, apiKeyID, hour, hourEnd)
		if err != nil {
			return err
		}
		for _, m := range keyModels {
			keyModelTotals, err := a.Store.AggregateAPIKeyHourModel(ctx, apiKeyID, m.UsedModel, m.UsedProvider, hour, hourEnd)
			if err != nil {
				return err
			}
			if err := a.Store.UpsertAPIKeyHourlyModelStats(ctx, apiKeyID, m.UsedModel, m.UsedProvider, hour, keyModelTotals, now); err != nil {
				return err
			}
		}
	}

	return nil
}
