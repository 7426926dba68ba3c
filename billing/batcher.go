// Package billing is the Credit/Usage Batcher (C10): a periodic job that
// drains unprocessed logs under a distributed lock, deducts credits
// (dev-plan first, then regular), applies the BYOK service fee, and credits
// referrers, plus the separate auto-top-up and data-retention-cleanup loops.
//
// Grounded on the teacher's internal/admin/sql_store.go transactional
// update idiom, extended with the periodic-ticker-loop shape found
// elsewhere in the retrieval pack for batch workers, and spec.md §4.10's
// exact deduction/locking protocol.
package billing

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/relaywire/gatewd/internal/metrics"
	"github.com/relaywire/gatewd/store"
	"github.com/shopspring/decimal"
)

const (
	lockCreditProcessing = "credit_processing"
	lockAutoTopUp        = "auto_top_up"
	lockDataRetention    = "data_retention"
)

// Batcher periodically runs the credit/usage deduction cycle, and
// separately the auto-top-up and data-retention-cleanup loops.
type Batcher struct {
	Store *store.Store

	BatchSize            int
	Interval             time.Duration
	BYOKFeePercentage    decimal.Decimal
	ReferralPercentage   decimal.Decimal
	EnableRetentionCleanup bool
	RetentionMaxAge      time.Duration

	Now func() time.Time
}

// New builds a Batcher from spec.md §4.10's config-driven parameters.
func New(s *store.Store, batchSize int, interval time.Duration, byokFeePct, referralPct float64) *Batcher {
	return &Batcher{
		Store:              s,
		BatchSize:          batchSize,
		Interval:           interval,
		BYOKFeePercentage:  decimal.NewFromFloat(byokFeePct),
		ReferralPercentage: decimal.NewFromFloat(referralPct),
		RetentionMaxAge:    30 * 24 * time.Hour,
		Now:                time.Now,
	}
}

// Run ticks every Interval, processing one credit batch per tick, until ctx
// is canceled.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.RunOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "billing: credit batch failed", "error", err)
			}
		}
	}
}

// RunOnce acquires the credit_processing lock and processes up to BatchSize
// unprocessed logs within a single transaction, per spec.md §4.10.
func (b *Batcher) RunOnce(ctx context.Context) error {
	now := b.now()
	ran, err := b.Store.WithLock(ctx, lockCreditProcessing, now, func(ctx context.Context) error {
		return b.processBatch(ctx, now)
	})
	if err != nil {
		return err
	}
	if !ran {
		slog.DebugContext(ctx, "billing: credit_processing lock held elsewhere, skipping tick")
	}
	return nil
}

func (b *Batcher) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// RunRetentionCleanup acquires the data_retention lock and nulls verbose
// columns on logs older than RetentionMaxAge, per spec.md §4.10's separate
// retention-cleanup loop. A no-op when EnableRetentionCleanup is false
// (spec.md §6 default ENABLE_DATA_RETENTION_CLEANUP=false).
func (b *Batcher) RunRetentionCleanup(ctx context.Context) error {
	if !b.EnableRetentionCleanup {
		return nil
	}
	now := b.now()
	_, err := b.Store.WithLock(ctx, lockDataRetention, now, func(ctx context.Context) error {
		n, err := b.Store.CleanupRetention(ctx, now.Add(-b.RetentionMaxAge))
		if err != nil {
			return err
		}
		if n > 0 {
			slog.InfoContext(ctx, "billing: retention cleanup", "rows", n)
		}
		return nil
	})
	return err
}

// RunRetentionLoop ticks RunRetentionCleanup hourly until ctx is canceled.
// Retention cleanup is coarse-grained (spec.md §4.10's 30-day window), so an
// hourly cadence is ample.
func (b *Batcher) RunRetentionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.RunRetentionCleanup(ctx); err != nil {
				slog.ErrorContext(ctx, "billing: retention cleanup failed", "error", err)
			}
		}
	}
}

// ChargeFunc performs the actual Stripe top-up charge for an organization.
// The Stripe integration itself is an external collaborator (spec.md §1's
// Non-goals) and out of scope here; AutoTopUp only provides the
// lock-acquisition and retry scaffolding spec.md §4.10 describes, against
// whatever ChargeFunc the caller wires in.
type ChargeFunc func(ctx context.Context, orgID string) error

// AutoTopUp runs the auto-top-up loop's lock-acquisition and retry
// scaffolding for organizations under their auto_top_up_threshold. After a
// failed charge an organization is skipped for a fixed 5 minutes; the delay
// does not grow with repeated failures.
type AutoTopUp struct {
	Store   *store.Store
	Charge  ChargeFunc
	Now     func() time.Time
	backoff map[string]time.Time // orgID -> next eligible retry
}

// RunOnce acquires the auto_top_up lock and invokes Charge for every
// organization below threshold that isn't still in backoff.
func (a *AutoTopUp) RunOnce(ctx context.Context) error {
	if a.Charge == nil {
		return nil
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	_, err := a.Store.WithLock(ctx, lockAutoTopUp, now, func(ctx context.Context) error {
		orgs, err := a.Store.OrganizationsBelowTopUpThreshold(ctx)
		if err != nil {
			return err
		}
		if a.backoff == nil {
			a.backoff = map[string]time.Time{}
		}
		for _, orgID := range orgs {
			if until, ok := a.backoff[orgID]; ok && now.Before(until) {
				continue
			}
			if err := a.Charge(ctx, orgID); err != nil {
				slog.ErrorContext(ctx, "billing: auto top-up charge failed, backing off", "org_id", orgID, "error", err)
				a.backoff[orgID] = now.Add(5 * time.Minute)
				continue
			}
			delete(a.backoff, orgID)
		}
		return nil
	})
	return err
}

func (b *Batcher) processBatch(ctx context.Context, now time.Time) error {
	tx, err := b.Store.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	logs, err := b.Store.SelectUnprocessedLogs(ctx, tx, b.BatchSize)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return tx.Commit()
	}

	// Single deduction bucket per org, per spec.md §4.10 step 2-3: every
	// log's contribution (full cost for credits mode, BYOK fee + data
	// storage cost for api-keys mode) adds into the same running total.
	deductions := map[string]decimal.Decimal{}
	serviceFees := map[string]decimal.Decimal{}
	ids := make([]string, 0, len(logs))
	apiKeyUsage := map[string]decimal.Decimal{}

	for _, l := range logs {
		ids = append(ids, l.ID)

		// spec.md §4.10 step 3: every non-cached, positive-cost log always
		// adds its full cost to the api-key's running usage, regardless of
		// mode; only the org deduction bucket's contribution differs by mode.
		if !l.Cached && l.Cost.IsPositive() {
			apiKeyUsage[l.APIKeyID] = apiKeyUsage[l.APIKeyID].Add(l.Cost)

			switch l.UsedMode {
			case "credits":
				deductions[l.OrganizationID] = deductions[l.OrganizationID].Add(l.Cost)
			case "api-keys":
				fee := l.Cost.Mul(b.BYOKFeePercentage).Add(l.DataStorageCost)
				deductions[l.OrganizationID] = deductions[l.OrganizationID].Add(fee)
				serviceFees[l.ID] = fee
			}
		}

		metrics.CostTotal.WithLabelValues(l.UsedProvider, l.UsedModel).Add(l.Cost.InexactFloat64())
	}

	for orgID, total := range deductions {
		if err := b.applyOrgDeduction(ctx, tx, orgID, total, now); err != nil {
			return err
		}
	}
	for apiKeyID, amount := range apiKeyUsage {
		if err := b.Store.AddAPIKeyUsage(ctx, tx, apiKeyID, amount); err != nil {
			return err
		}
	}

	if err := b.Store.MarkProcessed(ctx, tx, now, ids, serviceFees); err != nil {
		return err
	}

	return tx.Commit()
}

// applyOrgDeduction implements spec.md §4.10 steps 4-5: dev-plan credits
// are drawn first (capped at remaining limit), the overflow (if any) comes
// from regular credits; a referree's referrer is credited 1% of the total
// deduction.
func (b *Batcher) applyOrgDeduction(ctx context.Context, tx *sql.Tx, orgID string, total decimal.Decimal, now time.Time) error {
	if total.IsZero() || total.IsNegative() {
		return nil
	}

	org, err := b.Store.GetOrganizationForUpdate(ctx, tx, orgID)
	if err != nil {
		return err
	}

	devPlanRemaining := org.DevPlanCreditsLimit.Sub(org.DevPlanCreditsUsed)
	if devPlanRemaining.IsNegative() {
		devPlanRemaining = decimal.Zero
	}

	fromDevPlan := decimal.Min(total, devPlanRemaining)
	fromRegular := total.Sub(fromDevPlan)

	if err := b.Store.ApplyDeduction(ctx, tx, orgID, fromDevPlan, fromRegular); err != nil {
		return err
	}

	metrics.CreditDeducted.WithLabelValues(orgID).Add(total.InexactFloat64())

	if org.ReferredBy != "" {
		referralAmount := total.Mul(b.ReferralPercentage)
		if referralAmount.IsPositive() {
			if err := b.Store.CreditReferrer(ctx, tx, org.ReferredBy, referralAmount); err != nil {
				return err
			}
		}
	}
	return nil
}
