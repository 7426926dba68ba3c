package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Organization is the credit/referral-bearing entity the billing batcher
// deducts from.
type Organization struct {
	ID                   string
	Credits              decimal.Decimal
	DevPlanCreditsLimit  decimal.Decimal
	DevPlanCreditsUsed   decimal.Decimal
	RetentionLevel       string // "full" | "none"
	ReferredBy           string
	ReferralEarnings     decimal.Decimal
	AutoTopUpEnabled     bool
	AutoTopUpThreshold   decimal.Decimal
}

// GetOrganizationForUpdate row-locks one organization within tx (Postgres:
// FOR UPDATE; SQLite: plain read, relying on the caller's own serialization
// via the credit_processing lock).
func (s *Store) GetOrganizationForUpdate(ctx context.Context, tx *sql.Tx, id string) (Organization, error) {
	query := `SELECT id, credits, dev_plan_credits_limit, dev_plan_credits_used, retention_level,
		COALESCE(referred_by, ''), referral_earnings, auto_top_up_enabled, auto_top_up_threshold
		FROM organization WHERE id = ?`
	if s.Dialect == "postgres" {
		query += ` FOR UPDATE`
	}
	var (
		o                                                       Organization
		credits, devLimit, devUsed, referralEarnings, topUpThresh string
	)
	row := tx.QueryRowContext(ctx, s.bind(query), id)
	if err := row.Scan(&o.ID, &credits, &devLimit, &devUsed, &o.RetentionLevel, &o.ReferredBy, &referralEarnings, &o.AutoTopUpEnabled, &topUpThresh); err != nil {
		return Organization{}, fmt.Errorf("store: get organization %s: %w", id, err)
	}
	o.Credits = decimal.RequireFromString(orZero(credits))
	o.DevPlanCreditsLimit = decimal.RequireFromString(orZero(devLimit))
	o.DevPlanCreditsUsed = decimal.RequireFromString(orZero(devUsed))
	o.ReferralEarnings = decimal.RequireFromString(orZero(referralEarnings))
	o.AutoTopUpThreshold = decimal.RequireFromString(orZero(topUpThresh))
	return o, nil
}

// ApplyDeduction implements spec.md §4.10 step 4: consume dev-plan credits
// first, then regular credits, via direct SQL decrements (not a
// read-modify-write in Go) so concurrent batches never race on the
// in-memory value.
func (s *Store) ApplyDeduction(ctx context.Context, tx *sql.Tx, orgID string, devPlanDelta, creditsDelta decimal.Decimal) error {
	if devPlanDelta.IsPositive() {
		if _, err := tx.ExecContext(ctx, s.bind(`UPDATE organization SET dev_plan_credits_used = dev_plan_credits_used + ? WHERE id = ?`), devPlanDelta.String(), orgID); err != nil {
			return fmt.Errorf("store: apply dev-plan deduction %s: %w", orgID, err)
		}
	}
	if creditsDelta.IsPositive() {
		if _, err := tx.ExecContext(ctx, s.bind(`UPDATE organization SET credits = credits - ? WHERE id = ?`), creditsDelta.String(), orgID); err != nil {
			return fmt.Errorf("store: apply credit deduction %s: %w", orgID, err)
		}
	}
	return nil
}

// CreditReferrer adds amount to the referrer's credits and referral_earnings.
func (s *Store) CreditReferrer(ctx context.Context, tx *sql.Tx, referrerID string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, s.bind(`UPDATE organization SET credits = credits + ?, referral_earnings = referral_earnings + ? WHERE id = ?`),
		amount.String(), amount.String(), referrerID)
	if err != nil {
		return fmt.Errorf("store: credit referrer %s: %w", referrerID, err)
	}
	return nil
}

// AddAPIKeyUsage adds amount to the api key's running usage total.
func (s *Store) AddAPIKeyUsage(ctx context.Context, tx *sql.Tx, apiKeyID string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, s.bind(`UPDATE api_key SET usage_total = usage_total + ? WHERE id = ?`), amount.String(), apiKeyID)
	if err != nil {
		return fmt.Errorf("store: add api key usage %s: %w", apiKeyID, err)
	}
	return nil
}

// RetentionLevel returns the organization's retention_level without locking,
// used by the (non-transactional) log queue consumer to decide whether to
// strip verbose fields before insert.
func (s *Store) RetentionLevel(ctx context.Context, orgID string) (string, error) {
	var level string
	err := s.DB.QueryRowContext(ctx, s.bind(`SELECT retention_level FROM organization WHERE id = ?`), orgID).Scan(&level)
	if err == sql.ErrNoRows {
		return "full", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: retention level %s: %w", orgID, err)
	}
	return level, nil
}

// OrganizationsBelowTopUpThreshold lists organization ids with auto top-up
// enabled whose credits have fallen below their configured threshold, for
// the auto-top-up loop's charge scan.
func (s *Store) OrganizationsBelowTopUpThreshold(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM organization
		WHERE auto_top_up_enabled = TRUE AND credits < auto_top_up_threshold`)
	if err != nil {
		return nil, fmt.Errorf("store: organizations below top-up threshold: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CleanupRetention nulls the verbose columns of logs older than olderThan
// that have not yet been cleaned up, per spec.md §4.10's data-retention
// cleanup loop.
func (s *Store) CleanupRetention(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.bind(`UPDATE log SET content = NULL, reasoning_content = NULL,
		tools = NULL, tool_choice = NULL, tool_results = NULL, data_retention_cleaned_up = TRUE
		WHERE created_at < ? AND data_retention_cleaned_up = FALSE`), olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup retention: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
