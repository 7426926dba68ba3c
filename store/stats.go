package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BucketTotals is the aggregate counters one hourly-stats row carries.
type BucketTotals struct {
	RequestCount int64
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	ErrorCount   int64
	CacheCount   int64
	Cost         decimal.Decimal
}

// Bucket identifies a (project, hour) pair awaiting aggregation.
type Bucket struct {
	ProjectID     string
	HourTimestamp time.Time
}

// ModelBucket identifies a (project, hour, model, provider) grouping.
type ModelBucket struct {
	ProjectID    string
	UsedModel    string
	UsedProvider string
}

// hourExpr returns the dialect-specific SQL fragment that truncates
// created_at to its containing hour, kept as a string (per spec.md §11's
// note that hour timestamps are carried as "YYYY-MM-DD HH:00:00" strings
// and cast ::timestamp in SQL, to dodge driver-local-timezone
// misinterpretation of timezone-less columns).
func (s *Store) hourExpr(column string) string {
	if s.Dialect == "postgres" {
		return `to_char(date_trunc('hour', ` + column + `), 'YYYY-MM-DD HH24:00:00')`
	}
	return `strftime('%Y-%m-%d %H:00:00', ` + column + `)`
}

// TruncHour truncates t to the start of its hour, matching hourExpr's SQL
// semantics in Go for callers building query bounds.
func TruncHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// AggregateProjectHour recomputes totals for one (project, hour) bucket
// directly from `log`, so every upsert is a fresh-from-scratch
// recomputation rather than an increment — the property spec.md §8's
// aggregator idempotency test relies on.
func (s *Store) AggregateProjectHour(ctx context.Context, projectID string, hourStart, hourEnd time.Time) (BucketTotals, error) {
	query := s.bind(`SELECT COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0),
		COALESCE(SUM(total_tokens),0), COALESCE(SUM(CASE WHEN has_error THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END),0), COALESCE(SUM(cost),0)
		FROM log WHERE project_id = ? AND created_at >= ? AND created_at < ?`)
	return s.scanTotals(ctx, query, projectID, hourStart, hourEnd)
}

// AggregateAPIKeyHour is AggregateProjectHour's per-api-key analog.
func (s *Store) AggregateAPIKeyHour(ctx context.Context, apiKeyID string, hourStart, hourEnd time.Time) (BucketTotals, error) {
	query := s.bind(`SELECT COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0),
		COALESCE(SUM(total_tokens),0), COALESCE(SUM(CASE WHEN has_error THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END),0), COALESCE(SUM(cost),0)
		FROM log WHERE api_key_id = ? AND created_at >= ? AND created_at < ?`)
	return s.scanTotals(ctx, query, apiKeyID, hourStart, hourEnd)
}

func (s *Store) scanTotals(ctx context.Context, query string, args ...any) (BucketTotals, error) {
	var t BucketTotals
	var costStr string
	row := s.DB.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&t.RequestCount, &t.InputTokens, &t.OutputTokens, &t.TotalTokens, &t.ErrorCount, &t.CacheCount, &costStr); err != nil {
		return BucketTotals{}, fmt.Errorf("store: aggregate bucket: %w", err)
	}
	t.Cost = decimal.RequireFromString(orZero(costStr))
	return t, nil
}

// ModelBucketsForHour returns every distinct (model, provider) pair with
// logs for projectID within [hourStart, hourEnd).
func (s *Store) ModelBucketsForHour(ctx context.Context, projectID string, hourStart, hourEnd time.Time) ([]ModelBucket, error) {
	rows, err := s.DB.QueryContext(ctx, s.bind(`SELECT DISTINCT used_model, used_provider FROM log
		WHERE project_id = ? AND created_at >= ? AND created_at < ?`), projectID, hourStart, hourEnd)
	if err != nil {
		return nil, fmt.Errorf("store: model buckets: %w", err)
	}
	defer rows.Close()
	var out []ModelBucket
	for rows.Next() {
		var mb ModelBucket
		mb.ProjectID = projectID
		if err := rows.Scan(&mb.UsedModel, &mb.UsedProvider); err != nil {
			return nil, err
		}
		out = append(out, mb)
	}
	return out, rows.Err()
}

func (s *Store) upsertHourly(ctx context.Context, table, keyCols, keyExprs string, keyArgs []any, t BucketTotals, now time.Time) error {
	cols := keyCols + `, request_count, input_tokens, output_tokens, total_tokens, cost, error_count, cache_count, updated_at`
	placeholders := keyExprs
	args := append([]any{}, keyArgs...)
	args = append(args, t.RequestCount, t.InputTokens, t.OutputTokens, t.TotalTokens, t.Cost.String(), t.ErrorCount, t.CacheCount, now)
	for range []string{"request_count", "input_tokens", "output_tokens", "total_tokens", "cost", "error_count", "cache_count", "updated_at"} {
		placeholders += `, ?`
	}

	var conflictCols string
	switch table {
	case "project_hourly_stats":
		conflictCols = "project_id, hour_timestamp"
	case "project_hourly_model_stats":
		conflictCols = "project_id, hour_timestamp, used_model, used_provider"
	case "api_key_hourly_stats":
		conflictCols = "api_key_id, hour_timestamp"
	case "api_key_hourly_model_stats":
		conflictCols = "api_key_id, hour_timestamp, used_model, used_provider"
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (%s) DO UPDATE SET
		request_count = excluded.request_count, input_tokens = excluded.input_tokens,
		output_tokens = excluded.output_tokens, total_tokens = excluded.total_tokens,
		cost = excluded.cost, error_count = excluded.error_count,
		cache_count = excluded.cache_count, updated_at = excluded.updated_at`,
		table, cols, placeholders, conflictCols)

	if _, err := s.DB.ExecContext(ctx, s.bind(query), args...); err != nil {
		return fmt.Errorf("store: upsert %s: %w", table, err)
	}
	return nil
}

// UpsertProjectHourlyStats writes the (project, hour) totals row.
func (s *Store) UpsertProjectHourlyStats(ctx context.Context, projectID string, hour time.Time, t BucketTotals, now time.Time) error {
	return s.upsertHourly(ctx, "project_hourly_stats", "project_id, hour_timestamp", "?, ?", []any{projectID, hour}, t, now)
}

// UpsertProjectHourlyModelStats writes the (project, hour, model, provider) row.
func (s *Store) UpsertProjectHourlyModelStats(ctx context.Context, projectID, model, provider string, hour time.Time, t BucketTotals, now time.Time) error {
	return s.upsertHourly(ctx, "project_hourly_model_stats", "project_id, hour_timestamp, used_model, used_provider", "?, ?, ?, ?", []any{projectID, hour, model, provider}, t, now)
}

// UpsertAPIKeyHourlyStats writes the (api_key, hour) totals row.
func (s *Store) UpsertAPIKeyHourlyStats(ctx context.Context, apiKeyID string, hour time.Time, t BucketTotals, now time.Time) error {
	return s.upsertHourly(ctx, "api_key_hourly_stats", "api_key_id, hour_timestamp", "?, ?", []any{apiKeyID, hour}, t, now)
}

// UpsertAPIKeyHourlyModelStats writes the (api_key, hour, model, provider) row.
func (s *Store) UpsertAPIKeyHourlyModelStats(ctx context.Context, apiKeyID, model, provider string, hour time.Time, t BucketTotals, now time.Time) error {
	return s.upsertHourly(ctx, "api_key_hourly_model_stats", "api_key_id, hour_timestamp, used_model, used_provider", "?, ?, ?, ?", []any{apiKeyID, hour, model, provider}, t, now)
}

// BackfillBuckets finds (project, hour) pairs with logs in [since, before)
// that have no matching project_hourly_stats row yet.
func (s *Store) BackfillBuckets(ctx context.Context, since, before time.Time, limit int) ([]Bucket, error) {
	query := fmt.Sprintf(`SELECT DISTINCT l.project_id, %s
		FROM log l
		WHERE l.created_at >= ? AND l.created_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM project_hourly_stats p
			WHERE p.project_id = l.project_id AND p.hour_timestamp = CAST(%s AS TIMESTAMP)
		)
		LIMIT ?`, s.hourExpr("l.created_at"), s.hourExpr("l.created_at"))
	return s.queryBuckets(ctx, s.bind(query), since, before, limit)
}

// plusHourExpr returns the dialect-specific SQL expression for column+1hour.
func (s *Store) plusHourExpr(column string) string {
	if s.Dialect == "postgres" {
		return column + ` + interval '1 hour'`
	}
	return `datetime(` + column + `, '+1 hour')`
}

// StaleBuckets finds project_hourly_stats rows with a log newer than the
// row's updated_at — the spec's "stale bucket" definition.
func (s *Store) StaleBuckets(ctx context.Context, limit int) ([]Bucket, error) {
	query := `SELECT p.project_id, p.hour_timestamp FROM project_hourly_stats p
		WHERE EXISTS (
			SELECT 1 FROM log l WHERE l.project_id = p.project_id
			AND l.created_at >= p.hour_timestamp AND l.created_at < ` + s.plusHourExpr("p.hour_timestamp") + `
			AND l.created_at > p.updated_at
		)
		LIMIT ?`
	return s.queryBuckets(ctx, s.bind(query), limit)
}

func (s *Store) queryBuckets(ctx context.Context, query string, args ...any) ([]Bucket, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query buckets: %w", err)
	}
	defer rows.Close()
	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.ProjectID, &b.HourTimestamp); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CurrentHourProjects returns every distinct project_id with at least one
// log row in [hourStart, hourEnd) — drives the current-hour refresh phase.
func (s *Store) CurrentHourProjects(ctx context.Context, hourStart, hourEnd time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, s.bind(`SELECT DISTINCT project_id FROM log WHERE created_at >= ? AND created_at < ?`), hourStart, hourEnd)
	if err != nil {
		return nil, fmt.Errorf("store: current hour projects: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ModelPair is a (model, provider) grouping key, used by the api-key-scoped
// model stats upsert.
type ModelPair struct {
	UsedModel    string
	UsedProvider string
}

// APIKeysForHour returns every distinct api_key_id with logs for projectID
// within [hourStart, hourEnd).
func (s *Store) APIKeysForHour(ctx context.Context, projectID string, hourStart, hourEnd time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, s.bind(`SELECT DISTINCT api_key_id FROM log
		WHERE project_id = ? AND created_at >= ? AND created_at < ?`), projectID, hourStart, hourEnd)
	if err != nil {
		return nil, fmt.Errorf("store: api keys for hour: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// APIKeyModelBucketsForHour returns every distinct (model, provider) pair
// with logs for apiKeyID within [hourStart, hourEnd).
func (s *Store) APIKeyModelBucketsForHour(ctx context.Context, apiKeyID string, hourStart, hourEnd time.Time) ([]ModelPair, error) {
	rows, err := s.DB.QueryContext(ctx, s.bind(`SELECT DISTINCT used_model, used_provider FROM log
		WHERE api_key_id = ? AND created_at >= ? AND created_at < ?`), apiKeyID, hourStart, hourEnd)
	if err != nil {
		return nil, fmt.Errorf("store: api key model buckets: %w", err)
	}
	defer rows.Close()
	var out []ModelPair
	for rows.Next() {
		var mp ModelPair
		if err := rows.Scan(&mp.UsedModel, &mp.UsedProvider); err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, rows.Err()
}

// AggregateProjectHourModel recomputes totals for one (project, hour,
// model, provider) bucket directly from log.
func (s *Store) AggregateProjectHourModel(ctx context.Context, projectID, model, provider string, hourStart, hourEnd time.Time) (BucketTotals, error) {
	query := s.bind(`SELECT COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0),
		COALESCE(SUM(total_tokens),0), COALESCE(SUM(CASE WHEN has_error THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END),0), COALESCE(SUM(cost),0)
		FROM log WHERE project_id = ? AND used_model = ? AND used_provider = ? AND created_at >= ? AND created_at < ?`)
	return s.scanTotals(ctx, query, projectID, model, provider, hourStart, hourEnd)
}

// AggregateAPIKeyHourModel is AggregateProjectHourModel's per-api-key analog.
func (s *Store) AggregateAPIKeyHourModel(ctx context.Context, apiKeyID, model, provider string, hourStart, hourEnd time.Time) (BucketTotals, error) {
	query := s.bind(`SELECT COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0),
		COALESCE(SUM(total_tokens),0), COALESCE(SUM(CASE WHEN has_error THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END),0), COALESCE(SUM(cost),0)
		FROM log WHERE api_key_id = ? AND used_model = ? AND used_provider = ? AND created_at >= ? AND created_at < ?`)
	return s.scanTotals(ctx, query, apiKeyID, model, provider, hourStart, hourEnd)
}
