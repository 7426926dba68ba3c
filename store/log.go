package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Log is the canonical per-request log record (spec.md §3). Money fields are
// decimal.Decimal throughout; only the HTTP/JSON boundary downconverts to
// float64.
type Log struct {
	ID                 string
	RequestID          string
	OrganizationID     string
	ProjectID          string
	APIKeyID           string
	CreatedAt          time.Time
	Duration           time.Duration
	TimeToFirstToken   *time.Duration
	RequestedModel     string
	RequestedProvider  string
	UsedModel          string
	UsedProvider       string
	UsedModelMapping   string
	ResponseSize       int64
	Content            string
	ReasoningContent   string
	Tools              string
	ToolChoice         string
	ToolResults        string
	FinishReason       string
	UnifiedFinishReason string
	PromptTokens       int64
	CompletionTokens   int64
	ReasoningTokens    int64
	CachedTokens       int64
	TotalTokens        int64
	Cost               decimal.Decimal
	InputCost          decimal.Decimal
	OutputCost         decimal.Decimal
	CachedInputCost    decimal.Decimal
	RequestCost        decimal.Decimal
	ImageInputCost     decimal.Decimal
	ImageOutputCost    decimal.Decimal
	WebSearchCost      decimal.Decimal
	EstimatedCost      bool
	Discount           *decimal.Decimal
	ServiceFee         *decimal.Decimal
	PricingTier        string
	Canceled           bool
	Streamed           bool
	Cached             bool
	Mode               string // api-keys | credits | hybrid
	UsedMode           string // api-keys | credits
	Source             string
	HasError           bool
	ErrorDetails       string
	RoutingMetadata    string
	DataStorageCost    decimal.Decimal
	ProcessedAt        *time.Time
}

const logColumns = `id, request_id, organization_id, project_id, api_key_id, created_at,
	duration_ms, time_to_first_token_ms, requested_model, requested_provider,
	used_model, used_provider, used_model_mapping, response_size, content,
	reasoning_content, tools, tool_choice, tool_results, finish_reason,
	unified_finish_reason, prompt_tokens, completion_tokens, reasoning_tokens,
	cached_tokens, total_tokens, cost, input_cost, output_cost,
	cached_input_cost, request_cost, image_input_cost, image_output_cost,
	web_search_cost, estimated_cost, discount, service_fee, pricing_tier,
	canceled, streamed, cached, mode, used_mode, source, has_error,
	error_details, routing_metadata, data_storage_cost, processed_at`

// InsertLog inserts a single log record. Used by the queue consumer's
// per-message fallback path when a bulk insert fails.
func (s *Store) InsertLog(ctx context.Context, l Log) error {
	return s.insertLogs(ctx, s.DB, []Log{l})
}

// BulkInsertLogs inserts a batch of log records in one round trip per
// record within a single transaction (portable across both dialects,
// which lack a shared multi-row-VALUES-with-return-error idiom here).
func (s *Store) BulkInsertLogs(ctx context.Context, logs []Log) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin bulk insert: %w", err)
	}
	if err := s.insertLogs(ctx, tx, logs); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertLogs(ctx context.Context, ex execer, logs []Log) error {
	query := s.bind(`INSERT INTO log (` + logColumns + `) VALUES (` + placeholders(49) + `)`)
	for _, l := range logs {
		args := []any{
			l.ID, l.RequestID, l.OrganizationID, l.ProjectID, l.APIKeyID, l.CreatedAt,
			l.Duration.Milliseconds(), nullableDurationMs(l.TimeToFirstToken), l.RequestedModel, nullableString(l.RequestedProvider),
			l.UsedModel, l.UsedProvider, nullableString(l.UsedModelMapping), l.ResponseSize, nullableString(l.Content),
			nullableString(l.ReasoningContent), nullableString(l.Tools), nullableString(l.ToolChoice), nullableString(l.ToolResults), nullableString(l.FinishReason),
			l.UnifiedFinishReason, l.PromptTokens, l.CompletionTokens, l.ReasoningTokens,
			l.CachedTokens, l.TotalTokens, l.Cost.String(), l.InputCost.String(), l.OutputCost.String(),
			l.CachedInputCost.String(), l.RequestCost.String(), l.ImageInputCost.String(), l.ImageOutputCost.String(),
			l.WebSearchCost.String(), l.EstimatedCost, nullableDecimal(l.Discount), nullableDecimal(l.ServiceFee), nullableString(l.PricingTier),
			l.Canceled, l.Streamed, l.Cached, l.Mode, l.UsedMode, nullableString(l.Source), l.HasError,
			nullableString(l.ErrorDetails), nullableString(l.RoutingMetadata), l.DataStorageCost.String(), nullableTime(l.ProcessedAt),
		}
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: insert log %s: %w", l.ID, err)
		}
	}
	return nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableDurationMs(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return d.Milliseconds()
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// SelectUnprocessedLogs row-locks up to limit unprocessed logs, oldest
// first, within tx. On Postgres this uses FOR UPDATE SKIP LOCKED per
// spec.md §4.10 step 1; SQLite has no row-level locking so it degrades to a
// plain ordered LIMIT (single-writer dev use only).
func (s *Store) SelectUnprocessedLogs(ctx context.Context, tx *sql.Tx, limit int) ([]Log, error) {
	query := `SELECT ` + logColumns + ` FROM log WHERE processed_at IS NULL ORDER BY created_at ASC LIMIT ?`
	if s.Dialect == "postgres" {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	rows, err := tx.QueryContext(ctx, s.bind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("store: select unprocessed logs: %w", err)
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(r rowScanner) (Log, error) {
	var (
		l                                                                    Log
		ttftMs                                                               sql.NullInt64
		requestedProvider, usedModelMapping, content, reasoning              sql.NullString
		tools, toolChoice, toolResults, finishReason, pricingTier            sql.NullString
		source, errorDetails, routingMetadata                                sql.NullString
		discount, serviceFee                                                 sql.NullString
		costS, inputCostS, outputCostS, cachedInputCostS, requestCostS       string
		imageInS, imageOutS, webSearchS, dataStorageS                        string
		processedAt                                                          sql.NullTime
	)
	err := r.Scan(
		&l.ID, &l.RequestID, &l.OrganizationID, &l.ProjectID, &l.APIKeyID, &l.CreatedAt,
		&l.Duration, &ttftMs, &l.RequestedModel, &requestedProvider,
		&l.UsedModel, &l.UsedProvider, &usedModelMapping, &l.ResponseSize, &content,
		&reasoning, &tools, &toolChoice, &toolResults, &finishReason,
		&l.UnifiedFinishReason, &l.PromptTokens, &l.CompletionTokens, &l.ReasoningTokens,
		&l.CachedTokens, &l.TotalTokens, &costS, &inputCostS, &outputCostS,
		&cachedInputCostS, &requestCostS, &imageInS, &imageOutS,
		&webSearchS, &l.EstimatedCost, &discount, &serviceFee, &pricingTier,
		&l.Canceled, &l.Streamed, &l.Cached, &l.Mode, &l.UsedMode, &source, &l.HasError,
		&errorDetails, &routingMetadata, &dataStorageS, &processedAt,
	)
	if err != nil {
		return Log{}, fmt.Errorf("store: scan log: %w", err)
	}

	l.Duration = l.Duration * time.Millisecond
	if ttftMs.Valid {
		d := time.Duration(ttftMs.Int64) * time.Millisecond
		l.TimeToFirstToken = &d
	}
	l.RequestedProvider = requestedProvider.String
	l.UsedModelMapping = usedModelMapping.String
	l.Content = content.String
	l.ReasoningContent = reasoning.String
	l.Tools = tools.String
	l.ToolChoice = toolChoice.String
	l.ToolResults = toolResults.String
	l.FinishReason = finishReason.String
	l.PricingTier = pricingTier.String
	l.Source = source.String
	l.ErrorDetails = errorDetails.String
	l.RoutingMetadata = routingMetadata.String

	l.Cost = decimal.RequireFromString(orZero(costS))
	l.InputCost = decimal.RequireFromString(orZero(inputCostS))
	l.OutputCost = decimal.RequireFromString(orZero(outputCostS))
	l.CachedInputCost = decimal.RequireFromString(orZero(cachedInputCostS))
	l.RequestCost = decimal.RequireFromString(orZero(requestCostS))
	l.ImageInputCost = decimal.RequireFromString(orZero(imageInS))
	l.ImageOutputCost = decimal.RequireFromString(orZero(imageOutS))
	l.WebSearchCost = decimal.RequireFromString(orZero(webSearchS))
	l.DataStorageCost = decimal.RequireFromString(orZero(dataStorageS))

	if discount.Valid {
		d := decimal.RequireFromString(discount.String)
		l.Discount = &d
	}
	if serviceFee.Valid {
		d := decimal.RequireFromString(serviceFee.String)
		l.ServiceFee = &d
	}
	if processedAt.Valid {
		l.ProcessedAt = &processedAt.Time
	}
	return l, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// MarkProcessed sets processed_at = now() and, where provided, the per-log
// service fee for every id in ids, within tx.
func (s *Store) MarkProcessed(ctx context.Context, tx *sql.Tx, now time.Time, ids []string, serviceFees map[string]decimal.Decimal) error {
	for _, id := range ids {
		if fee, ok := serviceFees[id]; ok {
			feeStr := fee.String()
			if _, err := tx.ExecContext(ctx, s.bind(`UPDATE log SET processed_at = ?, service_fee = ? WHERE id = ?`), now, feeStr, id); err != nil {
				return fmt.Errorf("store: mark processed (fee) %s: %w", id, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, s.bind(`UPDATE log SET processed_at = ? WHERE id = ?`), now, id); err != nil {
			return fmt.Errorf("store: mark processed %s: %w", id, err)
		}
	}
	return nil
}
