package stats

import (
	"context"
	"testing"
	"time"

	"github.com/relaywire/gatewd/store"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite://" + t.TempDir() + "/gatewd-stats-test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertLog(t *testing.T, s *store.Store, id, projectID, apiKeyID string, createdAt time.Time) {
	t.Helper()
	l := store.Log{
		ID: id, RequestID: "req-" + id, OrganizationID: "org-1", ProjectID: projectID,
		APIKeyID: apiKeyID, CreatedAt: createdAt, UsedModel: "gpt-4o", UsedProvider: "openai",
		PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: decimal.NewFromFloat(0.01),
		Mode: "credits", UsedMode: "credits",
	}
	if err := s.InsertLog(context.Background(), l); err != nil {
		t.Fatal(err)
	}
}

// statsRequestCount reads the request_count the aggregator wrote to
// project_hourly_stats for projectID; each test uses one hour per project.
func statsRequestCount(t *testing.T, s *store.Store, projectID string) int64 {
	t.Helper()
	var n int64
	if err := s.DB.QueryRowContext(context.Background(), `SELECT request_count FROM project_hourly_stats WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		t.Fatalf("read project_hourly_stats for %s: %v", projectID, err)
	}
	return n
}

// TestAggregatorCurrentHourIdempotent mirrors spec.md §8 scenario 6: insert
// 5 logs in the current hour, run the aggregator, then insert 2 more and
// run again — the recomputed-from-scratch upsert means both the repeat run
// and the post-insert run reflect the true log count, with no drift from
// double-counting.
func TestAggregatorCurrentHourIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := hour.Add(50 * time.Minute)
	for i, m := range []int{15, 22, 29, 36, 45} {
		insertLog(t, s, "log-"+string(rune('a'+i)), "proj-1", "key-1", hour.Add(time.Duration(m)*time.Minute))
	}

	a := New(s, 100, true, 30, true, 7)
	a.Now = func() time.Time { return now }

	if err := a.RunCycle(ctx); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	totals, err := s.AggregateProjectHour(ctx, "proj-1", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if totals.RequestCount != 5 {
		t.Fatalf("expected 5 requests after first run, got %d", totals.RequestCount)
	}
	if n := statsRequestCount(t, s, "proj-1"); n != 5 {
		t.Fatalf("project_hourly_stats request_count = %d after first run, want 5", n)
	}

	if err := a.RunCycle(ctx); err != nil {
		t.Fatalf("second RunCycle (idempotency check): %v", err)
	}
	totals2, err := s.AggregateProjectHour(ctx, "proj-1", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if totals2.RequestCount != 5 {
		t.Fatalf("expected 5 requests after idempotent second run, got %d", totals2.RequestCount)
	}
	if n := statsRequestCount(t, s, "proj-1"); n != 5 {
		t.Fatalf("project_hourly_stats request_count = %d after second run, want 5", n)
	}

	insertLog(t, s, "log-f", "proj-1", "key-1", hour.Add(48*time.Minute))
	insertLog(t, s, "log-g", "proj-1", "key-1", hour.Add(49*time.Minute))
	if err := a.RunCycle(ctx); err != nil {
		t.Fatalf("third RunCycle: %v", err)
	}
	totals3, err := s.AggregateProjectHour(ctx, "proj-1", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if totals3.RequestCount != 7 {
		t.Fatalf("expected 7 requests after inserting 2 more, got %d", totals3.RequestCount)
	}
	if n := statsRequestCount(t, s, "proj-1"); n != 7 {
		t.Fatalf("project_hourly_stats request_count = %d after third run, want 7", n)
	}
}

// TestAggregatorBackfillsPastHour exercises the backfill phase: logs from
// an hour that has already closed get a project_hourly_stats row created
// where none existed.
func TestAggregatorBackfillsPastHour(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertLog(t, s, "log-a", "proj-2", "key-2", hour.Add(10*time.Minute))
	insertLog(t, s, "log-b", "proj-2", "key-2", hour.Add(40*time.Minute))

	a := New(s, 100, true, 30, true, 7)
	a.Now = func() time.Time { return hour.Add(90 * time.Minute) }

	if err := a.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	totals, err := s.AggregateProjectHour(ctx, "proj-2", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if totals.RequestCount != 2 {
		t.Fatalf("expected 2 requests backfilled, got %d", totals.RequestCount)
	}
	if n := statsRequestCount(t, s, "proj-2"); n != 2 {
		t.Fatalf("project_hourly_stats request_count = %d after backfill, want 2", n)
	}
}

func TestAggregatorModelAndAPIKeyBuckets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := hour.Add(5 * time.Minute)
	insertLog(t, s, "log-a", "proj-3", "key-a", hour.Add(time.Minute))
	insertLog(t, s, "log-b", "proj-3", "key-b", hour.Add(2*time.Minute))

	a := New(s, 100, true, 30, true, 7)
	a.Now = func() time.Time { return now }

	if err := a.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	keyTotals, err := s.AggregateAPIKeyHour(ctx, "key-a", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if keyTotals.RequestCount != 1 {
		t.Fatalf("expected 1 request for key-a, got %d", keyTotals.RequestCount)
	}

	modelTotals, err := s.AggregateProjectHourModel(ctx, "proj-3", "gpt-4o", "openai", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if modelTotals.RequestCount != 2 {
		t.Fatalf("expected 2 requests for gpt-4o/openai, got %d", modelTotals.RequestCount)
	}
}
