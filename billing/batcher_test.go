package billing

import (
	"context"
	"testing"
	"time"

	"github.com/relaywire/gatewd/store"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite://" + t.TempDir() + "/gatewd-billing-test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedOrg(t *testing.T, s *store.Store, id string, credits, devLimit, devUsed string, referredBy string) {
	t.Helper()
	_, err := s.DB.Exec(`INSERT INTO organization (id, credits, dev_plan_credits_limit, dev_plan_credits_used, referred_by)
		VALUES (?, ?, ?, ?, ?)`, id, credits, devLimit, devUsed, nullIfEmpty(referredBy))
	if err != nil {
		t.Fatal(err)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func seedAPIKey(t *testing.T, s *store.Store, id, orgID string) {
	t.Helper()
	_, err := s.DB.Exec(`INSERT INTO api_key (id, organization_id) VALUES (?, ?)`, id, orgID)
	if err != nil {
		t.Fatal(err)
	}
}

func apiKeyUsageTotal(t *testing.T, s *store.Store, id string) decimal.Decimal {
	t.Helper()
	var usage string
	if err := s.DB.QueryRow(`SELECT usage_total FROM api_key WHERE id = ?`, id).Scan(&usage); err != nil {
		t.Fatal(err)
	}
	d, err := decimal.NewFromString(usage)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestBatcher_DeductsDevPlanFirstThenRegular(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1", "10.00", "5.00", "2.00", "")

	l := store.Log{
		ID: "log-1", OrganizationID: "org-1", ProjectID: "proj-1", APIKeyID: "key-1",
		RequestID: "req-1", CreatedAt: time.Now().UTC(), UsedMode: "credits",
		UsedProvider: "openai", UsedModel: "gpt-4o", Cost: decimal.NewFromFloat(4.00),
		Mode: "credits",
	}
	if err := s.InsertLog(ctx, l); err != nil {
		t.Fatal(err)
	}

	b := New(s, 100, time.Second, 0.05, 0.01)
	if err := b.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	tx, _ := s.DB.BeginTx(ctx, nil)
	defer tx.Rollback()
	org, err := s.GetOrganizationForUpdate(ctx, tx, "org-1")
	if err != nil {
		t.Fatal(err)
	}

	// devPlanRemaining = 5.00 - 2.00 = 3.00; total deduction 4.00 draws
	// 3.00 from dev plan (now fully used) and 1.00 from regular credits.
	if !org.DevPlanCreditsUsed.Equal(decimal.NewFromFloat(5.00)) {
		t.Errorf("devPlanCreditsUsed = %s, want 5.00", org.DevPlanCreditsUsed)
	}
	if !org.Credits.Equal(decimal.NewFromFloat(9.00)) {
		t.Errorf("credits = %s, want 9.00", org.Credits)
	}
}

func TestBatcher_CreditsModeLogStillAccumulatesAPIKeyUsage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-4", "10.00", "0", "0", "")
	seedAPIKey(t, s, "key-4", "org-4")

	l := store.Log{
		ID: "log-4", OrganizationID: "org-4", ProjectID: "proj-1", APIKeyID: "key-4",
		RequestID: "req-4", CreatedAt: time.Now().UTC(), UsedMode: "credits",
		UsedProvider: "openai", UsedModel: "gpt-4o", Cost: decimal.NewFromFloat(3.00),
		Mode: "credits",
	}
	if err := s.InsertLog(ctx, l); err != nil {
		t.Fatal(err)
	}

	b := New(s, 100, time.Second, 0.05, 0.01)
	if err := b.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// spec.md §4.10 step 3: the api-key's running usage accumulates the full
	// cost regardless of whether the log was billed in credits or api-keys
	// mode.
	got := apiKeyUsageTotal(t, s, "key-4")
	if !got.Equal(decimal.NewFromFloat(3.00)) {
		t.Errorf("api_key usage_total = %s, want 3.00", got)
	}
}

func TestBatcher_CreditsReferrerOnePercent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "referrer-1", "0", "0", "0", "")
	seedOrg(t, s, "org-2", "10.00", "0", "0", "referrer-1")

	l := store.Log{
		ID: "log-2", OrganizationID: "org-2", ProjectID: "proj-1", APIKeyID: "key-1",
		RequestID: "req-2", CreatedAt: time.Now().UTC(), UsedMode: "credits",
		UsedProvider: "openai", UsedModel: "gpt-4o", Cost: decimal.NewFromFloat(10.00),
		Mode: "credits",
	}
	if err := s.InsertLog(ctx, l); err != nil {
		t.Fatal(err)
	}

	b := New(s, 100, time.Second, 0.05, 0.01)
	if err := b.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	tx, _ := s.DB.BeginTx(ctx, nil)
	defer tx.Rollback()
	referrer, err := s.GetOrganizationForUpdate(ctx, tx, "referrer-1")
	if err != nil {
		t.Fatal(err)
	}
	if !referrer.Credits.Equal(decimal.NewFromFloat(0.10)) {
		t.Errorf("referrer credits = %s, want 0.10", referrer.Credits)
	}
}

func TestBatcher_MarksLogsProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-3", "10.00", "0", "0", "")

	l := store.Log{
		ID: "log-3", OrganizationID: "org-3", ProjectID: "proj-1", APIKeyID: "key-1",
		RequestID: "req-3", CreatedAt: time.Now().UTC(), UsedMode: "api-keys",
		UsedProvider: "openai", UsedModel: "gpt-4o", Cost: decimal.NewFromFloat(2.00),
		DataStorageCost: decimal.NewFromFloat(0.01), Mode: "api-keys",
	}
	if err := s.InsertLog(ctx, l); err != nil {
		t.Fatal(err)
	}

	b := New(s, 100, time.Second, 0.05, 0.01)
	if err := b.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	tx, _ := s.DB.BeginTx(ctx, nil)
	defer tx.Rollback()
	remaining, err := s.SelectUnprocessedLogs(ctx, tx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected log to be marked processed, got %d unprocessed", len(remaining))
	}
}
