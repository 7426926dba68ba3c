package logqueue

import (
	"context"
	"testing"
	"time"

	"github.com/relaywire/gatewd/store"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite://" + t.TempDir() + "/gatewd-logqueue-test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(backoffSchedule) != len(want) {
		t.Fatalf("got %d entries, want %d", len(backoffSchedule), len(want))
	}
	for i, d := range want {
		if backoffSchedule[i] != d {
			t.Errorf("backoffSchedule[%d] = %v, want %v", i, backoffSchedule[i], d)
		}
	}
}

func TestConsumerProcess_SucceedsOnFirstAttempt(t *testing.T) {
	s := openTestStore(t)
	q := NewFromClient(nil)
	c := NewConsumer(q, s)
	c.Sleep = func(time.Duration) {}

	logs := []store.Log{{
		ID: "log-1", OrganizationID: "org-unknown", RequestID: "req-1", ProjectID: "proj-1",
		APIKeyID: "key-1", Cost: decimal.Zero, Mode: "credits", UsedMode: "credits",
	}}

	c.process(context.Background(), logs)

	tx, err := s.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	stored, err := s.SelectUnprocessedLogs(context.Background(), tx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].ID != "log-1" {
		t.Fatalf("expected log-1 to be inserted, got %+v", stored)
	}
}

func TestConsumerApplyRetention_StripsForNoneLevel(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DB.ExecContext(context.Background(),
		`INSERT INTO organization (id, credits, retention_level) VALUES ('org-none', '0', 'none')`)
	if err != nil {
		t.Fatal(err)
	}

	c := NewConsumer(NewFromClient(nil), s)
	l := store.Log{OrganizationID: "org-none", Content: "secret prompt", Tools: `[{"name":"x"}]`}
	c.applyRetention(context.Background(), &l)

	if l.Content != "" || l.Tools != "" {
		t.Errorf("expected content/tools stripped, got %+v", l)
	}
}

func TestConsumerApplyRetention_KeepsForFullLevel(t *testing.T) {
	s := openTestStore(t)
	c := NewConsumer(NewFromClient(nil), s)
	l := store.Log{OrganizationID: "org-unknown", Content: "hello"}
	c.applyRetention(context.Background(), &l)

	if l.Content != "hello" {
		t.Errorf("expected content preserved for unknown/default org, got %q", l.Content)
	}
}
