package logqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaywire/gatewd/internal/metrics"
	"github.com/relaywire/gatewd/store"
)

// backoffSchedule is spec.md §4.9's exponential retry ladder: 1s, 2s, 4s,
// 8s, 16s across up to 5 attempts.
var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

// Consumer drains Queue into Store, stripping verbose fields for
// retention-level-"none" organizations before insert.
type Consumer struct {
	Queue     *Queue
	Store     *store.Store
	BatchSize int
	Sleep     func(time.Duration) // overridable for tests
}

// NewConsumer builds a Consumer with spec.md-default batching and a real
// time.Sleep.
func NewConsumer(q *Queue, s *store.Store) *Consumer {
	return &Consumer{Queue: q, Store: s, BatchSize: 100, Sleep: time.Sleep}
}

// Run blocks, repeatedly popping a batch and processing it, until ctx is
// canceled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		batch, err := c.Queue.PopBatch(ctx, c.BatchSize, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "logqueue: pop batch failed", "error", err)
			continue
		}
		if depth, derr := c.Queue.Depth(ctx); derr == nil {
			metrics.LogQueueDepth.Set(float64(depth))
		}
		if len(batch) == 0 {
			continue
		}
		c.process(ctx, batch)
	}
}

// process strips content for none-retention organizations, then attempts a
// bulk insert with backoff; on persistent failure it requeues every message
// individually so no record is dropped. Any unexpected error also requeues,
// per spec.md §4.9/§7's propagation policy (C9 never fails the originating
// request, which has already returned).
func (c *Consumer) process(ctx context.Context, batch []store.Log) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "logqueue: panic processing batch, requeuing", "panic", r)
			c.requeueAll(ctx, batch)
		}
	}()

	for i := range batch {
		c.applyRetention(ctx, &batch[i])
	}

	var lastErr error
	for attempt := 0; attempt < len(backoffSchedule)+1; attempt++ {
		if attempt > 0 {
			c.sleep(backoffSchedule[attempt-1])
		}
		if err := c.Store.BulkInsertLogs(ctx, batch); err != nil {
			lastErr = err
			slog.WarnContext(ctx, "logqueue: bulk insert failed, will retry", "attempt", attempt+1, "error", err)
			continue
		}
		return
	}

	slog.ErrorContext(ctx, "logqueue: bulk insert exhausted retries, requeuing individually", "count", len(batch), "error", lastErr)
	c.requeueAll(ctx, batch)
}

func (c *Consumer) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (c *Consumer) requeueAll(ctx context.Context, batch []store.Log) {
	for _, l := range batch {
		if err := c.Queue.PushBack(ctx, l); err != nil {
			slog.ErrorContext(ctx, "logqueue: requeue failed, message dropped", "log_id", l.ID, "error", err)
		}
	}
}

// applyRetention strips verbose fields in place when the owning
// organization's retention level is "none", per spec.md §4.9.
func (c *Consumer) applyRetention(ctx context.Context, l *store.Log) {
	level, err := c.Store.RetentionLevel(ctx, l.OrganizationID)
	if err != nil {
		slog.WarnContext(ctx, "logqueue: retention level lookup failed, keeping content", "org_id", l.OrganizationID, "error", err)
		return
	}
	if level != "none" {
		return
	}
	l.Content = ""
	l.ReasoningContent = ""
	l.Tools = ""
	l.ToolChoice = ""
	l.ToolResults = ""
}
