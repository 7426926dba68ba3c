// Package serve wires together every component of the gateway (catalog,
// store, key health, providers, dispatcher, log queue, billing, stats) and
// runs the HTTP server plus its background workers until the context is
// canceled.
//
// Grounded on the teacher's cmd/ferrogw/main.go bootstrap (build registry,
// build server, graceful-shutdown on SIGINT/SIGTERM), widened to also start
// this module's own background loops — the log consumer, credit batcher,
// and stats aggregator — which the teacher's single-process proxy had no
// equivalent of.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/relaywire/gatewd/billing"
	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/config"
	"github.com/relaywire/gatewd/dispatch"
	"github.com/relaywire/gatewd/internal/logging"
	"github.com/relaywire/gatewd/keyhealth"
	"github.com/relaywire/gatewd/logqueue"
	"github.com/relaywire/gatewd/providers"
	"github.com/relaywire/gatewd/stats"
	"github.com/relaywire/gatewd/store"
	"github.com/relaywire/gatewd/thoughtcache"
)

// RouterFactory builds the HTTP handler from the assembled server
// dependencies; cmd/gatewd supplies the real chi router, keeping this
// package free of any HTTP-framework import.
type RouterFactory func(dispatcher *dispatch.Dispatcher, cat *catalog.Catalog) (http.Handler, error)

// Run validates the given configuration, constructs every component, starts the
// background workers, and serves HTTP until ctx is canceled or the server
// fails. It always attempts a graceful shutdown of the HTTP server before
// returning.
func Run(ctx context.Context, cfg config.Config, newHandler RouterFactory) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	cat, err := catalog.Load(ctx, cfg.CatalogRemoteURL)
	if err != nil {
		return fmt.Errorf("serve: load catalog: %w", err)
	}

	queue, err := logqueue.New(cfg.RedisDSN)
	if err != nil {
		return fmt.Errorf("serve: connect log queue: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cache, err := thoughtcache.New(cfg.RedisDSN)
	if err != nil {
		return fmt.Errorf("serve: connect thought cache: %w", err)
	}
	defer func() { _ = cache.Close() }()

	registry := providers.NewRegistry()
	kh := keyhealth.New()

	d := dispatch.New(cat, cfg, kh, registry, queue)
	d.ThoughtCache = cache

	consumer := logqueue.NewConsumer(queue, st)
	go consumer.Run(ctx)

	batcher := billing.New(st, cfg.CreditBatchSize, cfg.CreditBatchInterval, cfg.BYOKFeePercentage, cfg.ReferralPercentage)
	go batcher.Run(ctx)
	batcher.EnableRetentionCleanup = cfg.EnableDataRetentionCleanup
	if cfg.EnableDataRetentionCleanup {
		go batcher.RunRetentionLoop(ctx)
	}

	aggregator := stats.New(st, cfg.StatsBatchSize, cfg.StatsBackfillEnabled, cfg.StatsBackfillDays, cfg.StatsStaleEnabled, cfg.StatsStaleDays)
	go aggregator.Run(ctx, cfg.ProjectStatsRefreshInterval)

	handler, err := newHandler(d, cat)
	if err != nil {
		return fmt.Errorf("serve: build router: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // matches spec.md §5's 300s overall request cap
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger.Info("gatewd: listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	return nil
}

// ParseCORSOrigins splits the CORS_ORIGINS env var the way the teacher's
// main.go does, used by both entry points so the env var name stays in one
// place.
func ParseCORSOrigins() []string {
	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		return nil
	}
	return strings.Split(origins, ",")
}
