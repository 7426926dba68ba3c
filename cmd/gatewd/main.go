// Command gatewd runs the gateway's HTTP server and its background
// workers (log consumer, credit batcher, stats aggregator) in one process.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/config"
	"github.com/relaywire/gatewd/dispatch"
	"github.com/relaywire/gatewd/internal/gatewayhttp"
	"github.com/relaywire/gatewd/internal/serve"
)

func main() {
	cfg, err := config.Load(os.Getenv("GATEWD_CONFIG"))
	if err != nil {
		log.Fatalf("gatewd: load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	corsOrigins := serve.ParseCORSOrigins()
	newHandler := func(d *dispatch.Dispatcher, cat *catalog.Catalog) (http.Handler, error) {
		return gatewayhttp.NewHandler(d, cat, corsOrigins)
	}

	if err := serve.Run(ctx, cfg, newHandler); err != nil {
		log.Fatalf("gatewd: %v", err)
	}
}
