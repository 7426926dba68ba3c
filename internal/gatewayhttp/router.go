package gatewayhttp

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/dispatch"
	"github.com/relaywire/gatewd/internal/logging"
	"github.com/relaywire/gatewd/internal/version"
)

// NewHandler builds the gateway's HTTP handler: it compiles the request
// schema, bundles the handler dependencies into a Server, and wires the
// chi router. Both cmd/gatewd and cmd/gatewctl's serve command call this so
// the route table and middleware stack live in exactly one place.
func NewHandler(d *dispatch.Dispatcher, cat *catalog.Catalog, corsOrigins []string) (http.Handler, error) {
	schema, err := newRequestSchema()
	if err != nil {
		return nil, fmt.Errorf("gatewayhttp: %w", err)
	}
	s := &Server{dispatcher: d, catalog: cat, schema: schema}
	return newRouter(s, corsOrigins), nil
}

// newRouter builds the HTTP router, grounded on the teacher's
// cmd/ferrogw/main.go newRouter: chi with Recoverer/RealIP, the trace-id
// logging middleware and CORS, then explicit routes, with /metrics and /healthz added for
// this module's own observability surface.
func newRouter(s *Server, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gatewd " + version.Short() + " OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	return r
}

// corsMiddleware adapts the teacher's cmd/ferrogw/cors.go verbatim
// (same allow-list/allow-any behavior), widened to allow the
// X-LLMGateway-Key/X-No-Fallback/X-Source headers this gateway's clients send.
func corsMiddleware(allowedOrigins ...string) func(http.Handler) http.Handler {
	allowAny := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, value := range allowedOrigins {
		origin := strings.TrimSpace(value)
		if origin == "" {
			continue
		}
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowAny {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				requestOrigin := r.Header.Get("Origin")
				if _, ok := allowed[requestOrigin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", requestOrigin)
					w.Header().Set("Vary", "Origin")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-LLMGateway-Key, X-No-Fallback, X-Source, X-Organization-Id, X-Project-Id, X-Api-Key-Id, X-Gateway-Mode")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
