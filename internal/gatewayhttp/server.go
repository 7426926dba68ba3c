package gatewayhttp

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/dispatch"
)

// Server bundles the handlers' dependencies: the Dispatcher and catalog for
// request handling, plus the compiled request schema.
type Server struct {
	dispatcher *dispatch.Dispatcher
	catalog    *catalog.Catalog
	schema     *requestSchema
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// apiKeyIDFrom extracts the gateway API key identity from the Authorization
// header. Resolving a bearer token to an organization/project is an external
// auth collaborator's job (spec.md §1 Non-goals); the gateway only needs a
// stable identifier to attach to the log record and credit/usage batching.
func apiKeyIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Api-Key-Id"); id != "" {
		return id
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

// modeFrom reports the billing mode (api-keys/credits/hybrid) for this
// request. An external auth layer is expected to resolve and forward it via
// X-Gateway-Mode; BYOK requests (X-LLMGateway-Key present) default to
// api-keys, everything else to credits.
func modeFrom(r *http.Request) string {
	if m := r.Header.Get("X-Gateway-Mode"); m != "" {
		return m
	}
	if r.Header.Get("X-LLMGateway-Key") != "" {
		return "api-keys"
	}
	return "credits"
}
