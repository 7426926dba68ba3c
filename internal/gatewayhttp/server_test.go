package gatewayhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDFrom_UsesHeaderWhenPresent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	if got := requestIDFrom(req); got != "req-123" {
		t.Errorf("requestIDFrom() = %q, want req-123", got)
	}
}

func TestRequestIDFrom_GeneratesWhenMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if got := requestIDFrom(req); got == "" {
		t.Error("requestIDFrom() = \"\", want a generated id")
	}
}

func TestAPIKeyIDFrom(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*http.Request)
		want   string
	}{
		{"explicit header wins", func(r *http.Request) { r.Header.Set("X-Api-Key-Id", "key-1") }, "key-1"},
		{"falls back to bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer sk-abc") }, "sk-abc"},
		{"empty when neither present", func(r *http.Request) {}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			tc.setup(req)
			if got := apiKeyIDFrom(req); got != tc.want {
				t.Errorf("apiKeyIDFrom() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestModeFrom(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{"explicit header wins", func(r *http.Request) { r.Header.Set("X-Gateway-Mode", "hybrid") }, "hybrid"},
		{"byok key implies api-keys", func(r *http.Request) { r.Header.Set("X-LLMGateway-Key", "x") }, "api-keys"},
		{"defaults to credits", func(r *http.Request) {}, "credits"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			tc.setup(req)
			if got := modeFrom(req); got != tc.want {
				t.Errorf("modeFrom() = %q, want %q", got, tc.want)
			}
		})
	}
}
