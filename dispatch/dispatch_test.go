package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/config"
	"github.com/relaywire/gatewd/keyhealth"
	"github.com/relaywire/gatewd/providers"
)

type fakeAdapter struct {
	id       string
	response string
	status   int
	buildErr error
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) BuildRequest(req providers.Request) (string, string, map[string]string, []byte, error) {
	if f.buildErr != nil {
		return "", "", nil, nil, f.buildErr
	}
	return http.MethodPost, "https://upstream.example/v1/chat", map[string]string{"Authorization": "Bearer x"}, []byte(`{}`), nil
}

func (f *fakeAdapter) ParseResponse(body []byte) (providers.CanonicalResponse, error) {
	return providers.CanonicalResponse{
		Content:          "hello",
		FinishReason:     "stop",
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
	}, nil
}

type fakeDoer struct {
	status int
	body   string
	err    error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(bytes.NewBufferString(f.body)),
		Header:     make(http.Header),
	}, nil
}

func testCatalog(providerID, modelID string, stability catalog.Stability) *catalog.Catalog {
	return &catalog.Catalog{
		Providers: map[string]catalog.Provider{
			providerID: {ID: providerID, Name: providerID, Priority: 1, Streaming: true},
		},
		Models: map[string]catalog.Model{
			modelID: {
				ID:        modelID,
				Mode:      catalog.ModeChat,
				Stability: catalog.StabilityStable,
				Providers: []catalog.Mapping{
					{ProviderID: providerID, ModelName: modelID, InputPrice: 1, OutputPrice: 2, Streaming: true, Stability: stability},
				},
			},
		},
	}
}

func testConfig(providerID string) config.Config {
	return config.Config{
		ProviderAPIKeyEnv: map[string]string{providerID: "TESTPROV_API_KEY"},
	}
}

func TestDispatch_Success(t *testing.T) {
	t.Setenv("TESTPROV_API_KEY", "k1,k2")

	cat := testCatalog("testprov", "test-model", catalog.StabilityStable)
	reg := providers.NewRegistry()
	reg.Register("testprov", func(providers.Credentials) (providers.Adapter, error) {
		return &fakeAdapter{id: "testprov"}, nil
	})

	d := New(cat, testConfig("testprov"), keyhealth.New(), reg, nil)
	d.HTTPClient = &fakeDoer{status: 200, body: `{}`}

	out, err := d.Dispatch(context.Background(), Input{
		RequestID: "req-1", OrganizationID: "org-1", ProjectID: "proj-1", Mode: "credits",
		Request: providers.Request{Model: "test-model"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Response == nil || out.Response.Content != "hello" {
		t.Fatalf("unexpected response: %+v", out.Response)
	}
	if out.ChosenProvider != "testprov" {
		t.Fatalf("chosen provider = %q, want testprov", out.ChosenProvider)
	}
}

func TestDispatch_UnknownModelIsBadRequest(t *testing.T) {
	cat := testCatalog("testprov", "test-model", catalog.StabilityStable)
	reg := providers.NewRegistry()
	d := New(cat, testConfig("testprov"), keyhealth.New(), reg, nil)

	_, err := d.Dispatch(context.Background(), Input{
		Request: providers.Request{Model: "does-not-exist"},
	})
	de, ok := AsDispatchError(err)
	if !ok || de.Kind != KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestDispatch_FiltersUnstableMappings(t *testing.T) {
	cat := testCatalog("testprov", "test-model", catalog.StabilityExperimental)
	reg := providers.NewRegistry()
	d := New(cat, testConfig("testprov"), keyhealth.New(), reg, nil)

	_, err := d.Dispatch(context.Background(), Input{
		Request: providers.Request{Model: "test-model"},
	})
	de, ok := AsDispatchError(err)
	if !ok || de.Kind != KindBadRequest {
		t.Fatalf("expected BadRequest (no stable candidates), got %v", err)
	}
}

func TestDispatch_UpstreamErrorIsReportedAgainstKey(t *testing.T) {
	t.Setenv("TESTPROV_API_KEY", "onlykey")

	cat := testCatalog("testprov", "test-model", catalog.StabilityStable)
	reg := providers.NewRegistry()
	reg.Register("testprov", func(providers.Credentials) (providers.Adapter, error) {
		return &fakeAdapter{id: "testprov"}, nil
	})

	kh := keyhealth.New()
	d := New(cat, testConfig("testprov"), kh, reg, nil)
	d.HTTPClient = &fakeDoer{status: 500, body: `{"error":"boom"}`}

	_, err := d.Dispatch(context.Background(), Input{
		Request: providers.Request{Model: "test-model"},
	})
	de, ok := AsDispatchError(err)
	if !ok || de.Kind != KindUpstream5xx {
		t.Fatalf("expected Upstream5xx, got %v", err)
	}
	if m := kh.Metrics("TESTPROV_API_KEY", 0); m.Errors != 1 {
		t.Errorf("key health errors = %d, want 1", m.Errors)
	}
}

func TestDispatch_BYOKUsesCallerKeyDirectly(t *testing.T) {
	cat := testCatalog("testprov", "test-model", catalog.StabilityStable)
	reg := providers.NewRegistry()
	var capturedKey string
	reg.Register("testprov", func(c providers.Credentials) (providers.Adapter, error) {
		capturedKey = c.APIKey
		return &fakeAdapter{id: "testprov"}, nil
	})

	d := New(cat, testConfig("testprov"), keyhealth.New(), reg, nil)
	d.HTTPClient = &fakeDoer{status: 200, body: `{}`}

	_, err := d.Dispatch(context.Background(), Input{
		Mode:    "api-keys",
		BYOKKey: "byok-secret",
		Request: providers.Request{Model: "test-model"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if capturedKey != "byok-secret" {
		t.Fatalf("adapter built with key %q, want byok-secret", capturedKey)
	}
}

func TestIAMPolicyDeniesModel(t *testing.T) {
	cat := testCatalog("testprov", "test-model", catalog.StabilityStable)
	reg := providers.NewRegistry()
	d := New(cat, testConfig("testprov"), keyhealth.New(), reg, nil)

	_, err := d.Dispatch(context.Background(), Input{
		IAM:     &IAMPolicy{DenyModels: []string{"test-model"}},
		Request: providers.Request{Model: "test-model"},
	})
	de, ok := AsDispatchError(err)
	if !ok || de.Kind != KindBadRequest {
		t.Fatalf("expected BadRequest from IAM deny, got %v", err)
	}
}

func TestKindUnifiedFinishReason(t *testing.T) {
	cases := map[Kind]string{
		KindCanceled:        "canceled",
		KindUpstream4xx:     "upstream_error",
		KindUpstream5xx:     "upstream_error",
		KindBadRequest:      "client_error",
		KindGatewayInternal: "gateway_error",
	}
	for k, want := range cases {
		if got := k.UnifiedFinishReason(); got != want {
			t.Errorf("%s.UnifiedFinishReason() = %q, want %q", k, got, want)
		}
	}
}

