package gatewayhttp

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/relaywire/gatewd/dispatch"
)

func TestWriteOpenAIError(t *testing.T) {
	w := httptest.NewRecorder()
	writeOpenAIError(w, 400, "bad input", "invalid_request_error")

	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var body map[string]map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	if body["error"]["message"] != "bad input" || body["error"]["type"] != "invalid_request_error" {
		t.Errorf("error body = %+v", body)
	}
}

func TestWriteDispatchError_UsesDispatchErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := &dispatch.Error{Kind: dispatch.KindUpstream5xx, HTTPStatus: 502, Message: "upstream failed"}
	writeDispatchError(w, err)

	if w.Code != 502 {
		t.Errorf("status = %d, want 502 from the dispatch.Error", w.Code)
	}
}

func TestWriteDispatchError_FallsBackToServerErrorForPlainErrors(t *testing.T) {
	w := httptest.NewRecorder()
	writeDispatchError(w, errors.New("boom"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 for a non-dispatch error", w.Code)
	}
}
