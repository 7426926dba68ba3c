package gatewayhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/relaywire/gatewd/dispatch"
)

// sseKeepaliveInterval is spec.md §4.5/§5's 15s idle-silence bound.
const sseKeepaliveInterval = 15 * time.Second

// writeChatStream relays outcome.Stream to the client as
// chat.completion.chunk SSE events, terminated by a single "data: [DONE]".
//
// Grounded on the teacher's writeSSE (cmd/ferrogw/main.go), widened with the
// keepalive loop spec.md §4.5 requires: race the channel receive against a
// 15s timer, and on timeout re-arm the SAME timer without starting a second
// concurrent receive — the channel receive itself never restarts, only the
// timer does.
func writeChatStream(w http.ResponseWriter, r *http.Request, outcome *dispatch.Outcome) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	ch := outcome.Stream

	timer := time.NewTimer(sseKeepaliveInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
				if flusher != nil {
					flusher.Flush()
				}
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(sseKeepaliveInterval)

			if chunk.Error != nil {
				writeSSEError(w, flusher, chunk.Error.Error())
				return
			}
			wire := canonicalChunkToWire(id, created, chunk)
			writeSSEEvent(w, flusher, wire)
		case <-timer.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			if flusher != nil {
				flusher.Flush()
			}
			timer.Reset(sseKeepaliveInterval)
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, wire wireChatCompletionChunk) {
	data, _ := json.Marshal(wire)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	errData, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{"message": message, "type": "stream_error"},
	})
	_, _ = fmt.Fprintf(w, "data: %s\n\n", errData)
	if flusher != nil {
		flusher.Flush()
	}
}

// writeOpenAIError writes an OpenAI-compatible JSON error response, mirroring
// the teacher's helper of the same name in cmd/ferrogw/main.go.
func writeOpenAIError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
		},
	})
}

// writeDispatchError surfaces a *dispatch.Error at the HTTP status and error
// taxonomy spec.md §7 defines.
func writeDispatchError(w http.ResponseWriter, err error) {
	if de, ok := dispatch.AsDispatchError(err); ok {
		writeOpenAIError(w, de.HTTPStatus, de.Message, string(de.Kind))
		return
	}
	writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error")
}
