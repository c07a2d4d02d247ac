package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/storynest/vignette/internal/vignette"
)

// envelope is the shape of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: fmt.Sprintf(format, args...)})
}

// statusClientClosedRequest is nginx's code for a caller that went away
// before the response was ready.
const statusClientClosedRequest = 499

// writeError reports a pipeline error with the status its kind maps to.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Debug("request canceled by client", "error", err)
		httpError(w, statusClientClosedRequest, "request canceled")
		return
	}
	kind := vignette.KindOf(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "kind", kind, "error", err)
	}
	httpError(w, code, "%s: %v", kind, err)
}

func statusFor(kind vignette.Kind) int {
	switch kind {
	case vignette.KindInvalidInput:
		return http.StatusBadRequest
	case vignette.KindUnauthorized:
		return http.StatusUnauthorized
	case vignette.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
