package httpapi

import (
	"log/slog"
	"net/http"

	"pivotgate/internal/enginerr"
	"pivotgate/internal/logging"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusForKind maps engine error kinds to HTTP status codes.
func statusForKind(kind enginerr.Kind) int {
	switch kind {
	case enginerr.KindConfig, enginerr.KindBounds:
		return http.StatusBadRequest
	case enginerr.KindAuth:
		return http.StatusUnauthorized
	case enginerr.KindUnreachable, enginerr.KindDatabaseMissing:
		return http.StatusBadGateway
	case enginerr.KindPoolTimeout:
		return http.StatusServiceUnavailable
	case enginerr.KindQueryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError translates a classified engine error into a JSON response.
// Messages come from the engine taxonomy and never contain credentials.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := enginerr.KindOf(err)
	status := statusForKind(kind)

	reqLogger := logging.FromContext(r.Context())
	logFn := reqLogger.Warn
	if status >= 500 && !kind.Retryable() {
		logFn = reqLogger.Error
	}
	logFn("request failed",
		slog.String("path", r.URL.Path),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	)

	if kind.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{
		Error:     enginerr.MessageOf(err),
		Kind:      kind.String(),
		Retryable: kind.Retryable(),
	})
}
