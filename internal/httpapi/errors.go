package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// errorBody is the JSON shape spec.md §7 requires: error.kind,
// error.message, request_id.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError inspects err's KindedError taxonomy (spec.md §7) and writes
// the matching structured body; unrecognized errors fall back to 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var kinded domain.KindedError
	status := http.StatusInternalServerError
	kind := "Internal"

	if errors.As(err, &kinded) {
		status = kinded.HTTPStatus()
		kind = string(kinded.Kind())
	} else {
		logger.Error("unhandled error", slog.String("error", err.Error()))
	}

	body := errorBody{RequestID: chimw.GetReqID(r.Context())}
	body.Error.Kind = kind
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func writeValidationError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, message string) {
	writeError(w, r, logger, &domain.ValidationError{Message: message})
}
