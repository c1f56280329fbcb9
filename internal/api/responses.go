package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/josepht96/scoutrun/internal/assertion"
	"github.com/josepht96/scoutrun/internal/auth"
	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
)

// errBadRequest wraps malformed bodies and path parameters.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error   string                      `json:"error"`
	Details []transform.ValidationError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// statusFor maps an error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, runner.ErrValidation),
		errors.Is(err, transform.ErrInvalidSpec),
		errors.Is(err, assertion.ErrInvalidAssertion):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes {"error": ...}. Internal errors are logged and their
// message withheld.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		resp.Error = http.StatusText(status)
	}
	var specErr *transform.SpecError
	if errors.As(err, &specErr) {
		resp.Details = specErr.Errors
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="scoutrun"`)
	}
	writeJSON(w, status, resp)
}

// decodeJSON decodes the request body into v. An empty body leaves v unset.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return id, nil
}
