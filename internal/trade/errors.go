package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atmx/margin-pool/internal/auth"
	"github.com/atmx/margin-pool/internal/ledger"
	"github.com/atmx/margin-pool/internal/model"
	"github.com/atmx/margin-pool/internal/oracle"
	"github.com/atmx/margin-pool/internal/pool"
	"github.com/atmx/margin-pool/internal/position"
)

// ErrorResponse is the JSON body of every failed request. Code and Kind are
// set for engine failures and are stable across releases.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// IsNotFound reports errors about something that does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, position.ErrNoPositionExists) ||
		errors.Is(err, ledger.ErrUnknownAsset) ||
		errors.Is(err, oracle.ErrPriceNotFound)
}

// IsConflict reports errors caused by the current state rather than the
// request itself.
func IsConflict(err error) bool {
	for _, target := range []error{
		pool.ErrNotInitialized, pool.ErrAlreadyInitialized,
		position.ErrNotInitialized, position.ErrAlreadyInitialized,
		position.ErrPositionAlreadyExists, ledger.ErrAssetExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsUnauthorized reports errors raised because the caller lacks authority.
func IsUnauthorized(err error) bool {
	return errors.Is(err, auth.ErrUnauthorized) ||
		errors.Is(err, auth.ErrArgsMismatch) ||
		errors.Is(err, auth.ErrGrantConsumed) ||
		errors.Is(err, auth.ErrGrantMismatch)
}

func statusFor(err error) int {
	switch {
	case IsUnauthorized(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, pool.ErrInvalidTokenAddress):
		return http.StatusBadRequest
	case errors.Is(err, oracle.ErrStalePriceData):
		return http.StatusServiceUnavailable
	}
	if _, ok := model.CodeOf(err); ok {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeEngineError maps an engine failure onto an HTTP status and logs it.
func writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if coded, ok := model.CodeOf(err); ok {
		resp.Code = coded.Code
		resp.Kind = coded.Name
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "op", op, "path", r.URL.Path, "err", err)
		resp.Error = "internal error"
	} else {
		slog.Warn("request rejected", "op", op, "status", status, "err", err)
	}
	writeJSON(w, status, resp)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
