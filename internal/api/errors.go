package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/baseswap/orchestrator/internal/apperr"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/pkg/logging"
)

// genericInternalMessage is returned to clients in place of any Internal-kind
// error's real text (spec §10.2: the underlying cause is logged, never
// echoed back over the wire).
const genericInternalMessage = "internal error"

// errorResponse is the JSON body returned for any 4xx/5xx response
// (spec §6.1: `{ "error": { "code", "message" } }`).
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func statusForError(err error) int {
	if errors.Is(err, session.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, session.ErrAlreadyExists) || errors.Is(err, session.ErrHashlockInUse) {
		return http.StatusConflict
	}

	switch apperr.KindOf(err) {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvariantViolation:
		return http.StatusUnprocessableEntity
	case apperr.ChainUnavailable:
		return http.StatusServiceUnavailable
	case apperr.StateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "state_conflict"
	case http.StatusUnprocessableEntity:
		return "invariant_violation"
	case http.StatusServiceUnavailable:
		return "chain_unavailable"
	default:
		return "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	message := err.Error()
	if apperr.KindOf(err) == apperr.Internal {
		logging.GetDefault().Component("api").Error("internal error serving request", "error", err)
		message = genericInternalMessage
	}
	writeErrorStatus(w, status, message)
}

func writeErrorStatus(w http.ResponseWriter, status int, message string) {
	resp := errorResponse{}
	resp.Error.Code = codeForStatus(status)
	resp.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
