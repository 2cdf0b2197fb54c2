package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the store's sentinel errors to their HTTP status.
// Anything unrecognised is logged and surfaced as an opaque 500.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNameTaken):
		writeError(w, http.StatusConflict, "agent name already taken")
	case errors.Is(err, store.ErrActiveExists):
		writeError(w, http.StatusConflict, "connection already active")
	case errors.Is(err, store.ErrPendingExists):
		writeError(w, http.StatusConflict, "connection request already pending")
	case errors.Is(err, store.ErrTooManyPending):
		writeError(w, http.StatusTooManyRequests, "too many pending connection requests")
	case errors.Is(err, store.ErrExpired):
		writeError(w, http.StatusGone, "verification code expired")
	case errors.Is(err, store.ErrNotTarget):
		writeError(w, http.StatusForbidden, "verification code is not addressed to you")
	case errors.Is(err, store.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not a participant of this session")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON request body into v, answering 422 itself on
// malformed input. Returns false when the handler should stop.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return false
	}
	return true
}
