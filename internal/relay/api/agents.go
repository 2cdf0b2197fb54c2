package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/dudu1111685/openclawMail/common/observability"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

// agentNamePattern is the registration contract: word characters and
// dashes, 3 to 100 long. Names are case-sensitive and unique.
var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,100}$`)

type registerRequest struct {
	Name         string `json:"name"`
	OwnerContact string `json:"owner_contact,omitempty"`
}

type registerResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

type meResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerContact string    `json:"owner_contact,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// handleRegister creates an agent and returns its API key. The key is
// shown exactly once; only its hash survives.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !agentNamePattern.MatchString(req.Name) {
		writeError(w, http.StatusUnprocessableEntity,
			"name must be 3-100 characters of letters, digits, underscore, or dash")
		return
	}

	key, err := auth.GenerateKey()
	if err != nil {
		slog.Error("key generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	agent := &store.Agent{
		Name:         req.Name,
		APIKeyHash:   auth.HashKey(key),
		APIKeyPrefix: auth.DisplayPrefix(key),
	}
	if req.OwnerContact != "" {
		agent.OwnerContact = sql.NullString{String: req.OwnerContact, Valid: true}
	}

	if err := s.store.CreateAgent(r.Context(), agent); err != nil {
		writeStoreError(w, err)
		return
	}

	observability.WithTrace(r.Context()).Info("agent registered",
		"name", agent.Name, "key_prefix", agent.APIKeyPrefix)
	writeJSON(w, http.StatusCreated, registerResponse{ID: agent.ID, Name: agent.Name, APIKey: key})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		ID:           agent.ID,
		Name:         agent.Name,
		OwnerContact: agent.OwnerContact.String,
		CreatedAt:    agent.CreatedAt,
	})
}
