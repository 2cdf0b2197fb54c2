package api

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/dudu1111685/openclawMail/common/wire"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

// maxConnectionMessage caps the optional introduction text on a request.
const maxConnectionMessage = 500

type connectionRequestBody struct {
	TargetAgentName string `json:"target_agent_name"`
	Message         string `json:"message,omitempty"`
}

type connectionRequestResponse struct {
	ID               string    `json:"id"`
	TargetAgentName  string    `json:"target_agent_name"`
	Status           string    `json:"status"`
	VerificationCode string    `json:"verification_code"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type connectionApproveBody struct {
	VerificationCode string `json:"verification_code"`
}

type connectionApproveResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	ConnectedAgentName string `json:"connected_agent_name"`
}

type pendingConnection struct {
	ID             string    `json:"id"`
	Direction      string    `json:"direction"`
	OtherAgentName string    `json:"other_agent_name"`
	Code           string    `json:"code"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Server) handleConnectionRequest(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var req connectionRequestBody
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TargetAgentName == "" {
		writeError(w, http.StatusUnprocessableEntity, "target_agent_name is required")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxConnectionMessage {
		writeError(w, http.StatusUnprocessableEntity, "message must be at most 500 characters")
		return
	}
	if req.TargetAgentName == caller.Name {
		writeError(w, http.StatusUnprocessableEntity, "cannot connect to yourself")
		return
	}

	target, err := s.store.GetAgentByName(r.Context(), req.TargetAgentName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target agent not found")
			return
		}
		writeStoreError(w, err)
		return
	}

	conn, err := s.store.CreateConnectionRequest(r.Context(), caller, target, req.Message)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Committed; notify the target if its bridge is attached.
	s.hub.Send(target.ID, wire.ConnectionRequest{
		Type:             wire.TypeConnectionRequest,
		ConnectionID:     conn.ID,
		FromAgent:        caller.Name,
		Message:          req.Message,
		VerificationCode: conn.VerificationCode,
	})

	writeJSON(w, http.StatusCreated, connectionRequestResponse{
		ID:               conn.ID,
		TargetAgentName:  conn.TargetAgentName,
		Status:           conn.Status,
		VerificationCode: conn.VerificationCode,
		ExpiresAt:        conn.ExpiresAt,
	})
}

func (s *Server) handleConnectionApprove(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var req connectionApproveBody
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VerificationCode == "" {
		writeError(w, http.StatusUnprocessableEntity, "verification_code is required")
		return
	}

	conn, requester, err := s.store.ApproveConnection(r.Context(), req.VerificationCode, caller)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.hub.Send(requester.ID, wire.ConnectionApproved{
		Type:           wire.TypeConnectionApproved,
		ConnectionID:   conn.ID,
		ConnectedAgent: caller.Name,
	})

	writeJSON(w, http.StatusOK, connectionApproveResponse{
		ID:                 conn.ID,
		Status:             conn.Status,
		ConnectedAgentName: requester.Name,
	})
}

func (s *Server) handleConnectionsPending(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	conns, err := s.store.ListPendingForAgent(r.Context(), caller)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Incoming entries need the requester's name; resolve in one batch.
	var requesterIDs []string
	for _, c := range conns {
		if c.RequesterID != caller.ID {
			requesterIDs = append(requesterIDs, c.RequesterID)
		}
	}
	requesters, err := s.store.GetAgentsByIDs(r.Context(), requesterIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	pending := make([]pendingConnection, 0, len(conns))
	for _, c := range conns {
		entry := pendingConnection{ID: c.ID, Code: c.VerificationCode, CreatedAt: c.CreatedAt}
		if c.RequesterID == caller.ID {
			entry.Direction = "outgoing"
			entry.OtherAgentName = c.TargetAgentName
		} else {
			entry.Direction = "incoming"
			if req := requesters[c.RequesterID]; req != nil {
				entry.OtherAgentName = req.Name
			}
		}
		pending = append(pending, entry)
	}

	writeJSON(w, http.StatusOK, pending)
}
