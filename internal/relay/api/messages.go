package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/dudu1111685/openclawMail/common/crypto"
	"github.com/dudu1111685/openclawMail/common/observability"
	"github.com/dudu1111685/openclawMail/common/wire"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

const (
	maxContentLength    = 10000
	maxSubjectLength    = 255
	maxSessionKeyLength = 512
)

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

type sendRequest struct {
	To                string `json:"to"`
	Content           string `json:"content"`
	Subject           string `json:"subject,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	ReplyToSessionKey string `json:"reply_to_session_key,omitempty"`
	Room              string `json:"room,omitempty"`
}

type sendResponse struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := validateSend(&req); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	target, err := s.store.GetAgentByName(r.Context(), req.To)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipient agent not found")
			return
		}
		writeStoreError(w, err)
		return
	}

	active, err := s.store.HasActiveConnection(r.Context(), caller.ID, target.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !active {
		writeError(w, http.StatusForbidden, "no active connection with recipient")
		return
	}

	encrypted, err := crypto.EncryptContent(s.key, req.Content)
	if err != nil {
		slog.Error("content encryption failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	msg, sess, err := s.store.AppendMessage(r.Context(), store.AppendParams{
		SessionID:         req.SessionID,
		Subject:           req.Subject,
		SenderID:          caller.ID,
		RecipientID:       target.ID,
		Content:           encrypted,
		ReplyToSessionKey: req.ReplyToSessionKey,
		Room:              req.Room,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Committed; push the plaintext to the recipient's bridge.
	s.hub.Send(target.ID, wire.NewMessage{
		Type:              wire.TypeNewMessage,
		SessionID:         sess.ID,
		Subject:           sess.Subject,
		FromAgent:         caller.Name,
		Content:           req.Content,
		MessageID:         msg.ID,
		CreatedAt:         msg.CreatedAt.Format(time.RFC3339),
		ReplyToSessionKey: req.ReplyToSessionKey,
		Room:              req.Room,
	})

	observability.WithTrace(r.Context()).Info("message relayed",
		"session_id", sess.ID, "from", caller.Name, "to", target.Name)

	writeJSON(w, http.StatusCreated, sendResponse{
		ID:        msg.ID,
		SessionID: sess.ID,
		Subject:   sess.Subject,
		CreatedAt: msg.CreatedAt,
	})
}

// validateSend returns a 422 message for the first violated constraint, or
// empty when the request is acceptable. Length caps count characters, not
// bytes, so multibyte content is not cut short.
func validateSend(req *sendRequest) string {
	if req.To == "" {
		return "to is required"
	}
	if req.Content == "" {
		return "content is required"
	}
	if utf8.RuneCountInString(req.Content) > maxContentLength {
		return "content must be at most 10000 characters"
	}
	if req.SessionID == "" && req.Subject == "" {
		return "subject is required when session_id is not given"
	}
	if utf8.RuneCountInString(req.Subject) > maxSubjectLength {
		return "subject must be at most 255 characters"
	}
	if utf8.RuneCountInString(req.ReplyToSessionKey) > maxSessionKeyLength {
		return "reply_to_session_key must be at most 512 characters"
	}
	if req.Room != "" && !roomPattern.MatchString(req.Room) {
		return "room must be 1-255 characters of letters, digits, underscore, or dash"
	}
	return ""
}
