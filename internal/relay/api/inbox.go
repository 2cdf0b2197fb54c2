package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dudu1111685/openclawMail/common/crypto"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

// inboxPreviewSize is how many trailing messages each inbox session carries.
const inboxPreviewSize = 3

const (
	defaultHistoryLimit = 3
	maxHistoryLimit     = 50
)

type messageView struct {
	ID        string    `json:"id"`
	FromAgent string    `json:"from_agent"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type inboxSession struct {
	SessionID      string        `json:"session_id"`
	Subject        string        `json:"subject"`
	OtherAgentName string        `json:"other_agent_name"`
	UnreadCount    int           `json:"unread_count"`
	LastMessageAt  time.Time     `json:"last_message_at"`
	Messages       []messageView `json:"messages"`
}

type inboxPending struct {
	ID               string    `json:"id"`
	FromAgent        string    `json:"from_agent"`
	Message          string    `json:"message,omitempty"`
	VerificationCode string    `json:"verification_code"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type inboxResponse struct {
	Sessions           []inboxSession `json:"sessions"`
	PendingConnections []inboxPending `json:"pending_connections"`
}

type historyResponse struct {
	SessionID string        `json:"session_id"`
	Subject   string        `json:"subject"`
	Messages  []messageView `json:"messages"`
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread_only"))

	sessions, err := s.store.ListSessionsForAgent(r.Context(), caller.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	unread, err := s.store.UnreadCounts(r.Context(), caller.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	pendingConns, err := s.store.ListPendingTargeting(r.Context(), caller.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Gather the previews first so every name (session peers, message
	// senders, connection requesters) resolves in one batched lookup.
	previews := make(map[string][]*store.Message, len(sessions))
	idSet := make(map[string]struct{})
	for _, sess := range sessions {
		if unreadOnly && unread[sess.ID] == 0 {
			continue
		}
		msgs, err := s.store.RecentMessages(r.Context(), sess.ID, inboxPreviewSize)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		previews[sess.ID] = msgs
		idSet[sess.OtherParticipant(caller.ID)] = struct{}{}
		for _, m := range msgs {
			idSet[m.SenderID] = struct{}{}
		}
	}
	for _, c := range pendingConns {
		idSet[c.RequesterID] = struct{}{}
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	names, err := s.store.GetAgentsByIDs(r.Context(), ids)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	nameOf := func(id string) string {
		if a := names[id]; a != nil {
			return a.Name
		}
		return "unknown"
	}

	out := inboxResponse{Sessions: []inboxSession{}, PendingConnections: []inboxPending{}}
	for _, sess := range sessions {
		msgs, ok := previews[sess.ID]
		if !ok {
			continue
		}
		entry := inboxSession{
			SessionID:      sess.ID,
			Subject:        sess.Subject,
			OtherAgentName: nameOf(sess.OtherParticipant(caller.ID)),
			UnreadCount:    unread[sess.ID],
			LastMessageAt:  sess.LastMessageAt,
			Messages:       make([]messageView, 0, len(msgs)),
		}
		// RecentMessages is newest first; the inbox shows chronological.
		for i := len(msgs) - 1; i >= 0; i-- {
			entry.Messages = append(entry.Messages, s.viewMessage(msgs[i], nameOf))
		}
		out.Sessions = append(out.Sessions, entry)
	}

	for _, c := range pendingConns {
		out.PendingConnections = append(out.PendingConnections, inboxPending{
			ID:               c.ID,
			FromAgent:        nameOf(c.RequesterID),
			Message:          c.Message.String,
			VerificationCode: c.VerificationCode,
			CreatedAt:        c.CreatedAt,
			ExpiresAt:        c.ExpiresAt,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !sess.HasParticipant(caller.ID) {
		writeError(w, http.StatusForbidden, "not a participant of this session")
		return
	}

	msgs, err := s.store.HistoryAndMarkRead(r.Context(), sess.ID, caller.ID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	senderIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
	}
	names, err := s.store.GetAgentsByIDs(r.Context(), senderIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	nameOf := func(id string) string {
		if a := names[id]; a != nil {
			return a.Name
		}
		return "unknown"
	}

	out := historyResponse{SessionID: sess.ID, Subject: sess.Subject, Messages: make([]messageView, 0, len(msgs))}
	// HistoryAndMarkRead is newest first; present chronological.
	for i := len(msgs) - 1; i >= 0; i-- {
		out.Messages = append(out.Messages, s.viewMessage(msgs[i], nameOf))
	}
	writeJSON(w, http.StatusOK, out)
}

// viewMessage decrypts a stored message for a response body.
func (s *Server) viewMessage(m *store.Message, nameOf func(string) string) messageView {
	return messageView{
		ID:        m.ID,
		FromAgent: nameOf(m.SenderID),
		Content:   crypto.DecryptContent(s.key, m.Content),
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
}
