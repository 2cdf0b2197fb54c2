package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is a message thread between exactly two agents. Within a connected
// pair the case-folded subject is the natural key: a second send with the
// same subject (any casing) appends to the existing session.
type Session struct {
	ID            string
	Subject       string
	InitiatorID   string
	ParticipantID string
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// HasParticipant reports whether the agent is one of the session's two sides.
func (s *Session) HasParticipant(agentID string) bool {
	return s.InitiatorID == agentID || s.ParticipantID == agentID
}

// OtherParticipant returns the ID of the session's other side.
func (s *Session) OtherParticipant(agentID string) string {
	if s.InitiatorID == agentID {
		return s.ParticipantID
	}
	return s.InitiatorID
}

const sessionColumns = "id, subject, initiator_id, participant_id, created_at, last_message_at"

func scanSessionRow(scan func(dest ...any) error) (*Session, error) {
	sess := &Session{}
	err := scan(&sess.ID, &sess.Subject, &sess.InitiatorID, &sess.ParticipantID,
		&sess.CreatedAt, &sess.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	return scanSessionRow(row.Scan)
}

// ListSessionsForAgent returns every session the agent participates in,
// most recently active first.
func (s *Store) ListSessionsForAgent(ctx context.Context, agentID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE initiator_id = ? OR participant_id = ?
		ORDER BY last_message_at DESC
	`, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}
