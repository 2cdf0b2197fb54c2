package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one entry in a session. Content arrives here already encrypted;
// the store never sees plaintext for newly written messages. IsRead is only
// meaningful for the recipient side.
type Message struct {
	ID                string
	SessionID         string
	SenderID          string
	Content           string
	IsRead            bool
	ReplyToSessionKey sql.NullString
	Room              sql.NullString
	CreatedAt         time.Time
}

// AppendParams drives AppendMessage. When SessionID is set, Subject is
// ignored for threading; otherwise Subject (case-folded) finds or creates
// the session between sender and recipient.
type AppendParams struct {
	SessionID         string
	Subject           string
	SenderID          string
	RecipientID       string
	Content           string
	ReplyToSessionKey string
	Room              string
}

const messageColumns = "id, session_id, sender_id, content, is_read, reply_to_session_key, room, created_at"

func scanMessageRows(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Content,
			&m.IsRead, &m.ReplyToSessionKey, &m.Room, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return msgs, nil
}

// AppendMessage persists one message atomically with its session bookkeeping:
// resolve or create the session, insert the message, and advance
// last_message_at to the message's created_at. Returns the stored message
// and its session.
//
// Errors: ErrNotFound (explicit session missing), ErrNotParticipant (sender
// or recipient outside the session pair).
func (s *Store) AppendMessage(ctx context.Context, p AppendParams) (*Message, *Session, error) {
	now := utcNow()
	var msg *Message
	var sess *Session

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if p.SessionID != "" {
			row := tx.QueryRowContext(ctx,
				"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", p.SessionID)
			sess, err = scanSessionRow(row.Scan)
			if err != nil {
				return err
			}
			if !sess.HasParticipant(p.SenderID) || !sess.HasParticipant(p.RecipientID) {
				return ErrNotParticipant
			}
		} else {
			sess, err = findOrCreateSession(ctx, tx, p.Subject, p.SenderID, p.RecipientID, now)
			if err != nil {
				return err
			}
		}

		msg = &Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			SenderID:  p.SenderID,
			Content:   p.Content,
			CreatedAt: now,
		}
		if p.ReplyToSessionKey != "" {
			msg.ReplyToSessionKey = sql.NullString{String: p.ReplyToSessionKey, Valid: true}
		}
		if p.Room != "" {
			msg.Room = sql.NullString{String: p.Room, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages
				(id, session_id, sender_id, content, is_read, reply_to_session_key, room, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		`, msg.ID, msg.SessionID, msg.SenderID, msg.Content,
			msg.ReplyToSessionKey, msg.Room, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET last_message_at = ? WHERE id = ?", now, sess.ID)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		sess.LastMessageAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, sess, nil
}

// findOrCreateSession looks up the session keyed by case-folded subject over
// the unordered agent pair, creating it when absent.
func findOrCreateSession(ctx context.Context, tx *sql.Tx, subject, senderID, recipientID string, now time.Time) (*Session, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE lower(subject) = ?
		  AND ((initiator_id = ? AND participant_id = ?) OR (initiator_id = ? AND participant_id = ?))
	`, strings.ToLower(subject), senderID, recipientID, recipientID, senderID)

	sess, err := scanSessionRow(row.Scan)
	if err == nil {
		return sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	sess = &Session{
		ID:            uuid.NewString(),
		Subject:       subject,
		InitiatorID:   senderID,
		ParticipantID: recipientID,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, subject, initiator_id, participant_id, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Subject, sess.InitiatorID, sess.ParticipantID, sess.CreatedAt, sess.LastMessageAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// UnreadCounts returns, per session the reader participates in, the number of
// unread messages sent by the other side. Sessions with zero unread are
// absent from the map.
func (s *Store) UnreadCounts(ctx context.Context, readerID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, COUNT(1)
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE (s.initiator_id = ? OR s.participant_id = ?)
		  AND m.sender_id <> ?
		  AND m.is_read = 0
		GROUP BY m.session_id
	`, readerID, readerID, readerID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sessionID string
		var n int
		if err := rows.Scan(&sessionID, &n); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[sessionID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unread counts: %w", err)
	}
	return counts, nil
}

// RecentMessages returns the session's last limit messages, newest first.
// Callers reverse to chronological order for presentation.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

// HistoryAndMarkRead returns the session's last limit messages, newest
// first, and atomically marks as read every returned message the reader did
// not send. The returned messages reflect the post-update read state.
func (s *Store) HistoryAndMarkRead(ctx context.Context, sessionID, readerID string, limit int) ([]*Message, error) {
	var msgs []*Message

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE session_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		`, sessionID, limit)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		msgs, err = scanMessageRows(rows)
		rows.Close()
		if err != nil {
			return err
		}

		var toMark []any
		for _, m := range msgs {
			if m.SenderID != readerID && !m.IsRead {
				toMark = append(toMark, m.ID)
				m.IsRead = true
			}
		}
		if len(toMark) == 0 {
			return nil
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(toMark)), ",")
		_, err = tx.ExecContext(ctx,
			"UPDATE messages SET is_read = 1 WHERE id IN ("+placeholders+")", toMark...)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
