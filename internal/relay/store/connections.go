package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Connection lifecycle states.
const (
	StatusPending = "PENDING"
	StatusActive  = "ACTIVE"
)

const (
	// PendingTTL is how long a verification code stays redeemable.
	PendingTTL = time.Hour
	// MaxPendingPerRequester caps concurrently live PENDING requests per agent.
	MaxPendingPerRequester = 3
	// codeAttempts bounds rejection sampling for a unique verification code.
	codeAttempts = 10
)

// Connection is a handshake between two agents. It is created PENDING by a
// request and becomes ACTIVE when the named target redeems the verification
// code. TargetID is set on approval; TargetAgentName is snapshotted at
// request time so requests to not-yet-registered names are still stored.
type Connection struct {
	ID               string
	RequesterID      string
	TargetID         sql.NullString
	TargetAgentName  string
	Status           string
	VerificationCode string
	Message          sql.NullString
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
}

// GenerateVerificationCode produces a code of the form AA-NNN: two uppercase
// letters, a dash, three digits. Uniqueness is enforced by the caller via
// rejection sampling against the connections table.
func GenerateVerificationCode() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const digits = "0123456789"

	pick := func(alphabet string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return 0, err
		}
		return alphabet[n.Int64()], nil
	}

	code := make([]byte, 6)
	var err error
	for i := 0; i < 2; i++ {
		if code[i], err = pick(letters); err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
	}
	code[2] = '-'
	for i := 3; i < 6; i++ {
		if code[i], err = pick(digits); err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
	}
	return string(code), nil
}

const connectionColumns = `id, requester_id, target_id, target_agent_name, status,
	verification_code, message, created_at, updated_at, expires_at`

func scanConnections(rows *sql.Rows) ([]*Connection, error) {
	var conns []*Connection
	for rows.Next() {
		c := &Connection{}
		err := rows.Scan(&c.ID, &c.RequesterID, &c.TargetID, &c.TargetAgentName,
			&c.Status, &c.VerificationCode, &c.Message,
			&c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

// CreateConnectionRequest runs the full request algorithm in one transaction:
// no ACTIVE connection between the pair, requester under the live-PENDING
// cap, no PENDING between the pair in either direction, unique verification
// code. Self-connect and target resolution are validated by the API layer
// before this call.
func (s *Store) CreateConnectionRequest(ctx context.Context, requester, target *Agent, message string) (*Connection, error) {
	now := utcNow()
	conn := &Connection{
		ID:              uuid.NewString(),
		RequesterID:     requester.ID,
		TargetAgentName: target.Name,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(PendingTTL),
	}
	if message != "" {
		conn.Message = sql.NullString{String: message, Valid: true}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM connections
			WHERE status = ?
			  AND ((requester_id = ? AND target_id = ?) OR (requester_id = ? AND target_id = ?))
		`, StatusActive, requester.ID, target.ID, target.ID, requester.ID).Scan(&active)
		if err != nil {
			return fmt.Errorf("check active connection: %w", err)
		}
		if active > 0 {
			return ErrActiveExists
		}

		var livePending int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM connections
			WHERE requester_id = ? AND status = ? AND expires_at > ?
		`, requester.ID, StatusPending, now).Scan(&livePending)
		if err != nil {
			return fmt.Errorf("count live pending: %w", err)
		}
		if livePending >= MaxPendingPerRequester {
			return ErrTooManyPending
		}

		var pending int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM connections
			WHERE status = ?
			  AND ((requester_id = ? AND target_agent_name = ?) OR (requester_id = ? AND target_agent_name = ?))
		`, StatusPending, requester.ID, target.Name, target.ID, requester.Name).Scan(&pending)
		if err != nil {
			return fmt.Errorf("check pending connection: %w", err)
		}
		if pending > 0 {
			return ErrPendingExists
		}

		// Rejection-sample a verification code unique across all stored codes.
		for attempt := 0; ; attempt++ {
			if attempt >= codeAttempts {
				return ErrCodeExhausted
			}
			code, err := GenerateVerificationCode()
			if err != nil {
				return err
			}
			var taken int
			err = tx.QueryRowContext(ctx,
				"SELECT COUNT(1) FROM connections WHERE verification_code = ?", code,
			).Scan(&taken)
			if err != nil {
				return fmt.Errorf("check verification code: %w", err)
			}
			if taken == 0 {
				conn.VerificationCode = code
				break
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO connections
				(id, requester_id, target_id, target_agent_name, status,
				 verification_code, message, created_at, updated_at, expires_at)
			VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?, ?)
		`, conn.ID, conn.RequesterID, conn.TargetAgentName, conn.Status,
			conn.VerificationCode, conn.Message, conn.CreatedAt, conn.UpdatedAt, conn.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ApproveConnection redeems a verification code on behalf of caller. On
// success the connection is ACTIVE with caller as target, and the requester
// agent is returned for the response and push event. Errors: ErrNotFound
// (no live PENDING with that code), ErrExpired, ErrNotTarget,
// ErrActiveExists (reverse-direction race guard).
func (s *Store) ApproveConnection(ctx context.Context, code string, caller *Agent) (*Connection, *Agent, error) {
	var conn *Connection
	var requester *Agent

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c := &Connection{}
		err := tx.QueryRowContext(ctx, `
			SELECT `+connectionColumns+` FROM connections
			WHERE verification_code = ? AND status = ?
		`, code, StatusPending).Scan(&c.ID, &c.RequesterID, &c.TargetID,
			&c.TargetAgentName, &c.Status, &c.VerificationCode, &c.Message,
			&c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup code: %w", err)
		}

		now := utcNow()
		if now.After(c.ExpiresAt) {
			return ErrExpired
		}
		if c.TargetAgentName != caller.Name {
			return ErrNotTarget
		}

		// Race guard: concurrent A→B and B→A handshakes must not both land.
		var active int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM connections
			WHERE status = ?
			  AND ((requester_id = ? AND target_id = ?) OR (requester_id = ? AND target_id = ?))
		`, StatusActive, c.RequesterID, caller.ID, caller.ID, c.RequesterID).Scan(&active)
		if err != nil {
			return fmt.Errorf("check reverse active: %w", err)
		}
		if active > 0 {
			return ErrActiveExists
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE connections SET target_id = ?, status = ?, updated_at = ? WHERE id = ?
		`, caller.ID, StatusActive, now, c.ID)
		if err != nil {
			return fmt.Errorf("activate connection: %w", err)
		}

		c.TargetID = sql.NullString{String: caller.ID, Valid: true}
		c.Status = StatusActive
		c.UpdatedAt = now

		req := &Agent{}
		err = tx.QueryRowContext(ctx,
			"SELECT "+agentColumns+" FROM agents WHERE id = ?", c.RequesterID,
		).Scan(&req.ID, &req.Name, &req.APIKeyHash, &req.APIKeyPrefix,
			&req.OwnerContact, &req.CreatedAt)
		if err != nil {
			return fmt.Errorf("lookup requester: %w", err)
		}

		conn = c
		requester = req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, requester, nil
}

// ListPendingForAgent returns the live PENDING connections the agent is a
// party to — as requester or as named target — newest first.
func (s *Store) ListPendingForAgent(ctx context.Context, agent *Agent) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE status = ? AND expires_at > ?
		  AND (requester_id = ? OR target_agent_name = ?)
		ORDER BY created_at DESC
	`, StatusPending, utcNow(), agent.ID, agent.Name)
	if err != nil {
		return nil, fmt.Errorf("list pending connections: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// ListPendingTargeting returns the live PENDING connections naming the given
// agent as target, newest first. Used by the inbox.
func (s *Store) ListPendingTargeting(ctx context.Context, targetName string) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE status = ? AND expires_at > ? AND target_agent_name = ?
		ORDER BY created_at DESC
	`, StatusPending, utcNow(), targetName)
	if err != nil {
		return nil, fmt.Errorf("list pending targeting: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// HasActiveConnection reports whether an ACTIVE connection exists between the
// two agents, in either direction.
func (s *Store) HasActiveConnection(ctx context.Context, agentA, agentB string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM connections
		WHERE status = ?
		  AND ((requester_id = ? AND target_id = ?) OR (requester_id = ? AND target_id = ?))
	`, StatusActive, agentA, agentB, agentB, agentA).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check active connection: %w", err)
	}
	return n > 0, nil
}
