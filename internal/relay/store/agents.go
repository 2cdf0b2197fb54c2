package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Agent is a registered mailbox participant. The raw API key is never
// stored — only its SHA-256 hex and an 8-character prefix for operator
// display.
type Agent struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	OwnerContact sql.NullString
	CreatedAt    time.Time
}

// CreateAgent inserts a new agent, assigning its ID and creation time.
// Returns ErrNameTaken when the name is already registered.
func (s *Store) CreateAgent(ctx context.Context, agent *Agent) error {
	agent.ID = uuid.NewString()
	agent.CreatedAt = utcNow()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM agents WHERE name = ?", agent.Name,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check agent name: %w", err)
		}
		if exists > 0 {
			return ErrNameTaken
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO agents (id, name, api_key_hash, api_key_prefix, owner_contact, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, agent.ID, agent.Name, agent.APIKeyHash, agent.APIKeyPrefix, agent.OwnerContact, agent.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
}

const agentColumns = "id, name, api_key_hash, api_key_prefix, owner_contact, created_at"

func scanAgent(row *sql.Row) (*Agent, error) {
	agent := &Agent{}
	err := row.Scan(&agent.ID, &agent.Name, &agent.APIKeyHash,
		&agent.APIKeyPrefix, &agent.OwnerContact, &agent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return agent, nil
}

// GetAgentByName retrieves an agent by its unique name.
func (s *Store) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE name = ?", name)
	return scanAgent(row)
}

// GetAgentByKeyHash retrieves an agent by the SHA-256 hex of its API key.
// Absence signals authentication failure.
func (s *Store) GetAgentByKeyHash(ctx context.Context, keyHash string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE api_key_hash = ?", keyHash)
	return scanAgent(row)
}

// GetAgentsByIDs batch-resolves agents in a single IN lookup, keyed by ID.
// Missing IDs are simply absent from the result map.
func (s *Store) GetAgentsByIDs(ctx context.Context, ids []string) (map[string]*Agent, error) {
	agents := make(map[string]*Agent, len(ids))
	if len(ids) == 0 {
		return agents, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("batch get agents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		agent := &Agent{}
		err := rows.Scan(&agent.ID, &agent.Name, &agent.APIKeyHash,
			&agent.APIKeyPrefix, &agent.OwnerContact, &agent.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents[agent.ID] = agent
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	return agents, nil
}

// AgentCount returns the total number of registered agents.
func (s *Store) AgentCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM agents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}
