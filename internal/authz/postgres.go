package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresMappingStore persists allow-lists in the agent_authorizations
// table, one row per agent.
type PostgresMappingStore struct {
	db *sql.DB
}

// NewPostgresMappingStore creates a store over the given database handle.
func NewPostgresMappingStore(db *sql.DB) *PostgresMappingStore {
	return &PostgresMappingStore{db: db}
}

func (s *PostgresMappingStore) Get(ctx context.Context, agentID string) ([]string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tools
		FROM agent_authorizations
		WHERE agent_id = $1
	`, agentID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("Get: %w", err)
	}

	var tools []string
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("Get: tools: %w", err)
	}
	return tools, nil
}

func (s *PostgresMappingStore) Put(ctx context.Context, agentID string, tools []string) error {
	raw, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_authorizations (agent_id, tools, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (agent_id) DO UPDATE
		SET tools = EXCLUDED.tools, updated_at = now()
	`, agentID, raw)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

func (s *PostgresMappingStore) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id FROM agent_authorizations`)
	if err != nil {
		return nil, fmt.Errorf("Agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("Agents: %w", err)
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}
