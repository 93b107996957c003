package revocation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists revocation records in the revocations table, one
// row per revocation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const revocationColumns = `id, credential_id, priority, targets, results,
	status, initiated_at, sla_deadline, completed_at, correlation_id`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Revocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+revocationColumns+`
		FROM revocations
		WHERE id = $1
	`, id)

	rev, err := scanRevocation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rev, nil
}

func (s *PostgresStore) Put(ctx context.Context, rev *Revocation) error {
	rawTargets, err := json.Marshal(rev.Targets)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	rawResults, err := json.Marshal(rev.Results)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	var completedAt sql.NullTime
	if rev.CompletedAt != nil {
		completedAt = sql.NullTime{Time: rev.CompletedAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO revocations
			(id, credential_id, priority, targets, results, status,
			 initiated_at, sla_deadline, completed_at, correlation_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE
		SET results = EXCLUDED.results,
		    status = EXCLUDED.status,
		    completed_at = EXCLUDED.completed_at,
		    updated_at = now()
	`, rev.ID, rev.CredentialID, string(rev.Priority), rawTargets, rawResults,
		string(rev.Status), rev.InitiatedAt.UTC(), rev.SLADeadline.UTC(), completedAt, rev.CorrelationID)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Revocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+revocationColumns+`
		FROM revocations
		ORDER BY initiated_at
	`)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var revs []*Revocation
	for rows.Next() {
		rev, err := scanRevocation(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevocation(row rowScanner) (*Revocation, error) {
	var (
		rev         Revocation
		priority    string
		status      string
		rawTargets  []byte
		rawResults  []byte
		completedAt sql.NullTime
	)
	err := row.Scan(&rev.ID, &rev.CredentialID, &priority, &rawTargets, &rawResults,
		&status, &rev.InitiatedAt, &rev.SLADeadline, &completedAt, &rev.CorrelationID)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rawTargets, &rev.Targets); err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}
	if len(rawResults) > 0 {
		if err := json.Unmarshal(rawResults, &rev.Results); err != nil {
			return nil, fmt.Errorf("results: %w", err)
		}
	}
	rev.Priority = Priority(priority)
	rev.Status = Status(status)
	rev.InitiatedAt = rev.InitiatedAt.UTC()
	rev.SLADeadline = rev.SLADeadline.UTC()
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		rev.CompletedAt = &completed
	}
	return &rev, nil
}
