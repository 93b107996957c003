package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists integration records in the integrations table, one
// row per integration.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, requested_by, justification, approved_targets,
		       approved_by, approved_at, expires_at, status, requested_at
		FROM integrations
		WHERE id = $1
	`, id)

	var (
		integ      Integration
		rawTargets []byte
		approvedAt sql.NullTime
		expiresAt  sql.NullTime
		status     string
	)
	err := row.Scan(&integ.ID, &integ.Name, &integ.RequestedBy, &integ.Justification,
		&rawTargets, &integ.ApprovedBy, &approvedAt, &expiresAt, &status, &integ.RequestedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("Get: %w", err)
	}

	if err := json.Unmarshal(rawTargets, &integ.ApprovedTargets); err != nil {
		return nil, fmt.Errorf("Get: approved_targets: %w", err)
	}
	if approvedAt.Valid {
		integ.ApprovedAt = approvedAt.Time.UTC()
	}
	if expiresAt.Valid {
		expires := expiresAt.Time.UTC()
		integ.ExpiresAt = &expires
	}
	integ.Status = Status(status)
	integ.RequestedAt = integ.RequestedAt.UTC()
	return &integ, nil
}

func (s *PostgresStore) Put(ctx context.Context, integ *Integration) error {
	rawTargets, err := json.Marshal(integ.ApprovedTargets)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	var approvedAt, expiresAt sql.NullTime
	if !integ.ApprovedAt.IsZero() {
		approvedAt = sql.NullTime{Time: integ.ApprovedAt.UTC(), Valid: true}
	}
	if integ.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: integ.ExpiresAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations
			(id, name, requested_by, justification, approved_targets,
			 approved_by, approved_at, expires_at, status, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE
		SET approved_targets = EXCLUDED.approved_targets,
		    approved_by = EXCLUDED.approved_by,
		    approved_at = EXCLUDED.approved_at,
		    expires_at = EXCLUDED.expires_at,
		    status = EXCLUDED.status,
		    updated_at = now()
	`, integ.ID, integ.Name, integ.RequestedBy, integ.Justification, rawTargets,
		integ.ApprovedBy, approvedAt, expiresAt, string(integ.Status), integ.RequestedAt.UTC())
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}
