package decision

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseStore persists policy decisions in the policy_decisions table.
type ClickHouseStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseStore opens a ClickHouse connection for the decision stream.
func NewClickHouseStore(dsn string, logger *zap.Logger) (*ClickHouseStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseStore: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseStore: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewClickHouseStore: %w", err)
	}

	return &ClickHouseStore{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// Record validates and inserts one decision.
func (s *ClickHouseStore) Record(ctx context.Context, d *Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}

	err := s.conn.AsyncInsert(ctx, `
		INSERT INTO policy_decisions (
			decision_id, timestamp, subject_type, subject_id,
			action, resource, effect, policy_reference, correlation_id, reason
		) VALUES (
			@decision_id, @timestamp, @subject_type, @subject_id,
			@action, @resource, @effect, @policy_reference, @correlation_id, @reason
		)`, false,
		clickhouse.Named("decision_id", d.ID),
		clickhouse.Named("timestamp", d.Timestamp),
		clickhouse.Named("subject_type", d.SubjectType),
		clickhouse.Named("subject_id", d.SubjectID),
		clickhouse.Named("action", d.Action),
		clickhouse.Named("resource", d.Resource),
		clickhouse.Named("effect", d.Effect),
		clickhouse.Named("policy_reference", d.PolicyReference),
		clickhouse.Named("correlation_id", d.CorrelationID),
		clickhouse.Named("reason", d.Reason),
	)
	if err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}

func buildConditions(q Query) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if q.SubjectID != nil {
		conditions = append(conditions, "subject_id = @subject_id")
		args = append(args, clickhouse.Named("subject_id", *q.SubjectID))
	}
	if q.Effect != nil {
		conditions = append(conditions, "effect = @effect")
		args = append(args, clickhouse.Named("effect", *q.Effect))
	}
	if q.Resource != nil {
		conditions = append(conditions, "resource = @resource")
		args = append(args, clickhouse.Named("resource", *q.Resource))
	}
	if q.Action != nil {
		conditions = append(conditions, "action = @action")
		args = append(args, clickhouse.Named("action", *q.Action))
	}
	if q.From != nil {
		conditions = append(conditions, "timestamp >= @from")
		args = append(args, clickhouse.Named("from", *q.From))
	}
	if q.To != nil {
		conditions = append(conditions, "timestamp <= @to")
		args = append(args, clickhouse.Named("to", *q.To))
	}

	return strings.Join(conditions, " AND "), args
}

// List returns matching decisions, newest first.
func (s *ClickHouseStore) List(ctx context.Context, q Query) ([]Decision, error) {
	where, args := buildConditions(q)

	rows, err := s.conn.Query(ctx,
		"SELECT decision_id, timestamp, subject_type, subject_id, "+
			"action, resource, effect, policy_reference, correlation_id, reason "+
			"FROM policy_decisions WHERE "+where+" "+
			"ORDER BY timestamp DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(
			&d.ID, &d.Timestamp, &d.SubjectType, &d.SubjectID,
			&d.Action, &d.Resource, &d.Effect, &d.PolicyReference,
			&d.CorrelationID, &d.Reason,
		); err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// Aggregate counts matching decisions grouped by one dimension.
func (s *ClickHouseStore) Aggregate(ctx context.Context, dim Dimension, q Query) (map[string]int, error) {
	switch dim {
	case BySubject, ByEffect, ByResource, ByAction:
	default:
		return nil, fmt.Errorf("Aggregate: unknown dimension %q", dim)
	}

	where, args := buildConditions(q)

	rows, err := s.conn.Query(ctx,
		fmt.Sprintf(
			"SELECT %s AS dim, count() AS count FROM policy_decisions "+
				"WHERE %s GROUP BY dim ORDER BY count DESC",
			string(dim), where,
		),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("Aggregate: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count uint64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("Aggregate scan: %w", err)
		}
		counts[key] = int(count)
	}
	return counts, rows.Err()
}
