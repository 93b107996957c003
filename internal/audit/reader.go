package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseReader provides read access to the audit_events table.
// Reads run against ClickHouse's consistent snapshots and never block the
// async writer.
type ClickHouseReader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseReader opens a ClickHouse connection for read queries.
func NewClickHouseReader(dsn string, logger *zap.Logger) (*ClickHouseReader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}

	return &ClickHouseReader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *ClickHouseReader) Close() error {
	return r.conn.Close()
}

const eventColumns = "event_id, event_type, timestamp, correlation_id, " +
	"principal_chain, outcome, latency_ms, sequence, integrity_hash"

// ByCorrelation returns every event sharing the correlation id, in write
// (sequence) order.
func (r *ClickHouseReader) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+eventColumns+" FROM audit_events "+
			"WHERE correlation_id = @correlation_id "+
			"ORDER BY sequence",
		clickhouse.Named("correlation_id", correlationID),
	)
	if err != nil {
		return nil, fmt.Errorf("ByCorrelation: %w", err)
	}
	return scanEvents(rows)
}

// Range returns events with from <= timestamp <= to, in write order.
func (r *ClickHouseReader) Range(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+eventColumns+" FROM audit_events "+
			"WHERE timestamp >= @from AND timestamp <= @to "+
			"ORDER BY sequence",
		clickhouse.Named("from", from),
		clickhouse.Named("to", to),
	)
	if err != nil {
		return nil, fmt.Errorf("Range: %w", err)
	}
	return scanEvents(rows)
}

// CountRange returns the number of events in the window.
func (r *ClickHouseReader) CountRange(ctx context.Context, from, to time.Time) (int, error) {
	var total uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() FROM audit_events "+
			"WHERE timestamp >= @from AND timestamp <= @to",
		clickhouse.Named("from", from),
		clickhouse.Named("to", to),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("CountRange: %w", err)
	}
	return int(total), nil
}

func scanEvents(rows driver.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.Timestamp, &e.CorrelationID,
			&e.PrincipalChain, &e.Outcome, &e.LatencyMs, &e.Sequence,
			&e.IntegrityHash,
		); err != nil {
			return nil, fmt.Errorf("scanEvents: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
