package audit

import (
	"context"
	"crypto/tls"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ErrBufferFull is returned when the async writer cannot accept more events.
// The rejected event is not visible in the log: callers observe an explicit
// failure rather than a silently dropped write.
var ErrBufferFull = errors.New("audit buffer full")

// ClickHouseWriter appends audit events to ClickHouse asynchronously.
// Append is non-blocking: events are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *Event
	done    chan struct{}
	flushed chan struct{}
	seq     atomic.Uint64
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background
// flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *Event, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	// Seed the sequence with wall-clock nanoseconds so sequences stay
	// monotonic across process restarts. Sequences only break timestamp
	// ties; they carry no other meaning.
	w.seq.Store(uint64(time.Now().UnixNano()))

	go w.flushLoop()
	return w, nil
}

// Append assigns a write-time sequence number and queues the event for
// batch insertion. Returns ErrBufferFull when the buffer is saturated.
func (w *ClickHouseWriter) Append(_ context.Context, event *Event) error {
	event.Sequence = w.seq.Add(1)
	select {
	case w.buffer <- event:
		return nil
	default:
		w.logger.Warn("audit buffer full, rejecting event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
		)
		return ErrBufferFull
	}
}

// Close signals the flush loop to drain remaining events.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO audit_events (
			event_id, event_type, timestamp, correlation_id,
			principal_chain, outcome, latency_ms, sequence, integrity_hash
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.ID,
			e.EventType,
			e.Timestamp,
			e.CorrelationID,
			e.PrincipalChain,
			e.Outcome,
			e.LatencyMs,
			e.Sequence,
			e.IntegrityHash,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("event_id", e.ID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback Writer for local development: events go to the
// process log instead of a durable store.
type LogWriter struct {
	seq    atomic.Uint64
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	w := &LogWriter{logger: logger}
	w.seq.Store(uint64(time.Now().UnixNano()))
	return w
}

func (w *LogWriter) Append(_ context.Context, event *Event) error {
	event.Sequence = w.seq.Add(1)
	w.logger.Info("audit_event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("correlation_id", event.CorrelationID),
		zap.Strings("principal_chain", event.PrincipalChain),
		zap.String("outcome", event.Outcome),
		zap.Float64("latency_ms", event.LatencyMs),
		zap.String("integrity_hash", event.IntegrityHash),
	)
	return nil
}
