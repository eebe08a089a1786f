package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/types"
)

// sqliteTracer and sqliteMetrics are registered against the global
// delegating OTel providers at init time, so they start forwarding to a
// real provider as soon as the CLI wires one up — mirrors the teacher's
// storage/dolt package, which registers its tracer/meter the same way.
var sqliteTracer = otel.Tracer("github.com/qiki-sim/radarcore/eventstore")

var sqliteMetrics struct {
	retryCount   metric.Int64Counter
	queueDepth   metric.Int64ObservableGauge
	droppedTotal metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/qiki-sim/radarcore/eventstore")
	sqliteMetrics.retryCount, _ = m.Int64Counter("radar.eventstore.retry_count",
		metric.WithDescription("writer batches retried due to transient SQLite errors"),
		metric.WithUnit("{retry}"),
	)
	sqliteMetrics.droppedTotal, _ = m.Int64Counter("radar.eventstore.dropped_total",
		metric.WithDescription("events dropped because the writer queue was full"),
		metric.WithUnit("{event}"),
	)
}

// SQLiteConfig configures the durable Event Store backend (spec §6
// EVENTSTORE_* environment variables).
type SQLiteConfig struct {
	DBPath         string
	QueueMax       int
	BatchSize      int
	FlushMs        int
	RetentionHours float64
	MaxDBMB        float64
	Strict         bool
}

func (c SQLiteConfig) withDefaults() SQLiteConfig {
	if c.QueueMax <= 0 {
		c.QueueMax = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushMs <= 0 {
		c.FlushMs = 250
	}
	if c.RetentionHours <= 0 {
		c.RetentionHours = 24 * 7
	}
	if c.MaxDBMB <= 0 {
		c.MaxDBMB = 512
	}
	return c
}

type queuedEvent struct {
	evt types.SystemEvent
}

// SQLiteStore durably persists events through a dedicated writer
// goroutine. Producers enqueue onto a bounded channel; the channel send
// never blocks — a full channel drops the event and increments a
// counter (spec §4.2, §5). The writer is the sole goroutine performing
// disk I/O: it batches inserts, commits every FlushMs or BatchSize
// (whichever comes first), and evicts by retention policy inline.
type SQLiteStore struct {
	clk  clock.Clock
	cfg  SQLiteConfig
	db   *sql.DB
	side *MemoryStore // in-memory side channel recording writer faults

	queue   chan queuedEvent
	closeCh chan struct{}
	wg      sync.WaitGroup

	nextID  atomic.Int64
	dropped atomic.Int64

	sessionID string
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at
// cfg.DBPath and starts the background writer. side receives
// EVENTSTORE_WRITE_FAILED events so operators can see faults even though
// writer errors never propagate to producers.
func NewSQLiteStore(clk clock.Clock, cfg SQLiteConfig, side *MemoryStore) (*SQLiteStore, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer/reader connection; modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: create schema: %w", err)
	}

	s := &SQLiteStore{
		clk:       clk,
		cfg:       cfg,
		db:        db,
		side:      side,
		queue:     make(chan queuedEvent, cfg.QueueMax),
		closeCh:   make(chan struct{}),
		sessionID: uuid.NewString(),
	}

	s.wg.Add(1)
	go s.writerLoop()

	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	event_id    INTEGER PRIMARY KEY,
	ts_unix     REAL NOT NULL,
	subsystem   TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	truth_state TEXT NOT NULL,
	reason      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_unix);
CREATE INDEX IF NOT EXISTS idx_events_subsystem ON events(subsystem);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
`

// Append implements Store. The send onto the writer queue never blocks:
// a full queue drops the event, increments the dropped counter, and (in
// strict mode) returns ErrQueueFull to the caller.
func (s *SQLiteStore) Append(subsystem, eventType string, payload map[string]any, truth types.TruthState, reason string, ts time.Time) (int64, error) {
	if reason == "" {
		return 0, fmt.Errorf("eventstore: %s/%s: %w", subsystem, eventType, ErrInvalidEnvelope)
	}
	if ts.IsZero() {
		ts = s.clk.Now()
	}
	id := s.nextID.Add(1)
	evt := types.SystemEvent{
		SchemaVersion: SchemaVersion,
		EventID:       id,
		Ts:            ts,
		Subsystem:     subsystem,
		EventType:     eventType,
		TruthState:    truth,
		Reason:        reason,
		Payload:       payload,
		SessionID:     s.sessionID,
	}

	select {
	case s.queue <- queuedEvent{evt: evt}:
		return id, nil
	default:
		s.dropped.Add(1)
		sqliteMetrics.droppedTotal.Add(context.Background(), 1)
		if s.side != nil {
			_, _ = s.side.Append("eventstore", "EVENTSTORE_WRITE_FAILED",
				map[string]any{"dropped_event_type": eventType, "dropped_subsystem": subsystem},
				types.TruthNoData, "QueueFull", s.clk.Now())
		}
		if s.cfg.Strict {
			return id, ErrQueueFull
		}
		return id, nil
	}
}

// DroppedCount returns the number of events dropped due to a full queue.
func (s *SQLiteStore) DroppedCount() int64 { return s.dropped.Load() }

// QueueDepth returns the writer queue's current backlog, sampled by
// the health monitor (spec §4.8's sqlite_queue_depth metric).
func (s *SQLiteStore) QueueDepth() int { return len(s.queue) }

// writerLoop is the sole goroutine performing SQLite I/O.
func (s *SQLiteStore) writerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.FlushMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]types.SystemEvent, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			log.Printf("eventstore: flush failed: %v", err)
			if s.side != nil {
				_, _ = s.side.Append("eventstore", "EVENTSTORE_WRITE_FAILED",
					map[string]any{"batch_size": len(batch)}, types.TruthNoData, "WriterIO", s.clk.Now())
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case q := <-s.queue:
			batch = append(batch, q.evt)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
			s.enforceRetention()
		case <-s.closeCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case q := <-s.queue:
					batch = append(batch, q.evt)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *SQLiteStore) flushBatch(batch []types.SystemEvent) error {
	ctx, span := sqliteTracer.Start(context.Background(), "eventstore.flush",
		trace.WithAttributes(attribute.Int("batch_size", len(batch))))
	defer span.End()

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO events(event_id, ts_unix, subsystem, event_type, truth_state, reason, payload, session_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()

		for _, e := range batch {
			payload, merr := json.Marshal(e.Payload)
			if merr != nil {
				tx.Rollback()
				return merr
			}
			ts := float64(e.Ts.UnixNano()) / 1e9
			if _, err := stmt.ExecContext(ctx, e.EventID, ts, e.Subsystem, e.EventType, string(e.TruthState), e.Reason, string(payload), e.SessionID); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// withRetry retries transient SQLite busy/locked errors with exponential
// backoff, the same shape the teacher's dolt storage backend uses for
// transient server-mode errors.
func (s *SQLiteStore) withRetry(ctx context.Context, op func() error) error {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryableSQLiteErr(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		sqliteMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

func isRetryableSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "database is locked", "busy", "SQLITE_BUSY", "SQLITE_LOCKED")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) > 0 && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// enforceRetention evicts rows older than RetentionHours or beyond
// MaxDBMB, run inline on the writer goroutine so it never competes with
// producers for a lock (spec §4.2 retention).
func (s *SQLiteStore) enforceRetention() {
	cutoff := float64(s.clk.Now().Add(-time.Duration(s.cfg.RetentionHours*float64(time.Hour))).UnixNano()) / 1e9
	if _, err := s.db.Exec(`DELETE FROM events WHERE ts_unix < ?`, cutoff); err != nil {
		log.Printf("eventstore: retention eviction failed: %v", err)
		return
	}

	var pageCount, pageSize int64
	_ = s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	_ = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	sizeMB := float64(pageCount*pageSize) / (1024 * 1024)
	if sizeMB <= s.cfg.MaxDBMB {
		return
	}

	// Over budget: drop the oldest 10% of rows to bring size back down.
	var total int64
	_ = s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&total)
	if total == 0 {
		return
	}
	evict := total / 10
	if evict < 1 {
		evict = 1
	}
	_, _ = s.db.Exec(`DELETE FROM events WHERE event_id IN (SELECT event_id FROM events ORDER BY ts_unix ASC LIMIT ?)`, evict)
}

// Filter implements Store.
func (s *SQLiteStore) Filter(spec FilterSpec) []types.SystemEvent {
	return s.Query(QuerySpec{
		Types:      nonEmpty(spec.EventType),
		Subsystems: nonEmpty(spec.Subsystem),
		TruthState: spec.TruthState,
		Order:      OrderAsc,
	})
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// Query implements Store.
func (s *SQLiteStore) Query(spec QuerySpec) []types.SystemEvent {
	q := `SELECT event_id, ts_unix, subsystem, event_type, truth_state, reason, payload, session_id FROM events WHERE 1=1`
	var args []any

	if !spec.From.IsZero() {
		q += " AND ts_unix >= ?"
		args = append(args, float64(spec.From.UnixNano())/1e9)
	}
	if !spec.To.IsZero() {
		q += " AND ts_unix <= ?"
		args = append(args, float64(spec.To.UnixNano())/1e9)
	}
	if len(spec.Types) > 0 {
		q += " AND event_type IN (" + placeholders(len(spec.Types)) + ")"
		for _, t := range spec.Types {
			args = append(args, t)
		}
	}
	if len(spec.Subsystems) > 0 {
		q += " AND subsystem IN (" + placeholders(len(spec.Subsystems)) + ")"
		for _, sub := range spec.Subsystems {
			args = append(args, sub)
		}
	}
	if spec.TruthState != "" {
		q += " AND truth_state = ?"
		args = append(args, string(spec.TruthState))
	}

	q += " ORDER BY ts_unix, event_id"
	if spec.Order == OrderDesc {
		q += " DESC"
	}
	if spec.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", spec.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		log.Printf("eventstore: query failed: %v", err)
		return nil
	}
	defer rows.Close()

	var out []types.SystemEvent
	for rows.Next() {
		var (
			e          types.SystemEvent
			tsUnix     float64
			truthState string
			payload    string
		)
		if err := rows.Scan(&e.EventID, &tsUnix, &e.Subsystem, &e.EventType, &truthState, &e.Reason, &payload, &e.SessionID); err != nil {
			log.Printf("eventstore: row scan failed: %v", err)
			continue
		}
		sec := int64(tsUnix)
		nsec := int64((tsUnix - float64(sec)) * 1e9)
		e.Ts = time.Unix(sec, nsec).UTC()
		e.TruthState = types.TruthState(truthState)
		e.SchemaVersion = SchemaVersion
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		out = append(out, e)
	}
	return out
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

// Recent implements Store.
func (s *SQLiteStore) Recent(n int) []types.SystemEvent {
	rows := s.Query(QuerySpec{Order: OrderDesc, Limit: n})
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows
}

// Close implements Store: signals the writer to drain its queue
// synchronously, then closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	return s.db.Close()
}
