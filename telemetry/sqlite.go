package telemetry

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Schema contains the DDL for the telemetry database. Kept in a separate
// database file from the document store to avoid write contention with
// appends.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshot_metrics (
    document_id       TEXT NOT NULL,
    seq               INTEGER NOT NULL,
    uncompressed_size INTEGER NOT NULL,
    compressed_size   INTEGER NOT NULL,
    duration_ms       INTEGER NOT NULL,
    created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshot_metrics_doc
    ON snapshot_metrics(document_id, created_at DESC);

CREATE TABLE IF NOT EXISTS event_metrics (
    document_id TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    sampled     INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_metrics_doc
    ON event_metrics(document_id, created_at DESC);
`

type point struct {
	insert string
	args   []any
}

// SQLiteSink buffers datapoints and flushes them to SQLite in batches.
type SQLiteSink struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []point
	stop   chan struct{}
	done   chan struct{}
}

// NewSQLiteSink creates a sink flushing at most bufferSize datapoints per
// batch, at least every flushInterval. Recommended: 100, 5s.
func NewSQLiteSink(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *SQLiteSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteSink{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make([]point, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

func (s *SQLiteSink) SnapshotTaken(docID string, seq, uncompressed, compressed int64, d time.Duration) {
	s.record(point{
		insert: `INSERT INTO snapshot_metrics (document_id, seq, uncompressed_size, compressed_size, duration_ms, created_at) VALUES (?,?,?,?,?,?)`,
		args:   []any{docID, seq, uncompressed, compressed, d.Milliseconds(), time.Now().UnixMilli()},
	})
}

func (s *SQLiteSink) EventRecorded(docID, eventType string, sampled bool, d time.Duration) {
	s.record(point{
		insert: `INSERT INTO event_metrics (document_id, event_type, sampled, duration_ms, created_at) VALUES (?,?,?,?,?)`,
		args:   []any{docID, eventType, sampled, d.Milliseconds(), time.Now().UnixMilli()},
	})
}

func (s *SQLiteSink) record(p point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Drop on overflow: telemetry must never backpressure the editor.
	if len(s.buffer) >= s.bufferSize*2 {
		return
	}
	s.buffer = append(s.buffer, p)
	if len(s.buffer) >= s.bufferSize {
		s.flushLocked()
	}
}

func (s *SQLiteSink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
		}
	}
}

// flushLocked writes the buffer in one transaction. Caller holds mu.
func (s *SQLiteSink) flushLocked() {
	if len(s.buffer) == 0 {
		return
	}
	batch := s.buffer
	s.buffer = make([]point, 0, s.bufferSize)

	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Warn("telemetry: flush begin failed", "error", err)
		return
	}
	for _, p := range batch {
		if _, err := tx.Exec(p.insert, p.args...); err != nil {
			s.logger.Warn("telemetry: flush insert failed", "error", err)
			tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Warn("telemetry: flush commit failed", "error", err)
	}
}

// Close flushes remaining datapoints and stops the flush loop.
func (s *SQLiteSink) Close() {
	close(s.stop)
	<-s.done
}
