// Package eventstore is the append-only durable log of document edits.
//
// Every user edit becomes one row in the events table, committed in the
// same transaction that advances the document's latest_seq. Append returns
// only after the transaction commits, so an acknowledged event is always
// recoverable after a crash (the database runs in WAL mode via dbopen).
//
// Sequence numbers are zero-based, strictly increasing, and gapless per
// document. There is exactly one writer process per store file; concurrent
// appends inside that process are serialized per document by a mutex, so
// sequence assignment needs no distributed coordination.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inkmill/chronicle/dbopen"
	"github.com/inkmill/chronicle/event"
)

// DocumentMeta is the metadata row for one document.
type DocumentMeta struct {
	ID            string
	Title         string
	FormatVersion int
	LatestSeq     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Options configures a Store.
type Options struct {
	// Clock supplies timestamps for metadata rows. Default: time.Now.
	Clock func() time.Time
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store is the append-only event log. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	opts Options

	// mu guards the per-document append locks map.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store over db. The caller opens db with dbopen and the
// eventstore.Schema applied.
func New(db *sql.DB, opts Options) *Store {
	opts.defaults()
	return &Store{db: db, opts: opts, locks: make(map[string]*sync.Mutex)}
}

// DB exposes the underlying handle for collaborators that share the store
// file (snapshot store, chronicled inspection). Read-mostly use only.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) lockFor(docID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[docID] = l
	}
	return l
}

// CreateDocument registers a new document with an empty log.
func (s *Store) CreateDocument(ctx context.Context, docID, title string) error {
	now := s.opts.Clock().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, title, format_version, latest_seq, created_at, updated_at)
		VALUES (?, ?, 1, -1, ?, ?)`,
		docID, title, now, now)
	if err != nil {
		return &StorageError{Op: "create", DocumentID: docID, Sequence: -1, Cause: err}
	}
	return nil
}

// DeleteDocument removes a document with its events and snapshots in one
// transaction. This is the only path that deletes events.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	lock := s.lockFor(docID)
	lock.Lock()
	defer lock.Unlock()

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, docID)
		if err != nil {
			return &StorageError{Op: "delete", DocumentID: docID, Sequence: -1, Cause: err}
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, docID)
		}
		return nil
	})
}

// Meta returns the metadata row for docID.
func (s *Store) Meta(ctx context.Context, docID string) (DocumentMeta, error) {
	var m DocumentMeta
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, title, format_version, latest_seq, created_at, updated_at
		FROM documents WHERE document_id = ?`, docID).
		Scan(&m.ID, &m.Title, &m.FormatVersion, &m.LatestSeq, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentMeta{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		return DocumentMeta{}, &StorageError{Op: "meta", DocumentID: docID, Sequence: -1, Cause: err}
	}
	m.CreatedAt = time.UnixMilli(created)
	m.UpdatedAt = time.UnixMilli(updated)
	return m, nil
}

// Documents lists all documents in the store, oldest first.
func (s *Store) Documents(ctx context.Context) ([]DocumentMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, title, format_version, latest_seq, created_at, updated_at
		FROM documents ORDER BY created_at, document_id`)
	if err != nil {
		return nil, &StorageError{Op: "list", DocumentID: "", Sequence: -1, Cause: err}
	}
	defer rows.Close()

	var out []DocumentMeta
	for rows.Next() {
		var m DocumentMeta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Title, &m.FormatVersion, &m.LatestSeq, &created, &updated); err != nil {
			return nil, &StorageError{Op: "list", DocumentID: m.ID, Sequence: -1, Cause: err}
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Append assigns the next sequence to ev and durably commits it. The
// returned sequence is previous latest + 1. Append does not return success
// unless the event would survive a crash immediately after the call.
func (s *Store) Append(ctx context.Context, docID string, ev event.Event) (int64, error) {
	payload, err := event.EncodePayload(ev.Payload)
	if err != nil {
		return -1, &StorageError{Op: "append", DocumentID: docID, Sequence: -1, Cause: err}
	}

	lock := s.lockFor(docID)
	lock.Lock()
	defer lock.Unlock()

	var seq int64
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE documents SET latest_seq = latest_seq + 1, updated_at = ?
			WHERE document_id = ?
			RETURNING latest_seq`,
			s.opts.Clock().UnixMilli(), docID)
		if err := row.Scan(&seq); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, docID)
			}
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (document_id, seq, event_id, event_type, payload, ts, user_id, session_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			docID, seq, ev.ID, ev.Type, payload, ev.Timestamp,
			nullable(ev.UserID), nullable(ev.SessionID))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return -1, err
		}
		return -1, &StorageError{Op: "append", DocumentID: docID, Sequence: seq, Cause: err}
	}
	return seq, nil
}

// LatestSequence returns the highest assigned sequence for docID, -1 when
// the log is empty.
func (s *Store) LatestSequence(ctx context.Context, docID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT latest_seq FROM documents WHERE document_id = ?`, docID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		return -1, &StorageError{Op: "latest", DocumentID: docID, Sequence: -1, Cause: err}
	}
	return seq, nil
}

// Read returns events in [from, to] ascending. It verifies contiguity as
// it scans: a gap means a sequencing bug or a damaged store and yields a
// CorruptionError rather than a silently shortened range. to < 0 means
// "through the latest sequence"; to beyond the latest sequence is
// ErrOutOfRange.
func (s *Store) Read(ctx context.Context, docID string, from, to int64) ([]event.Event, error) {
	latest, err := s.LatestSequence(ctx, docID)
	if err != nil {
		return nil, err
	}
	if to < 0 {
		to = latest
	}
	if to > latest {
		return nil, fmt.Errorf("%w: read [%d, %d] of %s, latest is %d", ErrOutOfRange, from, to, docID, latest)
	}
	if from > to {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, event_type, payload, ts, COALESCE(user_id,''), COALESCE(session_id,'')
		FROM events
		WHERE document_id = ? AND seq BETWEEN ? AND ?
		ORDER BY seq ASC`,
		docID, from, to)
	if err != nil {
		return nil, &StorageError{Op: "read", DocumentID: docID, Sequence: from, Cause: err}
	}
	defer rows.Close()

	events := make([]event.Event, 0, to-from+1)
	next := from
	for rows.Next() {
		var ev event.Event
		var payload []byte
		if err := rows.Scan(&ev.Sequence, &ev.ID, &ev.Type, &payload, &ev.Timestamp, &ev.UserID, &ev.SessionID); err != nil {
			return nil, &StorageError{Op: "read", DocumentID: docID, Sequence: next, Cause: err}
		}
		if ev.Sequence != next {
			return nil, &CorruptionError{DocumentID: docID, ExpectedSeq: next, GotSeq: ev.Sequence}
		}
		ev.Payload, err = event.DecodePayload(ev.Type, payload)
		if err != nil {
			return nil, &StorageError{Op: "read", DocumentID: docID, Sequence: ev.Sequence, Cause: err}
		}
		events = append(events, ev)
		next++
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "read", DocumentID: docID, Sequence: next, Cause: err}
	}
	if next != to+1 {
		return nil, &CorruptionError{DocumentID: docID, ExpectedSeq: next, GotSeq: -1}
	}
	return events, nil
}

// Verify scans the whole log for docID and checks sequence contiguity
// against the documents row. Used by chronicled and degraded-load
// diagnostics; it reads only seq so large logs stay cheap to check.
func (s *Store) Verify(ctx context.Context, docID string) error {
	latest, err := s.LatestSequence(ctx, docID)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq FROM events WHERE document_id = ? ORDER BY seq ASC`, docID)
	if err != nil {
		return &StorageError{Op: "verify", DocumentID: docID, Sequence: -1, Cause: err}
	}
	defer rows.Close()

	var next int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return &StorageError{Op: "verify", DocumentID: docID, Sequence: next, Cause: err}
		}
		if seq != next {
			return &CorruptionError{DocumentID: docID, ExpectedSeq: next, GotSeq: seq}
		}
		next++
	}
	if err := rows.Err(); err != nil {
		return &StorageError{Op: "verify", DocumentID: docID, Sequence: next, Cause: err}
	}
	if next != latest+1 {
		return &CorruptionError{DocumentID: docID, ExpectedSeq: next, GotSeq: latest}
	}
	return nil
}

// SeqRange is an inclusive span of sequence numbers.
type SeqRange struct {
	Start int64
	End   int64
}

// Contains reports whether seq falls inside r.
func (r SeqRange) Contains(seq int64) bool {
	return seq >= r.Start && seq <= r.End
}

// MarkReverted tombstones [start, end]: replay folds past the span as if
// it held no events. The event rows stay in the log for audit; sequences
// remain gapless. Snapshots at or beyond start are dropped in the same
// transaction because their state may contain the reverted events.
func (s *Store) MarkReverted(ctx context.Context, docID string, start, end int64) error {
	if start < 0 || end < start {
		return &StorageError{Op: "revert", DocumentID: docID, Sequence: start,
			Cause: fmt.Errorf("invalid range [%d, %d]", start, end)}
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reverted_ranges (document_id, start_seq, end_seq, created_at)
			VALUES (?, ?, ?, ?)`,
			docID, start, end, s.opts.Clock().UnixMilli()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE document_id = ? AND seq >= ?`, docID, start)
		return err
	})
	if err != nil {
		return &StorageError{Op: "revert", DocumentID: docID, Sequence: start, Cause: err}
	}
	return nil
}

// RevertedRanges returns the tombstoned spans for docID, ascending.
func (s *Store) RevertedRanges(ctx context.Context, docID string) ([]SeqRange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_seq, end_seq FROM reverted_ranges
		WHERE document_id = ? ORDER BY start_seq ASC`, docID)
	if err != nil {
		return nil, &StorageError{Op: "reverted", DocumentID: docID, Sequence: -1, Cause: err}
	}
	defer rows.Close()

	var out []SeqRange
	for rows.Next() {
		var r SeqRange
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			return nil, &StorageError{Op: "reverted", DocumentID: docID, Sequence: -1, Cause: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
