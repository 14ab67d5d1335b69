// Package snapshot materializes document state as compressed blobs so that
// replay cost stays bounded: loading a document reads the newest snapshot
// at or below the target sequence and folds only the remaining tail.
//
// Snapshots are an accelerator, never an authority. A missing, rejected, or
// corrupt snapshot costs replay time; the event log alone can always
// rebuild the document from sequence 0.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Snapshot is one immutable materialized state row.
type Snapshot struct {
	DocumentID       string
	Sequence         int64
	Blob             []byte
	Kind             Kind
	UncompressedSize int64
	CompressedSize   int64
	CreatedAt        time.Time
}

// Decompress returns the serialized state bytes for s.
func (s *Snapshot) Decompress() ([]byte, error) {
	return decompress(s.Blob, s.Kind)
}

// Store persists snapshots in the document store's snapshots table
// (schema in eventstore.Schema — snapshots share the database file with
// events but their writes are independent transactions, so a crash during
// a snapshot write can never corrupt the event log).
type Store struct {
	db *sql.DB
}

// NewStore creates a snapshot store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put compresses state and commits it as the snapshot for seq.
func (st *Store) Put(ctx context.Context, docID string, seq int64, state []byte, now time.Time) (*Snapshot, error) {
	blob, kind, err := compress(state)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		DocumentID:       docID,
		Sequence:         seq,
		Blob:             blob,
		Kind:             kind,
		UncompressedSize: int64(len(state)),
		CompressedSize:   int64(len(blob)),
		CreatedAt:        now,
	}
	_, err = st.db.ExecContext(ctx, `
		INSERT INTO snapshots (document_id, seq, blob, kind, uncompressed_size, compressed_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, seq) DO NOTHING`,
		docID, seq, blob, string(kind), snap.UncompressedSize, snap.CompressedSize, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("snapshot: put %s seq %d: %w", docID, seq, err)
	}
	return snap, nil
}

// Latest returns the newest snapshot with sequence <= maxSeq. maxSeq < 0
// means "newest overall". Returns ErrNoSnapshot when none qualifies.
func (st *Store) Latest(ctx context.Context, docID string, maxSeq int64) (*Snapshot, error) {
	q := `
		SELECT seq, blob, kind, uncompressed_size, compressed_size, created_at
		FROM snapshots WHERE document_id = ?`
	args := []any{docID}
	if maxSeq >= 0 {
		q += ` AND seq <= ?`
		args = append(args, maxSeq)
	}
	q += ` ORDER BY seq DESC LIMIT 1`

	snap := &Snapshot{DocumentID: docID}
	var kind string
	var created int64
	err := st.db.QueryRowContext(ctx, q, args...).
		Scan(&snap.Sequence, &snap.Blob, &kind, &snap.UncompressedSize, &snap.CompressedSize, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: latest %s: %w", docID, err)
	}
	snap.Kind = Kind(kind)
	snap.CreatedAt = time.UnixMilli(created)
	return snap, nil
}

// List returns all snapshot sequences for docID ascending, without blobs.
func (st *Store) List(ctx context.Context, docID string) ([]Snapshot, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT seq, kind, uncompressed_size, compressed_size, created_at
		FROM snapshots WHERE document_id = ? ORDER BY seq ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", docID, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s := Snapshot{DocumentID: docID}
		var kind string
		var created int64
		if err := rows.Scan(&s.Sequence, &kind, &s.UncompressedSize, &s.CompressedSize, &created); err != nil {
			return nil, fmt.Errorf("snapshot: list %s: %w", docID, err)
		}
		s.Kind = Kind(kind)
		s.CreatedAt = time.UnixMilli(created)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes the oldest snapshots beyond keep, returning how many rows
// were removed. keep is floored at 2 — the newest snapshot plus one spare,
// so a corrupt newest blob still leaves a fallback.
func (st *Store) Prune(ctx context.Context, docID string, keep int) (int, error) {
	if keep < 2 {
		keep = 2
	}
	res, err := st.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE document_id = ? AND seq NOT IN (
			SELECT seq FROM snapshots WHERE document_id = ?
			ORDER BY seq DESC LIMIT ?
		)`,
		docID, docID, keep)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prune %s: %w", docID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
