package eventstore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation targets a document id that has
// no row in the documents table.
var ErrNotFound = errors.New("eventstore: document not found")

// ErrOutOfRange is returned by Read when the requested range reaches past
// the document's latest sequence. A caller-argument problem, not store
// damage — distinct from CorruptionError on purpose.
var ErrOutOfRange = errors.New("eventstore: sequence beyond latest")

// StorageError is an IO/disk failure on append or read. The recorder
// retries once; past that the error surfaces to the user.
type StorageError struct {
	Op         string
	DocumentID string
	Sequence   int64
	Cause      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("eventstore: %s failed for %s at seq %d: %v", e.Op, e.DocumentID, e.Sequence, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// CorruptionError is a sequence-contiguity violation detected on read.
// Callers (the replay engine) treat it as "load degraded, start from the
// last known-good snapshot" — the store never silently skips gaps.
type CorruptionError struct {
	DocumentID  string
	ExpectedSeq int64
	GotSeq      int64
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("eventstore: corruption in %s: expected seq %d, got %d", e.DocumentID, e.ExpectedSeq, e.GotSeq)
}
