package snapshot

import (
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned by Latest when no snapshot exists at or below
// the requested sequence. Replay then folds from sequence 0.
var ErrNoSnapshot = errors.New("snapshot: no snapshot available")

// TooLargeError means the memory guard rejected a snapshot. The event log
// remains the source of truth — nothing is lost, only replay gets slower —
// but the user should consider splitting the document.
type TooLargeError struct {
	DocumentID string
	Sequence   int64
	Size       int64
	Limit      int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("snapshot: state for %s at seq %d is %d bytes, exceeds hard limit %d; consider splitting the document",
		e.DocumentID, e.Sequence, e.Size, e.Limit)
}
