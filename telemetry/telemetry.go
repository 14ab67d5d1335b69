// Package telemetry collects the subsystem's operational datapoints:
// (sequence, sizes, duration) per snapshot and (type, sampled, duration)
// per recorded event.
//
// Persistence is async and non-blocking: the SQLite sink buffers
// datapoints and flushes in batches; overflow drops datapoints rather than
// applying backpressure to the interactive path.
package telemetry

import "time"

// Sink receives datapoints from the recorder and the snapshot manager.
// Implementations must be safe for concurrent use and must never block.
type Sink interface {
	// SnapshotTaken reports one completed snapshot.
	SnapshotTaken(docID string, seq, uncompressed, compressed int64, d time.Duration)
	// EventRecorded reports one appended event. sampled marks
	// continuous-input events (drag motion, pen points).
	EventRecorded(docID, eventType string, sampled bool, d time.Duration)
}

// Nop discards all datapoints.
type Nop struct{}

func (Nop) SnapshotTaken(string, int64, int64, int64, time.Duration) {}
func (Nop) EventRecorded(string, string, bool, time.Duration)        {}
