package telemetry

import (
	"sync"
	"time"
)

// SnapshotPoint is one recorded SnapshotTaken call.
type SnapshotPoint struct {
	DocID        string
	Seq          int64
	Uncompressed int64
	Compressed   int64
	Duration     time.Duration
}

// EventPoint is one recorded EventRecorded call.
type EventPoint struct {
	DocID     string
	EventType string
	Sampled   bool
	Duration  time.Duration
}

// Recorder is a Sink that retains every datapoint in memory, for tests.
type Recorder struct {
	mu        sync.Mutex
	snapshots []SnapshotPoint
	events    []EventPoint
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) SnapshotTaken(docID string, seq, uncompressed, compressed int64, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, SnapshotPoint{docID, seq, uncompressed, compressed, d})
}

func (r *Recorder) EventRecorded(docID, eventType string, sampled bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, EventPoint{docID, eventType, sampled, d})
}

// Snapshots returns a copy of the recorded snapshot datapoints.
func (r *Recorder) Snapshots() []SnapshotPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SnapshotPoint(nil), r.snapshots...)
}

// Events returns a copy of the recorded event datapoints.
func (r *Recorder) Events() []EventPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventPoint(nil), r.events...)
}
