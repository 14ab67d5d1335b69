package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inkmill/chronicle/document"
	"github.com/inkmill/chronicle/telemetry"
)

// Options tunes the Manager's cadence, guards, and worker.
//
// The cadence constants are empirically reasonable defaults, not
// requirements — every one is configurable.
type Options struct {
	// BaseInterval is the baseline number of events between snapshots.
	// Default: 200.
	BaseInterval int64
	// MinInterval and MaxInterval clamp the adaptive interval.
	// Defaults: 50 and 2000.
	MinInterval int64
	MaxInterval int64
	// RateWindow is the sliding window over which the recent event rate
	// is measured. Default: 10s.
	RateWindow time.Duration
	// HighRate (events/sec) and above widens the interval by
	// HighRateFactor — drag sampling must not cause snapshot storms.
	// Default: 50.
	HighRate float64
	// HighRateFactor multiplies the interval during bursts. Default: 4.
	HighRateFactor int64
	// LowRate (events/sec) and below halves the interval so quiet periods
	// pay down replay debt. Default: 5.
	LowRate float64
	// ForceAfter is the wall-clock bound: if this much time passes with
	// new events since the last snapshot, one is forced regardless of the
	// event interval. Default: 10m.
	ForceAfter time.Duration
	// WarnStateBytes logs a warning when the serialized state crosses it.
	// Default: 150 MB.
	WarnStateBytes int64
	// MaxStateBytes is the hard memory guard: larger states are rejected
	// with TooLargeError and the event log stays authoritative.
	// Default: 200 MB.
	MaxStateBytes int64
	// QueueDepth bounds the background worker queue. A full queue drops
	// the request (logged) — the next trigger will retry. Default: 16.
	QueueDepth int
	// Keep bounds retained snapshots per document: after each committed
	// snapshot the oldest beyond Keep are pruned (floored at 2 by the
	// store). Default: 4.
	Keep int
	// Clock supplies time for cadence decisions. Default: time.Now.
	Clock func() time.Time
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Sink receives (sequence, sizes, duration) per completed snapshot.
	// Default: telemetry.Nop.
	Sink telemetry.Sink
}

func (o *Options) defaults() {
	if o.BaseInterval <= 0 {
		o.BaseInterval = 200
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 50
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 2000
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 10 * time.Second
	}
	if o.HighRate <= 0 {
		o.HighRate = 50
	}
	if o.HighRateFactor <= 0 {
		o.HighRateFactor = 4
	}
	if o.LowRate <= 0 {
		o.LowRate = 5
	}
	if o.ForceAfter <= 0 {
		o.ForceAfter = 10 * time.Minute
	}
	if o.WarnStateBytes <= 0 {
		o.WarnStateBytes = 150 * 1024 * 1024
	}
	if o.MaxStateBytes <= 0 {
		o.MaxStateBytes = 200 * 1024 * 1024
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 16
	}
	if o.Keep <= 0 {
		o.Keep = 4
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sink == nil {
		o.Sink = telemetry.Nop{}
	}
}

// track is the per-document cadence state.
type track struct {
	lastSnapSeq int64
	lastSnapAt  time.Time
	seeded      bool
	// recent holds event times inside the rate window.
	recent []time.Time
	// latestSeq is the newest sequence observed via MaybeSnapshot.
	latestSeq int64
}

type job struct {
	docID string
	seq   int64
	state *document.State
}

// Manager decides when to snapshot and runs the expensive part
// (serialize, compress, persist) on a background worker so the
// interactive path never blocks.
type Manager struct {
	store *Store
	opts  Options

	mu     sync.Mutex
	tracks map[string]*track

	jobs    chan job
	pending atomic.Int64
	wg      sync.WaitGroup
	closed  chan struct{}
	once    sync.Once

	// lastErr records the most recent worker failure for inspection.
	lastErr atomic.Value
}

// NewManager creates a Manager and starts its background worker.
// Call Close to drain and stop it.
func NewManager(store *Store, opts Options) *Manager {
	opts.defaults()
	m := &Manager{
		store:  store,
		opts:   opts,
		tracks: make(map[string]*track),
		jobs:   make(chan job, opts.QueueDepth),
		closed: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

// Pending returns the number of snapshot jobs queued or in flight.
// A persistently high value means the worker cannot keep up.
func (m *Manager) Pending() int64 { return m.pending.Load() }

// LastError returns the most recent background snapshot failure, or nil.
func (m *Manager) LastError() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// MaybeSnapshot notes one appended event and, if a cadence trigger fires,
// deep-clones state and enqueues a snapshot at seq. It returns true when a
// snapshot was enqueued. It never blocks: a full worker queue drops the
// request with a log line and the next trigger retries.
func (m *Manager) MaybeSnapshot(ctx context.Context, docID string, seq int64, state *document.State) bool {
	now := m.opts.Clock()

	m.mu.Lock()
	t := m.trackFor(ctx, docID, now)
	t.latestSeq = seq
	t.recent = append(t.recent, now)
	m.trimWindow(t, now)
	due := m.dueLocked(t, seq, now)
	prevSeq, prevAt := t.lastSnapSeq, t.lastSnapAt
	if due {
		// Mark eagerly so a slow worker doesn't trigger duplicates.
		t.lastSnapSeq = seq
		t.lastSnapAt = now
	}
	m.mu.Unlock()

	if !due {
		return false
	}
	if !m.enqueue(docID, seq, state) {
		// Queue full: unmark so the next event retries the trigger.
		m.mu.Lock()
		if t.lastSnapSeq == seq {
			t.lastSnapSeq, t.lastSnapAt = prevSeq, prevAt
		}
		m.mu.Unlock()
		return false
	}
	return true
}

// Interval returns the current adaptive interval for docID, for
// inspection and tests.
func (m *Manager) Interval(docID string) int64 {
	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[docID]
	if !ok {
		return m.opts.BaseInterval
	}
	m.trimWindow(t, now)
	return m.intervalLocked(t, now)
}

// Snapshot serializes state and persists it synchronously, bypassing the
// cadence. Used by the force timer, chronicled, and tests. The memory
// guard applies: an oversized state returns TooLargeError and the event
// log remains the fallback source of truth.
func (m *Manager) Snapshot(ctx context.Context, docID string, seq int64, state *document.State) (*Snapshot, error) {
	start := m.opts.Clock()
	data, err := state.Marshal()
	if err != nil {
		return nil, err
	}

	size := int64(len(data))
	if size > m.opts.MaxStateBytes {
		return nil, &TooLargeError{DocumentID: docID, Sequence: seq, Size: size, Limit: m.opts.MaxStateBytes}
	}
	if size > m.opts.WarnStateBytes {
		m.opts.Logger.Warn("snapshot: state size approaching hard limit",
			"document_id", docID, "seq", seq, "size", size, "limit", m.opts.MaxStateBytes)
	}

	snap, err := m.store.Put(ctx, docID, seq, data, m.opts.Clock())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if t, ok := m.tracks[docID]; ok && seq > t.lastSnapSeq {
		t.lastSnapSeq = seq
		t.lastSnapAt = m.opts.Clock()
	}
	m.mu.Unlock()

	m.opts.Sink.SnapshotTaken(docID, seq, snap.UncompressedSize, snap.CompressedSize, m.opts.Clock().Sub(start))

	// Prune only after the new snapshot is durably committed.
	if _, err := m.store.Prune(ctx, docID, m.opts.Keep); err != nil {
		m.opts.Logger.Warn("snapshot: prune after commit failed", "document_id", docID, "error", err)
	}
	return snap, nil
}

// StateProvider loads the current state of a document, used by the force
// timer to materialize documents that went quiet after low-rate edits.
type StateProvider func(ctx context.Context, docID string) (*document.State, int64, error)

// RunForceTimer blocks until ctx is cancelled, checking every interval
// whether any tracked document has unsnapshotted events older than
// ForceAfter. This is the hard wall-clock trigger — independent of UI
// activity, never cancelled by window close.
func (m *Manager) RunForceTimer(ctx context.Context, interval time.Duration, provider StateProvider) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ForcePass(ctx, provider)
		}
	}
}

// ForcePass runs one force-trigger check immediately: every tracked
// document with unsnapshotted events older than ForceAfter is
// snapshotted synchronously via provider.
func (m *Manager) ForcePass(ctx context.Context, provider StateProvider) {
	now := m.opts.Clock()

	m.mu.Lock()
	var due []string
	for docID, t := range m.tracks {
		if t.latestSeq > t.lastSnapSeq && now.Sub(t.lastSnapAt) >= m.opts.ForceAfter {
			due = append(due, docID)
		}
	}
	m.mu.Unlock()

	for _, docID := range due {
		state, seq, err := provider(ctx, docID)
		if err != nil {
			m.opts.Logger.Warn("snapshot: force trigger load failed", "document_id", docID, "error", err)
			continue
		}
		if _, err := m.Snapshot(ctx, docID, seq, state); err != nil {
			m.opts.Logger.Warn("snapshot: forced snapshot failed", "document_id", docID, "seq", seq, "error", err)
		}
	}
}

// Prune removes old snapshots for docID, keeping at least keep (floored
// at 2). Only called after a new snapshot is durably committed.
func (m *Manager) Prune(ctx context.Context, docID string, keep int) (int, error) {
	return m.store.Prune(ctx, docID, keep)
}

// Flush blocks until all queued snapshot jobs have completed.
func (m *Manager) Flush() {
	for m.pending.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// Close drains the queue and stops the worker.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.closed) })
	m.wg.Wait()
}

// trackFor returns the cadence state for docID, seeding lastSnapSeq from
// the store on first touch. Caller holds mu.
func (m *Manager) trackFor(ctx context.Context, docID string, now time.Time) *track {
	t, ok := m.tracks[docID]
	if !ok {
		t = &track{lastSnapSeq: -1, lastSnapAt: now}
		m.tracks[docID] = t
	}
	if !t.seeded {
		t.seeded = true
		if snap, err := m.store.Latest(ctx, docID, -1); err == nil {
			t.lastSnapSeq = snap.Sequence
			t.lastSnapAt = snap.CreatedAt
		}
	}
	return t
}

func (m *Manager) trimWindow(t *track, now time.Time) {
	cutoff := now.Add(-m.opts.RateWindow)
	i := 0
	for i < len(t.recent) && t.recent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		t.recent = append(t.recent[:0], t.recent[i:]...)
	}
}

func (m *Manager) intervalLocked(t *track, now time.Time) int64 {
	interval := m.opts.BaseInterval
	rate := float64(len(t.recent)) / m.opts.RateWindow.Seconds()
	switch {
	case rate >= m.opts.HighRate:
		interval *= m.opts.HighRateFactor
	case rate <= m.opts.LowRate:
		interval /= 2
	}
	if interval < m.opts.MinInterval {
		interval = m.opts.MinInterval
	}
	if interval > m.opts.MaxInterval {
		interval = m.opts.MaxInterval
	}
	return interval
}

func (m *Manager) dueLocked(t *track, seq int64, now time.Time) bool {
	if seq <= t.lastSnapSeq {
		return false
	}
	if seq-t.lastSnapSeq >= m.intervalLocked(t, now) {
		return true
	}
	return now.Sub(t.lastSnapAt) >= m.opts.ForceAfter
}

func (m *Manager) enqueue(docID string, seq int64, state *document.State) bool {
	// Clone on the caller's goroutine: the worker must see a state frozen
	// at seq, not one the window keeps editing during compression.
	j := job{docID: docID, seq: seq, state: state.Clone()}
	m.pending.Add(1)
	select {
	case m.jobs <- j:
		return true
	default:
		m.pending.Add(-1)
		m.opts.Logger.Warn("snapshot: worker backlog, dropping snapshot request",
			"document_id", docID, "seq", seq, "pending", m.pending.Load())
		return false
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case j := <-m.jobs:
			m.run(j)
		case <-m.closed:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case j := <-m.jobs:
					m.run(j)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) run(j job) {
	defer m.pending.Add(-1)
	ctx := context.Background()
	if _, err := m.Snapshot(ctx, j.docID, j.seq, j.state); err != nil {
		m.lastErr.Store(err)
		m.opts.Logger.Warn("snapshot: background snapshot failed",
			"document_id", j.docID, "seq", j.seq, "error", err)
		return
	}
	m.opts.Logger.Debug("snapshot: committed", "document_id", j.docID, "seq", j.seq)
}
