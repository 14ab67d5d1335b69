// Package opgroup partitions the event stream into atomic undo/redo units.
//
// Tools emit fine-grained events — a drag gesture samples dozens of moves —
// but undo must revert whole user actions. The Grouper is a small state
// machine (idle -> active -> idle): Begin opens a group, Record extends it,
// and End, an idle timeout, or a forced boundary closes it. Events recorded
// while idle become implicit singleton groups.
//
// Completed groups are delivered through the OnComplete callback; the
// per-window undo navigator consumes them. Groups are in-memory bookkeeping
// over sequence ranges — the event log itself carries no group rows.
package opgroup

import (
	"log/slog"
	"sync"
	"time"

	"github.com/inkmill/chronicle/idgen"
)

// Group is a bounded run of sequence numbers treated as one undo unit.
type Group struct {
	ID    string
	Label string
	Start int64
	End   int64
	// Cancelled groups stay in the log for audit but are a no-op span to
	// the undo navigator: never an undo stop, never re-applied alone.
	Cancelled bool
}

// Options configures a Grouper.
type Options struct {
	// IdleTimeout closes an active group after this long without a
	// Record call. The timer is soft — every Record resets it.
	// Default: 500ms.
	IdleTimeout time.Duration
	// NewID mints group IDs. Default: "grp_" + UUIDv7.
	NewID idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 500 * time.Millisecond
	}
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("grp_", idgen.Default)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Grouper is the per-window grouping state machine. Safe for concurrent
// use; the OnComplete callback runs without internal locks held.
type Grouper struct {
	opts       Options
	onComplete func(Group)

	mu     sync.Mutex
	active *Group
	timer  *time.Timer
	// gen invalidates idle timers from superseded groups.
	gen uint64
}

// New creates a Grouper. onComplete receives every finalized group,
// including cancelled ones (with Cancelled set), in completion order.
func New(onComplete func(Group), opts Options) *Grouper {
	opts.defaults()
	if onComplete == nil {
		onComplete = func(Group) {}
	}
	return &Grouper{opts: opts, onComplete: onComplete}
}

// Begin opens a group. An already-active group is closed first (a tool
// switching mid-gesture is a forced boundary, never a nested group).
func (g *Grouper) Begin(label string) {
	g.mu.Lock()
	done := g.closeLocked(false)
	g.active = &Group{ID: g.opts.NewID(), Label: label, Start: -1, End: -1}
	g.gen++
	g.mu.Unlock()

	g.deliver(done)
}

// Record notes that the event at seq was appended. While a group is
// active it extends the group and resets the idle timer; while idle it
// emits an implicit singleton group.
func (g *Grouper) Record(seq int64) {
	g.mu.Lock()
	if g.active == nil {
		single := Group{ID: g.opts.NewID(), Start: seq, End: seq}
		g.mu.Unlock()
		g.deliver(&single)
		return
	}
	if g.active.Start < 0 {
		g.active.Start = seq
	}
	g.active.End = seq
	g.resetTimerLocked()
	g.mu.Unlock()
}

// End closes the active group and returns it, or nil when idle or when
// the group never recorded an event.
func (g *Grouper) End() *Group {
	g.mu.Lock()
	done := g.closeLocked(false)
	g.mu.Unlock()
	g.deliver(done)
	return done
}

// Cancel closes the active group marked cancelled. Its events remain in
// the log; the navigator treats the span as a no-op.
func (g *Grouper) Cancel() *Group {
	g.mu.Lock()
	done := g.closeLocked(true)
	g.mu.Unlock()
	g.deliver(done)
	return done
}

// ForceBoundary closes any active group (tool switch, window close).
func (g *Grouper) ForceBoundary() *Group {
	return g.End()
}

// Active reports whether an operation is in progress.
func (g *Grouper) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil
}

// closeLocked finalizes the active group. Caller holds mu. An active
// group that never saw an event vanishes without a callback — there is
// nothing to undo.
func (g *Grouper) closeLocked(cancelled bool) *Group {
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	a := g.active
	g.active = nil
	if a == nil || a.Start < 0 {
		return nil
	}
	a.Cancelled = cancelled
	return a
}

func (g *Grouper) resetTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.gen++
	gen := g.gen
	g.timer = time.AfterFunc(g.opts.IdleTimeout, func() { g.idleFire(gen) })
}

// idleFire closes the active group unless a later Record or close
// superseded the timer that fired.
func (g *Grouper) idleFire(gen uint64) {
	g.mu.Lock()
	if g.gen != gen || g.active == nil {
		g.mu.Unlock()
		return
	}
	done := g.closeLocked(false)
	g.mu.Unlock()

	if done != nil {
		g.opts.Logger.Debug("opgroup: idle timeout closed group",
			"group_id", done.ID, "start", done.Start, "end", done.End)
	}
	g.deliver(done)
}

func (g *Grouper) deliver(done *Group) {
	if done != nil {
		g.onComplete(*done)
	}
}
