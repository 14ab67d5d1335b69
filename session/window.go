package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/inkmill/chronicle/document"
	"github.com/inkmill/chronicle/event"
	"github.com/inkmill/chronicle/opgroup"
)

// Window is one open window's scope: a projection, an undo navigator,
// and a grouping state machine, all exclusively owned. The projection is
// handed to the rendering layer read-only; nothing outside this window
// may mutate it.
type Window struct {
	id      string
	docID   string
	manager *Manager
	grouper *opgroup.Grouper

	mu     sync.Mutex
	state  *document.State
	nav    *Navigator
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the window id.
func (w *Window) ID() string { return w.id }

// DocumentID returns the projected document id.
func (w *Window) DocumentID() string { return w.docID }

// State returns the window's projection. Read-only for callers: the
// rendering layer consumes it, only the window mutates it.
func (w *Window) State() *document.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Seq returns the sequence the projection currently reflects.
func (w *Window) Seq() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == nil {
		return -1
	}
	return w.state.Seq
}

// Record appends one edit emitted by the tool layer: the event is durably
// committed, folded into this window's projection, fed to the grouping
// service, and offered to the snapshot cadence. sampled marks
// continuous-input events (drag motion, pen points) for telemetry.
func (w *Window) Record(ctx context.Context, p event.Payload, sampled bool) (int64, error) {
	m := w.manager
	start := m.opts.Clock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return -1, fmt.Errorf("session: window %s is closed", w.id)
	}
	w.mu.Unlock()

	// An edit while the cursor is behind the tip makes the undone branch
	// permanent. Tombstone its spans before appending, so the projection
	// stays a pure fold of the live events and replay never refolds the
	// dead range.
	for _, g := range w.nav.DropRedoTail() {
		if err := m.events.MarkReverted(ctx, w.docID, g.Start, g.End); err != nil {
			return -1, err
		}
	}

	ev := event.New(m.opts.NewEventID(), p, start)
	seq, err := retryableAppend(ctx, m.events, w.docID, ev)
	if err != nil {
		return -1, err
	}
	ev.Sequence = seq

	w.mu.Lock()
	if err := document.Apply(w.state, ev); err != nil {
		// The event is durably logged but this projection failed to fold
		// it; resync from the store rather than drift.
		w.mu.Unlock()
		return seq, fmt.Errorf("session: projection fold failed after append: %w", err)
	}
	w.mu.Unlock()

	w.grouper.Record(seq)
	m.snapman.MaybeSnapshot(ctx, w.docID, seq, w.State())
	m.opts.Sink.EventRecorded(w.docID, ev.Type, sampled, m.opts.Clock().Sub(start))
	return seq, nil
}

// BeginOperation opens an undo group labelled for the UI ("Move", ...).
func (w *Window) BeginOperation(label string) { w.grouper.Begin(label) }

// EndOperation closes the active undo group.
func (w *Window) EndOperation() { w.grouper.End() }

// CancelOperation closes the active group, tombstones its span, and rolls
// the projection back to the state before the operation began. The events
// stay in the log for audit; replay folds past them.
func (w *Window) CancelOperation(ctx context.Context) error {
	g := w.grouper.Cancel()
	if g == nil {
		return nil
	}
	if err := w.manager.events.MarkReverted(ctx, w.docID, g.Start, g.End); err != nil {
		return err
	}
	return w.seekTo(ctx, g.Start-1)
}

// CanUndo reports whether an undo step exists.
func (w *Window) CanUndo() bool { return w.nav.CanUndo() }

// CanRedo reports whether a redo step exists.
func (w *Window) CanRedo() bool { return w.nav.CanRedo() }

// Undo reverts one whole operation group by replaying the projection to
// the previous group boundary. Only this window's state moves; other
// windows on the same document are untouched.
func (w *Window) Undo(ctx context.Context) (bool, error) {
	w.grouper.ForceBoundary()
	target, label, ok := w.nav.Undo()
	if !ok {
		return false, nil
	}
	if err := w.seekTo(ctx, target); err != nil {
		return false, err
	}
	w.manager.opts.Logger.Debug("session: undo",
		"window_id", w.id, "label", label, "target", target)
	return true, nil
}

// Redo re-applies the next operation group.
func (w *Window) Redo(ctx context.Context) (bool, error) {
	target, label, ok := w.nav.Redo()
	if !ok {
		return false, nil
	}
	if err := w.seekTo(ctx, target); err != nil {
		return false, err
	}
	w.manager.opts.Logger.Debug("session: redo",
		"window_id", w.id, "label", label, "target", target)
	return true, nil
}

// Scrub seeks the projection to an arbitrary sequence for timeline
// scrubbing. It honors both the caller's ctx and the window's own
// lifetime, so closing the window cancels an in-flight scrub without
// touching document-level work.
func (w *Window) Scrub(ctx context.Context, target int64) error {
	sctx, cancel := joinContexts(ctx, w.ctx)
	defer cancel()
	return w.seekTo(sctx, target)
}

func (w *Window) seekTo(ctx context.Context, target int64) error {
	w.mu.Lock()
	cur := w.state
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return fmt.Errorf("session: window %s is closed", w.id)
	}

	var next *document.State
	var err error
	if target < 0 {
		// Before the first event: the projection is the empty state.
		next = document.Empty()
	} else {
		next, err = w.manager.engine.Seek(ctx, w.docID, cur, target)
	}
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.state = next
	w.mu.Unlock()
	return nil
}

// close releases the window's scope: cancels window-bound work, closes
// any active group, and drops the projection. Called via
// Manager.CloseWindow only.
func (w *Window) close() {
	w.grouper.ForceBoundary()
	w.cancel()
	w.mu.Lock()
	w.closed = true
	w.state = nil
	w.mu.Unlock()
}

// joinContexts returns a context cancelled when either parent is.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() { stop(); cancel() }
}
