// Package replay reconstructs document state from the event log.
//
// Load finds the newest snapshot at or below the target sequence, folds
// the intervening events over it, and returns the result. Folding is
// deterministic (document.Apply is pure over the state argument), so the
// same range always reproduces byte-identical state — the property that
// makes snapshots a safe accelerator and the log the only authority.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkmill/chronicle/document"
	"github.com/inkmill/chronicle/event"
	"github.com/inkmill/chronicle/eventstore"
	"github.com/inkmill/chronicle/snapshot"
)

// UnknownEventError aborts a fold at an event the build cannot interpret.
// The engine never silently skips: State holds everything folded up to
// (not including) Sequence so the caller can surface a clear boundary.
type UnknownEventError struct {
	DocumentID string
	Sequence   int64
	Type       string
	// State is the partial fold result through Sequence-1.
	State *document.State
	Cause error
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("replay: %s: cannot fold event type %q at seq %d: %v", e.DocumentID, e.Type, e.Sequence, e.Cause)
}

func (e *UnknownEventError) Unwrap() error { return e.Cause }

// Options configures an Engine.
type Options struct {
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Clock is used for load-duration logging. Default: time.Now.
	Clock func() time.Time
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Engine reconstructs document state on demand.
type Engine struct {
	events *eventstore.Store
	snaps  *snapshot.Store
	opts   Options
}

// New creates an Engine over the shared stores.
func New(events *eventstore.Store, snaps *snapshot.Store, opts Options) *Engine {
	opts.defaults()
	return &Engine{events: events, snaps: snaps, opts: opts}
}

// Load reconstructs docID at target. target < 0 means the latest
// sequence. A corrupted snapshot blob degrades gracefully: the engine
// logs, falls back to the next-older snapshot (ultimately to the empty
// state at sequence 0), and keeps going.
func (e *Engine) Load(ctx context.Context, docID string, target int64) (*document.State, error) {
	start := e.opts.Clock()

	if target < 0 {
		latest, err := e.events.LatestSequence(ctx, docID)
		if err != nil {
			return nil, err
		}
		target = latest
	}
	if target < 0 {
		// Empty log: the document is the empty state.
		return document.Empty(), nil
	}

	base, err := e.baseState(ctx, docID, target)
	if err != nil {
		return nil, err
	}

	state, err := e.fold(ctx, docID, base, target)
	if err != nil {
		return nil, err
	}

	e.opts.Logger.Debug("replay: load complete",
		"document_id", docID, "target", target,
		"from_snapshot", base.Seq, "duration", e.opts.Clock().Sub(start))
	return state, nil
}

// Seek moves an already-loaded projection to target. When target is ahead
// of state.Seq it folds only the delta range — a pure optimization for
// timeline scrubbing. Seeking backwards reloads via the snapshot path.
// The input state is never mutated on failure.
func (e *Engine) Seek(ctx context.Context, docID string, state *document.State, target int64) (*document.State, error) {
	if target < 0 {
		return e.Load(ctx, docID, target)
	}
	if state != nil && target == state.Seq {
		return state, nil
	}
	if state != nil && target > state.Seq {
		return e.fold(ctx, docID, state.Clone(), target)
	}
	return e.Load(ctx, docID, target)
}

// baseState returns the starting point for a fold to target: the newest
// usable snapshot at or below target, or the empty state.
func (e *Engine) baseState(ctx context.Context, docID string, target int64) (*document.State, error) {
	maxSeq := target
	for {
		snap, err := e.snaps.Latest(ctx, docID, maxSeq)
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			return document.Empty(), nil
		}
		if err != nil {
			return nil, err
		}

		state, derr := restore(snap)
		if derr == nil {
			return state, nil
		}

		// Degraded load: the blob is unreadable but the event log can
		// cover the distance from an older snapshot (or sequence 0).
		e.opts.Logger.Warn("replay: snapshot unreadable, degrading to older snapshot",
			"document_id", docID, "seq", snap.Sequence, "error", derr)
		if snap.Sequence == 0 {
			return document.Empty(), nil
		}
		maxSeq = snap.Sequence - 1
	}
}

func restore(snap *snapshot.Snapshot) (*document.State, error) {
	data, err := snap.Decompress()
	if err != nil {
		return nil, err
	}
	state, err := document.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if state.Seq != snap.Sequence {
		return nil, fmt.Errorf("replay: snapshot at seq %d contains state at seq %d", snap.Sequence, state.Seq)
	}
	return state, nil
}

// fold applies events (state.Seq, target] over state, mutating and
// returning it. state must be exclusively owned by the caller. Events
// inside tombstoned spans (undone branches made permanent, cancelled
// operations) are skipped; the returned state carries Seq == target even
// when the trailing events were tombstoned.
func (e *Engine) fold(ctx context.Context, docID string, state *document.State, target int64) (*document.State, error) {
	if target <= state.Seq {
		return state, nil
	}
	dead, err := e.events.RevertedRanges(ctx, docID)
	if err != nil {
		return nil, err
	}
	events, err := e.events.Read(ctx, docID, state.Seq+1, target)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if reverted(dead, ev.Sequence) {
			continue
		}
		if u, ok := ev.Payload.(event.Unknown); ok {
			return nil, &UnknownEventError{
				DocumentID: docID, Sequence: ev.Sequence, Type: u.Type,
				State: state,
				Cause: fmt.Errorf("unrecognized discriminator"),
			}
		}
		if err := document.Apply(state, ev); err != nil {
			return nil, &UnknownEventError{
				DocumentID: docID, Sequence: ev.Sequence, Type: ev.Type,
				State: state,
				Cause: err,
			}
		}
	}
	state.Seq = target
	return state, nil
}

func reverted(ranges []eventstore.SeqRange, seq int64) bool {
	for _, r := range ranges {
		if r.Contains(seq) {
			return true
		}
	}
	return false
}
