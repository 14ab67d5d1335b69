package session

import (
	"sync"

	"github.com/inkmill/chronicle/opgroup"
)

// Navigator is the per-window undo/redo cursor. It moves over operation
// group boundaries, never raw events: undoing one step reverts a whole
// group. Cancelled groups are skipped entirely — their span is invisible
// to navigation, so an undo jumping over one reverts its events together
// with the step.
type Navigator struct {
	mu sync.Mutex
	// base is the sequence the projection held when the window opened;
	// undo never navigates below it.
	base int64
	// groups holds valid (non-cancelled) completed groups in order.
	groups []opgroup.Group
	// cursor is the number of currently-applied groups.
	cursor int
}

// NewNavigator creates a navigator anchored at base.
func NewNavigator(base int64) *Navigator {
	return &Navigator{base: base}
}

// Push records a completed group. Cancelled groups are dropped. Pushing
// while the cursor is behind the tip discards the redo tail — once the
// user edits after an undo, the undone branch is unreachable (its events
// stay in the log for audit only).
func (n *Navigator) Push(g opgroup.Group) {
	if g.Cancelled {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groups = append(n.groups[:n.cursor], g)
	n.cursor = len(n.groups)
}

// DropRedoTail discards the groups beyond the cursor and returns them so
// the caller can tombstone their spans in the store. Called when a new
// edit arrives while the cursor is behind the tip — the undone branch
// becomes permanently unreachable at that moment.
func (n *Navigator) DropRedoTail() []opgroup.Group {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cursor >= len(n.groups) {
		return nil
	}
	dropped := append([]opgroup.Group(nil), n.groups[n.cursor:]...)
	n.groups = n.groups[:n.cursor]
	return dropped
}

// CanUndo reports whether an undo step exists.
func (n *Navigator) CanUndo() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cursor > 0
}

// CanRedo reports whether a redo step exists.
func (n *Navigator) CanRedo() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cursor < len(n.groups)
}

// Undo steps the cursor back one group and returns the replay target:
// the end of the previous valid group, or the base sequence when none
// remains. ok is false when there is nothing to undo.
func (n *Navigator) Undo() (target int64, label string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cursor == 0 {
		return 0, "", false
	}
	undone := n.groups[n.cursor-1]
	n.cursor--
	if n.cursor == 0 {
		return n.base, undone.Label, true
	}
	return n.groups[n.cursor-1].End, undone.Label, true
}

// Redo steps the cursor forward one group and returns the replay target
// (the group's end sequence). ok is false when there is nothing to redo.
func (n *Navigator) Redo() (target int64, label string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cursor >= len(n.groups) {
		return 0, "", false
	}
	g := n.groups[n.cursor]
	n.cursor++
	return g.End, g.Label, true
}

// Depth returns (applied, total) group counts, for UI binding and tests.
func (n *Navigator) Depth() (applied, total int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cursor, len(n.groups)
}
