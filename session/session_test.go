package session_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inkmill/chronicle/dbopen"
	"github.com/inkmill/chronicle/event"
	"github.com/inkmill/chronicle/eventstore"
	"github.com/inkmill/chronicle/idgen"
	"github.com/inkmill/chronicle/opgroup"
	"github.com/inkmill/chronicle/replay"
	"github.com/inkmill/chronicle/session"
	"github.com/inkmill/chronicle/snapshot"
)

func newSessionManager(t *testing.T) (*session.Manager, *eventstore.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(eventstore.Schema))
	events := eventstore.New(db, eventstore.Options{})
	snaps := snapshot.NewStore(db)
	snapman := snapshot.NewManager(snaps, snapshot.Options{})
	t.Cleanup(snapman.Close)
	engine := replay.New(events, snaps, replay.Options{})

	m := session.NewManager(events, snapman, engine, session.Options{
		Grouping:    opgroup.Options{IdleTimeout: time.Minute},
		NewWindowID: idgen.Sequential("win_"),
		NewEventID:  idgen.Sequential("evt_"),
	})
	t.Cleanup(m.Close)
	return m, events
}

func mustCreate(t *testing.T, events *eventstore.Store, docID string) {
	t.Helper()
	if err := events.CreateDocument(context.Background(), docID, "Doc"); err != nil {
		t.Fatal(err)
	}
}

func mustRecord(t *testing.T, w *session.Window, p event.Payload) int64 {
	t.Helper()
	seq, err := w.Record(context.Background(), p, false)
	if err != nil {
		t.Fatal(err)
	}
	return seq
}

func TestWindowsAreIsolated(t *testing.T) {
	m, events := newSessionManager(t)
	ctx := context.Background()
	mustCreate(t, events, "d1")
	mustCreate(t, events, "d2")

	w1, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	w2, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	w3, err := m.OpenWindow(ctx, "d2")
	if err != nil {
		t.Fatal(err)
	}

	mustRecord(t, w1, event.ObjectAdded{ObjectID: "o", Shape: "rect"})
	mustRecord(t, w1, event.ObjectMoved{ObjectID: "o", DX: 10})

	// w2 shares the log but not the projection: it stays at its own seq
	// until it explicitly replays.
	if w2.Seq() != -1 {
		t.Fatalf("sibling window moved to seq %d", w2.Seq())
	}
	if w3.Seq() != -1 || len(w3.State().Objects) != 0 {
		t.Fatal("window on another document was touched")
	}

	if err := w2.Scrub(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if w2.Seq() != 1 || w2.State().Objects["o"].X != 10 {
		t.Fatalf("w2 replay wrong: seq=%d", w2.Seq())
	}

	// Undo in w1 leaves w2's projection alone.
	if ok, err := w1.Undo(ctx); err != nil || !ok {
		t.Fatalf("undo: ok=%v err=%v", ok, err)
	}
	if w2.Seq() != 1 {
		t.Fatalf("w1 undo moved w2 to seq %d", w2.Seq())
	}

	got := m.WindowsForDocument("d1")
	if len(got) != 2 {
		t.Fatalf("got %d windows on d1, want 2", len(got))
	}
}

func TestGroupedDragUndoRedo(t *testing.T) {
	m, events := newSessionManager(t)
	ctx := context.Background()
	mustCreate(t, events, "d1")

	w, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}

	// 100 singleton edits (seqs 0..99), then one drag grouped as a unit.
	mustRecord(t, w, event.ObjectAdded{ObjectID: "o", Shape: "rect"})
	for i := 0; i < 99; i++ {
		mustRecord(t, w, event.ObjectMoved{ObjectID: "o", DX: 1})
	}

	w.BeginOperation("Move")
	for i := 0; i < 8; i++ {
		mustRecord(t, w, event.ObjectMoved{ObjectID: "o", DX: 1})
	}
	w.EndOperation()

	if w.Seq() != 107 {
		t.Fatalf("got seq %d, want 107", w.Seq())
	}

	// One undo reverts the whole drag, not one sampled move.
	if ok, err := w.Undo(ctx); err != nil || !ok {
		t.Fatalf("undo: ok=%v err=%v", ok, err)
	}
	if w.Seq() != 99 {
		t.Fatalf("got seq %d after undo, want 99", w.Seq())
	}
	if w.State().Objects["o"].X != 99 {
		t.Fatalf("got X %v, want 99", w.State().Objects["o"].X)
	}

	if !w.CanRedo() {
		t.Fatal("redo should be available")
	}
	if ok, err := w.Redo(ctx); err != nil || !ok {
		t.Fatalf("redo: ok=%v err=%v", ok, err)
	}
	if w.Seq() != 107 || w.State().Objects["o"].X != 107 {
		t.Fatalf("got seq=%d X=%v after redo", w.Seq(), w.State().Objects["o"].X)
	}
}

func TestCancelledOperationIsNotAnUndoStop(t *testing.T) {
	m, events := newSessionManager(t)
	ctx := context.Background()
	mustCreate(t, events, "d1")

	w, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}

	mustRecord(t, w, event.ObjectAdded{ObjectID: "o", Shape: "rect"})

	w.BeginOperation("Escaped drag")
	mustRecord(t, w, event.ObjectMoved{ObjectID: "o", DX: 5})
	mustRecord(t, w, event.ObjectMoved{ObjectID: "o", DX: 5})
	if err := w.CancelOperation(ctx); err != nil {
		t.Fatal(err)
	}

	// The cancelled events stay in the log, but the projection rolls back
	// to the state before the operation began.
	latest, err := events.LatestSequence(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if latest != 2 {
		t.Fatalf("got latest %d, want cancelled events logged", latest)
	}
	if w.Seq() != 0 || w.State().Objects["o"].X != 0 {
		t.Fatalf("got seq=%d X=%v, want pre-drag state", w.Seq(), w.State().Objects["o"].X)
	}

	if ok, err := w.Undo(ctx); err != nil || !ok {
		t.Fatalf("undo: ok=%v err=%v", ok, err)
	}
	if w.Seq() != -1 || len(w.State().Objects) != 0 {
		t.Fatalf("got seq=%d, want empty state", w.Seq())
	}
	if w.CanUndo() {
		t.Fatal("nothing left to undo")
	}

	// A fresh replay agrees with the window: the cancelled span is dead.
	w2, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if w2.Seq() != 2 || w2.State().Objects["o"].X != 0 {
		t.Fatalf("cold load got seq=%d X=%v, want cancelled moves excluded", w2.Seq(), w2.State().Objects["o"].X)
	}
}

func TestEditAfterUndoKeepsUndoneBranchDead(t *testing.T) {
	m, events := newSessionManager(t)
	ctx := context.Background()
	mustCreate(t, events, "d1")

	w, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}

	mustRecord(t, w, event.ObjectAdded{ObjectID: "o", Shape: "rect"})
	w.BeginOperation("Drag")
	mustRecord(t, w, event.ObjectMoved{ObjectID: "o", DX: 1})
	mustRecord(t, w, event.ObjectMoved{ObjectID: "o", DX: 1})
	w.EndOperation()

	if ok, err := w.Undo(ctx); err != nil || !ok {
		t.Fatalf("undo: ok=%v err=%v", ok, err)
	}
	if w.State().Objects["o"].X != 0 {
		t.Fatalf("got X %v after undo, want 0", w.State().Objects["o"].X)
	}

	// Editing after the undo makes the drag permanently unreachable.
	seq := mustRecord(t, w, event.ObjectMoved{ObjectID: "o", DX: 10})
	if seq != 3 {
		t.Fatalf("got seq %d, want 3 (log keeps the dead rows)", seq)
	}
	if w.State().Objects["o"].X != 10 {
		t.Fatalf("got X %v, want 10", w.State().Objects["o"].X)
	}
	ranges, err := events.RevertedRanges(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || ranges[0].Start != 1 || ranges[0].End != 2 {
		t.Fatalf("got %+v, want the drag span tombstoned", ranges)
	}

	// Undoing and redoing the new edit must not resurrect the dead drag.
	if ok, err := w.Undo(ctx); err != nil || !ok {
		t.Fatalf("undo: ok=%v err=%v", ok, err)
	}
	if w.State().Objects["o"].X != 0 {
		t.Fatalf("got X %v after second undo, want 0", w.State().Objects["o"].X)
	}
	if ok, err := w.Redo(ctx); err != nil || !ok {
		t.Fatalf("redo: ok=%v err=%v", ok, err)
	}
	if w.Seq() != 3 || w.State().Objects["o"].X != 10 {
		t.Fatalf("got seq=%d X=%v after redo, want 3 and 10", w.Seq(), w.State().Objects["o"].X)
	}

	// A cold replay of the whole log matches the window's projection.
	w2, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if w2.Seq() != 3 || w2.State().Objects["o"].X != 10 {
		t.Fatalf("cold load got seq=%d X=%v, want 3 and 10", w2.Seq(), w2.State().Objects["o"].X)
	}
}

func TestCloseWindowIsIdempotent(t *testing.T) {
	m, events := newSessionManager(t)
	ctx := context.Background()
	mustCreate(t, events, "d1")

	w, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}

	if !m.CloseWindow(w.ID()) {
		t.Fatal("first close must report true")
	}
	if m.CloseWindow(w.ID()) {
		t.Fatal("second close must report false")
	}

	if _, err := w.Record(ctx, event.ObjectAdded{ObjectID: "o", Shape: "rect"}, false); err == nil {
		t.Fatal("record on a closed window must fail")
	}
}

func TestHooksFireAndIsolatePanics(t *testing.T) {
	m, events := newSessionManager(t)
	ctx := context.Background()
	mustCreate(t, events, "d1")

	var created, closed, allClosed int
	m.RegisterHooks(session.Hooks{
		OnWindowCreated: []func(*session.Window){
			func(*session.Window) { panic("hook bug") },
			func(*session.Window) { created++ },
		},
		OnWindowClosed:     []func(*session.Window){func(*session.Window) { closed++ }},
		OnAllWindowsClosed: []func(){func() { allClosed++ }},
	})

	w1, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	w2, err := m.OpenWindow(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Fatalf("panicking hook suppressed later hooks: created=%d", created)
	}

	m.CloseWindow(w1.ID())
	if allClosed != 0 {
		t.Fatal("all-closed fired with a window still open")
	}
	m.CloseWindow(w2.ID())
	if closed != 2 || allClosed != 1 {
		t.Fatalf("got closed=%d allClosed=%d", closed, allClosed)
	}
}
