package opgroup_test

import (
	"sync"
	"testing"
	"time"

	"github.com/inkmill/chronicle/idgen"
	"github.com/inkmill/chronicle/opgroup"
)

// collector gathers completed groups thread-safely.
type collector struct {
	mu     sync.Mutex
	groups []opgroup.Group
}

func (c *collector) add(g opgroup.Group) {
	c.mu.Lock()
	c.groups = append(c.groups, g)
	c.mu.Unlock()
}

func (c *collector) all() []opgroup.Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]opgroup.Group(nil), c.groups...)
}

func newGrouper(c *collector, timeout time.Duration) *opgroup.Grouper {
	return opgroup.New(c.add, opgroup.Options{
		IdleTimeout: timeout,
		NewID:       idgen.Sequential("grp_"),
	})
}

func TestExplicitGroup(t *testing.T) {
	var c collector
	g := newGrouper(&c, time.Minute)

	g.Begin("Move objects")
	for seq := int64(100); seq <= 107; seq++ {
		g.Record(seq)
	}
	done := g.End()

	if done == nil || done.Start != 100 || done.End != 107 {
		t.Fatalf("got %+v, want [100,107]", done)
	}
	if done.Label != "Move objects" {
		t.Fatalf("got label %q", done.Label)
	}
	got := c.all()
	if len(got) != 1 || got[0].ID != done.ID {
		t.Fatalf("callback got %+v", got)
	}
}

func TestIdleEventsAreSingletons(t *testing.T) {
	var c collector
	g := newGrouper(&c, time.Minute)

	g.Record(5)
	g.Record(6)

	got := c.all()
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}
	for i, grp := range got {
		if grp.Start != grp.End || grp.Start != int64(5+i) {
			t.Fatalf("group %d is not a singleton: %+v", i, grp)
		}
	}
}

func TestEmptyGroupVanishes(t *testing.T) {
	var c collector
	g := newGrouper(&c, time.Minute)

	g.Begin("Aborted gesture")
	if done := g.End(); done != nil {
		t.Fatalf("got %+v, want nil for an eventless group", done)
	}
	if len(c.all()) != 0 {
		t.Fatal("eventless group reached the callback")
	}
}

func TestCancelMarksGroup(t *testing.T) {
	var c collector
	g := newGrouper(&c, time.Minute)

	g.Begin("Escape-cancelled drag")
	g.Record(10)
	g.Record(11)
	done := g.Cancel()

	if done == nil || !done.Cancelled {
		t.Fatalf("got %+v, want cancelled group", done)
	}
	if done.Start != 10 || done.End != 11 {
		t.Fatalf("cancelled span wrong: %+v", done)
	}
}

func TestBeginWhileActiveForcesBoundary(t *testing.T) {
	var c collector
	g := newGrouper(&c, time.Minute)

	g.Begin("First")
	g.Record(1)
	g.Begin("Second")
	g.Record(2)
	g.End()

	got := c.all()
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}
	if got[0].Label != "First" || got[0].End != 1 {
		t.Fatalf("first group wrong: %+v", got[0])
	}
	if got[1].Label != "Second" || got[1].Start != 2 {
		t.Fatalf("second group wrong: %+v", got[1])
	}
}

func TestIdleTimeoutClosesGroup(t *testing.T) {
	var c collector
	g := newGrouper(&c, 20*time.Millisecond)

	g.Begin("Drag")
	g.Record(1)
	g.Record(2)

	deadline := time.Now().Add(2 * time.Second)
	for g.Active() {
		if time.Now().After(deadline) {
			t.Fatal("idle timeout never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := c.all()
	if len(got) != 1 || got[0].Start != 1 || got[0].End != 2 {
		t.Fatalf("got %+v, want one group [1,2]", got)
	}

	// The stale timer must not touch a later group.
	g.Begin("Next")
	g.Record(3)
	if done := g.End(); done == nil || done.Start != 3 {
		t.Fatalf("got %+v after timeout", done)
	}
}

func TestRecordResetsIdleTimer(t *testing.T) {
	var c collector
	g := newGrouper(&c, 60*time.Millisecond)

	g.Begin("Slow drag")
	for seq := int64(0); seq < 5; seq++ {
		g.Record(seq)
		time.Sleep(20 * time.Millisecond)
	}
	if !g.Active() {
		t.Fatal("group closed despite steady records")
	}
	done := g.End()
	if done == nil || done.End != 4 {
		t.Fatalf("got %+v", done)
	}
}
