package document_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/inkmill/chronicle/document"
	"github.com/inkmill/chronicle/event"
)

func ev(seq int64, p event.Payload) event.Event {
	return event.Event{ID: "evt_test", Type: p.Kind(), Payload: p, Sequence: seq}
}

func TestApplySequence(t *testing.T) {
	s := document.Empty()

	steps := []event.Payload{
		event.ObjectAdded{ObjectID: "a", Shape: "rect", X: 10, Y: 10},
		event.ObjectMoved{ObjectID: "a", DX: 5, DY: -2},
		event.PropertySet{ObjectID: "a", Key: "fill", Value: "#ff0000"},
		event.ObjectTransformed{ObjectID: "a", Scale: 2, Rotation: 45},
		event.DocumentRenamed{Title: "Poster"},
	}
	for i, p := range steps {
		if err := document.Apply(s, ev(int64(i), p)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	o := s.Objects["a"]
	if o.X != 15 || o.Y != 8 {
		t.Fatalf("got position (%v,%v), want (15,8)", o.X, o.Y)
	}
	if o.Props["fill"] != "#ff0000" {
		t.Fatalf("got fill %q", o.Props["fill"])
	}
	if o.Scale != 2 || o.Rotation != 45 {
		t.Fatalf("got transform (%v,%v)", o.Scale, o.Rotation)
	}
	if s.Title != "Poster" {
		t.Fatalf("got title %q", s.Title)
	}
	if s.Seq != 4 {
		t.Fatalf("got seq %d, want 4", s.Seq)
	}
}

func TestApplyUnknownObjectFails(t *testing.T) {
	s := document.Empty()
	err := document.Apply(s, ev(0, event.ObjectMoved{ObjectID: "ghost", DX: 1}))
	if !errors.Is(err, document.ErrUnknownObject) {
		t.Fatalf("got %v, want ErrUnknownObject", err)
	}
	if s.Seq != -1 {
		t.Fatal("failed apply must not advance seq")
	}
}

func TestApplyUnknownEventIsHardError(t *testing.T) {
	s := document.Empty()
	err := document.Apply(s, ev(0, event.Unknown{Type: "hologram_projected"}))
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	s := document.Empty()
	for i, id := range []string{"a", "b", "c"} {
		if err := document.Apply(s, ev(int64(i), event.ObjectAdded{ObjectID: id, Shape: "rect"})); err != nil {
			t.Fatal(err)
		}
	}
	if err := document.Apply(s, ev(3, event.ObjectRemoved{ObjectID: "b"})); err != nil {
		t.Fatal(err)
	}

	got := s.ObjectIDs()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("got order %v, want [a c]", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := document.Empty()
	if err := document.Apply(s, ev(0, event.ObjectAdded{ObjectID: "a", Shape: "rect"})); err != nil {
		t.Fatal(err)
	}
	if err := document.Apply(s, ev(1, event.PropertySet{ObjectID: "a", Key: "fill", Value: "red"})); err != nil {
		t.Fatal(err)
	}

	c := s.Clone()
	if err := document.Apply(s, ev(2, event.ObjectMoved{ObjectID: "a", DX: 100})); err != nil {
		t.Fatal(err)
	}
	s.Objects["a"].Props["fill"] = "blue"

	if c.Objects["a"].X != 0 {
		t.Fatal("clone saw a later move")
	}
	if c.Objects["a"].Props["fill"] != "red" {
		t.Fatal("clone shares the props map")
	}
	if c.Seq != 1 {
		t.Fatalf("clone seq %d, want 1", c.Seq)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	build := func() *document.State {
		s := document.Empty()
		payloads := []event.Payload{
			event.ObjectAdded{ObjectID: "z", Shape: "ellipse", X: 1, Y: 2},
			event.ObjectAdded{ObjectID: "a", Shape: "rect", X: 3, Y: 4},
			event.PropertySet{ObjectID: "z", Key: "opacity", Value: "0.5"},
			event.PropertySet{ObjectID: "z", Key: "fill", Value: "green"},
			event.StrokeAppended{ObjectID: "a", Points: []event.Point{{X: 1, Y: 1, Pressure: 1}}},
		}
		for i, p := range payloads {
			if err := document.Apply(s, ev(int64(i), p)); err != nil {
				t.Fatal(err)
			}
		}
		return s
	}

	a, err := build().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	b, err := build().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("two folds of the same events serialized differently")
	}

	restored, err := document.Unmarshal(a)
	if err != nil {
		t.Fatal(err)
	}
	c, err := restored.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, c) {
		t.Fatal("marshal/unmarshal/marshal changed the bytes")
	}
}
