package document

import (
	"fmt"

	"github.com/inkmill/chronicle/event"
)

// ErrUnknownObject is wrapped into apply errors for events that reference
// an object the state does not contain. This indicates a corrupted or
// reordered log — a well-formed log never references before creation.
var ErrUnknownObject = fmt.Errorf("document: unknown object")

// Apply folds one event into s, mutating s in place. It is pure with
// respect to everything outside s: no clocks, no globals, no IO. Replaying
// the same range over Empty() twice therefore yields byte-identical state.
//
// An event.Unknown payload is a hard error — replay must never silently
// skip a record it cannot interpret.
func Apply(s *State, ev event.Event) error {
	switch p := ev.Payload.(type) {
	case event.ObjectAdded:
		if _, dup := s.Objects[p.ObjectID]; dup {
			return fmt.Errorf("document: seq %d: object %s added twice", ev.Sequence, p.ObjectID)
		}
		s.Objects[p.ObjectID] = &Object{ID: p.ObjectID, Shape: p.Shape, X: p.X, Y: p.Y, Scale: 1}
		s.Order = append(s.Order, p.ObjectID)

	case event.ObjectMoved:
		o, err := s.object(p.ObjectID, ev.Sequence)
		if err != nil {
			return err
		}
		o.X += p.DX
		o.Y += p.DY

	case event.ObjectTransformed:
		o, err := s.object(p.ObjectID, ev.Sequence)
		if err != nil {
			return err
		}
		o.Scale = p.Scale
		o.Rotation = p.Rotation

	case event.PropertySet:
		o, err := s.object(p.ObjectID, ev.Sequence)
		if err != nil {
			return err
		}
		if o.Props == nil {
			o.Props = map[string]string{}
		}
		o.Props[p.Key] = p.Value

	case event.StrokeAppended:
		o, err := s.object(p.ObjectID, ev.Sequence)
		if err != nil {
			return err
		}
		for _, pt := range p.Points {
			o.Stroke = append(o.Stroke, StrokePoint{X: pt.X, Y: pt.Y, Pressure: pt.Pressure})
		}

	case event.ObjectRemoved:
		if _, ok := s.Objects[p.ObjectID]; !ok {
			return fmt.Errorf("document: seq %d: %w: %s", ev.Sequence, ErrUnknownObject, p.ObjectID)
		}
		delete(s.Objects, p.ObjectID)
		for i, id := range s.Order {
			if id == p.ObjectID {
				s.Order = append(s.Order[:i], s.Order[i+1:]...)
				break
			}
		}

	case event.DocumentRenamed:
		s.Title = p.Title

	case event.Unknown:
		return fmt.Errorf("document: seq %d: unknown event type %q", ev.Sequence, p.Type)

	default:
		return fmt.Errorf("document: seq %d: unhandled payload %T", ev.Sequence, ev.Payload)
	}

	s.Seq = ev.Sequence
	return nil
}

func (s *State) object(id string, seq int64) (*Object, error) {
	o, ok := s.Objects[id]
	if !ok {
		return nil, fmt.Errorf("document: seq %d: %w: %s", seq, ErrUnknownObject, id)
	}
	return o, nil
}
