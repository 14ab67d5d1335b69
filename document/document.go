// Package document models the in-memory state a window projects from a
// document's event log.
//
// A State is a pure function of "fold events [0..N] over Empty()". It is
// never persisted directly — only as compressed snapshots — and it is
// exclusively owned by the window projection that folded it. Two windows on
// the same document each hold their own copy.
package document

import (
	"encoding/json"
	"fmt"
)

// Object is one canvas object.
type Object struct {
	ID       string            `json:"id"`
	Shape    string            `json:"shape"`
	X        float64           `json:"x"`
	Y        float64           `json:"y"`
	Scale    float64           `json:"scale"`
	Rotation float64           `json:"rotation"`
	Props    map[string]string `json:"props,omitempty"`
	Stroke   []StrokePoint     `json:"stroke,omitempty"`
}

// StrokePoint mirrors event.Point in the state model.
type StrokePoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Pressure float64 `json:"pressure"`
}

// State is the materialized document at a given sequence.
type State struct {
	Title   string             `json:"title"`
	Order   []string           `json:"order"`
	Objects map[string]*Object `json:"objects"`
	// Seq is the last sequence folded in, -1 for the empty state.
	Seq int64 `json:"seq"`
}

// Empty returns the state before any event, Seq -1.
func Empty() *State {
	return &State{Order: []string{}, Objects: map[string]*Object{}, Seq: -1}
}

// Clone returns a deep copy. The snapshot manager clones before handing
// state to its background worker so concurrent edits can never leak into a
// snapshot, and windows clone snapshot results before adopting them.
func (s *State) Clone() *State {
	c := &State{
		Title:   s.Title,
		Order:   append([]string(nil), s.Order...),
		Objects: make(map[string]*Object, len(s.Objects)),
		Seq:     s.Seq,
	}
	if c.Order == nil {
		c.Order = []string{}
	}
	for id, o := range s.Objects {
		oc := *o
		if o.Props != nil {
			oc.Props = make(map[string]string, len(o.Props))
			for k, v := range o.Props {
				oc.Props[k] = v
			}
		}
		oc.Stroke = append([]StrokePoint(nil), o.Stroke...)
		c.Objects[id] = &oc
	}
	return c
}

// Marshal produces canonical bytes for s. encoding/json emits struct fields
// in declaration order and map keys sorted, so two folds of the same event
// range always serialize byte-identically.
func (s *State) Marshal() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("document: marshal state at seq %d: %w", s.Seq, err)
	}
	return b, nil
}

// Unmarshal restores a state from Marshal output.
func Unmarshal(data []byte) (*State, error) {
	s := Empty()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("document: unmarshal state: %w", err)
	}
	if s.Objects == nil {
		s.Objects = map[string]*Object{}
	}
	if s.Order == nil {
		s.Order = []string{}
	}
	return s, nil
}

// ObjectIDs returns the object ids in z-order, for callers that only need
// a stable listing.
func (s *State) ObjectIDs() []string {
	return append([]string(nil), s.Order...)
}
