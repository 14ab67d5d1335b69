// Package event defines the immutable edit record and the closed set of
// payload variants it can carry.
//
// An Event is created once — by a tool emitting an edit or by the grouping
// service marking a boundary — persisted by the event store, and never
// mutated. Sequence numbers are assigned by the store at append time and
// are the single ordering authority; Timestamp exists for display only.
package event

import "time"

// Event is one immutable edit record in a document's log.
type Event struct {
	// ID is globally unique ("evt_" + UUIDv7).
	ID string
	// Type is the payload discriminator, e.g. "object_moved".
	Type string
	// Payload is one of the closed set of variants in payload.go.
	// Decoding an unrecognized discriminator yields Unknown, never nil.
	Payload Payload
	// Timestamp is unix milliseconds at emission. Display only — callers
	// must never use it for ordering.
	Timestamp int64
	// Sequence is the document-scoped position: zero-based, strictly
	// increasing, gapless. Assigned by the store; -1 before append.
	Sequence int64
	// UserID and SessionID are reserved for a future multi-writer layer.
	// They round-trip through the store but nothing reads them yet.
	UserID    string
	SessionID string
}

// New builds an unappended event (Sequence -1) around a payload.
func New(id string, p Payload, now time.Time) Event {
	return Event{
		ID:        id,
		Type:      p.Kind(),
		Payload:   p,
		Timestamp: now.UnixMilli(),
		Sequence:  -1,
	}
}
