// Package idgen provides pluggable ID generation for chronicle.
//
// Every constructor that mints identifiers (event recorder, grouping
// service, window manager) accepts a Generator, making the ID strategy a
// startup-time decision and letting tests inject deterministic sequences.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings —
// time-sortable and globally unique, which keeps event IDs roughly ordered
// on disk even though sequence numbers remain the ordering authority.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Chronicle uses type-scoped prefixes: "evt_", "grp_", "win_", "doc_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequential returns a Generator producing "p0", "p1", ... for tests.
func Sequential(prefix string) Generator {
	n := 0
	return func() string {
		id := fmt.Sprintf("%s%d", prefix, n)
		n++
		return id
	}
}

// Default is the chronicle default: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
