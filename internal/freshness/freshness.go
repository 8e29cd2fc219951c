// Package freshness implements the timestamp gate: it rejects envelopes
// whose ts is too far from the gateway's clock, in either direction.
// Grounded on original_source/fog/app/core/time.py.
package freshness

import (
	"fmt"
	"time"
)

// Gate checks timestamp freshness against a symmetric window.
type Gate struct {
	window time.Duration
	now    func() time.Time
}

// New builds a Gate with the given window. A zero window is invalid;
// callers should check config before constructing one.
func New(window time.Duration) *Gate {
	return &Gate{window: window, now: time.Now}
}

// Check reports whether ts falls within window of the gate's clock, and
// the absolute age (or "age into the future") in seconds either way.
func (g *Gate) Check(ts time.Time) (ok bool, ageSeconds float64) {
	delta := g.now().Sub(ts).Seconds()
	age := delta
	if age < 0 {
		age = -age
	}
	return age <= g.window.Seconds(), age
}

// CheckString parses an RFC3339 timestamp and checks it, returning an
// error only for a parse failure — a stale or future timestamp is a
// normal false result, not an error.
func (g *Gate) CheckString(ts string) (ok bool, ageSeconds float64, err error) {
	t, parseErr := time.Parse(time.RFC3339, ts)
	if parseErr != nil {
		return false, 0, fmt.Errorf("freshness: %w", parseErr)
	}
	ok, ageSeconds = g.Check(t)
	return ok, ageSeconds, nil
}

// Doubled returns a Gate with twice the window, used for the probe path
// per spec.md §4.9 (sensors may buffer readings before responding to a
// CoAP GET).
func (g *Gate) Doubled() *Gate {
	return &Gate{window: g.window * 2, now: g.now}
}
