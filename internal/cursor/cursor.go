// Package cursor models per-source scan progress and fetch windows.
package cursor

import "time"

// State is the furthest-known progress for one source. It is an immutable
// value: merges produce a new State, fields are never mutated in place.
type State struct {
	LastMessageID *int
	LastTimestamp *time.Time
}

// IsZero reports whether no progress has been recorded.
func (s State) IsZero() bool {
	return s.LastMessageID == nil && s.LastTimestamp == nil
}

// Equal compares two states by value.
func (s State) Equal(other State) bool {
	if (s.LastMessageID == nil) != (other.LastMessageID == nil) {
		return false
	}
	if s.LastMessageID != nil && *s.LastMessageID != *other.LastMessageID {
		return false
	}
	if (s.LastTimestamp == nil) != (other.LastTimestamp == nil) {
		return false
	}
	if s.LastTimestamp != nil && !s.LastTimestamp.Equal(*other.LastTimestamp) {
		return false
	}
	return true
}

// Merge returns the component-wise maximum of two states. A present value
// always dominates an absent one, so a merge never regresses either field.
func Merge(existing, incoming State) State {
	return State{
		LastMessageID: maxIntPtr(existing.LastMessageID, incoming.LastMessageID),
		LastTimestamp: maxTimePtr(existing.LastTimestamp, incoming.LastTimestamp),
	}
}

// FetchWindow describes the lower bound for pulling messages for one
// source in one run. Derived from State, never persisted.
type FetchWindow struct {
	MinID *int
	Since *time.Time
}

// DefaultLookback bounds the first-ever scan of a source.
const DefaultLookback = 24 * time.Hour

// ComputeFetchWindow derives the next fetch window from a cursor. A
// message-id bound is preferred over a timestamp bound; with neither set
// the window falls back to the default lookback.
func ComputeFetchWindow(c State) FetchWindow {
	return windowAt(c, time.Now().UTC())
}

func windowAt(c State, now time.Time) FetchWindow {
	if c.LastMessageID != nil {
		return FetchWindow{MinID: c.LastMessageID}
	}
	if c.LastTimestamp != nil {
		return FetchWindow{Since: c.LastTimestamp}
	}
	since := now.Add(-DefaultLookback)
	return FetchWindow{Since: &since}
}

func maxIntPtr(current, incoming *int) *int {
	if incoming == nil {
		return current
	}
	if current == nil || *incoming > *current {
		return incoming
	}
	return current
}

func maxTimePtr(current, incoming *time.Time) *time.Time {
	if incoming == nil {
		return current
	}
	if current == nil || incoming.After(*current) {
		return incoming
	}
	return current
}
