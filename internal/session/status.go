// Package session owns the lifecycle of one scraping attempt per source.
//
// Valid status graph:
//
//	pending ──► running ──► completed
//	                  │ ──► partial
//	                  └───► failed
//
// completed, partial and failed are terminal states.
package session

import "fmt"

// Status values mirror the scrape_sessions status column.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusPartial, StatusFailed},
	// completed, partial and failed are terminal — no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusPartial, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by
// the state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true when no further transitions are possible.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}
