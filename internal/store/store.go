// Package store defines the repository contract the core depends on and
// its implementations. The posting store is the only shared mutable
// resource between components; everything goes through this interface.
package store

import (
	"context"
	"errors"
	"time"

	"jobwatch/watcher-service/internal/model"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("scrape session not found")

// ErrSessionFinalized is returned when a session in a terminal status
// (completed, partial, failed) is updated again. Session records are
// append-only once finished.
var ErrSessionFinalized = errors.New("scrape session already finalized")

// terminalStatus reports whether a session status string is terminal.
func terminalStatus(s string) bool {
	switch s {
	case "completed", "partial", "failed":
		return true
	}
	return false
}

// Store is the persistence contract required by the coordinator, the
// reconciler and the matching engine.
type Store interface {
	// ActivePostings returns the source's non-expired postings keyed by
	// external id, with their stored content hash.
	ActivePostings(ctx context.Context, sourceID string) (map[string]model.Posting, error)

	// UpsertPosting creates or replaces a posting keyed by
	// (SourceID, ExternalID). Idempotent.
	UpsertPosting(ctx context.Context, p *model.Posting) error

	// MarkExpired transitions the given postings to expired with the
	// supplied timestamp.
	MarkExpired(ctx context.Context, sourceID string, externalIDs []string, at time.Time) error

	// CreateSession inserts a new pending session and returns its id.
	CreateSession(ctx context.Context, sourceID string) (string, error)

	// UpdateSession persists a session status transition together with
	// its current counts and error list. Sessions already in a terminal
	// status are immutable; updating one fails with ErrSessionFinalized.
	UpdateSession(ctx context.Context, sessionID, status string, counts model.SessionCounts, errs []model.SessionError) error

	// ActiveAlerts returns every alert rule eligible for matching.
	ActiveAlerts(ctx context.Context) ([]model.AlertRule, error)

	// MatchEventExists reports whether (alertID, postingID) was already
	// recorded.
	MatchEventExists(ctx context.Context, alertID, postingID string) (bool, error)

	// RecordMatchEvent inserts the pair if absent. It reports whether
	// this call created the event; false means another caller got there
	// first. Must be atomic under concurrent callers.
	RecordMatchEvent(ctx context.Context, alertID, postingID string, at time.Time) (bool, error)
}
