// Package model defines shared data structures for the watcher service.
package model

import "time"

// Source mirrors one entry of the source catalog relevant to scraping.
// Sources are owned by configuration management and read-only to the core.
type Source struct {
	ID       string
	Name     string
	Kind     string // extractor family: "greenhouse", "rss", "html", "mock"
	URL      string
	IsActive bool

	// Selectors drive the html extractor; ignored by the other kinds.
	Selectors map[string]string

	// RequestsPerMinute caps the politeness limiter for this source.
	// Zero means the configured default.
	RequestsPerMinute int
}

// RawPosting is one listing exactly as an extractor produced it, before
// normalization. Field presence varies wildly per source.
type RawPosting struct {
	ExternalID     string
	Title          string
	Description    string
	Location       string
	Department     string
	EmploymentType string
	RemoteType     string
	Company        string
	URL            string
	PostedAt       *time.Time
}

// PostingState is the lifecycle state of a stored posting.
type PostingState string

const (
	PostingNew     PostingState = "new"
	PostingActive  PostingState = "active"
	PostingUpdated PostingState = "updated"
	PostingExpired PostingState = "expired"
)

// Posting is a canonical job listing keyed by (SourceID, ExternalID).
type Posting struct {
	ID             string
	SourceID       string
	ExternalID     string
	Title          string
	Description    string
	Location       string
	Department     string
	EmploymentType string // full-time, part-time, contract, unknown
	RemoteType     string // remote, hybrid, onsite, unknown
	URL            string
	PostedAt       *time.Time
	ContentHash    uint64

	// LowConfidenceID marks postings whose ExternalID was derived from
	// title+location+company because the source assigns no stable id.
	LowConfidenceID bool

	State       PostingState
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	ExpiredAt   *time.Time
}

// SessionError is one error recorded against a scrape session.
type SessionError struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionCounts are the per-session statistics persisted on completion.
type SessionCounts struct {
	Found   int `json:"found"`
	New     int `json:"new"`
	Updated int `json:"updated"`
	Expired int `json:"expired"`
	// Dropped counts postings discarded by normalization. A warning
	// count, not a failure.
	Dropped int `json:"dropped"`
}

// ScrapeSession records one fetch attempt against a Source. Append-only
// once a terminal status is reached.
type ScrapeSession struct {
	ID          string
	SourceID    string
	Status      string // session.Status values
	StartedAt   time.Time
	CompletedAt *time.Time
	Counts      SessionCounts
	Errors      []SessionError
}

// AlertRule is a subscriber's saved match predicate. All non-empty filters
// combine with AND; each list is an OR over its members. Owned by
// subscription management and read-only to the core.
type AlertRule struct {
	ID               string
	Name             string
	Sources          []string // source ids
	Keywords         []string
	ExcludedKeywords []string
	Locations        []string
	Departments      []string
	EmploymentTypes  []string
	RemoteTypes      []string
	// PostedWithinDays bounds posting age; nil means unbounded.
	PostedWithinDays *int
	MatchDescription bool // extend keyword matching to the description
}

// HasFilter reports whether at least one filter is set. Rules with no
// filters are rejected at creation time; the engine double-checks.
func (a *AlertRule) HasFilter() bool {
	return len(a.Sources) > 0 ||
		len(a.Keywords) > 0 ||
		len(a.ExcludedKeywords) > 0 ||
		len(a.Locations) > 0 ||
		len(a.Departments) > 0 ||
		len(a.EmploymentTypes) > 0 ||
		len(a.RemoteTypes) > 0 ||
		a.PostedWithinDays != nil
}

// MatchEvent pairs an alert with a posting it matched. At most one event
// ever exists per (AlertID, PostingID).
type MatchEvent struct {
	AlertID   string
	PostingID string
	MatchedAt time.Time
}
