package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobwatch/watcher-service/internal/model"
)

// Memory is an in-process Store used by tests and single-node setups.
// All methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	postings map[string]map[string]model.Posting // sourceID → externalID → posting
	sessions map[string]*model.ScrapeSession
	alerts   []model.AlertRule
	matches  map[string]model.MatchEvent // alertID + "\x00" + postingID
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		postings: make(map[string]map[string]model.Posting),
		sessions: make(map[string]*model.ScrapeSession),
		matches:  make(map[string]model.MatchEvent),
	}
}

// SetAlerts replaces the alert rules returned by ActiveAlerts.
func (m *Memory) SetAlerts(alerts []model.AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = alerts
}

// Session returns a copy of a session for inspection.
func (m *Memory) Session(id string) (model.ScrapeSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.ScrapeSession{}, false
	}
	return *s, true
}

// Sessions returns copies of all sessions for a source, oldest first.
func (m *Memory) Sessions(sourceID string) []model.ScrapeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ScrapeSession
	for _, s := range m.sessions {
		if s.SourceID == sourceID {
			out = append(out, *s)
		}
	}
	return out
}

// AllPostings returns every stored posting for a source, expired included.
func (m *Memory) AllPostings(sourceID string) []model.Posting {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Posting
	for _, p := range m.postings[sourceID] {
		out = append(out, p)
	}
	return out
}

// MatchEvents returns every recorded match event.
func (m *Memory) MatchEvents() []model.MatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MatchEvent, 0, len(m.matches))
	for _, e := range m.matches {
		out = append(out, e)
	}
	return out
}

func (m *Memory) ActivePostings(_ context.Context, sourceID string) (map[string]model.Posting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.Posting)
	for externalID, p := range m.postings[sourceID] {
		if p.State != model.PostingExpired {
			out[externalID] = p
		}
	}
	return out, nil
}

func (m *Memory) UpsertPosting(_ context.Context, p *model.Posting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	byExternal, ok := m.postings[p.SourceID]
	if !ok {
		byExternal = make(map[string]model.Posting)
		m.postings[p.SourceID] = byExternal
	}
	if existing, ok := byExternal[p.ExternalID]; ok {
		p.ID = existing.ID
	}
	byExternal[p.ExternalID] = *p
	return nil
}

func (m *Memory) MarkExpired(_ context.Context, sourceID string, externalIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, externalID := range externalIDs {
		p, ok := m.postings[sourceID][externalID]
		if !ok {
			continue
		}
		expiredAt := at
		p.State = model.PostingExpired
		p.ExpiredAt = &expiredAt
		m.postings[sourceID][externalID] = p
	}
	return nil
}

func (m *Memory) CreateSession(_ context.Context, sourceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.sessions[id] = &model.ScrapeSession{
		ID:        id,
		SourceID:  sourceID,
		Status:    "pending",
		StartedAt: time.Now().UTC(),
	}
	return id, nil
}

func (m *Memory) UpdateSession(_ context.Context, sessionID, status string, counts model.SessionCounts, errs []model.SessionError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if terminalStatus(s.Status) {
		return ErrSessionFinalized
	}
	s.Status = status
	s.Counts = counts
	s.Errors = errs
	if terminalStatus(status) {
		now := time.Now().UTC()
		s.CompletedAt = &now
	}
	return nil
}

func (m *Memory) ActiveAlerts(_ context.Context) ([]model.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AlertRule, len(m.alerts))
	copy(out, m.alerts)
	return out, nil
}

func (m *Memory) MatchEventExists(_ context.Context, alertID, postingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.matches[alertID+"\x00"+postingID]
	return ok, nil
}

func (m *Memory) RecordMatchEvent(_ context.Context, alertID, postingID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := alertID + "\x00" + postingID
	if _, ok := m.matches[key]; ok {
		return false, nil
	}
	m.matches[key] = model.MatchEvent{AlertID: alertID, PostingID: postingID, MatchedAt: at}
	return true, nil
}
