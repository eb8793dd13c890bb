package notify

import (
	"context"
	"sync"

	"jobwatch/watcher-service/internal/model"
)

// Mock records delivered events for tests.
type Mock struct {
	mu     sync.Mutex
	events []model.MatchEvent
	Err    error // returned by Deliver when set
}

// NewMock returns an empty mock notifier.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Deliver(_ context.Context, events []model.MatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, events...)
	return nil
}

// Delivered returns a copy of everything delivered so far.
func (m *Mock) Delivered() []model.MatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MatchEvent, len(m.events))
	copy(out, m.events)
	return out
}
