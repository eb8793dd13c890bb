package extract

import (
	"context"
	"sync"

	"jobwatch/watcher-service/internal/model"
)

// Mock implements Extractor with scripted results, one per Fetch call.
// The last script entry repeats once the script is exhausted.
type Mock struct {
	mu     sync.Mutex
	script []mockStep
	calls  int
}

type mockStep struct {
	result Result
	err    error
}

// NewMock returns a mock that always yields the given postings.
func NewMock(postings []model.RawPosting, complete bool) *Mock {
	m := &Mock{}
	m.Then(Result{Postings: postings, Complete: complete}, nil)
	return m
}

// Then appends a scripted outcome for the next Fetch call.
func (m *Mock) Then(result Result, err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{result: result, err: err})
	return m
}

// Calls reports how many times Fetch ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Fetch(ctx context.Context, _ model.Source) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.script[len(m.script)-1]
	if m.calls < len(m.script) {
		step = m.script[m.calls]
	}
	m.calls++
	return step.result, step.err
}
