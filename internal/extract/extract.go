// Package extract implements the per-source fetch adapters. Each source
// kind maps to exactly one Extractor implementation; the closed set is
// selected through New.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobwatch/watcher-service/internal/model"
)

const (
	httpTimeout              = 15 * time.Second
	defaultRequestsPerMinute = 30
)

// Result is one extraction outcome. Complete reports whether the listing
// covers every currently visible posting; an interrupted pagination run
// returns what it got with Complete=false.
type Result struct {
	Postings []model.RawPosting
	Complete bool
}

// Extractor fetches the currently visible postings of one source.
type Extractor interface {
	Fetch(ctx context.Context, src model.Source) (Result, error)
}

// Error wraps a failed extraction. Permanent failures (malformed
// responses) must not be retried; everything else is assumed transient.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Permanent {
		return "extraction failed (permanent): " + e.Err.Error()
	}
	return "extraction failed: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable extraction error.
func Transient(err error) error { return &Error{Err: err} }

// Permanent wraps err as a non-retryable extraction error.
func Permanent(err error) error { return &Error{Permanent: true, Err: err} }

// IsPermanent reports whether err is a permanent extraction error.
func IsPermanent(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Permanent
}

// Registry dispatches Fetch to the implementation registered for the
// source's kind. The set of kinds is closed: greenhouse, rss, html and
// mock. Unknown kinds are a configuration error, surfaced as a permanent
// extraction failure rather than a runtime fallback.
type Registry struct {
	byKind map[string]Extractor
}

// NewRegistry builds the closed extractor set over one shared HTTP
// client.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	return &Registry{byKind: map[string]Extractor{
		"greenhouse": NewGreenhouse(client),
		"rss":        NewRSS(client),
		"html":       NewHTML(client),
		"mock":       NewMock(nil, true),
	}}
}

func (r *Registry) Fetch(ctx context.Context, src model.Source) (Result, error) {
	ex, ok := r.byKind[src.Kind]
	if !ok {
		return Result{}, Permanent(fmt.Errorf("unknown source kind %q (use 'greenhouse', 'rss', 'html', or 'mock')", src.Kind))
	}
	return ex.Fetch(ctx, src)
}

// Limited wraps an Extractor with a per-source politeness token bucket.
type Limited struct {
	inner Extractor

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimited builds the rate-limited wrapper.
func NewLimited(inner Extractor) *Limited {
	return &Limited{inner: inner, limiters: make(map[string]*rate.Limiter)}
}

// Fetch waits for the source's token bucket before delegating.
func (l *Limited) Fetch(ctx context.Context, src model.Source) (Result, error) {
	if err := l.limiter(src).Wait(ctx); err != nil {
		return Result{}, Transient(err)
	}
	return l.inner.Fetch(ctx, src)
}

func (l *Limited) limiter(src model.Source) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[src.ID]
	if !ok {
		perMinute := src.RequestsPerMinute
		if perMinute <= 0 {
			perMinute = defaultRequestsPerMinute
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		l.limiters[src.ID] = limiter
	}
	return limiter
}
