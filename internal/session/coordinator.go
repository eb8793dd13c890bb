package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"jobwatch/watcher-service/internal/extract"
	"jobwatch/watcher-service/internal/model"
	"jobwatch/watcher-service/internal/normalize"
	"jobwatch/watcher-service/internal/reconcile"
	"jobwatch/watcher-service/internal/store"
)

// ErrSourceBusy is returned when a session is requested for a source that
// already has a non-terminal session. Callers retry later; requests are
// never queued.
var ErrSourceBusy = errors.New("source already has a running session")

// Options tune the coordinator's retry and timeout behavior.
type Options struct {
	// AttemptTimeout is the hard deadline for a single extractor call,
	// independent of whatever timeouts the extractor applies itself.
	AttemptTimeout time.Duration
	// Attempts is the retry budget for transient extraction failures.
	Attempts uint
	// RetryDelay seeds the exponential backoff between attempts.
	RetryDelay time.Duration
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration
}

// DefaultOptions give each source three extraction attempts per session.
func DefaultOptions() Options {
	return Options{
		AttemptTimeout: 2 * time.Minute,
		Attempts:       3,
		RetryDelay:     5 * time.Second,
		RetryMaxDelay:  time.Minute,
	}
}

// Result is one finished session together with the postings that
// transitioned to new or updated, ready for the matching engine.
type Result struct {
	SessionID string
	Status    Status
	Counts    model.SessionCounts
	Changed   []model.Posting
}

// Coordinator drives one scraping attempt per source: lock acquisition,
// extraction with retry, normalization, reconciliation and session
// bookkeeping. Every status transition is persisted before the next step
// runs.
type Coordinator struct {
	store      store.Store
	extractor  extract.Extractor
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	opts       Options

	mu     sync.Mutex
	locked map[string]bool // source ids with a non-terminal session
}

// NewCoordinator wires a coordinator. Zero Options fields fall back to
// DefaultOptions field by field, so partially filled options keep what
// the caller set.
func NewCoordinator(st store.Store, ex extract.Extractor, rec *reconcile.Reconciler, logger *slog.Logger, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}
	if opts.Attempts == 0 {
		opts.Attempts = def.Attempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = def.RetryMaxDelay
	}
	return &Coordinator{
		store:      st,
		extractor:  ex,
		reconciler: rec,
		logger:     logger,
		opts:       opts,
		locked:     make(map[string]bool),
	}
}

// Run executes one session for the source. A second call for the same
// source while one is in flight fails with ErrSourceBusy without touching
// any state.
func (c *Coordinator) Run(ctx context.Context, src model.Source) (*Result, error) {
	if !c.acquire(src.ID) {
		return nil, fmt.Errorf("source %s: %w", src.ID, ErrSourceBusy)
	}
	defer c.release(src.ID)

	startedAt := time.Now()
	sessionID, err := c.store.CreateSession(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log := c.logger.With("source_id", src.ID, "session_id", sessionID)

	counts := model.SessionCounts{}
	var sessionErrs []model.SessionError

	if err := c.transition(ctx, sessionID, StatusPending, StatusRunning, counts, nil); err != nil {
		return nil, err
	}

	listing, err := c.fetchWithRetry(ctx, src, log)
	if err != nil {
		sessionErrs = append(sessionErrs, toSessionErrors(err)...)
		if uerr := c.transition(ctx, sessionID, StatusRunning, StatusFailed, counts, sessionErrs); uerr != nil {
			log.Error("failed to record failed session", "error", uerr)
		}
		if ctx.Err() != nil {
			// Cancelled or timed out: partial in-memory results are
			// discarded, nothing reaches the reconciler.
			log.Warn("session cancelled", "error", err)
		}
		return nil, fmt.Errorf("extract source %s: %w", src.ID, err)
	}

	counts.Found = len(listing.Postings)

	var seen []model.Posting
	for _, raw := range listing.Postings {
		p, err := normalize.Posting(src.ID, raw)
		if err != nil {
			counts.Dropped++
			sessionErrs = append(sessionErrs, model.SessionError{
				Type:      "normalization",
				Message:   fmt.Sprintf("%v (title=%q)", err, raw.Title),
				Timestamp: time.Now().UTC(),
			})
			log.Warn("posting dropped", "error", err, "raw_title", raw.Title)
			continue
		}
		seen = append(seen, p)
	}

	outcome, recErr := c.reconciler.Apply(ctx, src.ID, seen, listing.Complete)
	counts.New = outcome.New
	counts.Updated = outcome.Updated
	counts.Expired = outcome.Expired
	if recErr != nil {
		// Individually committed upserts make the prefix consistent;
		// the session still terminates failed for the scheduler to see.
		sessionErrs = append(sessionErrs, model.SessionError{
			Type:      "reconciliation",
			Message:   recErr.Error(),
			Timestamp: time.Now().UTC(),
		})
		if uerr := c.transition(ctx, sessionID, StatusRunning, StatusFailed, counts, sessionErrs); uerr != nil {
			log.Error("failed to record failed session", "error", uerr)
		}
		return nil, fmt.Errorf("reconcile source %s: %w", src.ID, recErr)
	}

	status := StatusCompleted
	if !listing.Complete {
		status = StatusPartial
	}
	if err := c.transition(ctx, sessionID, StatusRunning, status, counts, sessionErrs); err != nil {
		return nil, err
	}

	log.Info("session finished",
		"status", string(status),
		"found", counts.Found,
		"new", counts.New,
		"updated", counts.Updated,
		"expired", counts.Expired,
		"dropped", counts.Dropped,
		"duration_seconds", time.Since(startedAt).Seconds())

	return &Result{
		SessionID: sessionID,
		Status:    status,
		Counts:    counts,
		Changed:   outcome.Changed,
	}, nil
}

// fetchWithRetry invokes the extractor under the per-attempt timeout,
// retrying transient failures with exponential backoff. Permanent
// extraction errors fail immediately.
func (c *Coordinator) fetchWithRetry(ctx context.Context, src model.Source, log *slog.Logger) (extract.Result, error) {
	var listing extract.Result

	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
			defer cancel()

			result, err := c.extractor.Fetch(attemptCtx, src)
			if err != nil {
				if extract.IsPermanent(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			listing = result
			return nil
		},
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.MaxDelay(c.opts.RetryMaxDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Info("retrying extraction", "attempt", n, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return extract.Result{}, err
	}
	return listing, nil
}

// transition validates the status change against the session state
// machine and persists it before the coordinator proceeds, so a crash
// leaves an inspectable record rather than a silent gap.
func (c *Coordinator) transition(ctx context.Context, sessionID string, from, to Status, counts model.SessionCounts, errs []model.SessionError) error {
	if !IsTransitionAllowed(from, to) {
		return fmt.Errorf("session %s: transition %s to %s not allowed", sessionID, from, to)
	}
	if err := c.store.UpdateSession(ctx, sessionID, string(to), counts, errs); err != nil {
		return fmt.Errorf("persist session %s as %s: %w", sessionID, to, err)
	}
	return nil
}

func (c *Coordinator) acquire(sourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked[sourceID] {
		return false
	}
	c.locked[sourceID] = true
	return true
}

func (c *Coordinator) release(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locked, sourceID)
}

func toSessionErrors(err error) []model.SessionError {
	kind := "extraction"
	if extract.IsPermanent(err) {
		kind = "extraction_permanent"
	}
	return []model.SessionError{{Type: kind, Message: err.Error(), Timestamp: time.Now().UTC()}}
}
