// Package scheduler wires up the cron job that periodically triggers a
// scrape cycle over all active sources.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"jobwatch/watcher-service/internal/alert"
	"jobwatch/watcher-service/internal/model"
	"jobwatch/watcher-service/internal/session"
)

// SourceCatalog yields the sources eligible for scraping. Re-read every
// cycle so catalog edits take effect without a restart.
type SourceCatalog func(ctx context.Context) ([]model.Source, error)

// Scheduler wraps robfig/cron and manages the scrape loop: a bounded
// worker pool runs one session per active source, then the matching
// engine sweeps the cycle's new and updated postings.
type Scheduler struct {
	cron        *cron.Cron
	coordinator *session.Coordinator
	engine      *alert.Engine
	catalog     SourceCatalog
	logger      *slog.Logger
	workers     int
	spec        string // cron spec, e.g. "@every 6h"
}

// New creates a Scheduler that fires every intervalHours hours with the
// given worker-pool size.
func New(coordinator *session.Coordinator, engine *alert.Engine, catalog SourceCatalog, logger *slog.Logger, intervalHours, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		cron:        cron.New(cron.WithLogger(cron.DefaultLogger)),
		coordinator: coordinator,
		engine:      engine,
		catalog:     catalog,
		logger:      logger,
		workers:     workers,
		spec:        fmt.Sprintf("@every %dh", intervalHours),
	}
}

// Start registers the job and starts the scheduler. Also runs one cycle
// immediately so the store is populated without waiting for the first
// tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunCycle(ctx); err != nil {
			s.logger.Error("scrape cycle finished with errors", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron started", "spec", s.spec, "workers", s.workers)

	go func() {
		if err := s.RunCycle(ctx); err != nil {
			s.logger.Error("initial scrape cycle finished with errors", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("cron stopped")
}

// RunCycle scrapes every active source through the worker pool and then
// matches the cycle's changed postings. Per-source failures are collected
// rather than aborting the cycle; busy sources are skipped, not queued.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	sources, err := s.catalog(ctx)
	if err != nil {
		return fmt.Errorf("load source catalog: %w", err)
	}

	var active []model.Source
	for _, src := range sources {
		if src.IsActive {
			active = append(active, src)
		}
	}
	if len(active) == 0 {
		s.logger.Info("no active sources, nothing to scrape")
		return nil
	}
	s.logger.Info("scrape cycle started", "sources", len(active))

	var (
		mu      sync.Mutex
		changed []model.Posting
		cycErrs *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, src := range active {
		src := src
		g.Go(func() error {
			result, err := s.coordinator.Run(gctx, src)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, session.ErrSourceBusy):
				s.logger.Warn("source busy, skipping", "source_id", src.ID)
			case err != nil:
				cycErrs = multierror.Append(cycErrs, err)
			default:
				changed = append(changed, result.Changed...)
			}
			// Worker errors stay in cycErrs; returning them would
			// cancel the remaining sources.
			return nil
		})
	}
	_ = g.Wait()

	events, err := s.engine.Evaluate(ctx, changed)
	if err != nil {
		cycErrs = multierror.Append(cycErrs, err)
	}

	errCount := 0
	if cycErrs != nil {
		errCount = len(cycErrs.Errors)
	}
	s.logger.Info("scrape cycle complete",
		"sources", len(active),
		"changed_postings", len(changed),
		"match_events", len(events),
		"errors", errCount)

	return cycErrs.ErrorOrNil()
}
