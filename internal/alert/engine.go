package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobwatch/watcher-service/internal/model"
	"jobwatch/watcher-service/internal/store"
)

// Notifier consumes match events. Delivery semantics (batching, retry,
// channel selection) are entirely its concern.
type Notifier interface {
	Deliver(ctx context.Context, events []model.MatchEvent) error
}

// Engine evaluates new/updated postings against every active alert rule.
type Engine struct {
	store    store.Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine wires an engine. A nil clock defaults to time.Now.
func NewEngine(st store.Store, notifier Notifier, logger *slog.Logger, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: st, notifier: notifier, logger: logger, now: clock}
}

// Evaluate matches a batch of postings against all active alerts and
// returns the match events recorded by this call. A pair already recorded
// is skipped, so a subscriber hears about a posting at most once per
// alert no matter how often it updates afterwards. An evaluation failure
// on one pair never aborts the rest of the batch.
func (e *Engine) Evaluate(ctx context.Context, postings []model.Posting) ([]model.MatchEvent, error) {
	if len(postings) == 0 {
		return nil, nil
	}

	alerts, err := e.store.ActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}

	now := e.now().UTC()
	var events []model.MatchEvent

	for _, rule := range alerts {
		if !rule.HasFilter() {
			// Should have been rejected at creation; never treat it as
			// match-everything.
			e.logger.Warn("skipping alert with no filters", "alert_id", rule.ID)
			continue
		}
		for _, p := range postings {
			event, err := e.evaluatePair(ctx, rule, p, now)
			if err != nil {
				e.logger.Error("match evaluation failed",
					"alert_id", rule.ID, "posting_id", p.ID, "error", err)
				continue
			}
			if event != nil {
				events = append(events, *event)
			}
		}
	}

	if len(events) > 0 && e.notifier != nil {
		if err := e.notifier.Deliver(ctx, events); err != nil {
			// Delivery is the notifier's concern; a failed handoff must
			// not fail matching.
			e.logger.Warn("notifier delivery failed", "events", len(events), "error", err)
		}
	}

	e.logger.Info("matching batch done",
		"postings", len(postings), "alerts", len(alerts), "events", len(events))
	return events, nil
}

// evaluatePair runs one (alert, posting) evaluation in isolation. A panic
// inside predicate evaluation is recovered and reported as an error so
// one poisoned pair cannot take down the batch.
func (e *Engine) evaluatePair(ctx context.Context, rule model.AlertRule, p model.Posting, now time.Time) (event *model.MatchEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			event = nil
			err = fmt.Errorf("panic evaluating alert %s against posting %s: %v", rule.ID, p.ID, r)
		}
	}()

	if !Matches(rule, p, now) {
		return nil, nil
	}

	// Cheap pre-check; the insert below is what makes dedup race-safe.
	exists, err := e.store.MatchEventExists(ctx, rule.ID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return nil, nil
	}

	inserted, err := e.store.RecordMatchEvent(ctx, rule.ID, p.ID, now)
	if err != nil {
		return nil, fmt.Errorf("record match event: %w", err)
	}
	if !inserted {
		// Lost the race to a concurrent evaluator; the pair is already
		// notified.
		return nil, nil
	}
	return &model.MatchEvent{AlertID: rule.ID, PostingID: p.ID, MatchedAt: now}, nil
}
