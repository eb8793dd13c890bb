package alert_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"jobwatch/watcher-service/internal/alert"
	"jobwatch/watcher-service/internal/model"
	"jobwatch/watcher-service/internal/notify"
	"jobwatch/watcher-service/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func backendAlert() model.AlertRule {
	return model.AlertRule{ID: "alert-1", Name: "backend jobs", Keywords: []string{"backend"}}
}

// ── Matching and event emission ────────────────────────────────────────────

func TestEvaluate_EmitsEventForMatch(t *testing.T) {
	mem := store.NewMemory()
	mem.SetAlerts([]model.AlertRule{backendAlert()})
	sink := notify.NewMock()
	eng := alert.NewEngine(mem, sink, testLogger(), fixedClock)

	events, err := eng.Evaluate(context.Background(), []model.Posting{
		{ID: "p1", Title: "Senior Backend Engineer"},
		{ID: "p2", Title: "Product Designer"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("have %d events, want 1", len(events))
	}
	if events[0].AlertID != "alert-1" || events[0].PostingID != "p1" {
		t.Errorf("event = %+v, want alert-1/p1", events[0])
	}
	if got := len(sink.Delivered()); got != 1 {
		t.Errorf("notifier received %d events, want 1", got)
	}
}

func TestEvaluate_EmptyBatchIsNoop(t *testing.T) {
	mem := store.NewMemory()
	mem.SetAlerts([]model.AlertRule{backendAlert()})
	sink := notify.NewMock()
	eng := alert.NewEngine(mem, sink, testLogger(), fixedClock)

	events, err := eng.Evaluate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(events) != 0 || len(sink.Delivered()) != 0 {
		t.Error("empty batch must emit nothing")
	}
}

// ── At-most-once delivery ──────────────────────────────────────────────────

func TestEvaluate_PairNotifiedAtMostOnce(t *testing.T) {
	mem := store.NewMemory()
	mem.SetAlerts([]model.AlertRule{backendAlert()})
	eng := alert.NewEngine(mem, notify.NewMock(), testLogger(), fixedClock)
	ctx := context.Background()

	p := model.Posting{ID: "p1", Title: "Backend Engineer"}
	first, err := eng.Evaluate(ctx, []model.Posting{p})
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first pass emitted %d events, want 1", len(first))
	}

	// The posting updates and flows through matching again.
	p.Title = "Backend Engineer (updated)"
	second, err := eng.Evaluate(ctx, []model.Posting{p})
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second pass emitted %d events, want 0", len(second))
	}
	if got := len(mem.MatchEvents()); got != 1 {
		t.Errorf("store holds %d match events, want 1", got)
	}
}

func TestEvaluate_SamePostingDifferentAlerts(t *testing.T) {
	mem := store.NewMemory()
	mem.SetAlerts([]model.AlertRule{
		backendAlert(),
		{ID: "alert-2", Name: "engineer jobs", Keywords: []string{"engineer"}},
	})
	eng := alert.NewEngine(mem, notify.NewMock(), testLogger(), fixedClock)

	events, err := eng.Evaluate(context.Background(), []model.Posting{{ID: "p1", Title: "Backend Engineer"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// Dedup is per (alert, posting) pair, not per posting.
	if len(events) != 2 {
		t.Errorf("have %d events, want 2", len(events))
	}
}

// ── Degenerate rules and failures ──────────────────────────────────────────

func TestEvaluate_SkipsFilterlessRule(t *testing.T) {
	mem := store.NewMemory()
	mem.SetAlerts([]model.AlertRule{{ID: "alert-x", Name: "match everything"}})
	eng := alert.NewEngine(mem, notify.NewMock(), testLogger(), fixedClock)

	events, err := eng.Evaluate(context.Background(), []model.Posting{{ID: "p1", Title: "Backend Engineer"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("filterless rule emitted %d events, want 0", len(events))
	}
}

func TestEvaluate_NotifierFailureDoesNotFailMatching(t *testing.T) {
	mem := store.NewMemory()
	mem.SetAlerts([]model.AlertRule{backendAlert()})
	sink := notify.NewMock()
	sink.Err = errors.New("redis down")
	eng := alert.NewEngine(mem, sink, testLogger(), fixedClock)

	events, err := eng.Evaluate(context.Background(), []model.Posting{{ID: "p1", Title: "Backend Engineer"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("have %d events, want 1", len(events))
	}
	// The event is already recorded; redelivery is not attempted.
	if got := len(mem.MatchEvents()); got != 1 {
		t.Errorf("store holds %d match events, want 1", got)
	}
}

func TestEvaluate_EventTimestampUsesClock(t *testing.T) {
	mem := store.NewMemory()
	mem.SetAlerts([]model.AlertRule{backendAlert()})
	eng := alert.NewEngine(mem, notify.NewMock(), testLogger(), fixedClock)

	events, err := eng.Evaluate(context.Background(), []model.Posting{{ID: "p1", Title: "Backend Engineer"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !events[0].MatchedAt.Equal(fixedClock()) {
		t.Errorf("matched_at = %v, want %v", events[0].MatchedAt, fixedClock())
	}
}
