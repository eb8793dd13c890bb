package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"jobwatch/watcher-service/internal/extract"
	"jobwatch/watcher-service/internal/model"
	"jobwatch/watcher-service/internal/reconcile"
	"jobwatch/watcher-service/internal/session"
	"jobwatch/watcher-service/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() session.Options {
	return session.Options{
		AttemptTimeout: time.Second,
		Attempts:       3,
		RetryDelay:     time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func newCoordinator(mem *store.Memory, ex extract.Extractor) *session.Coordinator {
	rec := reconcile.New(mem, testLogger(), nil)
	return session.NewCoordinator(mem, ex, rec, testLogger(), fastOptions())
}

func rawPostings() []model.RawPosting {
	return []model.RawPosting{
		{ExternalID: "j1", Title: "Backend Engineer", Location: "Berlin", URL: "https://example.com/j1"},
		{ExternalID: "j2", Title: "Data Engineer", Location: "Munich", URL: "https://example.com/j2"},
	}
}

var testSource = model.Source{ID: "src-a", Name: "Acme", Kind: "mock"}

// ── Successful sessions ────────────────────────────────────────────────────

func TestRun_CompleteListingFinishesCompleted(t *testing.T) {
	mem := store.NewMemory()
	coord := newCoordinator(mem, extract.NewMock(rawPostings(), true))

	res, err := coord.Run(context.Background(), testSource)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.Counts.Found != 2 || res.Counts.New != 2 {
		t.Errorf("counts = %+v, want found:2 new:2", res.Counts)
	}
	if len(res.Changed) != 2 {
		t.Errorf("Changed has %d postings, want 2", len(res.Changed))
	}

	s, ok := mem.Session(res.SessionID)
	if !ok {
		t.Fatal("session not persisted")
	}
	if s.Status != "completed" {
		t.Errorf("stored status = %s, want completed", s.Status)
	}
	if s.CompletedAt == nil {
		t.Error("completed session must record completed_at")
	}
}

func TestRun_IncompleteListingFinishesPartial(t *testing.T) {
	mem := store.NewMemory()
	coord := newCoordinator(mem, extract.NewMock(rawPostings(), false))

	res, err := coord.Run(context.Background(), testSource)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != session.StatusPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	// Partial results are still persisted.
	known, err := mem.ActivePostings(context.Background(), testSource.ID)
	if err != nil {
		t.Fatalf("ActivePostings: %v", err)
	}
	if len(known) != 2 {
		t.Errorf("store has %d active postings, want 2", len(known))
	}
}

func TestRun_FinishLogIncludesDuration(t *testing.T) {
	mem := store.NewMemory()
	rec := reconcile.New(mem, testLogger(), nil)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	coord := session.NewCoordinator(mem, extract.NewMock(rawPostings(), true), rec, logger, fastOptions())

	if _, err := coord.Run(context.Background(), testSource); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), "duration_seconds") {
		t.Error("session finished log should report duration_seconds")
	}
}

// ── Options defaulting ─────────────────────────────────────────────────────

func TestNewCoordinator_ZeroFieldsDefaultIndividually(t *testing.T) {
	mem := store.NewMemory()
	rec := reconcile.New(mem, testLogger(), nil)
	mock := (&extract.Mock{}).Then(extract.Result{}, extract.Transient(errors.New("flaky")))

	// Attempts left zero; the retry budget must default without the set
	// fields being clobbered back to the multi-second defaults.
	opts := session.Options{
		AttemptTimeout: 50 * time.Millisecond,
		RetryDelay:     time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
	coord := session.NewCoordinator(mem, mock, rec, testLogger(), opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := coord.Run(ctx, testSource); err == nil {
		t.Fatal("Run should fail once the retry budget is exhausted")
	}
	if got := mock.Calls(); got != 3 {
		t.Errorf("extractor called %d times, want the default budget of 3", got)
	}
}

// ── Normalization failures ─────────────────────────────────────────────────

func TestRun_UnnormalizablePostingDroppedNotFatal(t *testing.T) {
	mem := store.NewMemory()
	raw := append(rawPostings(), model.RawPosting{ExternalID: "j3", Title: "   "})
	coord := newCoordinator(mem, extract.NewMock(raw, true))

	res, err := coord.Run(context.Background(), testSource)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.Counts.Found != 3 || res.Counts.New != 2 || res.Counts.Dropped != 1 {
		t.Errorf("counts = %+v, want found:3 new:2 dropped:1", res.Counts)
	}

	s, _ := mem.Session(res.SessionID)
	if len(s.Errors) != 1 || s.Errors[0].Type != "normalization" {
		t.Errorf("session errors = %+v, want one normalization error", s.Errors)
	}
}

// ── Extraction failures and retry ──────────────────────────────────────────

func TestRun_TransientFailureRetriesThenFails(t *testing.T) {
	mem := store.NewMemory()
	mock := (&extract.Mock{}).Then(extract.Result{}, extract.Transient(errors.New("connection reset")))
	coord := newCoordinator(mem, mock)

	_, err := coord.Run(context.Background(), testSource)
	if err == nil {
		t.Fatal("Run should fail once the retry budget is exhausted")
	}
	if got := mock.Calls(); got != 3 {
		t.Errorf("extractor called %d times, want 3", got)
	}

	sessions := mem.Sessions(testSource.ID)
	if len(sessions) != 1 {
		t.Fatalf("have %d sessions, want 1", len(sessions))
	}
	if sessions[0].Status != "failed" {
		t.Errorf("status = %s, want failed", sessions[0].Status)
	}
	if len(sessions[0].Errors) == 0 {
		t.Error("failed session must carry the extraction error")
	}
}

func TestRun_TransientFailureThenSuccess(t *testing.T) {
	mem := store.NewMemory()
	mock := (&extract.Mock{}).
		Then(extract.Result{}, extract.Transient(errors.New("timeout"))).
		Then(extract.Result{Postings: rawPostings(), Complete: true}, nil)
	coord := newCoordinator(mem, mock)

	res, err := coord.Run(context.Background(), testSource)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if got := mock.Calls(); got != 2 {
		t.Errorf("extractor called %d times, want 2", got)
	}
}

func TestRun_PermanentFailureDoesNotRetry(t *testing.T) {
	mem := store.NewMemory()
	mock := (&extract.Mock{}).Then(extract.Result{}, extract.Permanent(errors.New("board not found")))
	coord := newCoordinator(mem, mock)

	_, err := coord.Run(context.Background(), testSource)
	if err == nil {
		t.Fatal("Run should fail on a permanent extraction error")
	}
	if got := mock.Calls(); got != 1 {
		t.Errorf("extractor called %d times, want 1", got)
	}

	sessions := mem.Sessions(testSource.ID)
	if len(sessions) != 1 || sessions[0].Status != "failed" {
		t.Fatalf("sessions = %+v, want one failed session", sessions)
	}
	if sessions[0].Errors[0].Type != "extraction_permanent" {
		t.Errorf("error type = %s, want extraction_permanent", sessions[0].Errors[0].Type)
	}
}

func TestRun_FailedSessionLeavesStoreUntouched(t *testing.T) {
	mem := store.NewMemory()
	mock := (&extract.Mock{}).Then(extract.Result{}, extract.Permanent(errors.New("gone")))
	coord := newCoordinator(mem, mock)

	if _, err := coord.Run(context.Background(), testSource); err == nil {
		t.Fatal("Run should fail")
	}
	if got := len(mem.AllPostings(testSource.ID)); got != 0 {
		t.Errorf("store has %d postings after a failed session, want 0", got)
	}
}

// ── Cancellation ───────────────────────────────────────────────────────────

func TestRun_CancelledContextFailsSession(t *testing.T) {
	mem := store.NewMemory()
	coord := newCoordinator(mem, extract.NewMock(rawPostings(), true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := coord.Run(ctx, testSource); err == nil {
		t.Fatal("Run should fail under a cancelled context")
	}
	sessions := mem.Sessions(testSource.ID)
	if len(sessions) != 1 || sessions[0].Status != "failed" {
		t.Fatalf("sessions = %+v, want one failed session", sessions)
	}
	if got := len(mem.AllPostings(testSource.ID)); got != 0 {
		t.Errorf("cancelled session persisted %d postings, want 0", got)
	}
}

// ── Mutual exclusion ───────────────────────────────────────────────────────

// blockingExtractor parks Fetch calls for one source until released,
// letting tests observe an in-flight session. Other sources return
// immediately.
type blockingExtractor struct {
	blockOn string
	started chan struct{}
	release chan struct{}
}

func newBlockingExtractor(sourceID string) *blockingExtractor {
	return &blockingExtractor{
		blockOn: sourceID,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingExtractor) Fetch(ctx context.Context, src model.Source) (extract.Result, error) {
	if src.ID != b.blockOn {
		return extract.Result{Complete: true}, nil
	}
	close(b.started)
	select {
	case <-b.release:
		return extract.Result{Complete: true}, nil
	case <-ctx.Done():
		return extract.Result{}, extract.Transient(ctx.Err())
	}
}

func TestRun_SecondSessionForSameSourceRejected(t *testing.T) {
	mem := store.NewMemory()
	ex := newBlockingExtractor(testSource.ID)
	coord := newCoordinator(mem, ex)

	done := make(chan error, 1)
	go func() {
		_, err := coord.Run(context.Background(), testSource)
		done <- err
	}()
	<-ex.started

	_, err := coord.Run(context.Background(), testSource)
	if !errors.Is(err, session.ErrSourceBusy) {
		t.Fatalf("err = %v, want ErrSourceBusy", err)
	}
	// The rejected request must not have created a session.
	if got := len(mem.Sessions(testSource.ID)); got != 1 {
		t.Errorf("have %d sessions, want 1", got)
	}

	close(ex.release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
}

func TestRun_DifferentSourcesRunConcurrently(t *testing.T) {
	mem := store.NewMemory()
	ex := newBlockingExtractor(testSource.ID)
	coord := newCoordinator(mem, ex)

	done := make(chan error, 1)
	go func() {
		_, err := coord.Run(context.Background(), testSource)
		done <- err
	}()
	<-ex.started

	other := model.Source{ID: "src-b", Name: "Initech", Kind: "mock"}
	if _, err := coord.Run(context.Background(), other); errors.Is(err, session.ErrSourceBusy) {
		t.Fatal("a session on src-a must not block src-b")
	}

	close(ex.release)
	<-done
}
