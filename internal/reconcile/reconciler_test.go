package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/docsync/pkg/cache"
	"github.com/osvaldoandrade/docsync/pkg/cache/memory"
	redisstore "github.com/osvaldoandrade/docsync/pkg/cache/redis"
	"github.com/osvaldoandrade/docsync/pkg/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu       sync.Mutex
	handlers map[string]func(domain.Event)
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[string]func(domain.Event))}
}

func (s *fakeSource) Subscribe(id string, fn func(domain.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[id] = fn
}

func (s *fakeSource) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

func (s *fakeSource) emit(ev domain.Event) {
	s.mu.Lock()
	fns := make([]func(domain.Event), 0, len(s.handlers))
	for _, fn := range s.handlers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	recs  map[string]*domain.ProcessingStatusRecord
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: make(map[string]int),
		recs:  make(map[string]*domain.ProcessingStatusRecord),
	}
}

func (f *fakeFetcher) set(rec *domain.ProcessingStatusRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.ProcessingID] = rec
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) GetProcessingStatus(ctx context.Context, id string) (*domain.ProcessingStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	rec, ok := f.recs[id]
	if !ok {
		return nil, errors.New("no record scripted")
	}
	cp := *rec
	return &cp, nil
}

type markStaleCounter struct {
	*memory.Store
	mu     sync.Mutex
	counts map[string]int
}

func newMarkStaleCounter() *markStaleCounter {
	return &markStaleCounter{Store: memory.NewStore(), counts: make(map[string]int)}
}

func (c *markStaleCounter) MarkStale(ctx context.Context, key string) error {
	c.mu.Lock()
	c.counts[key]++
	c.mu.Unlock()
	return c.Store.MarkStale(ctx, key)
}

func (c *markStaleCounter) staleCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func newTestReconciler(t *testing.T, store cache.Store, fetcher StatusFetcher, interval time.Duration) (*Reconciler, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	r := New(src, fetcher, store, interval, testLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, src
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func update(id, docID string, status domain.ProcessingStatus) domain.ProcessingUpdateEvent {
	return domain.ProcessingUpdateEvent{
		ProcessingID: id,
		DocumentID:   docID,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	}
}

func TestPushMarksStaleWithoutPayload(t *testing.T) {
	store := memory.NewStore()
	r, src := newTestReconciler(t, store, newFakeFetcher(), time.Hour)
	r.Track("job-1", "doc-1")

	src.emit(update("job-1", "doc-1", domain.ProcessingInProgress))

	e, err := store.Get(context.Background(), cache.KeyProcessingStatus("job-1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !e.Stale {
		t.Fatal("push should leave the entry stale")
	}
	if len(e.Value) != 0 {
		t.Fatalf("push must not write a payload, got %q", e.Value)
	}
}

func TestUntrackedPushStillInvalidates(t *testing.T) {
	store := memory.NewStore()
	fetcher := newFakeFetcher()
	_, src := newTestReconciler(t, store, fetcher, 5*time.Millisecond)

	src.emit(update("job-elsewhere", "doc-x", domain.ProcessingInProgress))

	e, err := store.Get(context.Background(), cache.KeyProcessingStatus("job-elsewhere"))
	if err != nil || !e.Stale {
		t.Fatalf("expected stale placeholder, entry=%v err=%v", e, err)
	}
	time.Sleep(25 * time.Millisecond)
	if n := fetcher.callCount("job-elsewhere"); n != 0 {
		t.Fatalf("untracked push must not start polling, got %d polls", n)
	}
}

func TestPollRefreshesCache(t *testing.T) {
	store := memory.NewStore()
	fetcher := newFakeFetcher()
	fetcher.set(&domain.ProcessingStatusRecord{
		ProcessingID: "job-2",
		DocumentID:   "doc-2",
		Status:       domain.ProcessingInProgress,
		Progress:     40,
		CurrentStep:  "ocr",
		ObservedAt:   time.Now().UTC(),
	})
	r, _ := newTestReconciler(t, store, fetcher, 5*time.Millisecond)
	r.Track("job-2", "doc-2")

	waitFor(t, time.Second, func() bool {
		e, err := store.Get(context.Background(), cache.KeyProcessingStatus("job-2"))
		return err == nil && !e.Stale && len(e.Value) > 0
	})

	e, _ := store.Get(context.Background(), cache.KeyProcessingStatus("job-2"))
	var rec domain.ProcessingStatusRecord
	if err := json.Unmarshal(e.Value, &rec); err != nil {
		t.Fatalf("unmarshal cached record: %v", err)
	}
	if rec.Progress != 40 || rec.CurrentStep != "ocr" {
		t.Fatalf("unexpected cached record: %+v", rec)
	}
}

func TestPollingStopsAtTerminal(t *testing.T) {
	store := memory.NewStore()
	fetcher := newFakeFetcher()
	fetcher.set(&domain.ProcessingStatusRecord{
		ProcessingID: "job-3",
		DocumentID:   "doc-3",
		Status:       domain.ProcessingCompleted,
		Progress:     100,
		ObservedAt:   time.Now().UTC(),
	})
	r, _ := newTestReconciler(t, store, fetcher, 5*time.Millisecond)
	r.Track("job-3", "doc-3")

	waitFor(t, time.Second, func() bool {
		st, ok := r.LastKnownStatus("job-3")
		return ok && st == domain.ProcessingCompleted
	})
	settled := fetcher.callCount("job-3")
	time.Sleep(30 * time.Millisecond)
	if n := fetcher.callCount("job-3"); n != settled {
		t.Fatalf("polling continued after terminal status: %d -> %d", settled, n)
	}

	e, err := store.Get(context.Background(), cache.KeyDocumentAnalysis("doc-3"))
	if err != nil || !e.Stale {
		t.Fatalf("completed job should invalidate document analysis, entry=%v err=%v", e, err)
	}
}

// The memory store ignores context, so it cannot catch writes issued on a
// context the reconciler has already cancelled. Redis honors context, making
// it the backend that proves terminal poll side effects survive the poll
// loop's own cancellation.
func TestTerminalPollWritesThroughRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisstore.NewStore(rdb)

	fetcher := newFakeFetcher()
	fetcher.set(&domain.ProcessingStatusRecord{
		ProcessingID: "job-r1",
		DocumentID:   "doc-r1",
		Status:       domain.ProcessingCompleted,
		Progress:     100,
		ObservedAt:   time.Now().UTC(),
	})
	r, _ := newTestReconciler(t, store, fetcher, 5*time.Millisecond)
	r.Track("job-r1", "doc-r1")

	waitFor(t, time.Second, func() bool {
		st, ok := r.LastKnownStatus("job-r1")
		return ok && st == domain.ProcessingCompleted
	})

	waitFor(t, time.Second, func() bool {
		e, err := store.Get(context.Background(), cache.KeyProcessingStatus("job-r1"))
		return err == nil && !e.Stale && len(e.Value) > 0
	})
	waitFor(t, time.Second, func() bool {
		e, err := store.Get(context.Background(), cache.KeyDocumentAnalysis("doc-r1"))
		return err == nil && e.Stale
	})
}

func TestTerminalPushCancelsPolling(t *testing.T) {
	store := memory.NewStore()
	fetcher := newFakeFetcher()
	fetcher.set(&domain.ProcessingStatusRecord{
		ProcessingID: "job-4",
		DocumentID:   "doc-4",
		Status:       domain.ProcessingInProgress,
		ObservedAt:   time.Now().UTC(),
	})
	r, src := newTestReconciler(t, store, fetcher, 5*time.Millisecond)
	r.Track("job-4", "doc-4")

	src.emit(update("job-4", "doc-4", domain.ProcessingCompleted))

	waitFor(t, time.Second, func() bool {
		st, _ := r.LastKnownStatus("job-4")
		return st == domain.ProcessingCompleted
	})
	time.Sleep(15 * time.Millisecond)
	settled := fetcher.callCount("job-4")
	time.Sleep(30 * time.Millisecond)
	if n := fetcher.callCount("job-4"); n != settled {
		t.Fatalf("polling continued after terminal push: %d -> %d", settled, n)
	}
}

func TestLatePollCannotRevertCompleted(t *testing.T) {
	store := memory.NewStore()
	r, src := newTestReconciler(t, store, newFakeFetcher(), time.Hour)
	r.Track("job-5", "doc-5")

	src.emit(update("job-5", "doc-5", domain.ProcessingCompleted))

	// An in-flight snapshot that finishes after the terminal push.
	r.observePoll(context.Background(), "job-5", &domain.ProcessingStatusRecord{
		ProcessingID: "job-5",
		DocumentID:   "doc-5",
		Status:       domain.ProcessingInProgress,
		Progress:     70,
		ObservedAt:   time.Now().UTC(),
	})

	if st, _ := r.LastKnownStatus("job-5"); st != domain.ProcessingCompleted {
		t.Fatalf("terminal status reverted to %s", st)
	}
	e, err := store.Get(context.Background(), cache.KeyProcessingStatus("job-5"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(e.Value) != 0 {
		t.Fatalf("late snapshot must not be written, got %q", e.Value)
	}
}

func TestOrderIndependentConvergence(t *testing.T) {
	completedRec := func(id, docID string) *domain.ProcessingStatusRecord {
		return &domain.ProcessingStatusRecord{
			ProcessingID: id,
			DocumentID:   docID,
			Status:       domain.ProcessingCompleted,
			Progress:     100,
			ObservedAt:   time.Now().UTC(),
		}
	}

	// Push first, poll second.
	storeA := memory.NewStore()
	ra, srcA := newTestReconciler(t, storeA, newFakeFetcher(), time.Hour)
	ra.Track("job-a", "doc-a")
	srcA.emit(update("job-a", "doc-a", domain.ProcessingCompleted))
	ra.observePoll(context.Background(), "job-a", completedRec("job-a", "doc-a"))

	// Poll first, push second.
	storeB := memory.NewStore()
	rb, srcB := newTestReconciler(t, storeB, newFakeFetcher(), time.Hour)
	rb.Track("job-b", "doc-b")
	rb.observePoll(context.Background(), "job-b", completedRec("job-b", "doc-b"))
	srcB.emit(update("job-b", "doc-b", domain.ProcessingCompleted))

	for _, tc := range []struct {
		r     *Reconciler
		store cache.Store
		job   string
		doc   string
	}{
		{ra, storeA, "job-a", "doc-a"},
		{rb, storeB, "job-b", "doc-b"},
	} {
		if st, _ := tc.r.LastKnownStatus(tc.job); st != domain.ProcessingCompleted {
			t.Fatalf("%s: converged to %s, want completed", tc.job, st)
		}
		e, err := tc.store.Get(context.Background(), cache.KeyDocumentAnalysis(tc.doc))
		if err != nil || !e.Stale {
			t.Fatalf("%s: document analysis not invalidated, entry=%v err=%v", tc.job, e, err)
		}
	}
}

func TestCompletedInvalidatesAnalysisOnce(t *testing.T) {
	store := newMarkStaleCounter()
	r, src := newTestReconciler(t, store, newFakeFetcher(), time.Hour)
	r.Track("job-6", "doc-6")

	src.emit(update("job-6", "doc-6", domain.ProcessingCompleted))
	src.emit(update("job-6", "doc-6", domain.ProcessingCompleted))

	if n := store.staleCount(cache.KeyDocumentAnalysis("doc-6")); n != 1 {
		t.Fatalf("document analysis invalidated %d times, want 1", n)
	}
}

func TestFailedLeavesAnalysisAlone(t *testing.T) {
	store := memory.NewStore()
	r, src := newTestReconciler(t, store, newFakeFetcher(), time.Hour)
	r.Track("job-7", "doc-7")

	src.emit(update("job-7", "doc-7", domain.ProcessingFailed))

	if _, err := store.Get(context.Background(), cache.KeyDocumentAnalysis("doc-7")); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("failed job must not touch document analysis, err=%v", err)
	}
	e, err := store.Get(context.Background(), cache.KeyProcessingStatus("job-7"))
	if err != nil || !e.Stale {
		t.Fatalf("expected stale status entry, entry=%v err=%v", e, err)
	}
}

func TestTrackIsIdempotent(t *testing.T) {
	r, _ := newTestReconciler(t, memory.NewStore(), newFakeFetcher(), time.Hour)
	r.Track("job-8", "doc-8")
	r.Track("job-8", "doc-8")

	r.mu.Lock()
	n := len(r.jobs)
	r.mu.Unlock()
	if n != 1 {
		t.Fatalf("duplicate Track created %d jobs, want 1", n)
	}
}
