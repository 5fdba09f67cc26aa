package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/osvaldoandrade/docsync/internal/metrics"
	"github.com/osvaldoandrade/docsync/internal/transport"
	"github.com/osvaldoandrade/docsync/pkg/cache"
	"github.com/osvaldoandrade/docsync/pkg/domain"
)

const subscriberID = "status-reconciler"

// StatusFetcher is the poll-path surface. *transport.Client satisfies it.
type StatusFetcher interface {
	GetProcessingStatus(ctx context.Context, processingID string) (*domain.ProcessingStatusRecord, error)
}

// EventSource is the push-path surface. *channel.Manager satisfies it.
type EventSource interface {
	Subscribe(id string, fn func(domain.Event))
	Unsubscribe(id string)
}

// Reconciler keeps processing-status and document-analysis cache entries
// eventually consistent across two independent update paths: push events
// from the channel and interval polling of the status endpoint. The two
// paths carry no ordering guarantee between them; conflicts resolve as
// "terminal status wins, otherwise most recent wins", and all invalidations
// are idempotent at the cache so duplicates are harmless.
type Reconciler struct {
	source   EventSource
	fetcher  StatusFetcher
	store    cache.Store
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	jobs    map[string]*jobState
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

type jobState struct {
	documentID   string
	lastStatus   domain.ProcessingStatus
	lastObserved time.Time
	cancelPoll   context.CancelFunc
}

func New(source EventSource, fetcher StatusFetcher, store cache.Store, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Reconciler{
		source:   source,
		fetcher:  fetcher,
		store:    store,
		logger:   logger.With("component", "reconcile"),
		interval: interval,
		jobs:     make(map[string]*jobState),
	}
}

// Start subscribes to the event source. Polling for individual jobs begins
// with Track.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("reconciler already started")
	}
	r.started = true
	r.runCtx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.source.Subscribe(subscriberID, r.handleEvent)
	return nil
}

// Close unsubscribes from the push path and cancels every poll loop.
func (r *Reconciler) Close() error {
	r.source.Unsubscribe(subscriberID)
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Track begins reconciling one processing job. Tracking the same id twice
// is a no-op; jobs already known terminal are not re-polled.
func (r *Reconciler) Track(processingID, documentID string) {
	r.mu.Lock()
	if _, ok := r.jobs[processingID]; ok {
		r.mu.Unlock()
		return
	}
	parent := r.runCtx
	if parent == nil {
		parent = context.Background()
	}
	pollCtx, cancelPoll := context.WithCancel(parent)
	r.jobs[processingID] = &jobState{
		documentID: documentID,
		lastStatus: domain.ProcessingPending,
		cancelPoll: cancelPoll,
	}
	r.mu.Unlock()

	r.logger.Info("tracking processing job", "processingId", processingID, "documentId", documentID)
	go r.poll(pollCtx, processingID)
}

func (r *Reconciler) poll(ctx context.Context, processingID string) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, err := r.fetcher.GetProcessingStatus(ctx, processingID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.StatusPollsTotal.WithLabelValues("failure").Inc()
				if errors.Is(err, transport.ErrJobNotFound) {
					r.logger.Debug("status poll found no record", "processingId", processingID)
				} else {
					r.logger.Warn("status poll failed", "processingId", processingID, "err", err)
				}
				continue
			}
			metrics.StatusPollsTotal.WithLabelValues("success").Inc()
			r.observePoll(ctx, processingID, rec)
		}
	}
}

// observePoll applies one polled snapshot. A poll is a refetch, so in
// addition to driving the status machine it repopulates the cache entry,
// clearing its staleness flag. A late snapshot that would revert a terminal
// status is discarded.
func (r *Reconciler) observePoll(ctx context.Context, processingID string, rec *domain.ProcessingStatusRecord) {
	r.mu.Lock()
	js, tracked := r.jobs[processingID]
	if !tracked {
		r.mu.Unlock()
		return
	}
	if js.lastStatus.Terminal() {
		r.mu.Unlock()
		r.logger.Debug("discarding stale poll snapshot", "processingId", processingID, "status", string(rec.Status))
		return
	}
	if !rec.ObservedAt.IsZero() && !js.lastObserved.IsZero() && rec.ObservedAt.Before(js.lastObserved) {
		r.mu.Unlock()
		return
	}
	js.lastStatus = rec.Status
	js.lastObserved = rec.ObservedAt
	if rec.DocumentID != "" {
		js.documentID = rec.DocumentID
	}
	docID := js.documentID
	terminal := rec.Status.Terminal()
	if terminal {
		js.cancelPoll()
		// The poll context just died with the loop; terminal cache writes
		// must outlive it or backends that honor ctx drop them.
		ctx = r.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
	}
	r.mu.Unlock()

	if b, err := json.Marshal(rec); err == nil {
		if err := r.store.Put(ctx, cache.KeyProcessingStatus(processingID), b); err != nil {
			r.logger.Warn("cache refresh failed", "processingId", processingID, "err", err)
		}
	}
	if terminal {
		r.finish(ctx, processingID, docID, rec.Status)
	}
}

// handleEvent applies one push event. Push events only request invalidation;
// they never write payloads into the cache, so a partially-shaped push can
// never corrupt a cached value.
func (r *Reconciler) handleEvent(ev domain.Event) {
	upd, ok := ev.(domain.ProcessingUpdateEvent)
	if !ok {
		return
	}
	processingID := upd.ProcessingID
	observed := upd.Timestamp
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	r.mu.Lock()
	ctx := r.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	js, tracked := r.jobs[processingID]
	firstTerminal := upd.Status.Terminal()
	docID := upd.DocumentID
	if tracked {
		if js.lastStatus.Terminal() {
			// Terminal wins: nothing left to do for this job.
			r.mu.Unlock()
			return
		}
		firstTerminal = upd.Status.Terminal()
		if firstTerminal || observed.After(js.lastObserved) || js.lastObserved.IsZero() {
			js.lastStatus = upd.Status
			js.lastObserved = observed
		}
		if upd.DocumentID != "" {
			js.documentID = upd.DocumentID
		}
		if docID == "" {
			docID = js.documentID
		}
		if upd.Status.Terminal() {
			js.cancelPoll()
		}
	}
	r.mu.Unlock()

	metrics.CacheInvalidationsTotal.WithLabelValues("processing-status").Inc()
	if err := r.store.MarkStale(ctx, cache.KeyProcessingStatus(processingID)); err != nil {
		r.logger.Warn("status invalidation failed", "processingId", processingID, "err", err)
	}
	if firstTerminal {
		r.finish(ctx, processingID, docID, upd.Status)
	}
}

// finish runs the terminal side effects exactly once per job, guarded by
// the last-seen status transition in the callers.
func (r *Reconciler) finish(ctx context.Context, processingID, documentID string, status domain.ProcessingStatus) {
	r.logger.Info("processing reached terminal status",
		"processingId", processingID, "status", string(status))
	if status != domain.ProcessingCompleted || documentID == "" {
		return
	}
	metrics.CacheInvalidationsTotal.WithLabelValues("document-analysis").Inc()
	if err := r.store.MarkStale(ctx, cache.KeyDocumentAnalysis(documentID)); err != nil {
		r.logger.Warn("analysis invalidation failed", "documentId", documentID, "err", err)
	}
}

// Jobs returns the processing ids currently tracked, in no particular order.
func (r *Reconciler) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	return out
}

// LastKnownStatus reports the reconciler's view of one job, for display
// surfaces that want the live state without reading the cache.
func (r *Reconciler) LastKnownStatus(processingID string) (domain.ProcessingStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	js, ok := r.jobs[processingID]
	if !ok {
		return "", false
	}
	return js.lastStatus, true
}
