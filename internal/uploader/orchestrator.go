package uploader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/docsync/internal/metrics"
	"github.com/osvaldoandrade/docsync/internal/registry"
	"github.com/osvaldoandrade/docsync/internal/transport"
	"github.com/osvaldoandrade/docsync/pkg/cache"
	"github.com/osvaldoandrade/docsync/pkg/domain"
)

// Uploader is the transport surface the orchestrator drains the registry
// through. *transport.Client satisfies it.
type Uploader interface {
	UploadDocument(ctx context.Context, path, mimeType string, onProgress transport.ProgressFunc) (*domain.UploadReceipt, error)
}

// StatusTracker receives processing identifiers of successful uploads.
type StatusTracker interface {
	Track(processingID, documentID string)
}

// ErrorHandler surfaces per-file errors to the user-facing layer.
type ErrorHandler func(name string, err error)

// Orchestrator validates submissions, registers accepted files, and drains
// the registry strictly sequentially: never more than one in-flight transfer,
// bounding the server-side concurrency one client can cause. One failed
// transfer never halts the queue.
type Orchestrator struct {
	reg     *registry.Registry
	client  Uploader
	store   cache.Store
	tracker StatusTracker
	rules   Rules
	logger  *slog.Logger
	tracer  trace.Tracer

	onError      ErrorHandler
	cleanupAfter time.Duration

	mu       sync.Mutex
	draining bool
	drainCtx context.Context
}

type Option func(*Orchestrator)

// WithErrorHandler installs the user-visible error surface.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *Orchestrator) { o.onError = fn }
}

// WithCleanupAfter removes succeeded tasks from the visible list after the
// given grace period. Zero disables cleanup.
func WithCleanupAfter(d time.Duration) Option {
	return func(o *Orchestrator) { o.cleanupAfter = d }
}

func NewOrchestrator(reg *registry.Registry, client Uploader, store cache.Store, tracker StatusTracker, rules Rules, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		reg:     reg,
		client:  client,
		store:   store,
		tracker: tracker,
		rules:   rules,
		logger:  logger.With("component", "uploader"),
		tracer:  otel.Tracer("docsync/uploader"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates and enqueues files, then ensures exactly one drain loop
// is running. It returns immediately; an empty submission is a no-op.
// Submitting while a previous batch is still draining appends to the same
// queue rather than starting a second loop.
func (o *Orchestrator) Submit(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}

	accepted := 0
	for _, p := range paths {
		cand, verr := o.validate(p, accepted)
		if verr != nil {
			metrics.ValidationRejectionsTotal.WithLabelValues(verr.Category).Inc()
			o.logger.Warn("file rejected", "file", verr.Name, "reason", verr.Reason)
			o.reportError(verr.Name, verr)
			continue
		}
		accepted++
		o.reg.Add(domain.UploadTask{
			Path:        cand.path,
			DisplayName: cand.name,
			ByteSize:    cand.size,
			MimeType:    cand.mime,
			Status:      domain.UploadQueued,
		})
	}
	if accepted == 0 {
		return
	}

	// The running loop adopts the newest submission's context, so tasks
	// appended while an earlier context is dying are not stranded Queued.
	o.mu.Lock()
	o.drainCtx = ctx
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	o.mu.Unlock()
	go o.drain()
}

func (o *Orchestrator) drain() {
	for {
		o.mu.Lock()
		ctx := o.drainCtx
		if ctx.Err() != nil {
			o.draining = false
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		task, ok := o.reg.NextQueued()
		if !ok {
			// Recheck under the drain lock so a submission racing with loop
			// exit is either seen here or starts a fresh loop itself.
			o.mu.Lock()
			if _, again := o.reg.NextQueued(); again {
				o.mu.Unlock()
				continue
			}
			o.draining = false
			o.mu.Unlock()
			return
		}
		o.upload(ctx, task)
	}
}

func (o *Orchestrator) upload(ctx context.Context, task domain.UploadTask) {
	ctx, span := o.tracer.Start(ctx, "upload",
		trace.WithAttributes(
			attribute.String("file.name", task.DisplayName),
			attribute.Int64("file.size_bytes", task.ByteSize),
		))
	defer span.End()

	o.reg.SetStatus(task.ID, domain.UploadUploading)
	receipt, err := o.client.UploadDocument(ctx, task.Path, task.MimeType, func(sent, total int64) {
		// A torn-down subsystem must never call back into dead state.
		if ctx.Err() != nil {
			return
		}
		pct := 0
		if total > 0 {
			pct = int(sent * 100 / total)
		}
		o.reg.SetProgress(task.ID, pct)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		metrics.UploadsTotal.WithLabelValues("failure").Inc()
		o.reg.SetStatus(task.ID, domain.UploadFailed)
		o.reg.Remove(task.ID)
		o.logger.Warn("upload failed", "file", task.DisplayName, "err", err)
		o.reportError(task.DisplayName, err)
		return
	}

	o.reg.SetProgress(task.ID, 100)
	o.reg.SetStatus(task.ID, domain.UploadSucceeded)
	metrics.UploadsTotal.WithLabelValues("success").Inc()
	metrics.UploadBytesTotal.Add(float64(task.ByteSize))
	o.logger.Info("upload succeeded", "file", task.DisplayName,
		"documentId", receipt.DocumentID, "processingId", receipt.ProcessingID)

	metrics.CacheInvalidationsTotal.WithLabelValues("document-list").Inc()
	if err := o.store.MarkStale(ctx, cache.KeyDocumentList); err != nil {
		o.logger.Warn("document list invalidation failed", "err", err)
	}
	if o.tracker != nil {
		o.tracker.Track(receipt.ProcessingID, receipt.DocumentID)
	}

	if o.cleanupAfter > 0 {
		id := task.ID
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(o.cleanupAfter):
				o.reg.Remove(id)
			}
		}()
	}
}

func (o *Orchestrator) reportError(name string, err error) {
	if o.onError != nil {
		o.onError(name, err)
	}
}
