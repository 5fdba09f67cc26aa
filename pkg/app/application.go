package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/docsync/internal/channel"
	"github.com/osvaldoandrade/docsync/internal/middleware"
	"github.com/osvaldoandrade/docsync/internal/reconcile"
	"github.com/osvaldoandrade/docsync/internal/registry"
	"github.com/osvaldoandrade/docsync/internal/tracing"
	"github.com/osvaldoandrade/docsync/internal/transport"
	"github.com/osvaldoandrade/docsync/internal/uploader"
	"github.com/osvaldoandrade/docsync/pkg/cache"
	_ "github.com/osvaldoandrade/docsync/pkg/cache/memory"
	_ "github.com/osvaldoandrade/docsync/pkg/cache/redis"
	"github.com/osvaldoandrade/docsync/pkg/config"

	"github.com/gin-gonic/gin"
)

// Application wires the upload and status-synchronization subsystem: the
// duplex channel, the task registry, the orchestrator, the reconciler and
// the read-only view API.
type Application struct {
	Config       *config.Config
	Engine       *gin.Engine
	Logger       *slog.Logger
	Store        cache.Store
	Registry     *registry.Registry
	Client       *transport.Client
	Channel      *channel.Manager
	Reconciler   *reconcile.Reconciler
	Orchestrator *uploader.Orchestrator

	shutdownTracing func(context.Context) error
	connFactory     channel.Factory
	errorHandler    uploader.ErrorHandler
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithCacheStore overrides the config-selected cache backend.
func WithCacheStore(store cache.Store) ApplicationOption {
	return func(app *Application) error {
		app.Store = store
		return nil
	}
}

// WithConnFactory overrides how channel connections are dialed.
func WithConnFactory(factory channel.Factory) ApplicationOption {
	return func(app *Application) error {
		app.connFactory = factory
		return nil
	}
}

// WithErrorHandler surfaces per-file upload errors to the caller's UI.
func WithErrorHandler(fn uploader.ErrorHandler) ApplicationOption {
	return func(app *Application) error {
		app.errorHandler = fn
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "docsync", "env", cfg.Env)
	slog.SetDefault(logger)

	app := &Application{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Store == nil {
		store, err := cache.NewStore(cache.ProviderConfig{
			Type:     cfg.CacheProvider,
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, err
		}
		app.Store = store
	}
	if app.connFactory == nil {
		app.connFactory = channel.NewWebSocketConn
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "docsync",
		OTLPEndpoint: cfg.TracingEndpoint,
		OTLPInsecure: cfg.TracingInsecure,
		SampleRatio:  cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.shutdownTracing = shutdown

	app.Registry = registry.New()
	app.Client = transport.NewClient(cfg.ServerBaseURL, cfg.AuthToken, logger)
	app.Channel = channel.NewManager(
		app.connFactory,
		cfg.ResolveChannelURL(),
		logger,
		cfg.ReconnectPolicy,
		time.Duration(cfg.ReconnectIntervalSeconds)*time.Second,
		time.Duration(cfg.ReconnectIntervalSeconds)*time.Second*12,
		cfg.ReconnectMaxAttempts,
	)
	app.Reconciler = reconcile.New(
		app.Channel,
		app.Client,
		app.Store,
		time.Duration(cfg.PollIntervalSeconds)*time.Second,
		logger,
	)

	uploaderOpts := []uploader.Option{
		uploader.WithCleanupAfter(time.Duration(cfg.CompletedTaskTTLSeconds) * time.Second),
	}
	if app.errorHandler != nil {
		uploaderOpts = append(uploaderOpts, uploader.WithErrorHandler(app.errorHandler))
	}
	app.Orchestrator = uploader.NewOrchestrator(
		app.Registry,
		app.Client,
		app.Store,
		app.Reconciler,
		uploader.Rules{
			AllowedMimeTypes: cfg.AllowedMimeTypes,
			MaxFileSizeBytes: cfg.MaxFileSizeBytes,
			MaxFilesPerBatch: cfg.MaxFilesPerBatch,
		},
		logger,
		uploaderOpts...,
	)

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware(logger), middleware.TracingMiddleware())
	app.Engine = engine

	return app, nil
}

// Start opens the channel and the reconciler. It returns once supervision
// is running; it does not block.
func (app *Application) Start(ctx context.Context) error {
	if err := app.Channel.Start(ctx); err != nil {
		return err
	}
	return app.Reconciler.Start(ctx)
}

// Close tears the subsystem down: channel supervision first so no event
// lands after the reconciler is gone, then pollers, cache and tracing.
func (app *Application) Close(ctx context.Context) error {
	if err := app.Channel.Close(); err != nil {
		app.Logger.Warn("channel close failed", "err", err)
	}
	if err := app.Reconciler.Close(); err != nil {
		app.Logger.Warn("reconciler close failed", "err", err)
	}
	if err := app.Store.Close(); err != nil {
		app.Logger.Warn("cache close failed", "err", err)
	}
	if app.shutdownTracing != nil {
		if err := app.shutdownTracing(ctx); err != nil {
			app.Logger.Warn("tracing shutdown failed", "err", err)
		}
	}
	return nil
}
