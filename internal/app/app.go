// Package app builds the long-lived services of a fetch run and drives the
// run from URL list to exported results.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/bulk-fetcher/internal/api"
	"github.com/JakeFAU/bulk-fetcher/internal/clock/system"
	"github.com/JakeFAU/bulk-fetcher/internal/config"
	"github.com/JakeFAU/bulk-fetcher/internal/fetch"
	collyfetcher "github.com/JakeFAU/bulk-fetcher/internal/fetcher/colly"
	"github.com/JakeFAU/bulk-fetcher/internal/hash/sha256"
	"github.com/JakeFAU/bulk-fetcher/internal/id/uuid"
	"github.com/JakeFAU/bulk-fetcher/internal/output"
	"github.com/JakeFAU/bulk-fetcher/internal/policy/ratelimit"
	"github.com/JakeFAU/bulk-fetcher/internal/progress"
	progresssinks "github.com/JakeFAU/bulk-fetcher/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/bulk-fetcher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/bulk-fetcher/internal/publisher/pubsub"
	"github.com/JakeFAU/bulk-fetcher/internal/storage"
	pgstore "github.com/JakeFAU/bulk-fetcher/internal/storage/postgres"
	"github.com/JakeFAU/bulk-fetcher/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	exportTimeout   = 2 * time.Minute
)

type publisher interface {
	output.Publisher
	Close() error
}

// Options carries dependencies that tests (or embedders) override.
type Options struct {
	// Client replaces the colly HTTP client.
	Client fetch.Client
	// Clock replaces the system clock.
	Clock fetch.Clock
	// GCPOptions are passed to the GCS and Pub/Sub clients.
	GCPOptions []option.ClientOption
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	hub       *progress.Hub
	snapshots *progresssinks.SnapshotSink
	runner    *fetch.Runner
	exporter  *output.Exporter
	apiServer *api.Server

	results     storage.ResultStore
	publisher   publisher
	tracing     *sdktrace.TracerProvider
	blobCleanup func()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:         cfg,
		logger:      logger,
		registry:    prometheus.NewRegistry(),
		blobCleanup: func() {},
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.logger.Info("building application dependencies",
		zap.Int("target_concurrency", cfg.Fetch.TargetConcurrency),
		zap.Int("forbidden_threshold", cfg.Fetch.ForbiddenThreshold),
		zap.Duration("inter_pass_backoff", cfg.Fetch.InterPassBackoff),
		zap.Int("max_passes", cfg.Fetch.MaxPasses),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if err := app.setupTracing(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx, opts)
	if err != nil {
		_ = app.closeInfrastructure(ctx) //nolint:errcheck // build already failed
		return nil, err
	}
	if err := app.setupDatabase(ctx); err != nil {
		_ = app.closeInfrastructure(ctx) //nolint:errcheck // build already failed
		return nil, err
	}
	if err := app.setupPublisher(ctx, opts); err != nil {
		_ = app.closeInfrastructure(ctx) //nolint:errcheck // build already failed
		return nil, err
	}
	if err := app.setupProgress(); err != nil {
		_ = app.closeInfrastructure(ctx) //nolint:errcheck // build already failed
		return nil, err
	}
	if err := app.setupRunner(opts); err != nil {
		_ = app.closeInfrastructure(ctx) //nolint:errcheck // build already failed
		return nil, err
	}

	app.exporter = output.NewExporter(
		output.Config{
			Prefix:      cfg.Storage.Prefix,
			ContentType: cfg.Storage.ContentType,
			Topic:       cfg.PubSub.TopicName,
		},
		blobs,
		app.results,
		app.publisher,
		sha256.New(),
		logger.Named("export"),
	)
	if cfg.Server.Enabled {
		app.apiServer = api.NewServer(app.snapshots, app.registry, logger.Named("api"))
	}
	return app, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Telemetry.TracingEnabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
		Logger:      a.logger.Named("trace"),
	})
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracing = tp
	a.logger.Info("tracing enabled",
		zap.String("service", a.cfg.Telemetry.ServiceName),
		zap.Float64("sample_ratio", a.cfg.Telemetry.SampleRatio),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context, opts Options) (storage.BlobStore, error) {
	blobs, cleanup, err := storage.NewBlobStore(ctx, a.cfg.Storage, opts.GCPOptions...)
	if err != nil {
		return nil, fmt.Errorf("blob store init failed: %w", err)
	}
	a.blobCleanup = cleanup
	a.logger.Info("blob store initialized",
		zap.String("backend", a.cfg.Storage.Backend),
		zap.String("prefix", a.cfg.Storage.Prefix),
	)
	return blobs, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured; result rows will not be written")
		return nil
	}
	store, err := pgstore.NewResultStore(ctx, pgstore.ResultStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("result store init failed: %w", err)
	}
	a.results = store
	a.logger.Info("result store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context, opts Options) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID, opts.GCPOptions...)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	a.snapshots = progresssinks.NewSnapshotSink()
	sinkList := []progress.Sink{promSink, a.snapshots}
	if a.cfg.Fetch.Verbose {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func (a *App) setupRunner(opts Options) error {
	client := opts.Client
	if client == nil {
		client = collyfetcher.New(collyfetcher.Config{
			UserAgent:   a.cfg.HTTP.UserAgent,
			Timeout:     a.cfg.RequestTimeout(),
			MaxBodySize: a.cfg.HTTP.MaxBodyBytes,
		})
		a.logger.Info("using colly client",
			zap.String("user_agent", a.cfg.HTTP.UserAgent),
			zap.Duration("timeout", a.cfg.RequestTimeout()),
		)
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}

	var limiter fetch.Limiter
	if a.cfg.RateLimit.RequestsPerSecond > 0 {
		rl, err := ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.RequestsPerSecond,
			DefaultBurst: a.cfg.RateLimit.Burst,
			Registerer:   a.registry,
			Logger:       a.logger.Named("ratelimit"),
		})
		if err != nil {
			return fmt.Errorf("rate limiter init failed: %w", err)
		}
		limiter = rl
		a.logger.Info("rate limiter enabled",
			zap.Float64("requests_per_second", a.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", a.cfg.RateLimit.Burst),
		)
	}

	op := fetch.NewOperation(client, limiter, clock, a.logger.Named("operation"))
	sched := fetch.NewScheduler(a.cfg.PassConfig(), op, a.hub, clock, a.logger.Named("scheduler"))
	a.runner = fetch.NewRunner(sched, a.cfg.BackoffPolicy(), uuid.New(), a.hub, clock, a.logger.Named("runner"))
	return nil
}

// Run fetches urls, exports whatever resolved, and returns the export
// summary. A canceled ctx still exports the partial report before the
// cancellation error is returned.
func (a *App) Run(ctx context.Context, urls []string) (output.Summary, error) {
	stopServer, err := a.startServer(ctx)
	if err != nil {
		return output.Summary{}, err
	}
	defer stopServer()

	report, runErr := a.runner.Run(ctx, urls)

	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()
	summary, exportErr := a.exporter.Export(exportCtx, report)
	a.logSummary(summary)

	return summary, errors.Join(runErr, exportErr)
}

func (a *App) startServer(ctx context.Context) (func(), error) {
	if a.apiServer == nil {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Server.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	a.apiServer.SetReady(true)
	return func() {
		a.apiServer.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}, nil
}

func (a *App) logSummary(summary output.Summary) {
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("passes", summary.Passes),
		zap.Int("resolved", summary.Resolved),
		zap.Int("unresolved", len(summary.Unresolved)),
		zap.Duration("elapsed", summary.Duration),
		zap.String("results_uri", summary.ResultsURI),
	}
	for _, code := range output.SortedCodes(summary.ByCode) {
		fields = append(fields, zap.Int("code_"+code, summary.ByCode[code]))
	}
	a.logger.Info("run summary", fields...)
}

// Registry exposes the metrics registry the run reports into.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Snapshot returns the latest run state.
func (a *App) Snapshot() progresssinks.RunSnapshot {
	return a.snapshots.Snapshot()
}

// Close flushes progress and releases external clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events were dropped", zap.Int64("dropped", dropped))
		}
	}
	if err := a.closeInfrastructure(ctx); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.results != nil {
		a.results.Close()
	}
	if a.blobCleanup != nil {
		a.blobCleanup()
	}
	if a.tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.tracing.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		a.tracing = nil
	}
	return errors.Join(errs...)
}
