// Package app builds the pipeline and its long-lived services from
// configuration and owns their shutdown.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/checkpoint"
	"github.com/JakeFAU/crs-draws-etl/internal/clock/system"
	"github.com/JakeFAU/crs-draws-etl/internal/config"
	"github.com/JakeFAU/crs-draws-etl/internal/etl"
	"github.com/JakeFAU/crs-draws-etl/internal/extract"
	collyfetcher "github.com/JakeFAU/crs-draws-etl/internal/fetcher/colly"
	"github.com/JakeFAU/crs-draws-etl/internal/fetcher/headless"
	"github.com/JakeFAU/crs-draws-etl/internal/hash/sha256"
	"github.com/JakeFAU/crs-draws-etl/internal/id/uuid"
	"github.com/JakeFAU/crs-draws-etl/internal/metrics"
	"github.com/JakeFAU/crs-draws-etl/internal/publisher/pubsub"
	"github.com/JakeFAU/crs-draws-etl/internal/sink"
	"github.com/JakeFAU/crs-draws-etl/internal/telemetry"
	"github.com/JakeFAU/crs-draws-etl/internal/transform"
)

// App holds the pipeline and the services it was built from.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	pipeline *etl.Pipeline
	metrics  *metrics.Metrics
	closers  []func() error
}

// New wires fetcher, extractor, transformer, sink, journal and the optional
// notifier according to cfg. Services already opened are released when a
// later one fails.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, withRuntimeMetrics bool) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	clk, err := system.NewIn(cfg.Checkpoint.Location)
	if err != nil {
		return a, fmt.Errorf("init clock: %w", err)
	}

	a.metrics, err = metrics.New(withRuntimeMetrics)
	if err != nil {
		return a, fmt.Errorf("init metrics: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return a, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	fetcher := a.buildFetcher()

	logger.Info("opening sink", zap.String("kind", cfg.Sink.Kind))
	dest, err := sink.New(ctx, cfg.Sink, logger)
	if err != nil {
		return a, fmt.Errorf("init sink: %w", err)
	}

	journal := checkpoint.Multi{
		checkpoint.NewFile(cfg.Checkpoint.LogFile, logger),
		checkpoint.NewZap(logger),
	}

	opts := []etl.Option{
		etl.WithLogger(logger),
		etl.WithRecorder(a.metrics),
		etl.WithHasher(sha256.New()),
		etl.WithIDGenerator(uuid.New()),
		etl.WithTracer(tp.Tracer(telemetry.ServiceName)),
	}
	if cfg.Notify.Topic != "" {
		logger.Info("connecting to pubsub", zap.String("topic", cfg.Notify.Topic))
		pub, pubErr := pubsub.Open(ctx, cfg.Notify.ProjectID, cfg.Notify.Topic)
		if pubErr != nil {
			_ = dest.Close()
			return a, fmt.Errorf("init notifier: %w", pubErr)
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, etl.WithNotifier(pub))
	}

	a.pipeline, err = etl.NewPipeline(
		etl.Config{URL: cfg.Source.URL},
		fetcher,
		extract.New(),
		transform.New(),
		dest,
		journal,
		clk,
		opts...,
	)
	if err != nil {
		_ = dest.Close()
		return a, fmt.Errorf("init pipeline: %w", err)
	}
	a.closers = append(a.closers, a.pipeline.Close)
	return a, nil
}

func (a *App) buildFetcher() etl.Fetcher {
	if a.cfg.Source.Render {
		a.logger.Info("using headless fetcher", zap.String("wait_selector", a.cfg.Source.WaitSelector))
		f := headless.NewChromedp(headless.Config{
			UserAgent:         a.cfg.Source.UserAgent,
			NavigationTimeout: a.cfg.RenderTimeout(),
			WaitSelector:      a.cfg.Source.WaitSelector,
		}, a.logger)
		a.closers = append(a.closers, func() error {
			f.Close()
			return nil
		})
		return f
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Source.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
	}, a.logger)
}

// Pipeline returns the wired pipeline.
func (a *App) Pipeline() *etl.Pipeline { return a.pipeline }

// Metrics returns the collectors the pipeline reports to.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// PushMetrics sends the registry to the configured Pushgateway, if any.
func (a *App) PushMetrics(ctx context.Context) error {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return nil
	}
	return a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job)
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
