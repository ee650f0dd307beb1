package etl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Checkpoint messages written to the journal on a successful run, in order.
const (
	MsgJobStarted       = "ETL Job Started"
	MsgExtractStarted   = "Extract phase Started"
	MsgExtractEnded     = "Extract phase Ended"
	MsgTransformStarted = "Transform phase Started"
	MsgTransformEnded   = "Transform phase Ended"
	MsgLoadStarted      = "Load phase Started"
	MsgLoadEnded        = "Load phase Ended"
	MsgJobEnded         = "ETL Job Ended"
)

// SuccessBody is the response body reported for a completed run.
const SuccessBody = "updated completed"

// Run outcomes reported to the Recorder.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Config holds the per-pipeline settings.
type Config struct {
	URL string
}

// Pipeline runs one extract-transform-load pass per call.
type Pipeline struct {
	cfg         Config
	fetcher     Fetcher
	extractor   Extractor
	transformer Transformer
	sink        Sink
	journal     Journal
	clock       Clock

	recorder Recorder
	notifier Notifier
	hasher   Hasher
	idGen    IDGenerator
	tracer   trace.Tracer
	logger   *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithNotifier attaches a publisher that receives the run summary after a load.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithHasher sets the page digest function.
func WithHasher(h Hasher) Option {
	return func(p *Pipeline) { p.hasher = h }
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) { p.idGen = g }
}

// WithTracer sets the tracer used for the run span.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// NewPipeline wires the pipeline collaborators.
func NewPipeline(
	cfg Config,
	fetcher Fetcher,
	extractor Extractor,
	transformer Transformer,
	sink Sink,
	journal Journal,
	clock Clock,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("source url is required")
	case fetcher == nil:
		return nil, errors.New("fetcher is required")
	case extractor == nil:
		return nil, errors.New("extractor is required")
	case transformer == nil:
		return nil, errors.New("transformer is required")
	case sink == nil:
		return nil, errors.New("sink is required")
	case journal == nil:
		return nil, errors.New("journal is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	p := &Pipeline{
		cfg:         cfg,
		fetcher:     fetcher,
		extractor:   extractor,
		transformer: transformer,
		sink:        sink,
		journal:     journal,
		clock:       clock,
		tracer:      noop.NewTracerProvider().Tracer(""),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes fetch, extract, transform and load once. The first error stops
// the run and is returned unchanged so callers can match FetchError,
// ParseError or SinkError.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:     p.newRunID(),
		URL:       p.cfg.URL,
		Sink:      p.sink.Name(),
		StartedAt: p.clock.Now(),
	}
	ctx, span := p.tracer.Start(ctx, "crs_etl.run", trace.WithAttributes(
		attribute.String("run_id", summary.RunID),
		attribute.String("sink", summary.Sink),
		attribute.String("url", summary.URL),
	))
	defer span.End()
	logger := p.logger.With(
		zap.String("run_id", summary.RunID),
		zap.String("sink", summary.Sink),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	ds, err := p.run(ctx, logger, &summary)
	summary.FinishedAt = p.clock.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("etl run failed", zap.Error(err))
		p.observeRun(ResultError, 0, summary.FinishedAt)
		return summary, err
	}
	summary.Loaded = len(ds)
	span.SetAttributes(attribute.Int("records", summary.Loaded))
	logger.Info("etl run finished",
		zap.Int("records", summary.Loaded),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	p.observeRun(ResultSuccess, summary.Loaded, summary.FinishedAt)
	p.notify(ctx, logger, summary)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, logger *zap.Logger, summary *Summary) (Dataset, error) {
	p.checkpoint(ctx, MsgJobStarted)

	p.checkpoint(ctx, MsgExtractStarted)
	start := time.Now()
	raw, err := p.extract(ctx, logger, summary)
	if err != nil {
		return nil, err
	}
	p.observePhase(PhaseExtract, time.Since(start))
	p.checkpoint(ctx, MsgExtractEnded)

	p.checkpoint(ctx, MsgTransformStarted)
	start = time.Now()
	ds, err := p.transformer.Transform(raw)
	if err != nil {
		return nil, err
	}
	p.observePhase(PhaseTransform, time.Since(start))
	p.checkpoint(ctx, MsgTransformEnded)

	p.checkpoint(ctx, MsgLoadStarted)
	start = time.Now()
	if err := p.sink.Persist(ctx, ds); err != nil {
		return nil, err
	}
	p.observePhase(PhaseLoad, time.Since(start))
	p.checkpoint(ctx, MsgLoadEnded)

	p.checkpoint(ctx, MsgJobEnded)
	return ds, nil
}

func (p *Pipeline) extract(ctx context.Context, logger *zap.Logger, summary *Summary) ([]RawRecord, error) {
	page, err := p.fetcher.Fetch(ctx, p.cfg.URL)
	if err != nil {
		return nil, err
	}
	if p.hasher != nil {
		digest, hashErr := p.hasher.Hash(page.Body)
		if hashErr != nil {
			logger.Warn("page digest failed", zap.Error(hashErr))
		}
		summary.PageDigest = digest
	}
	logger.Debug("page fetched",
		zap.String("url", page.URL),
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.Body)),
		zap.Duration("dur", page.Duration),
		zap.String("digest", summary.PageDigest),
	)
	raw, err := p.extractor.Extract(page.Text())
	if err != nil {
		return nil, err
	}
	summary.Extracted = len(raw)
	return raw, nil
}

// Invoke runs the pipeline and reports the outcome as a status code and a
// short message, the shape expected by scheduled triggers.
func (p *Pipeline) Invoke(ctx context.Context) Response {
	if _, err := p.Run(ctx); err != nil {
		return Response{StatusCode: http.StatusInternalServerError, Body: err.Error()}
	}
	return Response{StatusCode: http.StatusOK, Body: SuccessBody}
}

// Close releases the sink.
func (p *Pipeline) Close() error {
	if err := p.sink.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

func (p *Pipeline) checkpoint(ctx context.Context, message string) {
	trace.SpanFromContext(ctx).AddEvent(message)
	p.journal.Checkpoint(p.clock.Now(), message)
}

func (p *Pipeline) newRunID() string {
	if p.idGen == nil {
		return ""
	}
	id, err := p.idGen.NewID()
	if err != nil {
		p.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (p *Pipeline) observePhase(phase Phase, d time.Duration) {
	if p.recorder != nil {
		p.recorder.ObservePhase(phase, d)
	}
}

func (p *Pipeline) observeRun(result string, loaded int, finishedAt time.Time) {
	if p.recorder != nil {
		p.recorder.ObserveRun(result, loaded, finishedAt)
	}
}

func (p *Pipeline) notify(ctx context.Context, logger *zap.Logger, summary Summary) {
	if p.notifier == nil {
		return
	}
	id, err := p.notifier.Publish(ctx, summary)
	if err != nil {
		logger.Warn("run notification failed", zap.Error(err))
		return
	}
	logger.Debug("run notification published", zap.String("message_id", id))
}
