package etl_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
	"github.com/JakeFAU/crs-draws-etl/internal/extract"
	"github.com/JakeFAU/crs-draws-etl/internal/transform"
)

const page = `<html><body><table><tbody>
<tr><th colspan="5">2024</th></tr>
<tr><td>290</td><td>March 6, 2024</td><td>French language proficiency (Version 1)</td><td>1,500</td><td>336</td></tr>
<tr><td>237</td><td>Jan. 17, 2023</td><td>Provincial Nominee Program</td><td>573</td><td>699</td></tr>
</tbody></table></body></html>`

type fakeFetcher struct {
	body string
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (etl.Page, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return etl.Page{}, f.err
	}
	return etl.Page{URL: url, StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

type fakeSink struct {
	err      error
	persists []etl.Dataset
	closed   bool
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Persist(_ context.Context, ds etl.Dataset) error {
	if s.err != nil {
		return s.err
	}
	s.persists = append(s.persists, ds)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *memJournal) Checkpoint(_ time.Time, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, message)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeRecorder struct {
	phases  []etl.Phase
	results []string
	loaded  int
}

func (r *fakeRecorder) ObservePhase(phase etl.Phase, _ time.Duration) {
	r.phases = append(r.phases, phase)
}

func (r *fakeRecorder) ObserveRun(result string, loaded int, _ time.Time) {
	r.results = append(r.results, result)
	r.loaded = loaded
}

type fakeNotifier struct {
	err      error
	payloads []any
}

func (n *fakeNotifier) Publish(_ context.Context, payload any) (string, error) {
	n.payloads = append(n.payloads, payload)
	return "msg-1", n.err
}

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }

type staticHash string

func (s staticHash) Hash([]byte) (string, error) { return string(s), nil }

var allCheckpoints = []string{
	etl.MsgJobStarted,
	etl.MsgExtractStarted,
	etl.MsgExtractEnded,
	etl.MsgTransformStarted,
	etl.MsgTransformEnded,
	etl.MsgLoadStarted,
	etl.MsgLoadEnded,
	etl.MsgJobEnded,
}

type harness struct {
	fetcher  *fakeFetcher
	sink     *fakeSink
	journal  *memJournal
	recorder *fakeRecorder
	notifier *fakeNotifier
	pipeline *etl.Pipeline
}

func newHarness(t *testing.T, body string) *harness {
	t.Helper()
	h := &harness{
		fetcher:  &fakeFetcher{body: body},
		sink:     &fakeSink{},
		journal:  &memJournal{},
		recorder: &fakeRecorder{},
		notifier: &fakeNotifier{},
	}
	p, err := etl.NewPipeline(
		etl.Config{URL: "https://example.test/rounds"},
		h.fetcher,
		extract.New(),
		transform.New(),
		h.sink,
		h.journal,
		fixedClock{now: time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)},
		etl.WithRecorder(h.recorder),
		etl.WithNotifier(h.notifier),
		etl.WithIDGenerator(staticID("run-1")),
		etl.WithHasher(staticHash("sha256:abc")),
	)
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, page)
	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.test/rounds"}, h.fetcher.urls)
	require.Len(t, h.sink.persists, 1)
	assert.Equal(t, etl.Dataset{
		{Date: "2024-03-06", Program: "French language proficiency (Version 1)", Invitations: 1500, LowestCRS: 336},
		{Date: "2023-01-17", Program: "Provincial Nominee Program", Invitations: 573, LowestCRS: 699},
	}, h.sink.persists[0])

	assert.Equal(t, allCheckpoints, h.journal.entries)
	assert.Equal(t, []etl.Phase{etl.PhaseExtract, etl.PhaseTransform, etl.PhaseLoad}, h.recorder.phases)
	assert.Equal(t, []string{etl.ResultSuccess}, h.recorder.results)
	assert.Equal(t, 2, h.recorder.loaded)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "sha256:abc", summary.PageDigest)
	assert.Equal(t, 2, summary.Extracted)
	assert.Equal(t, 2, summary.Loaded)
	assert.Equal(t, "fake", summary.Sink)
	require.Len(t, h.notifier.payloads, 1)
	assert.Equal(t, summary, h.notifier.payloads[0])
}

func TestRunEmptyTableLoadsEmptyDataset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `<table><tbody><tr><th>only headers</th></tr></tbody></table>`)
	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.sink.persists, 1)
	assert.Empty(t, h.sink.persists[0])
	assert.Len(t, h.journal.entries, 8)
}

func TestRunFetchFailureStopsAfterExtractStarted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, page)
	h.fetcher.err = &etl.FetchError{URL: "https://example.test/rounds", StatusCode: http.StatusBadGateway}

	_, err := h.pipeline.Run(context.Background())
	var fetchErr *etl.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, []string{etl.MsgJobStarted, etl.MsgExtractStarted}, h.journal.entries)
	assert.Empty(t, h.sink.persists)
	assert.Equal(t, []string{etl.ResultError}, h.recorder.results)
	assert.Empty(t, h.notifier.payloads)
}

func TestRunMissingTableIsParseError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `<html><body><p>maintenance</p></body></html>`)
	_, err := h.pipeline.Run(context.Background())
	var parseErr *etl.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, []string{etl.MsgJobStarted, etl.MsgExtractStarted}, h.journal.entries)
	assert.Empty(t, h.sink.persists)
}

func TestRunUnparseableCountStopsBeforeLoad(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `<table><tbody>
<tr><td>1</td><td>March 6, 2024</td><td>CEC</td><td>N/A</td><td>336</td></tr>
</tbody></table>`)

	_, err := h.pipeline.Run(context.Background())
	var parseErr *etl.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 0, parseErr.Row)
	assert.Equal(t, allCheckpoints[:4], h.journal.entries)
	assert.Empty(t, h.sink.persists)
}

func TestRunSinkFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, page)
	h.sink.err = &etl.SinkError{Sink: "fake", Op: "write", Err: errors.New("denied")}

	_, err := h.pipeline.Run(context.Background())
	var sinkErr *etl.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, allCheckpoints[:6], h.journal.entries)
	assert.Equal(t, []etl.Phase{etl.PhaseExtract, etl.PhaseTransform}, h.recorder.phases)
}

func TestRunNotificationFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, page)
	h.notifier.err = errors.New("topic not found")

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.notifier.payloads, 1)
}

func TestInvokeResponses(t *testing.T) {
	t.Parallel()

	ok := newHarness(t, page)
	assert.Equal(t, etl.Response{StatusCode: http.StatusOK, Body: etl.SuccessBody}, ok.pipeline.Invoke(context.Background()))

	failed := newHarness(t, page)
	failed.fetcher.err = &etl.FetchError{URL: "u", Err: errors.New("connection refused")}
	resp := failed.pipeline.Invoke(context.Background())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Body, "connection refused")
}

func TestRunIsRepeatable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, page)
	for i := 0; i < 2; i++ {
		_, err := h.pipeline.Run(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, h.sink.persists, 2)
	assert.Equal(t, h.sink.persists[0], h.sink.persists[1])
	assert.Len(t, h.journal.entries, 16)
}

func TestClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, page)
	require.NoError(t, h.pipeline.Close())
	assert.True(t, h.sink.closed)
}

func TestNewPipelineValidation(t *testing.T) {
	t.Parallel()

	clock := fixedClock{}
	cases := map[string]func() (*etl.Pipeline, error){
		"missing url": func() (*etl.Pipeline, error) {
			return etl.NewPipeline(etl.Config{}, &fakeFetcher{}, extract.New(), transform.New(), &fakeSink{}, &memJournal{}, clock)
		},
		"missing fetcher": func() (*etl.Pipeline, error) {
			return etl.NewPipeline(etl.Config{URL: "u"}, nil, extract.New(), transform.New(), &fakeSink{}, &memJournal{}, clock)
		},
		"missing sink": func() (*etl.Pipeline, error) {
			return etl.NewPipeline(etl.Config{URL: "u"}, &fakeFetcher{}, extract.New(), transform.New(), nil, &memJournal{}, clock)
		},
		"missing journal": func() (*etl.Pipeline, error) {
			return etl.NewPipeline(etl.Config{URL: "u"}, &fakeFetcher{}, extract.New(), transform.New(), &fakeSink{}, nil, clock)
		},
		"missing clock": func() (*etl.Pipeline, error) {
			return etl.NewPipeline(etl.Config{URL: "u"}, &fakeFetcher{}, extract.New(), transform.New(), &fakeSink{}, &memJournal{}, nil)
		},
	}
	for name, build := range cases {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := build()
			require.Error(t, err)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	fetchErr := &etl.FetchError{URL: "https://x", StatusCode: 503, Err: inner}
	assert.ErrorIs(t, fetchErr, inner)
	assert.Contains(t, fetchErr.Error(), "https://x")

	sinkErr := &etl.SinkError{Sink: "file", Op: "write", Err: inner}
	assert.Equal(t, "sink file: write: boom", sinkErr.Error())
	assert.ErrorIs(t, sinkErr, inner)

	parseErr := &etl.ParseError{Row: 2, Field: "invitations", Value: "N/A", Err: inner}
	assert.ErrorIs(t, parseErr, inner)
	assert.Contains(t, parseErr.Error(), "N/A")
}

func TestRunRecordsSpan(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	newPipeline := func(f etl.Fetcher) *etl.Pipeline {
		p, err := etl.NewPipeline(
			etl.Config{URL: "https://example.test/rounds"},
			f, extract.New(), transform.New(), &fakeSink{}, &memJournal{}, fixedClock{},
			etl.WithTracer(tp.Tracer("test")),
		)
		require.NoError(t, err)
		return p
	}

	_, err := newPipeline(&fakeFetcher{body: page}).Run(context.Background())
	require.NoError(t, err)
	_, err = newPipeline(&fakeFetcher{err: errors.New("refused")}).Run(context.Background())
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "crs_etl.run", spans[0].Name())
	require.Len(t, spans[0].Events(), len(allCheckpoints))
	assert.Equal(t, etl.MsgJobEnded, spans[0].Events()[7].Name)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 3) // two checkpoints plus the recorded error
}
