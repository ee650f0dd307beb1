// Package collyfetcher implements etl.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// DefaultTimeout bounds a fetch when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher issues a single GET per call through a fresh colly collector.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
	logger    *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 2
	return &Fetcher{cfg: cfg, transport: transport, logger: logger}
}

// Fetch performs the GET and returns the body. Transport errors and
// non-success statuses are reported as *etl.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (etl.Page, error) {
	v := &visit{start: time.Now()}
	c := f.collector()
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)

	done := make(chan error, 1)
	go func() { done <- c.Visit(url) }()

	var err error
	select {
	case <-ctx.Done():
		return etl.Page{}, &etl.FetchError{URL: url, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err = <-done:
	}
	if v.err != nil {
		err = v.err
	}
	if err != nil {
		return etl.Page{}, &etl.FetchError{URL: url, StatusCode: v.status, Err: err}
	}
	if v.page.StatusCode < http.StatusOK || v.page.StatusCode >= http.StatusMultipleChoices {
		return etl.Page{}, &etl.FetchError{URL: url, StatusCode: v.page.StatusCode, Err: errors.New("unexpected status")}
	}
	f.logger.Debug("colly fetch done",
		zap.String("url", v.page.URL),
		zap.Int("status", v.page.StatusCode),
		zap.Duration("dur", v.page.Duration),
	)
	return v.page, nil
}

func (f *Fetcher) collector() *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	return c
}

// visit collects the outcome of one collector visit. Its fields are written
// by colly callbacks and read once Visit returns.
type visit struct {
	start  time.Time
	page   etl.Page
	status int
	err    error
}

func (v *visit) onResponse(r *colly.Response) {
	v.page = etl.Page{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil {
		v.status = r.StatusCode
	}
	v.err = fmt.Errorf("colly response failed: %w", err)
}
