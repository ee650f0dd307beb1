// Package headless fetches pages through headless Chrome so tables built by
// client-side scripts are present in the returned markup.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// DefaultNavigationTimeout bounds a navigation when none is configured.
const DefaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is awaited before the DOM is captured.
	WaitSelector string
}

// Fetcher implements etl.Fetcher using chromedp.
type Fetcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher. The browser starts lazily on the
// first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to url and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, url string) (etl.Page, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var doc documentTracker
	chromedp.ListenTarget(taskCtx, doc.observe)

	start := time.Now()
	html, location, err := f.render(taskCtx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return etl.Page{}, &etl.FetchError{URL: url, Err: err}
	}

	status, responseURL := doc.result(url, location)
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return etl.Page{}, &etl.FetchError{URL: url, StatusCode: status, Err: errors.New("unexpected status")}
	}
	f.logger.Debug("headless fetch done", zap.String("url", responseURL), zap.Int("status", status))
	return etl.Page{
		URL:        responseURL,
		StatusCode: status,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

// render loads url, waits for the configured selector and returns the outer
// HTML together with the browser location after redirects.
func (f *Fetcher) render(ctx context.Context, url string) (html, location string, err error) {
	tasks := chromedp.Tasks{network.Enable()}
	if f.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(url),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, location, nil
}

// documentTracker remembers the status of the first document response seen
// while the page loads. Later document responses come from frames.
type documentTracker struct {
	mu     sync.Mutex
	seen   bool
	status int
	url    string
}

func (d *documentTracker) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
}

// result returns the document status and URL. Without a captured response the
// status is assumed OK and the URL falls back to the browser location, then to
// the requested URL.
func (d *documentTracker) result(requested, location string) (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if !d.seen {
		status = http.StatusOK
	}
	if url == "" {
		url = location
	}
	if url == "" {
		url = requested
	}
	return status, url
}
