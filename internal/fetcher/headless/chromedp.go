// Package headless fetches registrar pages that only render their result in a browser.
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

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

const (
	defaultNavTimeout   = 25 * time.Second
	defaultSettleDelay  = 500 * time.Millisecond
	defaultReadyTimeout = 5 * time.Second
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unbounded.
	MaxParallel int
	// UserAgent is used when the request carries no User-Agent header.
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready when no ready selector is set.
	SettleDelay time.Duration
	// ReadyTimeout bounds the wait for a registrar's ready selector. The page is captured
	// as rendered so far once it expires; registrars render no result element for unknown
	// applicants.
	ReadyTimeout time.Duration
}

// Fetcher implements allotment.Fetcher with one headless Chrome tab per registrar request.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts a browser allocator. Chrome itself is launched lazily on the first fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL and returns the resulting DOM. The tab lives no longer than
// the earlier of ctx and the navigation timeout.
func (f *Fetcher) Fetch(ctx context.Context, request allotment.FetchRequest) (allotment.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return allotment.FetchResponse{}, err
	}
	defer f.release()

	t := f.openTab(ctx)
	defer t.close()

	start := time.Now()
	if err := chromedp.Run(t.ctx, f.prepare(request.Headers)); err != nil {
		return allotment.FetchResponse{}, fmt.Errorf("chromedp prepare: %w", err)
	}
	if err := chromedp.Run(t.ctx,
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return allotment.FetchResponse{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	f.waitRendered(t.ctx, request.ReadySelector)

	var html, location string
	if err := chromedp.Run(t.ctx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return allotment.FetchResponse{}, fmt.Errorf("chromedp capture: %w", err)
	}

	doc := t.document.result(request.URL, location)
	return allotment.FetchResponse{
		URL:          doc.url,
		StatusCode:   doc.status,
		Headers:      doc.headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// waitRendered blocks until selector is visible or the ready timeout expires. Without a
// selector it sleeps for the settle delay. Neither outcome is an error.
func (f *Fetcher) waitRendered(ctx context.Context, selector string) {
	if selector == "" {
		_ = chromedp.Run(ctx, chromedp.Sleep(f.cfg.SettleDelay))
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.ReadyTimeout)
	defer cancel()
	_ = chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// prepare applies the request's User-Agent and remaining headers to the tab.
func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	headers = headers.Clone()
	userAgent := f.cfg.UserAgent
	if ua := headers.Get("User-Agent"); ua != "" {
		userAgent = ua
	}
	headers.Del("User-Agent")

	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// tab is one browser tab plus the main-document response observed on it.
type tab struct {
	ctx      context.Context
	document *documentResponse
	close    func()
}

func (f *Fetcher) openTab(parent context.Context) *tab {
	browserCtx, closeTab := chromedp.NewContext(f.allocator)
	ctx, cancel := context.WithTimeout(browserCtx, f.cfg.NavigationTimeout)
	stop := context.AfterFunc(parent, cancel)

	doc := &documentResponse{}
	chromedp.ListenTarget(ctx, doc.observe)
	return &tab{
		ctx:      ctx,
		document: doc,
		close: func() {
			stop()
			cancel()
			closeTab()
		},
	}
}

// documentResponse records the last main-document response a tab received.
// Redirects overwrite earlier entries.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

type documentResult struct {
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := make(http.Header, len(event.Response.Headers))
	for key, value := range event.Response.Headers {
		for _, v := range headerValues(value) {
			headers.Add(key, v)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(event.Response.Status)
	d.headers = headers
	d.url = event.Response.URL
}

// result returns the observed response, falling back to the browser location, then the
// requested URL, and to 200 when no document event was seen.
func (d *documentResponse) result(requested, location string) documentResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := documentResult{status: d.status, headers: d.headers.Clone(), url: d.url}
	if out.url == "" {
		out.url = location
	}
	if out.url == "" {
		out.url = requested
	}
	if out.status == 0 {
		out.status = http.StatusOK
	}
	if out.headers == nil {
		out.headers = http.Header{}
	}
	return out
}

func headerValues(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			out = append(out, fmt.Sprint(entry))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func networkHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
