// Package render drives a headless browser against published calendar pages
// that expose no usable ICS feed. The page's own XHR traffic is intercepted
// and mined for calendar items, so no DOM scraping is involved.
package render

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/feed"
)

// Renderer loads a calendar page and returns the raw events observed in its
// network traffic.
type Renderer interface {
	Render(ctx context.Context, url string) ([]feed.Event, error)
}

// Options configure the browser pool.
type Options struct {
	// PoolSize caps concurrent pages. Rendering is memory-heavy; four pages
	// is plenty for a few hundred sources on the hourly cadence.
	PoolSize int
	// Watchdog bounds one full page render including interception.
	Watchdog time.Duration
	// NetworkIdle is how long the page must be quiet before we stop waiting
	// for more XHR responses.
	NetworkIdle time.Duration
	// BrowserBin overrides the chromium binary; empty means auto-detect.
	BrowserBin string
}

func (o *Options) defaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = 4
	}
	if o.Watchdog <= 0 {
		o.Watchdog = 60 * time.Second
	}
	if o.NetworkIdle <= 0 {
		o.NetworkIdle = 20 * time.Second
	}
}

// Pool is the rod-backed Renderer. The browser process is launched lazily on
// first use, so constructing a Pool is free and tests that never render need
// no chromium install.
type Pool struct {
	opts   Options
	logger zerolog.Logger

	slots chan struct{}

	mu      sync.Mutex
	browser *rod.Browser
	cleanup func()
}

func NewPool(opts Options, logger zerolog.Logger) *Pool {
	opts.defaults()
	return &Pool{
		opts:   opts,
		logger: logger.With().Str("component", "render").Logger(),
		slots:  make(chan struct{}, opts.PoolSize),
	}
}

func (p *Pool) connect() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		return p.browser, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true)
	if p.opts.BrowserBin != "" {
		l = l.Bin(p.opts.BrowserBin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	p.browser = b
	p.cleanup = l.Cleanup
	return b, nil
}

// Render loads one calendar page and harvests calendar items from its XHR
// responses. A crashed or hung page only costs its own slot; the shared
// browser stays usable for the rest of the pool.
func (p *Pool) Render(ctx context.Context, url string) (events []feed.Event, err error) {
	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	browser, err := p.connect()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Watchdog)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render %s: page panic: %v", url, r)
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page = page.Context(ctx)
	defer page.Close()

	sink := newItemSink()
	router := page.HijackRequests()
	err = router.Add("*", proto.NetworkResourceTypeXHR, func(h *rod.Hijack) {
		if err := h.LoadResponse(http.DefaultClient, true); err != nil {
			return
		}
		if sink.WantURL(h.Request.URL().String()) {
			sink.Consume([]byte(h.Response.Body()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("hijack: %w", err)
	}
	go router.Run()
	defer router.Stop()

	idle := page.WaitRequestIdle(p.opts.NetworkIdle, nil, nil, []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia,
	})
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	idle()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("render %s: %w", url, ctx.Err())
	}

	events = sink.Events()
	p.logger.Debug().Str("url", url).Int("events", len(events)).Msg("rendered page")
	return events, nil
}

// Close shuts the shared browser down.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	if p.cleanup != nil {
		p.cleanup()
	}
	p.browser = nil
	return err
}
