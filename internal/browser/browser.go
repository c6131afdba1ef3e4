// Package browser owns the headless Chrome resources: a lazily started
// allocator plus a fixed pool of isolated tab contexts, each with its own
// identity to reduce fingerprinting correlation across concurrent queries.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ErrChallengeDetected marks a page guarded by an anti-bot interstitial.
// It is a hard failure for that visit and is never retried automatically.
var ErrChallengeDetected = errors.New("bot challenge detected")

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser pool closed")

// Page is the raw outcome of one navigation.
type Page struct {
	URL      string
	Title    string
	HTML     string
	RenderMS int
}

// Identity is the per-slot fingerprint surface.
type Identity struct {
	UserAgent string
	Width     int64
	Height    int64
}

// identities are assigned round-robin to pool slots so no two concurrent
// sessions present the same user-agent/viewport pair.
var identities = []Identity{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", 1920, 1080},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", 1440, 900},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36", 1536, 864},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0", 1366, 768},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", 1680, 1050},
}

// Config controls the pool and per-navigation behaviour.
type Config struct {
	PoolSize          int
	NavigationTimeout time.Duration
	Headless          bool
	SearchEngineURL   string
}

// Pool manages N long-lived browser sessions. Chrome itself starts on
// first Acquire, not at construction, and Close releases everything.
type Pool struct {
	cfg    Config
	logger *log.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	slots       []*Session
	next        int
	started     bool
	closed      bool
}

// Session is one isolated tab context. It is never shared across
// concurrent tasks: a slot is handed out again only after release.
type Session struct {
	id       int
	identity Identity
	ctx      context.Context
	cancel   context.CancelFunc
	sem      chan struct{}
	timeout  time.Duration
	engine   string
}

// NewPool prepares a pool; no browser process is started yet.
func NewPool(cfg Config, logger *log.Logger) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 10 * time.Second
	}
	if cfg.SearchEngineURL == "" {
		cfg.SearchEngineURL = "https://www.google.com"
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[BROWSER] ", log.LstdFlags)
	}
	return &Pool{cfg: cfg, logger: logger}
}

// start launches Chrome and warms one tab context per slot.
func (p *Pool) start() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

	p.slots = make([]*Session, p.cfg.PoolSize)
	for i := 0; i < p.cfg.PoolSize; i++ {
		ident := identities[i%len(identities)]
		ctx, cancel := chromedp.NewContext(p.allocCtx)
		if err := chromedp.Run(ctx,
			emulation.SetUserAgentOverride(ident.UserAgent),
			chromedp.EmulateViewport(ident.Width, ident.Height),
		); err != nil {
			cancel()
			p.closeSlotsLocked(i)
			return fmt.Errorf("warm browser session %d: %w", i, err)
		}
		p.slots[i] = &Session{
			id:       i,
			identity: ident,
			ctx:      ctx,
			cancel:   cancel,
			sem:      make(chan struct{}, 1),
			timeout:  p.cfg.NavigationTimeout,
			engine:   p.cfg.SearchEngineURL,
		}
	}
	p.started = true
	p.logger.Printf("browser pool started with %d sessions", p.cfg.PoolSize)
	return nil
}

// Acquire hands out the next slot round-robin, blocking until that slot's
// previous task has fully completed. The returned release func must be
// called exactly once.
func (p *Pool) Acquire(ctx context.Context) (*Session, func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrPoolClosed
	}
	if !p.started {
		if err := p.start(); err != nil {
			p.mu.Unlock()
			return nil, nil, err
		}
	}
	s := p.slots[p.next%len(p.slots)]
	p.next++
	p.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	release := func() { <-s.sem }
	return s, release, nil
}

// Close tears down all tab contexts and the browser process. Safe to call
// on every exit path, including before first use.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if !p.started {
		return
	}
	p.closeSlotsLocked(len(p.slots))
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.logger.Printf("browser pool closed")
}

func (p *Pool) closeSlotsLocked(n int) {
	for i := 0; i < n && i < len(p.slots); i++ {
		if p.slots[i] != nil {
			p.slots[i].cancel()
		}
	}
}

// Visit navigates to url with the per-navigation timeout and returns the
// rendered page, rejecting challenge pages.
func (s *Session) Visit(ctx context.Context, url string) (Page, error) {
	tctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	go func() {
		// Propagate caller cancellation into the tab context.
		select {
		case <-ctx.Done():
			cancel()
		case <-tctx.Done():
		}
	}()

	t0 := time.Now()
	var title, html string
	err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Page{URL: url, RenderMS: int(time.Since(t0) / time.Millisecond)}, fmt.Errorf("navigate %s: %w", url, err)
	}
	if reason, blocked := DetectChallenge(title, html); blocked {
		return Page{URL: url, Title: title, RenderMS: int(time.Since(t0) / time.Millisecond)},
			fmt.Errorf("%w: %s", ErrChallengeDetected, reason)
	}
	return Page{
		URL:      url,
		Title:    strings.TrimSpace(title),
		HTML:     html,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}
