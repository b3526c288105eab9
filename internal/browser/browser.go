// Package browser renders JavaScript-driven pages through a headless Chrome
// instance. The scraper executor falls back to it when a static fetch returns
// a script shell instead of content.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agentmux/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNotStarted is returned when a page is requested before the browser
// connected and the lazy start also failed.
var ErrNotStarted = errors.New("browser not connected")

// Config holds browser session settings.
type Config struct {
	// DebuggerURL attaches to an already-running Chrome instead of
	// launching one.
	DebuggerURL string

	// Bin overrides the Chrome binary the launcher resolves.
	Bin string

	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	PageTimeout    time.Duration
	MaxPages       int // concurrent page cap
}

// DefaultConfig returns headless defaults suitable for unattended runs.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		PageTimeout:    60 * time.Second,
		MaxPages:       3,
	}
}

// RenderedPage is the outcome of a browser fetch.
type RenderedPage struct {
	URL   string
	Title string
	HTML  string
	Text  string
}

// Manager owns one Chrome connection and rents pages out of it. All methods
// are safe for concurrent use; the browser is launched lazily on first fetch.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string

	pageSlots chan struct{}
}

// NewManager creates a manager, filling config defaults.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = def.ViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = def.ViewportHeight
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = def.PageTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	return &Manager{
		cfg:       cfg,
		pageSlots: make(chan struct{}, cfg.MaxPages),
	}
}

// Start connects to an existing Chrome or launches a new one. Calling Start
// on a healthy connection is a no-op; a stale connection is replaced.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			launch = launch.Bin(m.cfg.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = b
	m.controlURL = controlURL
	logging.Browser("Connected to Chrome at %s (headless=%v)", controlURL, m.cfg.Headless)
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.Lock()
	started := m.browser != nil
	m.mu.Unlock()
	if started {
		return nil
	}
	return m.Start(ctx)
}

// IsConnected reports whether a Chrome connection is live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// ControlURL returns the DevTools WebSocket URL, empty before Start.
func (m *Manager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// Shutdown closes the browser. The manager can be started again afterwards.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	m.controlURL = ""
	logging.Browser("Browser shut down")
	return err
}

// FetchRendered navigates to pageURL in a fresh incognito page, waits for the
// DOM to settle, and returns the rendered HTML. It satisfies the scraper's
// renderer interface.
func (m *Manager) FetchRendered(ctx context.Context, pageURL string) (string, error) {
	page, err := m.Render(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return page.HTML, nil
}

// Render fetches a page and returns its rendered HTML, visible text, and
// title. Pages are closed before returning; at most MaxPages renders run at
// once.
func (m *Manager) Render(ctx context.Context, pageURL string) (*RenderedPage, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}

	select {
	case m.pageSlots <- struct{}{}:
		defer func() { <-m.pageSlots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, ErrNotStarted
	}

	timer := logging.StartTimer(logging.CategoryBrowser, "render "+pageURL)
	defer timer.Stop()

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("Viewport override failed: %v", err)
	}

	page = page.Context(ctx).Timeout(m.cfg.PageTimeout)
	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load %s: %w", pageURL, err)
	}
	// Scripted pages keep mutating after load; give the DOM a beat to settle.
	_ = page.WaitStable(2 * time.Second)

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}

	rendered := &RenderedPage{URL: pageURL, HTML: html}
	if res, err := page.Eval(`() => document.title`); err == nil && !res.Value.Nil() {
		rendered.Title = res.Value.String()
	}
	if res, err := page.Eval(`() => document.body.innerText`); err == nil && !res.Value.Nil() {
		rendered.Text = res.Value.String()
	}

	logging.Browser("Rendered %s (%d bytes html)", pageURL, len(rendered.HTML))
	return rendered, nil
}
