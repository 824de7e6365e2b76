// Package browser owns the lifecycle of one headless Chromium process and a
// pool of reusable page handles, so repeated captures reuse warm tabs instead
// of paying startup cost per capture.
package browser

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/snapcheck/pkg/logging"
)

// Config configures the browser manager.
type Config struct {
	// Headless controls whether Chromium runs without a visible window.
	Headless bool

	// Args are extra Chromium command-line flags.
	Args []string

	// InstallDriver runs the Playwright driver/browser installation before
	// launch. Useful in CI; a no-op when already installed.
	InstallDriver bool

	// MaxPages bounds the number of live page handles. Zero or negative
	// means unbounded, sized to demand.
	MaxPages int

	Logger *logging.Logger
}

// LaunchError reports that the browser process could not start. It is fatal
// to the whole run and is never retried.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("browser launch failed: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// Pool is the page-pool surface the capture engine depends on. Manager
// implements it; tests substitute fakes.
type Pool interface {
	// GetPage returns an available page handle, creating one if none are
	// idle. Fails once the manager is closed or the page bound is hit.
	GetPage() (Page, error)

	// ReleasePage returns a handle to the pool for reuse, discarding it if
	// it is no longer usable. Double release is idempotent; ReleasePage
	// never fails.
	ReleasePage(p Page)
}

// Manager owns one Chromium process and its page pool.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	context  playwright.BrowserContext
	idle     []*page
	total    int
	launched bool
	closed   bool
}

// NewManager creates a Manager. Call Launch before requesting pages.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Launch starts Playwright and the Chromium process. A failure here is fatal
// to the run: it returns a *LaunchError and the manager stays unusable.
func (m *Manager) Launch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &LaunchError{Err: fmt.Errorf("manager is closed")}
	}
	if m.launched {
		return nil
	}

	// Discard driver output so it cannot interleave with CLI output.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if m.cfg.InstallDriver {
		if err := playwright.Install(runOpts); err != nil {
			return &LaunchError{Err: fmt.Errorf("install driver: %w", err)}
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return &LaunchError{Err: fmt.Errorf("start driver: %w", err)}
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args:     m.cfg.Args,
	})
	if err != nil {
		pw.Stop()
		return &LaunchError{Err: fmt.Errorf("launch chromium: %w", err)}
	}

	ctx, err := b.NewContext(playwright.BrowserNewContextOptions{})
	if err != nil {
		b.Close()
		pw.Stop()
		return &LaunchError{Err: fmt.Errorf("create context: %w", err)}
	}

	m.pw = pw
	m.browser = b
	m.context = ctx
	m.launched = true

	if m.cfg.Logger != nil {
		m.cfg.Logger.Infof("browser launched (headless=%v)", m.cfg.Headless)
	}
	return nil
}

// GetPage returns an idle page handle, creating a fresh tab when the pool is
// empty. Dead handles found in the pool are discarded, not handed out.
func (m *Manager) GetPage() (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if !m.launched {
		return nil, fmt.Errorf("browser: manager not launched")
	}

	for len(m.idle) > 0 {
		p := m.idle[len(m.idle)-1]
		m.idle = m.idle[:len(m.idle)-1]
		if p.Healthy() {
			return p, nil
		}
		// Crashed while parked. Drop it and keep looking.
		p.discarded = true
		_ = p.Close()
		m.total--
	}

	if m.cfg.MaxPages > 0 && m.total >= m.cfg.MaxPages {
		return nil, fmt.Errorf("browser: page pool exhausted (%d in use)", m.total)
	}

	pwPage, err := m.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	m.total++

	if m.cfg.Logger != nil {
		m.cfg.Logger.Debugf("created page (%d live)", m.total)
	}
	return newPage(pwPage), nil
}

// ReleasePage returns a handle to the pool, or discards it if it is closed or
// crashed. Releasing a handle twice, or after Close, is harmless.
func (m *Manager) ReleasePage(p Page) {
	pg, ok := p.(*page)
	if !ok || pg == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pg.discarded {
		return // already dropped from the pool
	}

	if m.closed {
		pg.discarded = true
		_ = pg.Close()
		return
	}

	for _, parked := range m.idle {
		if parked == pg {
			return // already released
		}
	}

	if !pg.Healthy() {
		pg.discarded = true
		_ = pg.Close()
		m.total--
		if m.cfg.Logger != nil {
			m.cfg.Logger.Debugf("discarded dead page (%d live)", m.total)
		}
		return
	}

	m.idle = append(m.idle, pg)
}

// PoolStats reports the number of live and idle page handles.
func (m *Manager) PoolStats() (live, idle int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, len(m.idle)
}

// Close shuts down all pages, the browser process, and the Playwright driver.
// Outstanding page handles become invalid; subsequent GetPage calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, p := range m.idle {
		p.discarded = true
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.idle = nil
	m.total = 0

	if m.context != nil {
		if err := m.context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if m.cfg.Logger != nil {
		m.cfg.Logger.Infof("browser closed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("browser: close: %v", errs)
	}
	return nil
}
