package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Page is the narrow driver capability the capture engine consumes. It is
// what one capture attempt needs from a browser tab and nothing more, so
// engine tests can substitute a fake without a running browser.
type Page interface {
	// SetViewport applies width/height in CSS pixels and a device scale
	// factor. A scale of 0 means the default of 1.
	SetViewport(width, height int, scale float64) error

	// Navigate loads the URL and blocks until the load event, or until
	// network quiescence when networkIdle is set, bounded by timeout.
	Navigate(url string, timeout time.Duration, networkIdle bool) error

	// WaitForSelector blocks until the selector matches an element,
	// bounded by timeout.
	WaitForSelector(selector string, timeout time.Duration) error

	// Evaluate runs a script in the page context. Script errors are
	// returned as Go errors.
	Evaluate(script string) error

	// Screenshot captures the page as PNG bytes.
	Screenshot(fullPage, omitBackground bool) ([]byte, error)

	// ContentSize reports the document scroll extent in CSS pixels.
	ContentSize() (width, height int, err error)

	// Healthy reports whether the underlying tab is still usable.
	Healthy() bool

	// Close discards the underlying tab.
	Close() error
}

// page wraps a Playwright page handle.
type page struct {
	pw         playwright.Page
	createdAt  time.Time
	lastUsedAt time.Time

	// discarded marks a handle the manager has dropped from the pool, so
	// a second release of the same dead page cannot be double-counted.
	// Guarded by the manager's mutex.
	discarded bool
}

func newPage(pw playwright.Page) *page {
	now := time.Now()
	return &page{pw: pw, createdAt: now, lastUsedAt: now}
}

func (p *page) touch() { p.lastUsedAt = time.Now() }

func (p *page) SetViewport(width, height int, scale float64) error {
	p.touch()

	if err := p.pw.SetViewportSize(width, height); err != nil {
		return fmt.Errorf("set viewport size: %w", err)
	}

	// Playwright fixes deviceScaleFactor at context creation, so a
	// non-default scale is applied through CDP emulation instead.
	if scale > 0 && scale != 1 {
		cdp, err := p.pw.Context().NewCDPSession(p.pw)
		if err != nil {
			return fmt.Errorf("open cdp session: %w", err)
		}
		defer cdp.Detach()

		_, err = cdp.Send("Emulation.setDeviceMetricsOverride", map[string]interface{}{
			"width":             width,
			"height":            height,
			"deviceScaleFactor": scale,
			"mobile":            false,
		})
		if err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
	}

	return nil
}

func (p *page) Navigate(url string, timeout time.Duration, networkIdle bool) error {
	p.touch()

	waitUntil := playwright.WaitUntilStateLoad
	if networkIdle {
		waitUntil = playwright.WaitUntilStateNetworkidle
	}

	opts := playwright.PageGotoOptions{WaitUntil: waitUntil}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}

	if _, err := p.pw.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *page) WaitForSelector(selector string, timeout time.Duration) error {
	p.touch()

	opts := playwright.PageWaitForSelectorOptions{}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}

	if _, err := p.pw.WaitForSelector(selector, opts); err != nil {
		return fmt.Errorf("wait for %q failed: %w", selector, err)
	}
	return nil
}

func (p *page) Evaluate(script string) error {
	p.touch()

	if _, err := p.pw.Evaluate(script); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

func (p *page) Screenshot(fullPage, omitBackground bool) ([]byte, error) {
	p.touch()

	img, err := p.pw.Screenshot(playwright.PageScreenshotOptions{
		Type:           playwright.ScreenshotTypePng,
		FullPage:       playwright.Bool(fullPage),
		OmitBackground: playwright.Bool(omitBackground),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return img, nil
}

func (p *page) ContentSize() (int, int, error) {
	p.touch()

	res, err := p.pw.Evaluate(`() => ({
		width: document.documentElement.scrollWidth,
		height: document.documentElement.scrollHeight,
	})`)
	if err != nil {
		return 0, 0, fmt.Errorf("measure document: %w", err)
	}

	dims, ok := res.(map[string]interface{})
	if !ok {
		return 0, 0, fmt.Errorf("measure document: unexpected result %T", res)
	}
	return toInt(dims["width"]), toInt(dims["height"]), nil
}

func (p *page) Healthy() bool {
	return p.pw != nil && !p.pw.IsClosed()
}

func (p *page) Close() error {
	if p.pw == nil {
		return nil
	}
	return p.pw.Close()
}

// toInt coerces the numeric types Playwright evaluation results come back as.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
