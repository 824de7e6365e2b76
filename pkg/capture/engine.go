package capture

import (
	"context"
	"time"

	"github.com/entrhq/snapcheck/pkg/browser"
	"github.com/entrhq/snapcheck/pkg/logging"
)

// Engine executes the capture protocol against pages drawn from a browser
// pool. Batches run sequentially: one task finishes, retries included,
// before the next begins, so result ordering is deterministic and a hung
// page can never corrupt a neighbouring capture.
type Engine struct {
	pool  browser.Pool
	retry RetryPolicy
	log   *logging.Logger

	// Injectable for tests.
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = p }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithSleep replaces the backoff/delay sleeper. Tests use this to run the
// retry ladder without waiting.
func WithSleep(fn func(context.Context, time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine bound to a page pool.
func New(pool browser.Pool, opts ...EngineOption) *Engine {
	e := &Engine{
		pool:  pool,
		retry: DefaultRetryPolicy(),
		sleep: sleep,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capture screenshots one URL at one viewport, retrying failed attempts with
// exponential backoff. It never returns an error: failures are recorded on
// the Result after the attempt budget is exhausted. On failure the Result
// carries the last error, an empty image, zero dimensions, and the total
// elapsed wall time since the call began.
func (e *Engine) Capture(ctx context.Context, url string, viewport Viewport, opts Options) Result {
	start := e.now()
	attempts := e.retry.Attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		res, err := e.attempt(ctx, url, viewport, opts)
		if err == nil {
			if e.log != nil {
				e.log.Infof("captured %s @%s in %s (%d bytes)",
					url, viewport.Name, res.Metadata.LoadTime, res.Metadata.ImageSize)
			}
			return res
		}
		lastErr = err

		if e.log != nil {
			e.log.Warnf("capture %s @%s attempt %d/%d failed: %v",
				url, viewport.Name, attempt+1, attempts, err)
		}

		// Cancellation short-circuits the remaining budget; nothing else does.
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts-1 {
			if err := e.sleep(ctx, e.retry.Delay(attempt)); err != nil {
				break
			}
		}
	}

	return Result{
		URL:       url,
		Viewport:  viewport,
		Timestamp: e.now(),
		Success:   false,
		Err:       lastErr,
		Metadata: Metadata{
			LoadTime:   e.now().Sub(start),
			Dimensions: Size{},
		},
	}
}

// attempt runs the capture protocol once. The page is handed back to the
// pool on every exit path; a page that saw a failure is closed first so its
// unknown navigation state can never leak into the retry.
func (e *Engine) attempt(ctx context.Context, url string, viewport Viewport, opts Options) (Result, error) {
	started := e.now()

	pg, err := e.pool.GetPage()
	if err != nil {
		return Result{}, &PoolError{Err: err}
	}

	succeeded := false
	defer func() {
		if !succeeded {
			_ = pg.Close()
		}
		e.pool.ReleasePage(pg)
	}()

	if err := pg.SetViewport(viewport.Width, viewport.Height, viewport.Scale()); err != nil {
		return Result{}, &ViewportError{Viewport: viewport, Err: err}
	}

	if err := pg.Navigate(url, opts.Timeout, opts.WaitForNetworkIdle); err != nil {
		return Result{}, &NavigationError{URL: url, Err: err}
	}

	if opts.WaitForSelector != "" {
		if err := pg.WaitForSelector(opts.WaitForSelector, opts.Timeout); err != nil {
			return Result{}, &SelectorTimeoutError{Selector: opts.WaitForSelector, Err: err}
		}
	}

	if opts.CustomScript != "" {
		if err := pg.Evaluate(opts.CustomScript); err != nil {
			return Result{}, &ScriptError{Err: err}
		}
	}

	if opts.AnimationDelay > 0 {
		if err := e.sleep(ctx, opts.AnimationDelay); err != nil {
			return Result{}, &ScreenshotError{Err: err}
		}
	}

	img, err := pg.Screenshot(opts.FullPage, opts.OmitBackground)
	if err != nil {
		return Result{}, &ScreenshotError{Err: err}
	}

	dims := Size{Width: viewport.Width, Height: viewport.Height}
	if opts.FullPage {
		w, h, err := pg.ContentSize()
		if err != nil {
			return Result{}, &ScreenshotError{Err: err}
		}
		dims = Size{Width: w, Height: h}
	}

	succeeded = true
	return Result{
		URL:       url,
		Viewport:  viewport,
		Image:     img,
		Timestamp: e.now(),
		Success:   true,
		Metadata: Metadata{
			LoadTime:   e.now().Sub(started),
			ImageSize:  len(img),
			Dimensions: dims,
		},
	}, nil
}

// CaptureAll captures the full cross-product of urls × viewports in
// row-major order and accumulates every result, failures included, into the
// summary. A failed task never aborts or skips the tasks after it.
func (e *Engine) CaptureAll(ctx context.Context, urls []string, viewports []Viewport, opts Options) Summary {
	tasks := GenerateTasks(urls, viewports)

	if e.log != nil {
		e.log.Infof("batch start: %d urls x %d viewports = %d captures",
			len(urls), len(viewports), len(tasks))
	}

	summary := Summary{
		Total:   len(tasks),
		Results: make([]Result, 0, len(tasks)),
	}
	for _, t := range tasks {
		res := e.Capture(ctx, t.URL, t.Viewport, opts)
		if res.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}

	if e.log != nil {
		e.log.Infof("batch done: %d ok, %d failed", summary.Successful, summary.Failed)
	}
	return summary
}
