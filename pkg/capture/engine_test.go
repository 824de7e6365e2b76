package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/snapcheck/pkg/browser"
)

// fakePage implements browser.Page for engine tests, recording the protocol
// steps it sees and failing on demand.
type fakePage struct {
	viewportW, viewportH int
	scale                float64
	navigatedURL         string
	steps                []string
	closed               bool

	viewportErr error
	navErr      error
	selectorErr error
	scriptErr   error
	shotErr     error
	sizeErr     error

	image              []byte
	contentW, contentH int
}

func newFakePage() *fakePage {
	return &fakePage{
		image:    []byte{0x89, 'P', 'N', 'G'},
		contentW: 800,
		contentH: 600,
	}
}

func (p *fakePage) SetViewport(w, h int, scale float64) error {
	p.steps = append(p.steps, "viewport")
	p.viewportW, p.viewportH, p.scale = w, h, scale
	return p.viewportErr
}

func (p *fakePage) Navigate(url string, timeout time.Duration, networkIdle bool) error {
	p.steps = append(p.steps, "navigate")
	p.navigatedURL = url
	if p.navErr != nil {
		return p.navErr
	}
	if strings.Contains(url, "unreachable") {
		return errors.New("net::ERR_CONNECTION_REFUSED")
	}
	return nil
}

func (p *fakePage) WaitForSelector(selector string, timeout time.Duration) error {
	p.steps = append(p.steps, "selector")
	return p.selectorErr
}

func (p *fakePage) Evaluate(script string) error {
	p.steps = append(p.steps, "script")
	return p.scriptErr
}

func (p *fakePage) Screenshot(fullPage, omitBackground bool) ([]byte, error) {
	p.steps = append(p.steps, "screenshot")
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return p.image, nil
}

func (p *fakePage) ContentSize() (int, int, error) {
	p.steps = append(p.steps, "measure")
	return p.contentW, p.contentH, p.sizeErr
}

func (p *fakePage) Healthy() bool { return !p.closed }

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

// fakePool hands out a fresh fakePage per GetPage call (built by newPage)
// and records every release.
type fakePool struct {
	newPage  func() *fakePage
	getErr   error
	handed   []*fakePage
	released []browser.Page
}

func newFakePool() *fakePool {
	return &fakePool{newPage: newFakePage}
}

func (f *fakePool) GetPage() (browser.Page, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	p := f.newPage()
	f.handed = append(f.handed, p)
	return p, nil
}

func (f *fakePool) ReleasePage(p browser.Page) {
	f.released = append(f.released, p)
}

// testEngine builds an engine with an instant sleep that records requested
// backoff delays.
func testEngine(pool browser.Pool, policy RetryPolicy) (*Engine, *[]time.Duration) {
	var delays []time.Duration
	e := New(pool,
		WithRetryPolicy(policy),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return ctx.Err()
		}),
	)
	return e, &delays
}

func defaultViewport() Viewport {
	return Viewport{Width: 800, Height: 600, Name: "test"}
}

func TestCapture_Success(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 2})

	res := e.Capture(context.Background(), "https://example.com", defaultViewport(), Options{})

	require.True(t, res.Success)
	assert.Equal(t, "https://example.com", res.URL)
	assert.Equal(t, "test", res.Viewport.Name)
	assert.NotEmpty(t, res.Image)
	assert.Nil(t, res.Err)
	assert.False(t, res.Timestamp.IsZero())
	assert.Equal(t, len(res.Image), res.Metadata.ImageSize)
	assert.Equal(t, Size{Width: 800, Height: 600}, res.Metadata.Dimensions)

	// One page used, released, and kept alive for reuse.
	require.Len(t, pool.handed, 1)
	require.Len(t, pool.released, 1)
	assert.False(t, pool.handed[0].closed)
	assert.Equal(t, float64(1), pool.handed[0].scale)
}

func TestCapture_ProtocolStepOrder(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{})

	res := e.Capture(context.Background(), "https://example.com", defaultViewport(), Options{
		WaitForSelector: "#app",
		CustomScript:    "window.scrollTo(0, 0)",
		AnimationDelay:  50 * time.Millisecond,
	})

	require.True(t, res.Success)
	require.Len(t, pool.handed, 1)
	assert.Equal(t,
		[]string{"viewport", "navigate", "selector", "script", "screenshot"},
		pool.handed[0].steps)
}

func TestCapture_OptionalStepsSkipped(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{})

	res := e.Capture(context.Background(), "https://example.com", defaultViewport(), Options{})

	require.True(t, res.Success)
	assert.Equal(t, []string{"viewport", "navigate", "screenshot"}, pool.handed[0].steps)
}

func TestCapture_FullPageDimensions(t *testing.T) {
	vp := defaultViewport()

	t.Run("full page reports document extent", func(t *testing.T) {
		pool := newFakePool()
		pool.newPage = func() *fakePage {
			p := newFakePage()
			p.contentW, p.contentH = 800, 2400
			return p
		}
		e, _ := testEngine(pool, RetryPolicy{})

		res := e.Capture(context.Background(), "https://example.com", vp, Options{FullPage: true})

		require.True(t, res.Success)
		assert.Equal(t, Size{Width: 800, Height: 2400}, res.Metadata.Dimensions)
		assert.Greater(t, res.Metadata.Dimensions.Height, vp.Height)
	})

	t.Run("viewport capture reports viewport extent", func(t *testing.T) {
		pool := newFakePool()
		pool.newPage = func() *fakePage {
			p := newFakePage()
			p.contentW, p.contentH = 800, 2400
			return p
		}
		e, _ := testEngine(pool, RetryPolicy{})

		res := e.Capture(context.Background(), "https://example.com", vp, Options{FullPage: false})

		require.True(t, res.Success)
		assert.Equal(t, Size{Width: 800, Height: 600}, res.Metadata.Dimensions)
	})
}

func TestCapture_RetriesExhausted(t *testing.T) {
	pool := newFakePool()
	e, delays := testEngine(pool, RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 2})

	res := e.Capture(context.Background(), "http://unreachable.invalid:9999", defaultViewport(), Options{})

	// maxRetries=2 means at most 3 attempts.
	assert.Len(t, pool.handed, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)

	require.False(t, res.Success)
	assert.Empty(t, res.Image)
	require.Error(t, res.Err)
	var navErr *NavigationError
	assert.True(t, errors.As(res.Err, &navErr))
	assert.Equal(t, Size{}, res.Metadata.Dimensions)
	assert.Zero(t, res.Metadata.ImageSize)

	// Every failed page was discarded, never parked for reuse.
	for _, p := range pool.handed {
		assert.True(t, p.closed)
	}
	assert.Len(t, pool.released, 3)
}

func TestCapture_FreshPagePerAttempt(t *testing.T) {
	pool := newFakePool()
	attempt := 0
	pool.newPage = func() *fakePage {
		attempt++
		p := newFakePage()
		if attempt == 1 {
			p.navErr = errors.New("page crashed")
		}
		return p
	}
	e, _ := testEngine(pool, RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 2})

	res := e.Capture(context.Background(), "https://example.com", defaultViewport(), Options{})

	require.True(t, res.Success)
	require.Len(t, pool.handed, 2)
	assert.NotSame(t, pool.handed[0], pool.handed[1])
	assert.True(t, pool.handed[0].closed, "failed page must be discarded")
	assert.False(t, pool.handed[1].closed, "successful page stays reusable")
}

func TestCapture_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakePage)
		opts   Options
		target interface{}
	}{
		{
			name:   "viewport failure",
			setup:  func(p *fakePage) { p.viewportErr = errors.New("boom") },
			target: new(*ViewportError),
		},
		{
			name:   "navigation failure",
			setup:  func(p *fakePage) { p.navErr = errors.New("timeout exceeded") },
			target: new(*NavigationError),
		},
		{
			name:   "selector timeout",
			setup:  func(p *fakePage) { p.selectorErr = errors.New("timeout exceeded") },
			opts:   Options{WaitForSelector: ".ready"},
			target: new(*SelectorTimeoutError),
		},
		{
			name:   "script failure",
			setup:  func(p *fakePage) { p.scriptErr = errors.New("ReferenceError") },
			opts:   Options{CustomScript: "nope()"},
			target: new(*ScriptError),
		},
		{
			name:   "screenshot failure",
			setup:  func(p *fakePage) { p.shotErr = errors.New("target closed") },
			target: new(*ScreenshotError),
		},
		{
			name:   "measure failure",
			setup:  func(p *fakePage) { p.sizeErr = errors.New("detached") },
			opts:   Options{FullPage: true},
			target: new(*ScreenshotError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newFakePool()
			pool.newPage = func() *fakePage {
				p := newFakePage()
				tt.setup(p)
				return p
			}
			e, _ := testEngine(pool, RetryPolicy{})

			res := e.Capture(context.Background(), "https://example.com", defaultViewport(), tt.opts)

			require.False(t, res.Success)
			require.Error(t, res.Err)
			assert.True(t, errors.As(res.Err, tt.target), "expected %T, got %v", tt.target, res.Err)
		})
	}
}

func TestCapture_PoolFailureAttributedToAttempt(t *testing.T) {
	pool := newFakePool()
	pool.getErr = errors.New("pool exhausted")
	e, _ := testEngine(pool, RetryPolicy{MaxRetries: 1, BaseDelay: time.Second, Multiplier: 2})

	res := e.Capture(context.Background(), "https://example.com", defaultViewport(), Options{})

	require.False(t, res.Success)
	var poolErr *PoolError
	assert.True(t, errors.As(res.Err, &poolErr))
}

func TestCapture_CancellationStopsRetrying(t *testing.T) {
	pool := newFakePool()
	ctx, cancel := context.WithCancel(context.Background())

	e := New(pool,
		WithRetryPolicy(RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, Multiplier: 2}),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			return ctx.Err()
		}),
	)

	cancel()
	res := e.Capture(ctx, "http://unreachable.invalid", defaultViewport(), Options{})

	require.False(t, res.Success)
	assert.Len(t, pool.handed, 1, "cancellation must not burn the remaining attempt budget")
}

func TestCaptureAll_Completeness(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{})

	urls := []string{"https://a.example", "https://b.example", "https://c.example"}
	viewports := []Viewport{
		{Width: 800, Height: 600, Name: "desktop"},
		{Width: 375, Height: 667, Name: "mobile"},
	}

	summary := e.CaptureAll(context.Background(), urls, viewports, Options{})

	require.Equal(t, 6, summary.Total)
	require.Len(t, summary.Results, 6)
	assert.Equal(t, summary.Total, summary.Successful+summary.Failed)

	// Row-major ordering: all viewports for URL one, then URL two, ...
	for i, res := range summary.Results {
		assert.Equal(t, urls[i/2], res.URL)
		assert.Equal(t, viewports[i%2].Name, res.Viewport.Name)
	}
}

func TestCaptureAll_ErrorResilience(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{MaxRetries: 1, BaseDelay: time.Second, Multiplier: 2})

	urls := []string{"about:blank", "http://unreachable.invalid:9999", "https://after-failure.example"}
	viewports := []Viewport{{Width: 800, Height: 600, Name: "test"}}

	summary := e.CaptureAll(context.Background(), urls, viewports, Options{})

	require.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)

	// The failing middle task never skipped the one after it.
	assert.True(t, summary.Results[0].Success)
	assert.False(t, summary.Results[1].Success)
	assert.True(t, summary.Results[2].Success)
}

func TestCaptureAll_SuccessInvariant(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{})

	urls := []string{"about:blank", "http://unreachable.invalid:9999"}
	viewports := []Viewport{{Width: 800, Height: 600, Name: "test"}}

	summary := e.CaptureAll(context.Background(), urls, viewports, Options{})

	require.Equal(t, 2, summary.Total)
	for i, res := range summary.Results {
		if res.Success {
			assert.NotEmpty(t, res.Image, "result %d", i)
			assert.Nil(t, res.Err, "result %d", i)
		} else {
			assert.Empty(t, res.Image, "result %d", i)
			assert.Error(t, res.Err, "result %d", i)
		}
	}
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
}

func TestCaptureAll_EmptyInputs(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{})

	for _, tc := range []struct {
		name      string
		urls      []string
		viewports []Viewport
	}{
		{"no urls", nil, []Viewport{defaultViewport()}},
		{"no viewports", []string{"about:blank"}, nil},
		{"neither", nil, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			summary := e.CaptureAll(context.Background(), tc.urls, tc.viewports, Options{})
			assert.Zero(t, summary.Total)
			assert.Empty(t, summary.Results)
		})
	}
}

func TestCapture_DeviceScaleFactorApplied(t *testing.T) {
	pool := newFakePool()
	e, _ := testEngine(pool, RetryPolicy{})

	vp := Viewport{Width: 390, Height: 844, Name: "iphone", DeviceScaleFactor: 3}
	res := e.Capture(context.Background(), "https://example.com", vp, Options{})

	require.True(t, res.Success)
	assert.Equal(t, float64(3), pool.handed[0].scale)
	assert.Equal(t, 390, pool.handed[0].viewportW)
	assert.Equal(t, 844, pool.handed[0].viewportH)
}

func TestCapture_FailureLoadTimeIsTotalElapsed(t *testing.T) {
	pool := newFakePool()

	// Deterministic clock advancing 100ms per reading.
	var ticks int
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 100 * time.Millisecond)
	}

	e := New(pool,
		WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 2}),
		WithClock(clock),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)

	res := e.Capture(context.Background(), "http://unreachable.invalid:9999", defaultViewport(), Options{})

	require.False(t, res.Success)
	assert.Greater(t, res.Metadata.LoadTime, time.Duration(0),
		"failed result carries elapsed wall time, not a per-attempt reset")
}

func TestEngine_DefaultRetryPolicy(t *testing.T) {
	e := New(newFakePool())
	assert.Equal(t, DefaultRetryPolicy(), e.retry)
}
