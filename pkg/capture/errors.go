package capture

import "fmt"

// The error types below classify capture attempt failures by protocol step.
// All of them are retryable within a single Capture call: they are recorded
// on the eventual Result and drive the retry loop, never propagated as a
// separate error channel.

// PoolError reports that a page handle could not be acquired from the pool.
// It is attributed to the attempt in progress rather than crashing the run.
type PoolError struct {
	Err error
}

func (e *PoolError) Error() string { return fmt.Sprintf("page acquisition failed: %v", e.Err) }
func (e *PoolError) Unwrap() error { return e.Err }

// ViewportError reports that the viewport configuration could not be applied
// to the page.
type ViewportError struct {
	Viewport Viewport
	Err      error
}

func (e *ViewportError) Error() string {
	return fmt.Sprintf("apply viewport %dx%d: %v", e.Viewport.Width, e.Viewport.Height, e.Err)
}
func (e *ViewportError) Unwrap() error { return e.Err }

// NavigationError reports a failed or timed-out navigation.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string { return fmt.Sprintf("navigate %s: %v", e.URL, e.Err) }
func (e *NavigationError) Unwrap() error { return e.Err }

// SelectorTimeoutError reports that the awaited selector never appeared
// within the timeout.
type SelectorTimeoutError struct {
	Selector string
	Err      error
}

func (e *SelectorTimeoutError) Error() string {
	return fmt.Sprintf("selector %q did not appear: %v", e.Selector, e.Err)
}
func (e *SelectorTimeoutError) Unwrap() error { return e.Err }

// ScriptError reports that the custom pre-capture script failed.
type ScriptError struct {
	Err error
}

func (e *ScriptError) Error() string { return fmt.Sprintf("custom script: %v", e.Err) }
func (e *ScriptError) Unwrap() error { return e.Err }

// ScreenshotError reports that taking the screenshot or measuring the
// captured extent failed.
type ScreenshotError struct {
	Err error
}

func (e *ScreenshotError) Error() string { return fmt.Sprintf("screenshot: %v", e.Err) }
func (e *ScreenshotError) Unwrap() error { return e.Err }
