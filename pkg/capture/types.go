// Package capture implements the screenshot capture engine: the
// single-capture protocol (viewport → navigate → wait → script → screenshot →
// measure) with retry and backoff, and sequential batch orchestration over
// URL × viewport combinations.
package capture

import (
	"time"
)

// Viewport identifies a rendering configuration: a named width/height/scale
// simulating a device or window size. Names are labels, not unique keys.
type Viewport struct {
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Name   string `json:"name" yaml:"name"`

	// DeviceScaleFactor maps CSS pixels to device pixels. Zero means 1.
	DeviceScaleFactor float64 `json:"deviceScaleFactor,omitempty" yaml:"device_scale_factor,omitempty"`
}

// Scale returns the effective device scale factor.
func (v Viewport) Scale() float64 {
	if v.DeviceScaleFactor > 0 {
		return v.DeviceScaleFactor
	}
	return 1
}

// Options configures one capture (or every capture of a batch).
type Options struct {
	// FullPage captures the entire scrollable document instead of the
	// visible viewport only.
	FullPage bool

	// OmitBackground renders a transparent background.
	OmitBackground bool

	// Timeout bounds each blocking step (navigation, selector wait).
	Timeout time.Duration

	// WaitForNetworkIdle blocks navigation until network quiescence
	// instead of the load event.
	WaitForNetworkIdle bool

	// WaitForSelector, when set, must match an element before the capture
	// proceeds.
	WaitForSelector string

	// CustomScript, when set, runs in the page context before the
	// screenshot. Script errors fail the attempt.
	CustomScript string

	// AnimationDelay is a fixed extra wait after script execution, before
	// the screenshot is taken.
	AnimationDelay time.Duration
}

// Size is an image or document extent in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata describes one capture attempt.
type Metadata struct {
	// LoadTime is the attempt duration on success, or the total elapsed
	// wall time across all attempts on failure.
	LoadTime time.Duration `json:"loadTime"`

	// ImageSize is the screenshot size in bytes.
	ImageSize int `json:"imageSize"`

	// Dimensions is the captured extent: the document scroll extent for
	// full-page captures, the viewport extent otherwise.
	Dimensions Size `json:"dimensions"`
}

// Result is the outcome of one (url, viewport) task. Exactly one of the two
// states holds: Success with a non-empty Image and nil Err, or failure with
// an empty Image and a non-nil Err.
type Result struct {
	URL       string    `json:"url"`
	Viewport  Viewport  `json:"viewport"`
	Image     []byte    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Err       error     `json:"-"`
	Metadata  Metadata  `json:"metadata"`
}

// Summary accumulates the results of a batch. Total == len(Results) ==
// Successful + Failed, and Results keeps task-generation order.
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Task is one (url, viewport) capture unit.
type Task struct {
	URL      string
	Viewport Viewport
}

// GenerateTasks expands urls × viewports into the batch task list in
// row-major order: all viewports for the first URL, then all viewports for
// the second, and so on. Pure; execution order and result order follow it.
func GenerateTasks(urls []string, viewports []Viewport) []Task {
	tasks := make([]Task, 0, len(urls)*len(viewports))
	for _, u := range urls {
		for _, vp := range viewports {
			tasks = append(tasks, Task{URL: u, Viewport: vp})
		}
	}
	return tasks
}
