// Package config loads and validates snapcheck suite files: the YAML
// description of which URLs to capture, at which viewports, with which
// capture options. The capture engine itself takes plain records; this
// package is the CLI-facing layer that produces them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/snapcheck/pkg/browser"
	"github.com/entrhq/snapcheck/pkg/capture"
)

// Scenario names one URL to capture.
type Scenario struct {
	// Label identifies the scenario in output filenames and reports.
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// BrowserSettings configures the browser process.
type BrowserSettings struct {
	// Headed runs the browser with a visible window. Default headless.
	Headed bool `yaml:"headed"`

	// InstallDriver installs the Playwright driver and browsers before
	// launching. Useful for CI images.
	InstallDriver bool `yaml:"install_driver"`

	// Args are extra Chromium flags.
	Args []string `yaml:"args"`

	// MaxPages bounds the page pool. Zero means unbounded.
	MaxPages int `yaml:"max_pages"`
}

// CaptureSettings configures the capture protocol for every task of the run.
// Durations are plain integers in the suite file, as milliseconds.
type CaptureSettings struct {
	FullPage           bool   `yaml:"full_page"`
	OmitBackground     bool   `yaml:"omit_background"`
	TimeoutMs          int64  `yaml:"timeout_ms"`
	WaitForNetworkIdle bool   `yaml:"wait_for_network_idle"`
	WaitForSelector    string `yaml:"wait_for_selector"`
	CustomScript       string `yaml:"custom_script"`
	AnimationDelayMs   int64  `yaml:"animation_delay_ms"`
	MaxRetries         *int   `yaml:"max_retries"`
}

// Suite is a full snapcheck run description.
type Suite struct {
	OutputDir string             `yaml:"output_dir"`
	Browser   BrowserSettings    `yaml:"browser"`
	Capture   CaptureSettings    `yaml:"capture"`
	Viewports []capture.Viewport `yaml:"viewports"`
	Scenarios []Scenario         `yaml:"scenarios"`
}

// DefaultTimeout bounds each navigation/wait step when the suite does not
// set one.
const DefaultTimeout = 30 * time.Second

// Load reads and validates a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite file: %w", err)
	}

	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse suite file: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the suite for the mistakes that would otherwise surface as
// confusing mid-run capture failures.
func (s *Suite) Validate() error {
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("suite: no scenarios defined")
	}
	if len(s.Viewports) == 0 {
		return fmt.Errorf("suite: no viewports defined")
	}

	for i, sc := range s.Scenarios {
		if sc.URL == "" {
			return fmt.Errorf("suite: scenario %d (%q) has no url", i, sc.Label)
		}
		if sc.Label == "" {
			return fmt.Errorf("suite: scenario %d (%s) has no label", i, sc.URL)
		}
	}
	for i, vp := range s.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 {
			return fmt.Errorf("suite: viewport %d (%q) has non-positive dimensions %dx%d",
				i, vp.Name, vp.Width, vp.Height)
		}
		if vp.DeviceScaleFactor < 0 {
			return fmt.Errorf("suite: viewport %d (%q) has negative device scale factor",
				i, vp.Name)
		}
	}
	if s.Capture.TimeoutMs < 0 {
		return fmt.Errorf("suite: negative capture timeout")
	}
	if s.Capture.MaxRetries != nil && *s.Capture.MaxRetries < 0 {
		return fmt.Errorf("suite: negative max_retries")
	}
	return nil
}

// FilterScenarios returns the scenarios whose labels match the glob pattern.
// An empty pattern keeps everything.
func (s *Suite) FilterScenarios(pattern string) ([]Scenario, error) {
	if pattern == "" {
		return s.Scenarios, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid filter pattern %q: %w", pattern, err)
	}

	var matched []Scenario
	for _, sc := range s.Scenarios {
		if g.Match(sc.Label) {
			matched = append(matched, sc)
		}
	}
	return matched, nil
}

// CaptureOptions converts the suite's capture settings to engine options.
func (s *Suite) CaptureOptions() capture.Options {
	opts := capture.Options{
		FullPage:           s.Capture.FullPage,
		OmitBackground:     s.Capture.OmitBackground,
		Timeout:            time.Duration(s.Capture.TimeoutMs) * time.Millisecond,
		WaitForNetworkIdle: s.Capture.WaitForNetworkIdle,
		WaitForSelector:    s.Capture.WaitForSelector,
		CustomScript:       s.Capture.CustomScript,
		AnimationDelay:     time.Duration(s.Capture.AnimationDelayMs) * time.Millisecond,
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return opts
}

// RetryPolicy converts the suite's retry setting to an engine policy,
// keeping the default backoff ladder.
func (s *Suite) RetryPolicy() capture.RetryPolicy {
	policy := capture.DefaultRetryPolicy()
	if s.Capture.MaxRetries != nil {
		policy.MaxRetries = *s.Capture.MaxRetries
	}
	return policy
}

// BrowserConfig converts the suite's browser settings to a manager config.
func (s *Suite) BrowserConfig() browser.Config {
	return browser.Config{
		Headless:      !s.Browser.Headed,
		Args:          s.Browser.Args,
		InstallDriver: s.Browser.InstallDriver,
		MaxPages:      s.Browser.MaxPages,
	}
}
