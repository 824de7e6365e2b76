// Package main provides the snapcheck CLI. It loads a capture suite, drives
// headless Chromium across the suite's URL × viewport matrix, writes the
// screenshots to an output directory, and prints a run summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/entrhq/snapcheck/pkg/browser"
	"github.com/entrhq/snapcheck/pkg/capture"
	"github.com/entrhq/snapcheck/pkg/config"
	"github.com/entrhq/snapcheck/pkg/logging"
)

const version = "0.1.0"

type cliConfig struct {
	SuiteFile    string
	Filter       string
	OutputDir    string
	Headed       bool
	ShortTimeout time.Duration
	ShowVersion  bool
}

func parseFlags() cliConfig {
	var cfg cliConfig

	flag.StringVar(&cfg.SuiteFile, "config", "snapcheck.yaml", "Path to the suite file")
	flag.StringVar(&cfg.Filter, "filter", "", "Glob pattern selecting scenario labels (e.g. 'checkout-*')")
	flag.StringVar(&cfg.OutputDir, "out", "", "Output directory (overrides the suite's output_dir)")
	flag.BoolVar(&cfg.Headed, "headed", false, "Run the browser with a visible window")
	flag.DurationVar(&cfg.ShortTimeout, "short-timeout", 0, "Cap each navigation/wait step at this duration, e.g. 5s (lowers the suite timeout)")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.Parse()

	return cfg
}

func main() {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Printf("snapcheck v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, finishing current capture...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliConfig) error {
	suite, err := config.Load(cfg.SuiteFile)
	if err != nil {
		return err
	}

	scenarios, err := suite.FilterScenarios(cfg.Filter)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios match filter %q", cfg.Filter)
	}

	outputDir := suite.OutputDir
	if cfg.OutputDir != "" {
		outputDir = cfg.OutputDir
	}
	if outputDir == "" {
		outputDir = "snapshots"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	browserLog, _ := logging.NewLogger("browser")
	defer browserLog.Close()
	captureLog, _ := logging.NewLogger("capture")
	defer captureLog.Close()

	browserCfg := suite.BrowserConfig()
	if cfg.Headed {
		browserCfg.Headless = false
	}
	browserCfg.Logger = browserLog

	mgr := browser.NewManager(browserCfg)
	if err := mgr.Launch(); err != nil {
		return err
	}
	defer mgr.Close()

	engine := capture.New(mgr,
		capture.WithRetryPolicy(suite.RetryPolicy()),
		capture.WithLogger(captureLog),
	)

	urls := make([]string, len(scenarios))
	for i, sc := range scenarios {
		urls[i] = sc.URL
	}

	opts := capTimeout(suite.CaptureOptions(), cfg.ShortTimeout)
	summary := engine.CaptureAll(ctx, urls, suite.Viewports, opts)

	live, idle := mgr.PoolStats()
	browserLog.Infof("pool after batch: %d live, %d idle", live, idle)

	if err := writeImages(outputDir, scenarios, suite.Viewports, summary); err != nil {
		return err
	}

	fmt.Print(renderSummary(scenarios, summary))

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d captures failed", summary.Failed, summary.Total)
	}
	return nil
}

// capTimeout lowers the per-step timeout to ceiling when the suite's own
// timeout is longer or unset. A zero ceiling leaves the options untouched.
func capTimeout(opts capture.Options, ceiling time.Duration) capture.Options {
	if ceiling > 0 && (opts.Timeout == 0 || opts.Timeout > ceiling) {
		opts.Timeout = ceiling
	}
	return opts
}

// writeImages saves successful captures as <label>_<viewport>.png. Results
// arrive in row-major order, so result i belongs to scenario i/len(viewports)
// and viewport i%len(viewports).
func writeImages(dir string, scenarios []config.Scenario, viewports []capture.Viewport, summary capture.Summary) error {
	for i, res := range summary.Results {
		if !res.Success {
			continue
		}

		label := scenarios[i/len(viewports)].Label
		vp := viewports[i%len(viewports)]
		name := fmt.Sprintf("%s_%s.png", slug(label), slug(vp.Name))

		if err := os.WriteFile(filepath.Join(dir, name), res.Image, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// slug makes a label safe for filenames.
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
