package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/snapcheck/pkg/capture"
	"github.com/entrhq/snapcheck/pkg/config"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderSummary formats the per-capture outcome list and the totals line.
// Results are in row-major task order, matching scenarios × viewports.
func renderSummary(scenarios []config.Scenario, summary capture.Summary) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Capture summary"))
	b.WriteString("\n")

	perScenario := 0
	if len(scenarios) > 0 {
		perScenario = len(summary.Results) / len(scenarios)
	}

	for i, res := range summary.Results {
		label := res.URL
		if perScenario > 0 {
			label = scenarios[i/perScenario].Label
		}

		line := fmt.Sprintf("%s @%dx%d", label, res.Viewport.Width, res.Viewport.Height)
		if res.Success {
			b.WriteString(okStyle.Render("  ✓ " + line))
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %s, %d bytes",
				res.Metadata.LoadTime.Round(time.Millisecond), res.Metadata.ImageSize)))
		} else {
			b.WriteString(failStyle.Render("  ✗ " + line))
			if res.Err != nil {
				b.WriteString(dimStyle.Render("  " + res.Err.Error()))
			}
		}
		b.WriteString("\n")
	}

	totals := fmt.Sprintf("%d total, %d ok, %d failed",
		summary.Total, summary.Successful, summary.Failed)
	if summary.Failed > 0 {
		b.WriteString(failStyle.Render(totals))
	} else {
		b.WriteString(okStyle.Render(totals))
	}
	b.WriteString("\n")

	return b.String()
}
