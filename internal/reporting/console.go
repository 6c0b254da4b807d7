package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"sipharness/internal/results"
	"sipharness/internal/scenario"

	"github.com/charmbracelet/lipgloss"
)

const (
	excerptLines = 10
	excerptWidth = 120
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"})

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#006400", Dark: "#32CD32"})

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#B22222", Dark: "#FF6347"})

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
)

// consoleReporter prints human-readable progress.
type consoleReporter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsoleReporter creates a reporter for interactive use.
func NewConsoleReporter(out io.Writer, verbose bool) Reporter {
	return &consoleReporter{out: out, verbose: verbose}
}

func (r *consoleReporter) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *consoleReporter) ReportStart(info RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("%s\n", headerStyle.Render("🧪 sipharness"))
	r.printf("📋 Scenarios: %d\n", info.Scenarios)
	if r.verbose {
		r.printf("⚙️  Configuration:\n")
		r.printf("   • Run ID: %s\n", info.RunID)
		r.printf("   • Parallel: %d\n", info.Parallel)
		r.printf("   • Fail fast: %t\n", info.FailFast)
		if info.Timeout > 0 {
			r.printf("   • Timeout override: %v\n", info.Timeout)
		}
		if info.ReportPath != "" {
			r.printf("   • Report path: %s\n", info.ReportPath)
		}
	}
	r.printf("\n")
}

func (r *consoleReporter) ReportScenarioStart(s *scenario.Scenario) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("🎯 Starting scenario: %s\n", s.Name)
	if s.Description != "" {
		r.printf("   📝 %s\n", s.Description)
	}
	if len(s.Tags) > 0 {
		r.printf("   🏷️  Tags: %s\n", strings.Join(s.Tags, ", "))
	}
	r.printf("   🖥  Instances: %s\n", strings.Join(s.Roles(), ", "))
}

func (r *consoleReporter) ReportScenarioSkipped(s *scenario.Scenario, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("⏭️  %s %s\n", s.Name, dimStyle.Render("("+reason+")"))
}

func (r *consoleReporter) ReportScenarioResult(s *scenario.Scenario, v *results.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := passStyle.Render(s.Name)
	if !v.Passed {
		name = failStyle.Render(s.Name)
	}
	r.printf("%s %s %s\n", getResultSymbol(v.Passed), name, dimStyle.Render(fmt.Sprintf("(%v)", v.Duration.Round(time.Millisecond))))

	for _, res := range v.Ordered() {
		if res.Passed() {
			if r.verbose {
				r.printf("   ✅ %s: %d/%d events in %v\n", res.Role, res.Matched, res.Total, res.Duration.Round(time.Millisecond))
			}
			continue
		}
		r.printf("   ❌ %s\n", describeFailure(res))
		if res.Reason != "" {
			r.printf("      %s\n", res.Reason)
		}
		if res.Exit != "" && r.verbose {
			r.printf("      %s\n", dimStyle.Render("process: "+res.Exit))
		}
		if len(res.Output) > 0 {
			r.printf("      %s\n", dimStyle.Render("last output:"))
			for _, line := range excerpt(res.Output, excerptLines, excerptWidth) {
				r.printf("      │ %s\n", line)
			}
		}
	}
	for _, e := range v.Errors {
		r.printf("   💥 %s\n", e)
	}
	if r.verbose {
		r.printf("\n")
	}
}

func (r *consoleReporter) ReportSuiteResult(summary results.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("\n%s\n", headerStyle.Render("🏁 Run complete"))
	r.printf("⏱️  Duration: %v\n", summary.Duration.Round(time.Millisecond))
	r.printf("📊 Results:\n")
	r.printf("   ✅ Passed: %d\n", summary.Passed)
	if summary.Failed > 0 {
		r.printf("   ❌ Failed: %d\n", summary.Failed)
	}
	if len(summary.Skipped) > 0 {
		r.printf("   ⏭️  Skipped: %d\n", len(summary.Skipped))
	}
	r.printf("   📈 Total: %d\n", summary.Total)

	successRate := 0.0
	if summary.Total > 0 {
		successRate = float64(summary.Passed) / float64(summary.Total) * 100
	}
	r.printf("   📏 Success Rate: %.1f%%\n", successRate)

	if summary.AllPassed() {
		r.printf("\n%s\n", passStyle.Render("🎉 All scenarios passed!"))
		return
	}

	r.printf("\n%s\n", failStyle.Render("💔 Failing scenarios:"))
	_ = WriteFailures(r.out, summary.Verdicts)
}
