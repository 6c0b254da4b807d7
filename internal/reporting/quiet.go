package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"sipharness/internal/results"
	"sipharness/internal/scenario"
)

// NewQuietReporter creates a reporter that only prints failures and a
// one-line summary, for CI logs.
func NewQuietReporter(out io.Writer) Reporter {
	return &quietReporter{out: out}
}

type quietReporter struct {
	mu  sync.Mutex
	out io.Writer
}

func (r *quietReporter) ReportStart(RunInfo) {}

func (r *quietReporter) ReportScenarioStart(*scenario.Scenario) {}

func (r *quietReporter) ReportScenarioSkipped(*scenario.Scenario, string) {}

func (r *quietReporter) ReportScenarioResult(s *scenario.Scenario, v *results.Verdict) {
	if v.Passed {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = WriteFailures(r.out, []*results.Verdict{v})
}

func (r *quietReporter) ReportSuiteResult(summary results.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if summary.AllPassed() {
		fmt.Fprintf(r.out, "✅ All %d scenarios passed\n", summary.Passed)
		return
	}
	fmt.Fprintf(r.out, "❌ %d/%d scenarios failed", summary.Failed, summary.Total)
	if n := len(summary.Skipped); n > 0 {
		fmt.Fprintf(r.out, ", %d skipped", n)
	}
	fmt.Fprintln(r.out)
}

// NewJSONReporter creates a reporter that prints the run summary as JSON
// once the run completes.
func NewJSONReporter(out io.Writer) Reporter {
	return &jsonReporter{out: out}
}

type jsonReporter struct {
	out io.Writer
}

func (r *jsonReporter) ReportStart(RunInfo) {}

func (r *jsonReporter) ReportScenarioStart(*scenario.Scenario) {}

func (r *jsonReporter) ReportScenarioSkipped(*scenario.Scenario, string) {}

func (r *jsonReporter) ReportScenarioResult(*scenario.Scenario, *results.Verdict) {}

func (r *jsonReporter) ReportSuiteResult(summary results.RunSummary) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintf(r.out, `{"error": "failed to marshal results: %v"}`+"\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}

// New returns the reporter for an output format: "console", "quiet" or "json".
func New(format string, out io.Writer, verbose bool) (Reporter, error) {
	switch format {
	case "", "console":
		return NewConsoleReporter(out, verbose), nil
	case "quiet":
		return NewQuietReporter(out), nil
	case "json":
		return NewJSONReporter(out), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (use console, quiet or json)", format)
	}
}
