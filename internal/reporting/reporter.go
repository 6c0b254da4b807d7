package reporting

import (
	"sync"
	"time"

	"sipharness/internal/results"
	"sipharness/internal/scenario"
)

// RunInfo describes a run for the start banner.
type RunInfo struct {
	RunID      string
	Scenarios  int
	Parallel   int
	FailFast   bool
	Timeout    time.Duration
	ReportPath string
}

// Reporter receives progress of a run. Scenario callbacks may arrive from
// several goroutines at once; implementations serialise their output.
type Reporter interface {
	// ReportStart is called once before any scenario starts.
	ReportStart(info RunInfo)
	// ReportScenarioStart is called when a scenario begins.
	ReportScenarioStart(s *scenario.Scenario)
	// ReportScenarioSkipped is called for scenarios never started.
	ReportScenarioSkipped(s *scenario.Scenario, reason string)
	// ReportScenarioResult is called with the full verdict, including the
	// captured output of failing instances.
	ReportScenarioResult(s *scenario.Scenario, v *results.Verdict)
	// ReportSuiteResult is called once after every scenario finished.
	ReportSuiteResult(summary results.RunSummary)
}

// Multi fans every callback out to each reporter in order.
func Multi(reporters ...Reporter) Reporter {
	var rs []Reporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return &multiReporter{reporters: rs}
}

type multiReporter struct {
	mu        sync.Mutex
	reporters []Reporter
}

func (m *multiReporter) ReportStart(info RunInfo) {
	m.each(func(r Reporter) { r.ReportStart(info) })
}

func (m *multiReporter) ReportScenarioStart(s *scenario.Scenario) {
	m.each(func(r Reporter) { r.ReportScenarioStart(s) })
}

func (m *multiReporter) ReportScenarioSkipped(s *scenario.Scenario, reason string) {
	m.each(func(r Reporter) { r.ReportScenarioSkipped(s, reason) })
}

func (m *multiReporter) ReportScenarioResult(s *scenario.Scenario, v *results.Verdict) {
	m.each(func(r Reporter) { r.ReportScenarioResult(s, v) })
}

func (m *multiReporter) ReportSuiteResult(summary results.RunSummary) {
	m.each(func(r Reporter) { r.ReportSuiteResult(summary) })
}

func (m *multiReporter) each(fn func(Reporter)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reporters {
		fn(r)
	}
}

// getResultSymbol returns an appropriate symbol for a verdict.
func getResultSymbol(passed bool) string {
	if passed {
		return "✅"
	}
	return "❌"
}
