package runner

import (
	"context"
	"sync/atomic"

	"sipharness/internal/reporting"
	"sipharness/internal/results"
	"sipharness/internal/scenario"
	"sipharness/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Suite runs a list of scenarios, each with its own set of instances, and
// rolls their verdicts up into a RunSummary.
type Suite struct {
	Runner *Runner
	// Parallel bounds how many scenarios run at once. Values below 1 mean 1.
	Parallel int
	// FailFast stops starting new scenarios after the first failure.
	FailFast bool
	// Reporter receives progress; nil reports nothing.
	Reporter reporting.Reporter
	// Aggregator collects verdicts; nil creates one per Run.
	Aggregator *results.Aggregator
}

// Run executes scenarios and returns the run summary. Scenarios that were
// never started because of cancellation or fail-fast are listed as skipped.
func (s *Suite) Run(ctx context.Context, scenarios []*scenario.Scenario) results.RunSummary {
	agg := s.Aggregator
	if agg == nil {
		agg = results.NewAggregator()
	}
	rep := s.Reporter
	if rep == nil {
		rep = reporting.Multi()
	}
	parallel := s.Parallel
	if parallel < 1 {
		parallel = 1
	}

	rep.ReportStart(reporting.RunInfo{
		RunID:     agg.RunID(),
		Scenarios: len(scenarios),
		Parallel:  parallel,
		FailFast:  s.FailFast,
		Timeout:   s.Runner.Config().TimeoutOverride,
	})

	var stop atomic.Bool
	var g errgroup.Group
	g.SetLimit(parallel)

	for _, sc := range scenarios {
		// Go blocks while the pool is full, so the skip checks below see
		// failures of scenarios that finished in the meantime.
		g.Go(func() error {
			if reason := s.skipReason(ctx, &stop); reason != "" {
				logging.Info("Suite", "Skipping scenario %q: %s", sc.Name, reason)
				agg.Skip(sc.Name)
				rep.ReportScenarioSkipped(sc, reason)
				return nil
			}

			rep.ReportScenarioStart(sc)
			v := s.Runner.Run(ctx, sc)
			agg.Record(sc.Name, v)
			rep.ReportScenarioResult(sc, v)

			if s.FailFast && !v.Passed {
				stop.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := agg.Summary()
	rep.ReportSuiteResult(summary)
	return summary
}

func (s *Suite) skipReason(ctx context.Context, stop *atomic.Bool) string {
	switch {
	case ctx.Err() != nil:
		return "run cancelled"
	case stop.Load():
		return "fail-fast"
	default:
		return ""
	}
}
