package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sipharness/internal/reporting"
	"sipharness/internal/results"
	"sipharness/internal/scenario"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	info    reporting.RunInfo
	started []string
	skipped map[string]string
	done    []string
	summary *results.RunSummary
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{skipped: make(map[string]string)}
}

func (r *recordingReporter) ReportStart(info reporting.RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
}

func (r *recordingReporter) ReportScenarioStart(s *scenario.Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s.Name)
}

func (r *recordingReporter) ReportScenarioSkipped(s *scenario.Scenario, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[s.Name] = reason
}

func (r *recordingReporter) ReportScenarioResult(s *scenario.Scenario, _ *results.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, s.Name)
}

func (r *recordingReporter) ReportSuiteResult(summary results.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &summary
}

// suiteLauncher gives every scenario its own role; roles prefixed "bad"
// exit without output.
func suiteLauncher(roles ...string) *fakeLauncher {
	l := newFakeLauncher()
	for _, role := range roles {
		l.on(role, func() (*fakeProc, error) {
			if strings.HasPrefix(role, "bad") {
				return newFakeProc(role).end(), nil
			}
			p := newFakeProc(role)
			time.AfterFunc(20*time.Millisecond, func() { p.emit("Call 0 state changed to CONFIRMED") })
			return p, nil
		})
	}
	return l
}

func suiteScenarios(roles ...string) []*scenario.Scenario {
	out := make([]*scenario.Scenario, len(roles))
	for i, role := range roles {
		out[i] = newScenario(fmt.Sprintf("s%d-%s", i, role), inst(role, ev(confirmed, time.Second)))
	}
	return out
}

func TestSuite_RunsInParallel(t *testing.T) {
	roles := []string{"ok1", "ok2", "bad1", "ok3", "ok4"}
	l := suiteLauncher(roles...)
	rep := newRecordingReporter()
	suite := &Suite{
		Runner:     New(l, testConfig()),
		Parallel:   2,
		Reporter:   rep,
		Aggregator: results.NewAggregator(results.WithRunID("run-1")),
	}

	summary := suite.Run(context.Background(), suiteScenarios(roles...))

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, summary.Skipped)
	assert.Equal(t, []string{"s2-bad1"}, summary.FailedNames())

	assert.LessOrEqual(t, l.maxActive.Load(), int32(2))
	l.assertAllStopped(t)

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Equal(t, 5, rep.info.Scenarios)
	assert.Equal(t, 2, rep.info.Parallel)
	assert.Len(t, rep.started, 5)
	assert.Len(t, rep.done, 5)
	require.NotNil(t, rep.summary)
	assert.Equal(t, 5, rep.summary.Total)
}

func TestSuite_FailFastSkipsRemaining(t *testing.T) {
	roles := []string{"ok1", "bad1", "ok2", "ok3"}
	rep := newRecordingReporter()
	agg := results.NewAggregator()
	suite := &Suite{
		Runner:     New(suiteLauncher(roles...), testConfig()),
		Parallel:   1,
		FailFast:   true,
		Reporter:   rep,
		Aggregator: agg,
	}

	summary := suite.Run(context.Background(), suiteScenarios(roles...))

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"s2-ok2", "s3-ok3"}, summary.Skipped)
	assert.False(t, summary.AllPassed())
	assert.Equal(t, 1, agg.ExitStatus())

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Equal(t, map[string]string{"s2-ok2": "fail-fast", "s3-ok3": "fail-fast"}, rep.skipped)
}

func TestSuite_CancelledRunSkipsEverything(t *testing.T) {
	roles := []string{"ok1", "ok2"}
	l := suiteLauncher(roles...)
	suite := &Suite{Runner: New(l, testConfig())}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := suite.Run(ctx, suiteScenarios(roles...))

	assert.Zero(t, summary.Total)
	assert.Len(t, summary.Skipped, 2)
	assert.Empty(t, l.Order())
}

func TestSuite_AllPassed(t *testing.T) {
	roles := []string{"ok1", "ok2"}
	agg := results.NewAggregator()
	suite := &Suite{Runner: New(suiteLauncher(roles...), testConfig()), Parallel: 4, Aggregator: agg}

	summary := suite.Run(context.Background(), suiteScenarios(roles...))

	assert.True(t, summary.AllPassed())
	assert.Equal(t, 0, agg.ExitStatus())
}
