package results

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunSummary is the read-only roll-up of a run.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`

	// Verdicts are in completion order.
	Verdicts []*Verdict `json:"verdicts"`

	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`

	// Skipped names scenarios that never started.
	Skipped []string `json:"skipped,omitempty"`

	byName map[string][]int
}

// Lookup returns the verdicts recorded under name, in completion order.
// Scenario names are labels and may repeat.
func (s RunSummary) Lookup(name string) []*Verdict {
	idx := s.byName[name]
	out := make([]*Verdict, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Verdicts[i])
	}
	return out
}

// FailedNames returns the names of failing scenarios in completion order.
func (s RunSummary) FailedNames() []string {
	var names []string
	for _, v := range s.Verdicts {
		if !v.Passed {
			names = append(names, v.Scenario)
		}
	}
	return names
}

// AllPassed reports whether every scenario ran and passed.
func (s RunSummary) AllPassed() bool { return s.Failed == 0 && len(s.Skipped) == 0 }

// Aggregator collects verdicts from concurrently running scenarios.
type Aggregator struct {
	mu       sync.Mutex
	runID    string
	start    time.Time
	now      func() time.Time
	verdicts []*Verdict
	byName   map[string][]int
	skipped  []string
	metrics  *Metrics
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithMetrics updates m on every Record.
func WithMetrics(m *Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) AggregatorOption {
	return func(a *Aggregator) { a.runID = id }
}

// NewAggregator starts a new run.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		runID:  uuid.NewString(),
		now:    time.Now,
		byName: make(map[string][]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.start = a.now()
	return a
}

// RunID identifies the run.
func (a *Aggregator) RunID() string { return a.runID }

// Record stores a verdict under name. Captured output is not retained.
// Safe for concurrent use.
func (a *Aggregator) Record(name string, v *Verdict) {
	stored := v.WithoutOutput()
	stored.Scenario = name

	a.mu.Lock()
	a.byName[name] = append(a.byName[name], len(a.verdicts))
	a.verdicts = append(a.verdicts, stored)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.Observe(stored)
	}
}

// Skip notes a scenario that was never started.
func (a *Aggregator) Skip(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skipped = append(a.skipped, name)
}

// Summary returns a snapshot of everything recorded so far.
func (a *Aggregator) Summary() RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := RunSummary{
		RunID:     a.runID,
		StartTime: a.start,
		Duration:  a.now().Sub(a.start),
		Verdicts:  append([]*Verdict(nil), a.verdicts...),
		Total:     len(a.verdicts),
		Skipped:   append([]string(nil), a.skipped...),
		byName:    make(map[string][]int, len(a.byName)),
	}
	for k, v := range a.byName {
		s.byName[k] = append([]int(nil), v...)
	}
	for _, v := range a.verdicts {
		if v.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// ExitStatus is 0 iff every recorded verdict passed and nothing was skipped.
func (a *Aggregator) ExitStatus() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.skipped) > 0 {
		return 1
	}
	for _, v := range a.verdicts {
		if !v.Passed {
			return 1
		}
	}
	return 0
}
