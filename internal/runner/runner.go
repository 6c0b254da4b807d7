package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sipharness/internal/expect"
	"sipharness/internal/instance"
	"sipharness/internal/results"
	"sipharness/internal/scenario"
	"sipharness/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Runner runs one scenario at a time; a single Runner may serve several
// scenarios concurrently.
type Runner struct {
	launcher Launcher
	cfg      Config
	rawMu    sync.Mutex
}

// New creates a Runner.
func New(l Launcher, cfg Config) *Runner {
	return &Runner{launcher: l, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Timeout returns the overall bound applied to s.
func (r *Runner) Timeout(s *scenario.Scenario) time.Duration {
	switch {
	case r.cfg.TimeoutOverride > 0:
		return r.cfg.TimeoutOverride
	case s.Timeout > 0:
		return s.Timeout
	default:
		return r.cfg.ScenarioTimeout
	}
}

// Run executes s and returns its verdict. Instances start in declared order;
// their outputs are matched concurrently. Every launched process is stopped
// before Run returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario) (v *results.Verdict) {
	start := r.cfg.Now()
	v = results.NewVerdict(s.Name, s.Path, s.Roles(), start)

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout(s))
	defer cancel()

	var members []*member
	var monitors sync.WaitGroup

	defer func() {
		panicked := recover()
		if panicked != nil {
			v.Errors = append(v.Errors, fmt.Sprintf("internal error: %v", panicked))
			cancel()
			monitors.Wait()
		}
		r.teardown(members, v)
		r.fillMissing(s, v)
		v.Finalize(r.cfg.Now())
		logging.Info("Runner", "Scenario %q finished: passed=%t in %s", s.Name, v.Passed, v.Duration.Round(time.Millisecond))
		if panicked != nil {
			panic(panicked)
		}
	}()

	logging.Info("Runner", "Starting scenario %q (%d instances)", s.Name, len(s.Instances))

	for i, spec := range s.Instances {
		if runCtx.Err() != nil {
			v.Set(r.interrupted(runCtx, spec, 0, "not started"))
			continue
		}

		proc, err := r.launcher.Launch(runCtx, spec.Launch)
		if err != nil {
			logging.Error("Runner", err, "Launch of %s failed", spec.Role())
			v.Set(results.InstanceResult{
				Role:       spec.Role(),
				Outcome:    results.OutcomeFailed,
				Kind:       results.KindLaunchFailure,
				Reason:     err.Error(),
				EventIndex: results.NoEvent,
				Total:      len(spec.Events),
			})
			continue
		}

		m := newMember(spec, proc, r.cfg.Now())
		members = append(members, m)
		monitors.Add(1)
		go func() {
			defer monitors.Done()
			r.monitor(runCtx, m)
		}()

		last := i == len(s.Instances)-1
		r.awaitStart(runCtx, m, last)
	}

	monitors.Wait()

	for _, m := range members {
		v.Set(r.resultFor(runCtx, m))
	}
	return v
}

// awaitStart blocks until the next instance may start: the ready pattern
// was seen, or the startup delay passed.
func (r *Runner) awaitStart(ctx context.Context, m *member, last bool) {
	spec := m.spec
	if spec.HasReady() {
		wait := spec.ReadyTimeout
		if wait <= 0 {
			wait = r.cfg.ReadyTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-m.ready:
			if !m.readyOK && ctx.Err() == nil {
				m.notReady = true
				logging.Warn("Runner", "%s exited before printing %q", spec.Role(), spec.Ready)
			}
		case <-timer.C:
			m.notReady = true
			m.resolveReady(false)
			logging.Warn("Runner", "%s not ready within %s, continuing", spec.Role(), wait)
		case <-ctx.Done():
			m.resolveReady(false)
		}
		return
	}

	if last {
		return
	}
	delay := spec.StartupDelay
	if delay <= 0 {
		delay = r.cfg.StartupDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (r *Runner) resultFor(ctx context.Context, m *member) results.InstanceResult {
	role := m.spec.Role()
	tr := m.track
	res := results.InstanceResult{
		Role:       role,
		EventIndex: results.NoEvent,
		Matched:    tr.Cursor(),
		Total:      tr.Len(),
		Duration:   m.ended.Sub(m.started),
	}
	if res.Duration < 0 {
		res.Duration = 0
	}

	switch {
	case m.notReady:
		res.Outcome = results.OutcomeFailed
		res.Kind = results.KindNotReady
		res.Reason = fmt.Sprintf("ready pattern %q not seen", m.spec.Ready)
	case tr.Status() == expect.StatusCompleted, tr.Satisfied():
		// Only optional events may be left unmatched.
		res.Outcome = results.OutcomePassed
	case tr.Status() == expect.StatusViolated:
		viol := tr.Violation()
		res.EventIndex = viol.Index
		res.Pattern = viol.Event.Pattern.String()
		res.Reason = viol.Error()
		switch viol.Reason {
		case expect.ReasonTimeout:
			res.Outcome = results.OutcomeTimedOut
			res.Kind = results.KindEventTimeout
		case expect.ReasonMismatch:
			res.Outcome = results.OutcomeFailed
			res.Kind = results.KindEventMismatch
		default:
			res.Outcome = results.OutcomeFailed
			res.Kind = results.KindStreamFailure
		}
	default:
		return r.interrupted(ctx, m.spec, tr.Cursor(), fmt.Sprintf("waiting for event %d", tr.Cursor()))
	}

	if res.Passed() && len(m.sendErrors) > 0 {
		res.Outcome = results.OutcomeFailed
		res.Kind = results.KindStreamFailure
		res.Reason = "send failed: " + m.sendErrors[0]
	}
	return res
}

// interrupted builds the result for an instance cut short by the scenario
// timeout or by cancellation.
func (r *Runner) interrupted(ctx context.Context, spec scenario.InstanceSpec, cursor int, what string) results.InstanceResult {
	res := results.InstanceResult{
		Role:       spec.Role(),
		Outcome:    results.OutcomeTimedOut,
		Kind:       results.KindScenarioTimeout,
		EventIndex: results.NoEvent,
		Matched:    cursor,
		Total:      len(spec.Events),
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		res.Kind = results.KindCancelled
	}
	if cursor < len(spec.Events) {
		res.EventIndex = cursor
		res.Pattern = spec.Events[cursor].Pattern.String()
	}
	res.Reason = fmt.Sprintf("%s: %s", res.Kind, what)
	return res
}

// teardown stops every launched process concurrently, then attaches
// teardown failures and diagnostics to the verdict.
func (r *Runner) teardown(members []*member, v *results.Verdict) {
	if len(members) == 0 {
		return
	}

	errs := make([]error, len(members))
	var g errgroup.Group
	for i, m := range members {
		g.Go(func() error {
			m.proc.Detach()
			grace := m.spec.StopGrace
			if grace <= 0 {
				grace = r.cfg.StopGrace
			}
			errs[i] = m.proc.Stop(grace)
			return nil
		})
	}
	_ = g.Wait()

	for i, m := range members {
		role := m.spec.Role()
		res, ok := v.Instances[role]
		if !ok {
			continue
		}
		if err := errs[i]; err != nil {
			var terr *instance.TeardownError
			if errors.As(err, &terr) {
				logging.Error("Runner", err, "Teardown of %s failed", role)
			}
			v.Errors = append(v.Errors, err.Error())
			if res.Passed() {
				res.Outcome = results.OutcomeFailed
				res.Kind = results.KindTeardownFailure
				res.Reason = err.Error()
			}
		}
		select {
		case <-m.proc.Done():
			res.Exit = m.proc.Wait().String()
		default:
		}
		if !res.Passed() {
			res.Output = tail(m.proc.Output(), r.cfg.OutputLines)
		}
		v.Set(res)
	}
}

// fillMissing gives every declared role a result, so an aborted run still
// maps each instance to exactly one entry.
func (r *Runner) fillMissing(s *scenario.Scenario, v *results.Verdict) {
	for _, spec := range s.Instances {
		if _, ok := v.Instances[spec.Role()]; ok {
			continue
		}
		v.Set(results.InstanceResult{
			Role:       spec.Role(),
			Outcome:    results.OutcomeFailed,
			Kind:       results.KindCancelled,
			Reason:     "scenario aborted",
			EventIndex: results.NoEvent,
			Total:      len(spec.Events),
		})
	}
}

func tail(lines []instance.Line, n int) []string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Stream == instance.Stderr {
			out = append(out, "stderr: "+l.Text)
			continue
		}
		out = append(out, l.Text)
	}
	return out
}
