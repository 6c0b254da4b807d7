package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sipharness/internal/expect"
	"sipharness/internal/scenario"
	"sipharness/pkg/logging"
)

// member is one launched instance and its track. The track and the fields
// below it are owned by the monitor goroutine until finished is closed.
type member struct {
	spec    scenario.InstanceSpec
	proc    Process
	track   *expect.Track
	started time.Time

	ready     chan struct{}
	readyOnce sync.Once
	readyOK   bool
	notReady  bool // set by the runner when the ready wait timed out

	finished     chan struct{}
	ended        time.Time
	streamClosed bool
	sendErrors   []string
}

func newMember(spec scenario.InstanceSpec, proc Process, now time.Time) *member {
	m := &member{
		spec:     spec,
		proc:     proc,
		track:    expect.NewTrack(spec.Events),
		started:  now,
		ready:    make(chan struct{}),
		finished: make(chan struct{}),
	}
	if !spec.HasReady() {
		m.resolveReady(true)
	}
	return m
}

func (m *member) resolveReady(ok bool) {
	m.readyOnce.Do(func() {
		m.readyOK = ok
		close(m.ready)
	})
}

func (m *member) readyResolved() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// monitor drains the instance's output into its track until the track is
// terminal and readiness is resolved, the stream ends, or ctx is done.
// The process is detached on return so it never blocks on a full pipe.
func (r *Runner) monitor(ctx context.Context, m *member) {
	defer close(m.finished)
	defer m.proc.Detach()
	defer func() {
		// An unresolved ready wait must not hang the runner.
		m.resolveReady(false)
	}()

	role := m.spec.Role()
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	m.track.Start(m.started)
	lines := m.proc.Lines()

	for {
		if m.track.Status().Terminal() && m.readyResolved() {
			m.ended = r.cfg.Now()
			return
		}

		select {
		case <-ctx.Done():
			m.ended = r.cfg.Now()
			return

		case l, ok := <-lines:
			now := r.cfg.Now()
			if !ok {
				m.streamClosed = true
				if !m.track.Status().Terminal() {
					m.track.Finish(now)
					logging.Debug("Runner", "%s: output ended with track %s", role, m.track.Status())
				}
				m.ended = now
				return
			}
			r.passthrough(role, l.Text)

			if !m.readyResolved() && expect.Match(l.Text, m.spec.Ready).Matched {
				logging.Debug("Runner", "%s: ready", role)
				m.resolveReady(true)
			}
			if m.track.Status().Terminal() {
				continue
			}
			r.onResult(m, m.track.Feed(l.Text, now))

		case <-ticker.C:
			if m.track.Status().Terminal() {
				continue
			}
			r.onResult(m, m.track.CheckTimeout(r.cfg.Now()))
		}
	}
}

func (r *Runner) onResult(m *member, res expect.FeedResult) {
	role := m.spec.Role()
	switch res {
	case expect.Advanced, expect.Completed:
		obs, ok := m.track.Matched()
		if !ok {
			break
		}
		ev := m.track.Event(obs.Index)
		logging.Debug("Runner", "%s: event %d (%s) matched after %s", role, obs.Index, ev.Label(), obs.Elapsed)
		if ev.Send != "" {
			if err := m.proc.Send(ev.Send); err != nil {
				m.sendErrors = append(m.sendErrors, fmt.Sprintf("event %d: %v", obs.Index, err))
				logging.Warn("Runner", "%s: could not send %q: %v", role, ev.Send, err)
			} else {
				logging.Debug("Runner", "%s: sent %q", role, ev.Send)
			}
		}
	case expect.Violated:
		if v := m.track.Violation(); v != nil {
			logging.Debug("Runner", "%s: %s", role, v)
		}
	}
}

func (r *Runner) passthrough(role, text string) {
	if r.cfg.Raw == nil {
		return
	}
	r.rawMu.Lock()
	defer r.rawMu.Unlock()
	fmt.Fprintf(r.cfg.Raw, "[%s] %s\n", role, text)
}
