package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sipharness/internal/expect"
	"sipharness/internal/instance"
	"sipharness/internal/scenario"

	"github.com/stretchr/testify/assert"
)

// fakeProc is a scripted Process. Lines are queued without blocking and
// Send can trigger canned replies.
type fakeProc struct {
	role    string
	lines   chan instance.Line
	done    chan struct{}
	replies map[string][]string
	stopErr error
	sendErr error
	onStop  func()

	mu       sync.Mutex
	output   []instance.Line
	sent     []string
	closed   bool
	stopOnce sync.Once
	stopped  atomic.Bool
}

func newFakeProc(role string, lines ...string) *fakeProc {
	p := &fakeProc{
		role:    role,
		lines:   make(chan instance.Line, 64),
		done:    make(chan struct{}),
		replies: make(map[string][]string),
	}
	for _, l := range lines {
		p.emit(l)
	}
	return p
}

func (p *fakeProc) emit(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	l := instance.Line{Text: text, Stream: instance.Stdout, At: time.Now()}
	p.output = append(p.output, l)
	select {
	case p.lines <- l:
	default:
	}
}

// end closes the output stream, as when the process exits.
func (p *fakeProc) end() *fakeProc {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.lines)
	}
	return p
}

func (p *fakeProc) reply(input string, lines ...string) *fakeProc {
	p.replies[input] = lines
	return p
}

func (p *fakeProc) Role() string                { return p.role }
func (p *fakeProc) Lines() <-chan instance.Line { return p.lines }
func (p *fakeProc) Detach()                     {}
func (p *fakeProc) Done() <-chan struct{}       { return p.done }
func (p *fakeProc) Wait() instance.ExitStatus   { <-p.done; return instance.ExitStatus{} }

func (p *fakeProc) Output() []instance.Line {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]instance.Line(nil), p.output...)
}

func (p *fakeProc) Send(input string) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	select {
	case <-p.done:
		return errors.New("exited")
	default:
	}
	p.mu.Lock()
	p.sent = append(p.sent, input)
	p.mu.Unlock()
	for _, l := range p.replies[input] {
		p.emit(l)
	}
	return nil
}

func (p *fakeProc) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakeProc) Stop(time.Duration) error {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		if p.onStop != nil {
			p.onStop()
		}
		close(p.done)
	})
	return p.stopErr
}

// fakeLauncher creates fakeProcs per role and remembers everything it
// launched.
type fakeLauncher struct {
	mu        sync.Mutex
	factories map[string]func() (*fakeProc, error)
	launched  []*fakeProc
	order     []string
	at        map[string]time.Time

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		factories: make(map[string]func() (*fakeProc, error)),
		at:        make(map[string]time.Time),
	}
}

func (l *fakeLauncher) on(role string, f func() (*fakeProc, error)) *fakeLauncher {
	l.factories[role] = f
	return l
}

func (l *fakeLauncher) proc(role string, p *fakeProc) *fakeLauncher {
	return l.on(role, func() (*fakeProc, error) { return p, nil })
}

func (l *fakeLauncher) Launch(_ context.Context, spec instance.Spec) (Process, error) {
	l.mu.Lock()
	l.order = append(l.order, spec.Role)
	l.at[spec.Role] = time.Now()
	f, ok := l.factories[spec.Role]
	l.mu.Unlock()
	if !ok {
		return nil, &instance.LaunchError{Role: spec.Role, Executable: spec.Executable, Err: fmt.Errorf("no such role")}
	}

	p, err := f()
	if err != nil {
		return nil, err
	}
	n := l.active.Add(1)
	for {
		cur := l.maxActive.Load()
		if n <= cur || l.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	prev := p.onStop
	p.onStop = func() {
		l.active.Add(-1)
		if prev != nil {
			prev()
		}
	}

	l.mu.Lock()
	l.launched = append(l.launched, p)
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) Order() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (l *fakeLauncher) assertAllStopped(t *testing.T) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.launched {
		assert.True(t, p.stopped.Load(), "%s was not stopped", p.role)
	}
}

func ev(pattern string, timeout time.Duration) expect.Event {
	return expect.Event{Pattern: expect.MustParsePattern(pattern), Timeout: timeout, Required: true}
}

func inst(role string, events ...expect.Event) scenario.InstanceSpec {
	return scenario.InstanceSpec{
		Launch: instance.Spec{Role: role, Executable: "fake-" + role},
		Events: events,
	}
}

func newScenario(name string, instances ...scenario.InstanceSpec) *scenario.Scenario {
	return &scenario.Scenario{Name: name, Path: name + ".yaml", Timeout: 5 * time.Second, Instances: instances}
}

func testConfig() Config {
	return Config{
		StartupDelay:  time.Millisecond,
		ReadyTimeout:  time.Second,
		StopGrace:     100 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	}
}
