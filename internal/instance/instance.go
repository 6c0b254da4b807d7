package instance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"sipharness/pkg/logging"
)

const (
	defaultLineBuffer  = 64
	defaultHistorySize = 500
	defaultKillWait    = 5 * time.Second
	defaultWaitDelay   = 2 * time.Second
	maxLineLength      = 1024 * 1024
)

// Launcher starts endpoint processes.
type Launcher struct {
	// LineBuffer is the capacity of each instance's line channel.
	LineBuffer int
	// HistorySize is how many recent lines Output keeps.
	HistorySize int
	// KillWait bounds the wait after SIGKILL before Stop gives up.
	KillWait time.Duration
}

// NewLauncher returns a Launcher with default limits.
func NewLauncher() *Launcher {
	return &Launcher{
		LineBuffer:  defaultLineBuffer,
		HistorySize: defaultHistorySize,
		KillWait:    defaultKillWait,
	}
}

// Instance is one supervised endpoint process.
type Instance struct {
	spec     Spec
	cmd      *exec.Cmd
	pid      int
	killWait time.Duration

	stdin   io.WriteCloser
	stdinMu sync.Mutex

	lines   chan Line
	discard chan struct{}
	detach  sync.Once
	history *history

	mu     sync.Mutex
	state  State
	killed bool
	status ExitStatus
	done   chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// Launch starts the process described by spec. The process runs in its own
// process group so that Stop reaches every child it forks.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Role: spec.Role, Executable: spec.Executable, Err: err}
	}
	if spec.Executable == "" {
		return nil, &LaunchError{Role: spec.Role, Err: errors.New("no executable configured")}
	}

	path, err := exec.LookPath(spec.Executable)
	if err != nil {
		return nil, &LaunchError{Role: spec.Role, Executable: spec.Executable, Err: err}
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec.Env)
	// Wait must not hang on a grandchild that inherited the output pipes.
	cmd.WaitDelay = defaultWaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Role: spec.Role, Executable: path, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	lineBuffer := l.LineBuffer
	if lineBuffer <= 0 {
		lineBuffer = defaultLineBuffer
	}
	killWait := l.KillWait
	if killWait <= 0 {
		killWait = defaultKillWait
	}

	inst := &Instance{
		spec:     spec,
		cmd:      cmd,
		killWait: killWait,
		stdin:    stdin,
		lines:    make(chan Line, lineBuffer),
		discard:  make(chan struct{}),
		history:  newHistory(l.HistorySize),
		state:    StateStarting,
		done:     make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		stdoutWriter.Close()
		stderrWriter.Close()
		stdin.Close()
		return nil, &LaunchError{Role: spec.Role, Executable: path, Err: err}
	}

	inst.pid = cmd.Process.Pid
	inst.setState(StateRunning)
	logging.Debug("Instance", "Started %s (PID %d): %s %v", spec.Role, inst.pid, path, spec.Args)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go inst.pump(stdoutReader, Stdout, &pumps)
	go inst.pump(stderrReader, Stderr, &pumps)

	go func() {
		pumps.Wait()
		close(inst.lines)
	}()

	go func() {
		err := cmd.Wait()
		stdoutWriter.Close()
		stderrWriter.Close()
		inst.finish(err)
	}()

	return inst, nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}

// pump reads lines from r until EOF. Every line lands in the history; it is
// forwarded on the line channel until the instance is detached.
func (i *Instance) pump(r *io.PipeReader, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := Line{Text: scanner.Text(), Stream: stream, At: time.Now()}
		i.history.add(line)

		select {
		case <-i.discard:
			continue
		default:
		}
		select {
		case i.lines <- line:
		case <-i.discard:
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Debug("Instance", "Output %s of %s unreadable: %v", stream, i.spec.Role, err)
		// Keep draining so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (i *Instance) finish(waitErr error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		i.status = ExitStatus{Code: 0}
	case errors.As(waitErr, &exitErr):
		ws, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && ws.Signaled() {
			i.status = ExitStatus{Code: -1, Signaled: true}
		} else {
			i.status = ExitStatus{Code: exitErr.ExitCode()}
		}
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The process exited; only its inherited pipes outlived it.
		i.status = ExitStatus{Code: i.cmd.ProcessState.ExitCode()}
	default:
		i.status = ExitStatus{Code: -1, Err: waitErr}
	}

	switch {
	case i.status.Err != nil:
		i.state = StateFailed
	case i.killed || i.status.Signaled:
		i.state = StateKilled
	default:
		i.state = StateExited
	}
	logging.Debug("Instance", "%s (PID %d) finished: %s", i.spec.Role, i.pid, i.status)
	close(i.done)
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.state.Terminal() {
		i.state = s
	}
}

// Role returns the instance's role name.
func (i *Instance) Role() string { return i.spec.Role }

// PID returns the process id.
func (i *Instance) PID() int { return i.pid }

// Spec returns the launch description.
func (i *Instance) Spec() Spec { return i.spec }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Lines returns the output stream. It is closed once both pipes hit EOF.
func (i *Instance) Lines() <-chan Line { return i.lines }

// Done is closed when the process has been reaped.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Wait blocks until the process has been reaped.
func (i *Instance) Wait() ExitStatus {
	<-i.done
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Output returns the most recent output lines, oldest first.
func (i *Instance) Output() []Line { return i.history.snapshot() }

// Detach stops delivering lines on Lines. Output is still read and kept in
// the history so the process never blocks on a full pipe.
func (i *Instance) Detach() {
	i.detach.Do(func() { close(i.discard) })
}

// Send writes input followed by a newline to the process's stdin.
func (i *Instance) Send(input string) error {
	select {
	case <-i.done:
		return fmt.Errorf("%s has exited", i.spec.Role)
	default:
	}
	i.stdinMu.Lock()
	defer i.stdinMu.Unlock()
	if _, err := io.WriteString(i.stdin, input+"\n"); err != nil {
		return fmt.Errorf("write to %s stdin: %w", i.spec.Role, err)
	}
	return nil
}

// Stop terminates the process: the quit command when one is declared, then
// SIGTERM to the process group, then SIGKILL. Each step waits up to grace
// for the process to go away. Stop is idempotent and returns a
// *TeardownError when the process outlived SIGKILL.
func (i *Instance) Stop(grace time.Duration) error {
	i.stopOnce.Do(func() {
		i.stopErr = i.stop(grace)
	})
	return i.stopErr
}

func (i *Instance) stop(grace time.Duration) error {
	select {
	case <-i.done:
		return nil
	default:
	}
	i.setState(StateStopping)
	role := i.spec.Role

	if i.spec.Quit != "" {
		if err := i.Send(i.spec.Quit); err != nil {
			logging.Debug("Instance", "Quit command for %s not delivered: %v", role, err)
		} else if i.waitDone(grace) {
			return nil
		}
	}
	i.stdinMu.Lock()
	_ = i.stdin.Close()
	i.stdinMu.Unlock()

	logging.Debug("Instance", "Sending SIGTERM to %s (PGID %d)", role, i.pid)
	if err := syscall.Kill(-i.pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		logging.Debug("Instance", "SIGTERM failed for %s: %v", role, err)
	}
	if i.waitDone(grace) {
		return nil
	}

	logging.Warn("Instance", "%s did not exit within %s, sending SIGKILL", role, grace)
	i.mu.Lock()
	i.killed = true
	i.mu.Unlock()
	if err := syscall.Kill(-i.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		if killErr := i.cmd.Process.Kill(); killErr != nil {
			logging.Debug("Instance", "SIGKILL failed for %s: %v", role, killErr)
		}
	}
	if i.waitDone(i.killWait) {
		return nil
	}
	return &TeardownError{Role: role, PID: i.pid}
}

func (i *Instance) waitDone(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-i.done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-i.done:
		return true
	case <-timer.C:
		return false
	}
}
