package runner

import (
	"context"
	"io"
	"time"

	"sipharness/internal/instance"
)

// Process is the view of a running endpoint the runner needs.
// *instance.Instance implements it.
type Process interface {
	Role() string
	Lines() <-chan instance.Line
	Send(input string) error
	Detach()
	Stop(grace time.Duration) error
	Done() <-chan struct{}
	Wait() instance.ExitStatus
	Output() []instance.Line
}

// Launcher starts processes.
type Launcher interface {
	Launch(ctx context.Context, spec instance.Spec) (Process, error)
}

type processLauncher struct {
	l *instance.Launcher
}

// NewProcessLauncher adapts an instance.Launcher to Launcher.
func NewProcessLauncher(l *instance.Launcher) Launcher {
	return processLauncher{l: l}
}

func (p processLauncher) Launch(ctx context.Context, spec instance.Spec) (Process, error) {
	inst, err := p.l.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Config holds the runner's fallbacks and limits. Zero fields take the
// defaults from DefaultConfig.
type Config struct {
	// ScenarioTimeout applies when a scenario declares none.
	ScenarioTimeout time.Duration
	// TimeoutOverride, when positive, replaces every scenario's timeout.
	TimeoutOverride time.Duration
	// StartupDelay separates instance starts when no ready pattern is declared.
	StartupDelay time.Duration
	// ReadyTimeout bounds the wait for a ready pattern.
	ReadyTimeout time.Duration
	// StopGrace is the wait between teardown steps.
	StopGrace time.Duration
	// CheckInterval is how often event deadlines are checked.
	CheckInterval time.Duration
	// OutputLines is how much output is kept for a failing instance.
	OutputLines int

	// Raw, when set, receives every output line prefixed with its role.
	Raw io.Writer
	// Now overrides time.Now.
	Now func() time.Time
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ScenarioTimeout: 60 * time.Second,
		StartupDelay:    time.Second,
		ReadyTimeout:    10 * time.Second,
		StopGrace:       5 * time.Second,
		CheckInterval:   100 * time.Millisecond,
		OutputLines:     50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ScenarioTimeout <= 0 {
		c.ScenarioTimeout = d.ScenarioTimeout
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = d.StartupDelay
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.OutputLines <= 0 {
		c.OutputLines = d.OutputLines
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
