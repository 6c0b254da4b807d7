package config

import (
	"time"
)

// HarnessConfig is the top-level configuration structure for sipharness.
// Every field may be overridden by a later layer; zero values keep the
// previous layer's setting.
type HarnessConfig struct {
	// Executable is the SIP user agent used when neither the scenario nor
	// its instance names one.
	Executable string `yaml:"executable,omitempty"`
	// ScenarioPath lists files or directories searched when no path is
	// given on the command line. Multiple entries are separated by the
	// OS list separator.
	ScenarioPath string `yaml:"scenario_path,omitempty"`
	// Parallel bounds how many scenarios run at once.
	Parallel int `yaml:"parallel,omitempty"`

	ScenarioTimeout time.Duration `yaml:"scenario_timeout,omitempty"`
	EventTimeout    time.Duration `yaml:"event_timeout,omitempty"`
	StartupDelay    time.Duration `yaml:"startup_delay,omitempty"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout,omitempty"`
	StopGrace       time.Duration `yaml:"stop_grace,omitempty"`
	CheckInterval   time.Duration `yaml:"check_interval,omitempty"`

	// ReportPath, when set, receives per-run report directories.
	ReportPath string `yaml:"report_path,omitempty"`
	// MetricsPath, when set, receives a Prometheus textfile after each run.
	MetricsPath string `yaml:"metrics_path,omitempty"`
}

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() HarnessConfig {
	return HarnessConfig{
		Executable:      "pjsua",
		ScenarioPath:    "scenarios",
		Parallel:        1,
		ScenarioTimeout: 60 * time.Second,
		EventTimeout:    10 * time.Second,
		StartupDelay:    time.Second,
		ReadyTimeout:    10 * time.Second,
		StopGrace:       5 * time.Second,
		CheckInterval:   100 * time.Millisecond,
	}
}
