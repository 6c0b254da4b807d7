// Package config provides configuration management for sipharness.
//
// Configuration is loaded from several layers and merged in order, with
// later layers overriding earlier ones:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. User configuration (~/.config/sipharness/config.yaml)
//  3. Project configuration (./.sipharness/config.yaml)
//  4. A .env file in the working directory
//  5. SIPHARNESS_* environment variables
//
// Command-line flags are applied on top by the caller.
//
// # Configuration File
//
//	executable: /usr/local/bin/pjsua
//	scenario_path: scenarios
//	parallel: 4
//	scenario_timeout: 60s
//	event_timeout: 10s
//	startup_delay: 1s
//	ready_timeout: 10s
//	stop_grace: 5s
//	check_interval: 100ms
//	report_path: reports
//	metrics_path: reports/sipharness.prom
//
// Durations use Go syntax ("250ms", "2m"). A zero or missing value keeps the
// setting of the previous layer. Unknown keys are rejected.
//
// # Environment Variables
//
// Each key maps to an upper-cased variable with the SIPHARNESS_ prefix, for
// example SIPHARNESS_EVENT_TIMEOUT=5s. Variables set in the process
// environment take precedence over the same variable in .env.
package config
