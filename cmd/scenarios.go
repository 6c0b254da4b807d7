package cmd

import (
	"fmt"
	"path/filepath"

	"sipharness/internal/config"
	"sipharness/internal/runner"
	"sipharness/internal/scenario"
	"sipharness/pkg/logging"

	"github.com/spf13/cobra"
)

// Flags shared by the commands that select scenarios.
var (
	selectScenarios  []string
	selectTags       []string
	selectExecutable string
)

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&selectScenarios, "scenario", nil, "Only scenarios whose name matches (exact or glob); repeatable")
	cmd.Flags().StringSliceVar(&selectTags, "tag", nil, "Only scenarios carrying one of these tags; repeatable")
	cmd.Flags().StringVar(&selectExecutable, "executable", "", "SIP user agent used when a scenario names none (default from config, pjsua)")
	_ = cmd.RegisterFlagCompletionFunc("scenario", completeScenarioFlag)
}

// loadHarnessConfig returns the layered configuration with command-line
// overrides applied.
func loadHarnessConfig() (config.HarnessConfig, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return cfg, fmt.Errorf("failed to load configuration: %w", err)
	}
	if selectExecutable != "" {
		cfg.Executable = selectExecutable
	}
	return cfg, nil
}

func newScenarioLoader(cfg config.HarnessConfig) *scenario.Loader {
	return scenario.NewLoader(scenario.Defaults{
		Executable:   cfg.Executable,
		EventTimeout: cfg.EventTimeout,
		StartupDelay: cfg.StartupDelay,
		ReadyTimeout: cfg.ReadyTimeout,
		StopGrace:    cfg.StopGrace,
	})
}

func runnerConfig(cfg config.HarnessConfig) runner.Config {
	rc := runner.DefaultConfig()
	rc.ScenarioTimeout = cfg.ScenarioTimeout
	rc.StartupDelay = cfg.StartupDelay
	rc.ReadyTimeout = cfg.ReadyTimeout
	rc.StopGrace = cfg.StopGrace
	rc.CheckInterval = cfg.CheckInterval
	return rc
}

// scenarioPaths returns the positional paths, or the configured ones.
func scenarioPaths(cfg config.HarnessConfig, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return filepath.SplitList(cfg.ScenarioPath)
}

// loadSelected loads scenarios from paths and applies the selection flags.
func loadSelected(loader *scenario.Loader, paths []string) ([]*scenario.Scenario, error) {
	all, err := loader.LoadPaths(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}
	selected := scenario.Filter(all, selectScenarios, selectTags)
	logging.Debug("Loader", "Selected %d of %d scenarios from %v", len(selected), len(all), paths)
	return selected, nil
}

// completeScenarioFlag provides shell completion for the scenario flag by loading available scenarios
func completeScenarioFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	scenarios, _ := newScenarioLoader(cfg).LoadPaths(scenarioPaths(cfg, args))

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
