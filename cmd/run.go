package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sipharness/internal/instance"
	"sipharness/internal/reporting"
	"sipharness/internal/results"
	"sipharness/internal/runner"
	"sipharness/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	runTimeout     time.Duration
	runParallel    int
	runFailFast    bool
	runVerbose     bool
	runRaw         bool
	runReportPath  string
	runMetricsFile string
	runOutput      string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [paths...]",
	Short: "Run SIP scenarios and report a verdict per scenario",
	Long: `The run command loads scenario files, starts the SIP user agent
instances of each scenario in order and checks their console output against
the expected events.

Paths may be scenario files or directories, which are searched recursively
for *.yaml files. Without paths the configured scenario_path is used.

A scenario passes when every instance matched all of its required events.
A failing scenario never stops the batch unless --fail-fast is given. The
exit status is 0 only when every selected scenario ran and passed.

Example usage:
  sipharness run                                # Run every scenario under ./scenarios
  sipharness run scenarios/305_ice.yaml         # Run one file
  sipharness run --tag ice --parallel 4         # Run ICE scenarios, four at a time
  sipharness run --scenario 'Callee=*' --raw    # Show every output line
  sipharness run --output json > result.json    # Machine-readable summary
  sipharness run --report reports/              # Keep logs of failing instances`,
	RunE: runScenarios,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall timeout per scenario, replacing the scenario's own")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "Number of scenarios run at once, 1-16 (default from config, 1)")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop starting scenarios after the first failure")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Print captured output of failing instances")
	runCmd.Flags().BoolVar(&runRaw, "raw", false, "Echo every instance output line prefixed with its role")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "Directory receiving a JSON summary and logs of failing instances")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this textfile")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "console", "Output format: console, quiet or json")
	addSelectionFlags(runCmd)

	_ = runCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"console", "quiet", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	runCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("parallel") && (runParallel < 1 || runParallel > 16) {
			return fmt.Errorf("parallel workers must be between 1 and 16, got %d", runParallel)
		}
		if runTimeout < 0 {
			return fmt.Errorf("timeout must not be negative, got %s", runTimeout)
		}
		return nil
	}
}

func runScenarios(cmd *cobra.Command, args []string) error {
	// Create context with signal handling
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, stopping scenarios...")
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	if runOutput == "json" {
		level, _ := logLevel()
		logging.InitForJSON(level, os.Stderr)
	}

	reporter, err := reporting.New(runOutput, out, runVerbose)
	if err != nil {
		return err
	}

	cfg, err := loadHarnessConfig()
	if err != nil {
		return err
	}
	if runReportPath == "" {
		runReportPath = cfg.ReportPath
	}
	if runMetricsFile == "" {
		runMetricsFile = cfg.MetricsPath
	}
	parallel := cfg.Parallel
	if cmd.Flags().Changed("parallel") {
		parallel = runParallel
	}

	scenarios, err := loadSelected(newScenarioLoader(cfg), scenarioPaths(cfg, args))
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios selected")
	}

	rc := runnerConfig(cfg)
	rc.TimeoutOverride = runTimeout
	if runRaw {
		rc.Raw = rawWriter(out)
	}

	metrics := results.NewMetrics()
	agg := results.NewAggregator(results.WithMetrics(metrics))

	var reportDir *reporting.ReportDir
	if runReportPath != "" {
		reportDir = reporting.NewReportDir(runReportPath)
		reporter = reporting.Multi(reporter, reportDir)
	}

	suite := &runner.Suite{
		Runner:     runner.New(runner.NewProcessLauncher(instance.NewLauncher()), rc),
		Parallel:   parallel,
		FailFast:   runFailFast,
		Reporter:   reporter,
		Aggregator: agg,
	}
	suite.Run(ctx, scenarios)

	if reportDir != nil {
		if err := reportDir.Err(); err != nil {
			logging.Error("Suite", err, "Report incomplete in %s", reportDir.RunDir())
		}
	}
	if runMetricsFile != "" {
		if err := metrics.WriteTextfile(runMetricsFile); err != nil {
			logging.Error("Suite", err, "Failed to write metrics to %s", runMetricsFile)
		}
	}

	// Set exit code based on results
	if agg.ExitStatus() != 0 {
		os.Exit(agg.ExitStatus())
	}
	return nil
}

// rawWriter keeps raw output off stdout when stdout carries JSON.
func rawWriter(out io.Writer) io.Writer {
	if runOutput == "json" {
		return os.Stderr
	}
	return out
}
