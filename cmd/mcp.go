package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"sipharness/internal/agent"
	"sipharness/internal/instance"
	"sipharness/internal/results"
	"sipharness/internal/runner"
	"sipharness/pkg/logging"

	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve scenario tools to MCP clients over stdio",
	Long: `Run an MCP (Model Context Protocol) server on stdin/stdout exposing
the scenario_list, scenario_run and scenario_last_result tools.

Configure it in an AI assistant's MCP settings as:
  {"command": "sipharness", "args": ["mcp"]}

Logs go to stderr; stdout carries only the protocol.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().StringVar(&selectExecutable, "executable", "", "SIP user agent used when a scenario names none (default from config, pjsua)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level, _ := logLevel()
	logging.InitForJSON(level, os.Stderr)

	cfg, err := loadHarnessConfig()
	if err != nil {
		return err
	}

	srv := agent.NewScenarioServer(
		newScenarioLoader(cfg),
		runner.NewProcessLauncher(instance.NewLauncher()),
		runnerConfig(cfg),
		scenarioPaths(cfg, nil),
	)
	if cfg.MetricsPath != "" {
		metrics := results.NewMetrics()
		srv.WithMetrics(metrics)
		defer func() {
			if err := metrics.WriteTextfile(cfg.MetricsPath); err != nil {
				logging.Error("MCP", err, "Failed to write metrics to %s", cfg.MetricsPath)
			}
		}()
	}

	return srv.Serve(ctx, rootCmd.Version, os.Stdin, os.Stdout)
}
