package cmd

import (
	"fmt"
	"os"

	"sipharness/internal/color"
	"sipharness/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	rootDebug    bool
	rootLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sipharness",
	Short: "Run scripted SIP user agent scenarios",
	Long: `sipharness launches SIP user agent processes (pjsua or the built-in
stub endpoint), feeds their console output through ordered expectations
and reports per scenario which instance failed, at which event and why.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failing scenarios, unreadable files)
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logLevel()
		if err != nil {
			return err
		}
		logging.InitForCLI(level, os.Stderr)
		color.Setup(os.LookupEnv)
		return nil
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "sipharness version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging on stderr (same as --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "warn", "Log level on stderr: debug, info, warn or error")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newEndpointCmd())
}

// logLevel resolves --log-level, with --debug taking precedence.
func logLevel() (logging.LogLevel, error) {
	if rootDebug {
		return logging.LevelDebug, nil
	}
	level, err := logging.ParseLevel(rootLogLevel)
	if err != nil {
		return level, fmt.Errorf("invalid --log-level: %w", err)
	}
	return level, nil
}
