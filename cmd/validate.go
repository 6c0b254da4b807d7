package cmd

import (
	"errors"
	"fmt"

	"sipharness/internal/scenario"

	"github.com/spf13/cobra"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [paths...]",
	Short: "Check scenario files without running them",
	Long: `Parse and validate every scenario file in the given paths. Every file
is checked; all problems are reported before the command fails.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadHarnessConfig()
	if err != nil {
		return err
	}

	scenarios, err := newScenarioLoader(cfg).LoadPaths(scenarioPaths(cfg, args))
	if err != nil {
		var verr *scenario.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid scenarios:\n%w", err)
		}
		return err
	}

	instances := 0
	for _, s := range scenarios {
		instances += len(s.Instances)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %d scenarios with %d instances are valid\n", len(scenarios), instances)
	return nil
}
