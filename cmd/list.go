package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"sipharness/internal/scenario"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var listOutput string

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list [paths...]",
	Short: "List scenarios with their instances and tags",
	Long: `List the scenarios found in the given files or directories (or the
configured scenario_path), after applying --scenario and --tag filters.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format: table or json")
	addSelectionFlags(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadHarnessConfig()
	if err != nil {
		return err
	}
	scenarios, err := loadSelected(newScenarioLoader(cfg), scenarioPaths(cfg, args))
	if err != nil {
		return err
	}

	switch listOutput {
	case "json":
		return writeScenarioJSON(cmd.OutOrStdout(), scenarios)
	case "table":
		writeScenarioTable(cmd.OutOrStdout(), scenarios)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use table or json)", listOutput)
	}
}

type scenarioListing struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Tags      []string `json:"tags,omitempty"`
	Instances []string `json:"instances"`
	Timeout   string   `json:"timeout,omitempty"`
}

func writeScenarioJSON(w io.Writer, scenarios []*scenario.Scenario) error {
	listing := make([]scenarioListing, 0, len(scenarios))
	for _, s := range scenarios {
		l := scenarioListing{Name: s.Name, Path: s.Path, Tags: s.Tags, Instances: s.Roles()}
		if s.Timeout > 0 {
			l.Timeout = s.Timeout.String()
		}
		listing = append(listing, l)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(listing)
}

func writeScenarioTable(w io.Writer, scenarios []*scenario.Scenario) {
	if len(scenarios) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No scenarios found"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"NAME", "INSTANCES", "TAGS", "TIMEOUT", "FILE"})
	for _, s := range scenarios {
		timeout := "-"
		if s.Timeout > 0 {
			timeout = s.Timeout.String()
		}
		t.AppendRow(table.Row{
			s.Name,
			strings.Join(s.Roles(), ", "),
			strings.Join(s.Tags, ", "),
			timeout,
			s.Path,
		})
	}
	t.AppendFooter(table.Row{countScenarios(len(scenarios))})
	t.Render()
}

func countScenarios(n int) string {
	if n == 1 {
		return "1 scenario"
	}
	return fmt.Sprintf("%d scenarios", n)
}
