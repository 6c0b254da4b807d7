// Package agent exposes the harness to MCP (Model Context Protocol) clients.
//
// ScenarioServer registers three tools and serves them over stdio:
//
//   - scenario_list: load scenario files and list names, tags and roles
//   - scenario_run: run the selected scenarios and return the run summary
//   - scenario_last_result: return the summary of the previous run
//
// Example usage:
//
//	loader := scenario.NewLoader(scenario.Defaults{Executable: "pjsua"})
//	launcher := runner.NewProcessLauncher(instance.NewLauncher())
//	srv := agent.NewScenarioServer(loader, launcher, runner.DefaultConfig(), []string{"scenarios"})
//
//	if err := srv.Serve(ctx, version, os.Stdin, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
//
// Tool results are JSON. A failing run carries a second text block with the
// failure details as printed by the CLI.
package agent
