package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sipharness/internal/reporting"
	"sipharness/internal/results"
	"sipharness/internal/runner"
	"sipharness/internal/scenario"
	"sipharness/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ScenarioServer exposes scenario listing and execution as MCP tools.
type ScenarioServer struct {
	loader   *scenario.Loader
	launcher runner.Launcher
	config   runner.Config
	paths    []string
	metrics  *results.Metrics

	mu         sync.Mutex
	lastResult *results.RunSummary
}

// NewScenarioServer creates a ScenarioServer. paths are searched when a
// tool call names none.
func NewScenarioServer(loader *scenario.Loader, launcher runner.Launcher, cfg runner.Config, paths []string) *ScenarioServer {
	return &ScenarioServer{
		loader:   loader,
		launcher: launcher,
		config:   cfg,
		paths:    paths,
	}
}

// WithMetrics records every run into m.
func (s *ScenarioServer) WithMetrics(m *results.Metrics) *ScenarioServer {
	s.metrics = m
	return s
}

// Tools returns the MCP tools with their handlers.
func (s *ScenarioServer) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("scenario_list",
				mcp.WithDescription("List SIP scenarios with their instances and tags"),
				mcp.WithString("path",
					mcp.Description("Scenario file or directory; several may be joined with the OS list separator"),
				),
				mcp.WithString("scenario",
					mcp.Description("Scenario name or glob pattern to filter by"),
				),
				mcp.WithString("tag",
					mcp.Description("Only list scenarios carrying this tag"),
				),
			),
			Handler: s.handleListScenarios,
		},
		{
			Tool: mcp.NewTool("scenario_run",
				mcp.WithDescription("Run SIP scenarios and return the verdicts as JSON"),
				mcp.WithString("path",
					mcp.Description("Scenario file or directory; several may be joined with the OS list separator"),
				),
				mcp.WithString("scenario",
					mcp.Description("Scenario name or glob pattern to run"),
				),
				mcp.WithString("tag",
					mcp.Description("Only run scenarios carrying this tag"),
				),
				mcp.WithNumber("parallel",
					mcp.Description("Number of scenarios run at once (1-16, default 1)"),
				),
				mcp.WithBoolean("fail_fast",
					mcp.Description("Stop starting scenarios after the first failure"),
				),
				mcp.WithString("timeout",
					mcp.Description("Overall timeout per scenario, e.g. 30s; replaces the scenario's own"),
				),
			),
			Handler: s.handleRunScenarios,
		},
		{
			Tool: mcp.NewTool("scenario_last_result",
				mcp.WithDescription("Return the summary of the most recent scenario_run"),
			),
			Handler: s.handleLastResult,
		},
	}
}

// Serve runs an MCP server over stdio until ctx is done or in is closed.
func (s *ScenarioServer) Serve(ctx context.Context, version string, in io.Reader, out io.Writer) error {
	mcpServer := server.NewMCPServer("sipharness", version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(s.Tools()...)

	logging.Info("MCP", "Serving %d tools over stdio", len(s.Tools()))
	return server.NewStdioServer(mcpServer).Listen(ctx, in, out)
}

type scenarioInfo struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Instances   []string `json:"instances"`
	Timeout     string   `json:"timeout,omitempty"`
}

// handleListScenarios handles the scenario_list MCP tool
func (s *ScenarioServer) handleListScenarios(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scenarios, errResult := s.selectScenarios(request.GetArguments())
	if errResult != nil {
		return errResult, nil
	}

	infos := make([]scenarioInfo, 0, len(scenarios))
	for _, sc := range scenarios {
		info := scenarioInfo{
			Name:        sc.Name,
			Path:        sc.Path,
			Description: sc.Description,
			Tags:        sc.Tags,
			Instances:   sc.Roles(),
		}
		if sc.Timeout > 0 {
			info.Timeout = sc.Timeout.String()
		}
		infos = append(infos, info)
	}

	jsonData, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format scenarios: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// handleRunScenarios handles the scenario_run MCP tool
func (s *ScenarioServer) handleRunScenarios(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	cfg := s.config
	parallel := 1
	if p, ok := args["parallel"].(float64); ok {
		if p < 1 || p > 16 {
			return mcp.NewToolResultError("parallel must be between 1 and 16"), nil
		}
		parallel = int(p)
	}
	failFast, _ := args["fail_fast"].(bool)
	if raw, ok := args["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid timeout %q", raw)), nil
		}
		cfg.TimeoutOverride = d
	}

	scenarios, errResult := s.selectScenarios(args)
	if errResult != nil {
		return errResult, nil
	}
	if len(scenarios) == 0 {
		return mcp.NewToolResultError("No scenarios matched"), nil
	}

	var failures bytes.Buffer
	suite := &runner.Suite{
		Runner:     runner.New(s.launcher, cfg),
		Parallel:   parallel,
		FailFast:   failFast,
		Reporter:   reporting.NewQuietReporter(&failures),
		Aggregator: results.NewAggregator(results.WithMetrics(s.metrics)),
	}
	summary := suite.Run(ctx, scenarios)

	s.mu.Lock()
	s.lastResult = &summary
	s.mu.Unlock()

	jsonData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format results: %v", err)), nil
	}
	result := mcp.NewToolResultText(string(jsonData))
	if !summary.AllPassed() {
		result.Content = append(result.Content, mcp.NewTextContent(failures.String()))
	}
	return result, nil
}

// handleLastResult handles the scenario_last_result MCP tool
func (s *ScenarioServer) handleLastResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	last := s.lastResult
	s.mu.Unlock()

	if last == nil {
		return mcp.NewToolResultText("No scenarios have been run yet"), nil
	}
	jsonData, err := json.MarshalIndent(last, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// selectScenarios loads the scenarios named by the path argument (or the
// defaults) and applies the scenario and tag filters.
func (s *ScenarioServer) selectScenarios(args map[string]any) ([]*scenario.Scenario, *mcp.CallToolResult) {
	paths := s.paths
	if p, ok := args["path"].(string); ok && p != "" {
		paths = filepath.SplitList(p)
	}
	if len(paths) == 0 {
		return nil, mcp.NewToolResultError("No scenario path given")
	}

	scenarios, err := s.loader.LoadPaths(paths)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Failed to load scenarios: %v", err))
	}

	var names, tags []string
	if name, ok := args["scenario"].(string); ok && strings.TrimSpace(name) != "" {
		names = []string{strings.TrimSpace(name)}
	}
	if tag, ok := args["tag"].(string); ok && strings.TrimSpace(tag) != "" {
		tags = []string{strings.TrimSpace(tag)}
	}
	return scenario.Filter(scenarios, names, tags), nil
}
