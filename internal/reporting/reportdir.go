package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sipharness/internal/results"
	"sipharness/internal/scenario"
	"sipharness/pkg/logging"
)

// ReportDir writes a run report below a directory:
//
//	<dir>/<run-id>/summary.json
//	<dir>/<run-id>/<scenario>/<role>.log   (failing instances only)
type ReportDir struct {
	dir string

	mu    sync.Mutex
	runID string
	used  map[string]bool
	errs  []error
}

// NewReportDir creates a ReportDir rooted at dir.
func NewReportDir(dir string) *ReportDir {
	return &ReportDir{dir: dir, used: make(map[string]bool)}
}

// RunDir returns the directory of the current run.
func (r *ReportDir) RunDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filepath.Join(r.dir, r.runID)
}

// Err returns the write failures seen so far.
func (r *ReportDir) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	msgs := make([]string, len(r.errs))
	for i, e := range r.errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("report: %s", strings.Join(msgs, "; "))
}

func (r *ReportDir) ReportStart(info RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = info.RunID
	if err := os.MkdirAll(filepath.Join(r.dir, r.runID), 0o755); err != nil {
		r.errs = append(r.errs, fmt.Errorf("failed to create report directory: %w", err))
	}
}

func (r *ReportDir) ReportScenarioStart(*scenario.Scenario) {}

func (r *ReportDir) ReportScenarioSkipped(*scenario.Scenario, string) {}

func (r *ReportDir) ReportScenarioResult(s *scenario.Scenario, v *results.Verdict) {
	failing := v.Failing()
	if len(failing) == 0 {
		return
	}

	r.mu.Lock()
	dir := filepath.Join(r.dir, r.runID, unique(r.used, slug(s.Name)))
	r.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.fail(fmt.Errorf("failed to create %s: %w", dir, err))
		return
	}
	logs := make(map[string]bool)
	for _, res := range failing {
		var b strings.Builder
		fmt.Fprintf(&b, "# scenario: %s\n# %s\n", v.Scenario, describeFailure(res))
		if res.Reason != "" {
			fmt.Fprintf(&b, "# reason: %s\n", res.Reason)
		}
		if res.Exit != "" {
			fmt.Fprintf(&b, "# process: %s\n", res.Exit)
		}
		for _, line := range res.Output {
			b.WriteString(line)
			b.WriteString("\n")
		}
		file := filepath.Join(dir, unique(logs, slug(res.Role))+".log")
		if err := os.WriteFile(file, []byte(b.String()), 0o644); err != nil {
			r.fail(fmt.Errorf("failed to write %s: %w", file, err))
		}
	}
}

func (r *ReportDir) ReportSuiteResult(summary results.RunSummary) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		r.fail(fmt.Errorf("failed to marshal report to JSON: %w", err))
		return
	}
	file := filepath.Join(r.RunDir(), "summary.json")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		r.fail(fmt.Errorf("failed to write report file: %w", err))
		return
	}
	logging.Info("Report", "Report saved to %s", r.RunDir())
}

func (r *ReportDir) fail(err error) {
	logging.Error("Report", err, "Report write failed")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// unique returns base, or base with the first free numeric suffix, and
// marks the result as used.
func unique(used map[string]bool, base string) string {
	name := base
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("%s-%d", base, n)
	}
	used[name] = true
	return name
}

func slug(s string) string {
	var b strings.Builder
	lastDash := false
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '.':
			b.WriteRune(c)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "unnamed"
	}
	return out
}
