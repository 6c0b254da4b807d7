package reporting

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sipharness/internal/results"
	"sipharness/internal/scenario"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func iceVerdict() *results.Verdict {
	v := results.NewVerdict("Callee=use ICE, caller=use ICE", "scenarios/305_ice.yaml", []string{"callee", "caller"}, start)
	v.Set(results.InstanceResult{
		Role:       "callee",
		Outcome:    results.OutcomeTimedOut,
		Kind:       results.KindEventTimeout,
		EventIndex: 0,
		Pattern:    "Call * state changed to CONFIRMED",
		Total:      1,
		Reason:     "event 0 (Call * state changed to CONFIRMED): timeout after 5s",
		Output:     []string{"Ready: listening on udp 127.0.0.1:5070", "Call 0 state changed to CALLING"},
	})
	v.Set(results.InstanceResult{Role: "caller", Outcome: results.OutcomePassed, EventIndex: results.NoEvent, Matched: 1, Total: 1})
	v.Finalize(start.Add(5 * time.Second))
	return v
}

func passingVerdict() *results.Verdict {
	v := results.NewVerdict("ok", "scenarios/ok.yaml", []string{"callee"}, start)
	v.Set(results.InstanceResult{Role: "callee", Outcome: results.OutcomePassed, EventIndex: results.NoEvent, Matched: 1, Total: 1})
	v.Finalize(start.Add(time.Second))
	return v
}

func holdVerdict() *results.Verdict {
	v := results.NewVerdict("hold", "", []string{"caller"}, start)
	v.Set(results.InstanceResult{
		Role:       "caller",
		Outcome:    results.OutcomeFailed,
		Kind:       results.KindLaunchFailure,
		EventIndex: results.NoEvent,
		Total:      2,
		Reason:     `failed to launch caller (pjsua): exec: "pjsua": executable file not found in $PATH`,
	})
	v.Errors = append(v.Errors, "process callee (PID 4242) did not terminate after SIGKILL")
	v.Finalize(start)
	return v
}

func TestWriteFailures_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFailures(&buf, []*results.Verdict{iceVerdict(), passingVerdict(), holdVerdict()}))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "failures", buf.Bytes())
}

func TestExcerpt(t *testing.T) {
	lines := []string{"a", "b", "c", strings.Repeat("x", 20), "通话已建立通话已建立"}

	out := excerpt(lines, 2, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "xxxxxxxxx…", out[0])
	assert.Equal(t, "通话已建…", out[1])
}

func TestConsoleReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, true)
	s := &scenario.Scenario{Name: "Callee=use ICE, caller=use ICE", Description: "ICE", Tags: []string{"ice"}}

	r.ReportStart(RunInfo{RunID: "run-1", Scenarios: 1, Parallel: 2})
	r.ReportScenarioStart(s)
	r.ReportScenarioResult(s, iceVerdict())

	agg := results.NewAggregator(results.WithRunID("run-1"))
	agg.Record(s.Name, iceVerdict())
	r.ReportSuiteResult(agg.Summary())

	out := buf.String()
	assert.Contains(t, out, "Run ID: run-1")
	assert.Contains(t, out, "Starting scenario: Callee=use ICE, caller=use ICE")
	assert.Contains(t, out, "callee: TIMED_OUT EventTimeout event=0")
	assert.Contains(t, out, "│ Call 0 state changed to CALLING")
	assert.Contains(t, out, "Failing scenarios:")
	assert.Contains(t, out, "FAIL Callee=use ICE, caller=use ICE")
}

func TestQuietReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewQuietReporter(&buf)
	s := &scenario.Scenario{Name: "ok"}

	r.ReportStart(RunInfo{})
	r.ReportScenarioStart(s)
	r.ReportScenarioResult(s, passingVerdict())
	assert.Empty(t, buf.String())

	r.ReportScenarioResult(s, holdVerdict())
	assert.Contains(t, buf.String(), "FAIL hold")

	buf.Reset()
	agg := results.NewAggregator()
	agg.Record("ok", passingVerdict())
	r.ReportSuiteResult(agg.Summary())
	assert.Equal(t, "✅ All 1 scenarios passed\n", buf.String())
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf)

	agg := results.NewAggregator(results.WithRunID("run-7"))
	agg.Record("Callee=use ICE, caller=use ICE", iceVerdict())
	r.ReportSuiteResult(agg.Summary())

	var decoded struct {
		RunID    string `json:"run_id"`
		Failed   int    `json:"failed"`
		Verdicts []struct {
			Scenario  string `json:"scenario"`
			Instances map[string]struct {
				Kind       string   `json:"kind"`
				EventIndex int      `json:"event_index"`
				Output     []string `json:"output"`
			} `json:"instances"`
		} `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-7", decoded.RunID)
	assert.Equal(t, 1, decoded.Failed)
	require.Len(t, decoded.Verdicts, 1)
	callee := decoded.Verdicts[0].Instances["callee"]
	assert.Equal(t, "EventTimeout", callee.Kind)
	assert.Equal(t, 0, callee.EventIndex)
	assert.Empty(t, callee.Output)
}

func TestNew(t *testing.T) {
	for _, format := range []string{"", "console", "quiet", "json"} {
		r, err := New(format, &bytes.Buffer{}, false)
		require.NoError(t, err, format)
		assert.NotNil(t, r)
	}
	_, err := New("xml", &bytes.Buffer{}, false)
	assert.Error(t, err)
}

func TestReportDir(t *testing.T) {
	root := t.TempDir()
	rd := NewReportDir(root)
	r := Multi(rd, nil)

	s := &scenario.Scenario{Name: "Callee=use ICE, caller=use ICE"}
	r.ReportStart(RunInfo{RunID: "run-1"})
	r.ReportScenarioResult(s, iceVerdict())
	r.ReportScenarioResult(s, iceVerdict())
	r.ReportScenarioResult(&scenario.Scenario{Name: "ok"}, passingVerdict())

	agg := results.NewAggregator(results.WithRunID("run-1"))
	agg.Record(s.Name, iceVerdict())
	r.ReportSuiteResult(agg.Summary())
	require.NoError(t, rd.Err())

	runDir := filepath.Join(root, "run-1")
	assert.Equal(t, runDir, rd.RunDir())

	log, err := os.ReadFile(filepath.Join(runDir, "callee-use-ice-caller-use-ice", "callee.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "# callee: TIMED_OUT EventTimeout")
	assert.Contains(t, string(log), "Call 0 state changed to CALLING\n")

	assert.FileExists(t, filepath.Join(runDir, "callee-use-ice-caller-use-ice-2", "callee.log"))
	assert.NoFileExists(t, filepath.Join(runDir, "callee-use-ice-caller-use-ice", "caller.log"))
	assert.NoDirExists(t, filepath.Join(runDir, "ok"))

	summary, err := os.ReadFile(filepath.Join(runDir, "summary.json"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), `"run_id": "run-1"`)
}

func TestReportDir_CollidingNames(t *testing.T) {
	root := t.TempDir()
	rd := NewReportDir(root)
	rd.ReportStart(RunInfo{RunID: "run-1"})

	v := results.NewVerdict("a b", "", []string{"a b", "a-b", "A B"}, start)
	for _, role := range v.Roles {
		v.Set(results.InstanceResult{
			Role:       role,
			Outcome:    results.OutcomeFailed,
			Kind:       results.KindStreamFailure,
			EventIndex: 0,
			Output:     []string{"output of " + role},
		})
	}
	v.Finalize(start)

	rd.ReportScenarioResult(&scenario.Scenario{Name: "a b"}, v)
	rd.ReportScenarioResult(&scenario.Scenario{Name: "a-b-2"}, v)
	rd.ReportScenarioResult(&scenario.Scenario{Name: "a-b"}, v)
	require.NoError(t, rd.Err())

	runDir := filepath.Join(root, "run-1")
	for _, dir := range []string{"a-b", "a-b-2", "a-b-3"} {
		assert.DirExists(t, filepath.Join(runDir, dir))
	}

	want := map[string]string{"a-b.log": "a b", "a-b-2.log": "a-b", "a-b-3.log": "A B"}
	for file, role := range want {
		data, err := os.ReadFile(filepath.Join(runDir, "a-b", file))
		require.NoError(t, err, file)
		assert.Contains(t, string(data), "output of "+role+"\n", file)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Callee=use ICE, caller=use ICE": "callee-use-ice-caller-use-ice",
		"305_ice_comp_1_2":               "305_ice_comp_1_2",
		"../../etc":                      "etc",
		"":                               "unnamed",
	}
	for in, want := range tests {
		assert.Equal(t, want, slug(in), in)
	}
}
