package results

import (
	"time"
)

// Outcome is the result of one instance.
type Outcome string

const (
	OutcomePassed   Outcome = "PASSED"
	OutcomeFailed   Outcome = "FAILED"
	OutcomeTimedOut Outcome = "TIMED_OUT"
)

// FailureKind classifies why an instance did not pass.
type FailureKind string

const (
	KindNone            FailureKind = ""
	KindLaunchFailure   FailureKind = "LaunchFailure"
	KindStreamFailure   FailureKind = "StreamFailure"
	KindEventTimeout    FailureKind = "EventTimeout"
	KindEventMismatch   FailureKind = "EventMismatch"
	KindScenarioTimeout FailureKind = "ScenarioTimeout"
	KindTeardownFailure FailureKind = "TeardownFailure"
	KindNotReady        FailureKind = "NotReady"
	KindCancelled       FailureKind = "Cancelled"
)

// NoEvent is used as EventIndex when a failure is not tied to an event.
const NoEvent = -1

// InstanceResult is the outcome for one role of a scenario.
type InstanceResult struct {
	Role    string      `json:"role"`
	Outcome Outcome     `json:"outcome"`
	Kind    FailureKind `json:"kind,omitempty"`
	Reason  string      `json:"reason,omitempty"`

	// EventIndex is the expected event that failed, or NoEvent.
	EventIndex int    `json:"event_index"`
	Pattern    string `json:"pattern,omitempty"`

	// Matched counts events resolved (matched or skipped) out of Total.
	Matched int `json:"matched"`
	Total   int `json:"total"`

	Exit     string        `json:"exit,omitempty"`
	Duration time.Duration `json:"duration"`

	// Output holds the last lines of a failing instance. Passing instances
	// never keep output.
	Output []string `json:"output,omitempty"`
}

// Passed reports whether the instance passed.
func (r InstanceResult) Passed() bool { return r.Outcome == OutcomePassed }

// Verdict is the outcome of one scenario run.
type Verdict struct {
	Scenario string `json:"scenario"`
	Path     string `json:"path,omitempty"`

	// Roles lists instance roles in declared order.
	Roles     []string                  `json:"roles"`
	Instances map[string]InstanceResult `json:"instances"`

	Passed bool `json:"passed"`
	// Errors are scenario-level problems such as teardown failures.
	Errors []string `json:"errors,omitempty"`

	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}

// NewVerdict creates an empty verdict for the given roles.
func NewVerdict(scenario, path string, roles []string, start time.Time) *Verdict {
	return &Verdict{
		Scenario:  scenario,
		Path:      path,
		Roles:     append([]string(nil), roles...),
		Instances: make(map[string]InstanceResult, len(roles)),
		StartTime: start,
	}
}

// Set records the result for a role.
func (v *Verdict) Set(r InstanceResult) {
	v.Instances[r.Role] = r
}

// Finalize computes Passed: every declared role has a PASSED result and no
// scenario-level error was recorded.
func (v *Verdict) Finalize(end time.Time) {
	v.Duration = end.Sub(v.StartTime)
	v.Passed = len(v.Errors) == 0 && len(v.Roles) > 0
	for _, role := range v.Roles {
		r, ok := v.Instances[role]
		if !ok || !r.Passed() {
			v.Passed = false
		}
	}
}

// Failing returns the non-passing results in declared role order.
func (v *Verdict) Failing() []InstanceResult {
	var out []InstanceResult
	for _, role := range v.Roles {
		if r, ok := v.Instances[role]; ok && !r.Passed() {
			out = append(out, r)
		}
	}
	return out
}

// Ordered returns every result in declared role order.
func (v *Verdict) Ordered() []InstanceResult {
	out := make([]InstanceResult, 0, len(v.Roles))
	for _, role := range v.Roles {
		if r, ok := v.Instances[role]; ok {
			out = append(out, r)
		}
	}
	return out
}

// WithoutOutput returns a copy of v with captured output removed.
func (v *Verdict) WithoutOutput() *Verdict {
	c := *v
	c.Roles = append([]string(nil), v.Roles...)
	c.Errors = append([]string(nil), v.Errors...)
	c.Instances = make(map[string]InstanceResult, len(v.Instances))
	for k, r := range v.Instances {
		r.Output = nil
		c.Instances[k] = r
	}
	return &c
}
