package scenario

import (
	"fmt"
	"strings"
	"time"

	"sipharness/internal/expect"
	"sipharness/internal/instance"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of one scenario document.
type File struct {
	// Name is a human-readable label; it need not be unique.
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`

	// Timeout bounds the whole scenario run.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Vars are substituted for $NAME references in args, env and patterns.
	Vars map[string]string `yaml:"vars,omitempty"`

	Defaults  Defaults       `yaml:"defaults,omitempty"`
	Instances []InstanceFile `yaml:"instances"`

	// Expects holds tracks in the index-based layout: [instance, pattern, send].
	Expects []ExpectEntry `yaml:"expects,omitempty"`
}

// Defaults apply to every instance that does not set its own value.
type Defaults struct {
	Executable   string        `yaml:"executable,omitempty"`
	Quit         string        `yaml:"quit,omitempty"`
	EventTimeout time.Duration `yaml:"event_timeout,omitempty"`
	StartupDelay time.Duration `yaml:"startup_delay,omitempty"`
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`
	StopGrace    time.Duration `yaml:"stop_grace,omitempty"`
}

// InstanceFile is the on-disk form of one instance.
type InstanceFile struct {
	Role         string            `yaml:"role"`
	Executable   string            `yaml:"executable,omitempty"`
	Args         Args              `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Dir          string            `yaml:"dir,omitempty"`
	Ready        string            `yaml:"ready,omitempty"`
	ReadyTimeout time.Duration     `yaml:"ready_timeout,omitempty"`
	StartupDelay time.Duration     `yaml:"startup_delay,omitempty"`
	StopGrace    time.Duration     `yaml:"stop_grace,omitempty"`
	Quit         string            `yaml:"quit,omitempty"`
	Expect       []EventFile       `yaml:"expect,omitempty"`
}

// EventFile is the on-disk form of one expected event.
type EventFile struct {
	Name     string        `yaml:"name,omitempty"`
	Match    string        `yaml:"match"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Optional bool          `yaml:"optional,omitempty"`
	Send     string        `yaml:"send,omitempty"`
}

// Args accepts either a single shell-style string or a list of arguments.
type Args struct {
	Raw    string
	List   []string
	IsList bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Args) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		a.Raw = node.Value
		a.IsList = false
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		a.List = list
		a.IsList = true
		return nil
	default:
		return fmt.Errorf("line %d: args must be a string or a list of strings", node.Line)
	}
}

// ExpectEntry is one index-based expectation. It is written either as a
// sequence [instance, pattern] / [instance, pattern, send] or as a mapping.
type ExpectEntry struct {
	Instance int           `yaml:"instance"`
	Name     string        `yaml:"name,omitempty"`
	Match    string        `yaml:"match"`
	Send     string        `yaml:"send,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Optional bool          `yaml:"optional,omitempty"`
}

var expectEntryFields = map[string]bool{
	"instance": true,
	"name":     true,
	"match":    true,
	"send":     true,
	"timeout":  true,
	"optional": true,
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *ExpectEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		if len(node.Content) < 2 || len(node.Content) > 3 {
			return fmt.Errorf("line %d: expects entry needs [instance, pattern] or [instance, pattern, send]", node.Line)
		}
		if err := node.Content[0].Decode(&e.Instance); err != nil {
			return fmt.Errorf("line %d: instance index: %w", node.Line, err)
		}
		if err := node.Content[1].Decode(&e.Match); err != nil {
			return fmt.Errorf("line %d: pattern: %w", node.Line, err)
		}
		if len(node.Content) == 3 {
			if err := node.Content[2].Decode(&e.Send); err != nil {
				return fmt.Errorf("line %d: send: %w", node.Line, err)
			}
		}
		return nil
	case yaml.MappingNode:
		// Decode does not inherit KnownFields, so keys are checked here.
		for i := 0; i+1 < len(node.Content); i += 2 {
			k := node.Content[i]
			if !expectEntryFields[k.Value] {
				return fmt.Errorf("line %d: unknown field %q in expects entry", k.Line, k.Value)
			}
		}
		type plain ExpectEntry
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*e = ExpectEntry(p)
		return nil
	default:
		return fmt.Errorf("line %d: expects entry must be a list or a mapping", node.Line)
	}
}

// Scenario is a validated scenario ready to run.
type Scenario struct {
	Name        string
	Description string
	Tags        []string
	// Path is the file the scenario was loaded from.
	Path      string
	Timeout   time.Duration
	Instances []InstanceSpec
}

// InstanceSpec is a validated instance.
type InstanceSpec struct {
	Launch instance.Spec
	// Ready gates the start of the next instance. Zero means no pattern.
	Ready        expect.Pattern
	ReadyTimeout time.Duration
	StartupDelay time.Duration
	StopGrace    time.Duration
	Events       []expect.Event
}

// Role returns the instance's role name.
func (s InstanceSpec) Role() string { return s.Launch.Role }

// HasReady reports whether a readiness pattern was declared.
func (s InstanceSpec) HasReady() bool { return !s.Ready.IsZero() }

// Roles returns the role names in declared order.
func (s *Scenario) Roles() []string {
	roles := make([]string, len(s.Instances))
	for i, inst := range s.Instances {
		roles[i] = inst.Role()
	}
	return roles
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// ValidationError lists every problem found in a scenario file.
type ValidationError struct {
	Path     string
	Scenario string
	Problems []string
}

func (e *ValidationError) Error() string {
	where := e.Path
	if e.Scenario != "" {
		where = fmt.Sprintf("%s (%s)", e.Path, e.Scenario)
	}
	return fmt.Sprintf("invalid scenario %s: %s", where, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}
