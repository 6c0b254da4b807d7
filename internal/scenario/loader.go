package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"sipharness/internal/expect"
	"sipharness/internal/instance"
	"sipharness/pkg/logging"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// SelfEndpoint as an executable runs the harness's own stub endpoint.
const SelfEndpoint = "@endpoint"

// Loader turns scenario files into validated scenarios.
type Loader struct {
	// Defaults fill values neither the instance nor the file sets.
	Defaults Defaults
	// SelfExecutable replaces SelfEndpoint; it is usually os.Executable().
	SelfExecutable string
	// LookupEnv resolves $NAME references not declared in vars.
	LookupEnv func(string) (string, bool)
}

// NewLoader returns a Loader that falls back to the process environment.
func NewLoader(defaults Defaults) *Loader {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	return &Loader{Defaults: defaults, SelfExecutable: self, LookupEnv: os.LookupEnv}
}

// LoadFile reads every scenario document in a YAML file. Documents are
// separated by "---".
func (l *Loader) LoadFile(file string) ([]*Scenario, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return l.Parse(file, data)
}

// Parse decodes and validates scenario documents from data.
func (l *Loader) Parse(file string, data []byte) ([]*Scenario, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var scenarios []*Scenario
	for {
		var f File
		err := decoder.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		s, err := l.Build(file, &f)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	if len(scenarios) == 0 {
		return nil, &ValidationError{Path: file, Problems: []string{"no scenario documents"}}
	}
	logging.Debug("Loader", "Loaded %d scenario(s) from %s", len(scenarios), file)
	return scenarios, nil
}

// Build validates f and resolves it into a Scenario. Every problem is
// collected into a single *ValidationError.
func (l *Loader) Build(file string, f *File) (*Scenario, error) {
	verr := &ValidationError{Path: file, Scenario: f.Name}
	expand := l.expander(f.Vars, verr)

	if strings.TrimSpace(f.Name) == "" {
		verr.add("name is required")
	}
	if len(f.Instances) == 0 {
		verr.add("at least one instance is required")
	}
	if f.Timeout < 0 {
		verr.add("timeout must not be negative")
	}

	defaults := mergeDefaults(l.Defaults, f.Defaults)
	s := &Scenario{
		Name:        f.Name,
		Description: f.Description,
		Tags:        f.Tags,
		Path:        file,
		Timeout:     f.Timeout,
	}

	roles := make(map[string]int)
	for i, inf := range f.Instances {
		spec := l.buildInstance(i, inf, defaults, expand, verr)
		if spec.Role() != "" {
			if prev, dup := roles[spec.Role()]; dup {
				verr.add("instances[%d]: role %q already used by instances[%d]", i, spec.Role(), prev)
			}
			roles[spec.Role()] = i
		}
		s.Instances = append(s.Instances, spec)
	}

	for i, entry := range f.Expects {
		if entry.Instance < 0 || entry.Instance >= len(s.Instances) {
			verr.add("expects[%d]: instance index %d out of range", i, entry.Instance)
			continue
		}
		ev, ok := buildEvent(fmt.Sprintf("expects[%d]", i), EventFile{
			Name:     entry.Name,
			Match:    entry.Match,
			Timeout:  entry.Timeout,
			Optional: entry.Optional,
			Send:     entry.Send,
		}, defaults, expand, verr)
		if ok {
			s.Instances[entry.Instance].Events = append(s.Instances[entry.Instance].Events, ev)
		}
	}

	if len(verr.Problems) > 0 {
		return nil, verr
	}
	return s, nil
}

func (l *Loader) buildInstance(i int, inf InstanceFile, defaults Defaults, expand func(string) string, verr *ValidationError) InstanceSpec {
	where := fmt.Sprintf("instances[%d]", i)
	role := strings.TrimSpace(inf.Role)
	if role == "" {
		verr.add("%s: role is required", where)
	}

	var args []string
	if inf.Args.IsList {
		for _, a := range inf.Args.List {
			args = append(args, expand(a))
		}
	} else if inf.Args.Raw != "" {
		split, err := shlex.Split(inf.Args.Raw)
		if err != nil {
			verr.add("%s: args: %v", where, err)
		}
		for _, a := range split {
			args = append(args, expand(a))
		}
	}

	exe := firstNonEmpty(inf.Executable, defaults.Executable)
	if exe == "" {
		verr.add("%s: no executable (set executable or defaults.executable)", where)
	}
	if exe == SelfEndpoint {
		exe = l.SelfExecutable
		args = append([]string{"endpoint"}, args...)
	}

	var env map[string]string
	if len(inf.Env) > 0 {
		env = make(map[string]string, len(inf.Env))
		for k, v := range inf.Env {
			env[k] = expand(v)
		}
	}

	spec := InstanceSpec{
		Launch: instance.Spec{
			Role:       role,
			Executable: exe,
			Args:       args,
			Env:        env,
			Dir:        inf.Dir,
			Quit:       firstNonEmpty(inf.Quit, defaults.Quit),
		},
		ReadyTimeout: firstPositive(inf.ReadyTimeout, defaults.ReadyTimeout),
		StartupDelay: firstPositive(inf.StartupDelay, defaults.StartupDelay),
		StopGrace:    firstPositive(inf.StopGrace, defaults.StopGrace),
	}
	if inf.ReadyTimeout < 0 || inf.StartupDelay < 0 || inf.StopGrace < 0 {
		verr.add("%s: durations must not be negative", where)
	}

	if inf.Ready != "" {
		p, err := expect.ParsePattern(expandPattern(inf.Ready, expand))
		if err != nil {
			verr.add("%s.ready: %v", where, err)
		} else {
			spec.Ready = p
		}
	}

	for j, ef := range inf.Expect {
		if ev, ok := buildEvent(fmt.Sprintf("%s.expect[%d]", where, j), ef, defaults, expand, verr); ok {
			spec.Events = append(spec.Events, ev)
		}
	}
	return spec
}

func buildEvent(where string, ef EventFile, defaults Defaults, expand func(string) string, verr *ValidationError) (expect.Event, bool) {
	if ef.Match == "" {
		verr.add("%s: match is required", where)
		return expect.Event{}, false
	}
	if ef.Timeout < 0 {
		verr.add("%s: timeout must not be negative", where)
		return expect.Event{}, false
	}
	p, err := expect.ParsePattern(expandPattern(ef.Match, expand))
	if err != nil {
		verr.add("%s: %v", where, err)
		return expect.Event{}, false
	}
	return expect.Event{
		Name:     ef.Name,
		Pattern:  p,
		Timeout:  firstPositive(ef.Timeout, defaults.EventTimeout),
		Required: !ef.Optional,
		Send:     ef.Send,
	}, true
}

// expander resolves $NAME and ${NAME} from vars, then the environment.
// Undefined names are reported once each.
func (l *Loader) expander(vars map[string]string, verr *ValidationError) func(string) string {
	reported := make(map[string]bool)
	return func(s string) string {
		if !strings.Contains(s, "$") {
			return s
		}
		return os.Expand(s, func(name string) string {
			if name == "$" {
				return "$"
			}
			if v, ok := vars[name]; ok {
				return v
			}
			if l.LookupEnv != nil {
				if v, ok := l.LookupEnv(name); ok {
					return v
				}
			}
			if !reported[name] {
				reported[name] = true
				verr.add("undefined variable $%s", name)
			}
			return ""
		})
	}
}

// expandPattern leaves regular expressions alone since "$" is an anchor there.
func expandPattern(s string, expand func(string) string) string {
	if strings.HasPrefix(s, expect.RegexpPrefix) {
		return s
	}
	return expand(s)
}

func mergeDefaults(base, override Defaults) Defaults {
	return Defaults{
		Executable:   firstNonEmpty(override.Executable, base.Executable),
		Quit:         firstNonEmpty(override.Quit, base.Quit),
		EventTimeout: firstPositive(override.EventTimeout, base.EventTimeout),
		StartupDelay: firstPositive(override.StartupDelay, base.StartupDelay),
		ReadyTimeout: firstPositive(override.ReadyTimeout, base.ReadyTimeout),
		StopGrace:    firstPositive(override.StopGrace, base.StopGrace),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive[T ~int64](values ...T) T {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// LoadPaths loads every scenario from the given files and directories.
// Directories are searched recursively for *.yaml and *.yml files. All files
// are attempted; the returned error joins every failure.
func (l *Loader) LoadPaths(paths []string) ([]*Scenario, error) {
	files, err := collectFiles(paths)
	if err != nil {
		return nil, err
	}

	var all []*Scenario
	var errs []error
	for _, f := range files {
		scenarios, err := l.LoadFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, scenarios...)
	}
	return all, errors.Join(errs...)
}

func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario path %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(file string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(file)) {
			case ".yaml", ".yml":
				found = append(found, file)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// Filter keeps scenarios whose name matches one of names (exact or glob)
// and that carry at least one of tags. Empty lists do not filter.
func Filter(scenarios []*Scenario, names, tags []string) []*Scenario {
	var out []*Scenario
	for _, s := range scenarios {
		if len(names) > 0 && !matchesAnyName(s.Name, names) {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(s, tags) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func matchesAnyName(name string, patterns []string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func hasAnyTag(s *Scenario, tags []string) bool {
	for _, t := range tags {
		if s.HasTag(t) {
			return true
		}
	}
	return false
}
