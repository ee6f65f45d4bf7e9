package simulator

import (
	"fmt"
	"slices"

	"github.com/goccy/go-yaml"
	assets "github.com/haatos/runbatch"
	"github.com/haatos/runbatch/internal/store"
	"github.com/haatos/runbatch/internal/util"
)

type TestDef struct {
	Name       string `yaml:"name"`
	DurationMs int64  `yaml:"duration_ms"`
	// Outcome is "fail" for a failing test; anything else passes.
	Outcome string `yaml:"outcome"`
	// Flaky tests fail only on their first attempt.
	Flaky bool `yaml:"flaky"`
}

// StatusFor returns the simulated status of the given attempt, counting
// from 1.
func (td TestDef) StatusFor(attempt int64) store.TestStatus {
	if td.Outcome != "fail" {
		return store.TestPassed
	}
	if td.Flaky && attempt > 1 {
		return store.TestPassed
	}
	return store.TestFailed
}

type Target struct {
	Name     string    `yaml:"name"`
	Versions []string  `yaml:"versions"`
	Tests    []TestDef `yaml:"tests"`
}

func (t *Target) TestNames() []string {
	names := make([]string, 0, len(t.Tests))
	for _, td := range t.Tests {
		names = append(names, td.Name)
	}
	return names
}

func (t *Target) Test(name string) (TestDef, bool) {
	for _, td := range t.Tests {
		if td.Name == name {
			return td, true
		}
	}
	return TestDef{}, false
}

// Suite is the set of mock targets a simulator can run.
type Suite struct {
	Targets []Target `yaml:"targets"`
}

func ParseSuite(b []byte) (*Suite, error) {
	s := new(Suite)
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("err parsing targets: %w", err)
	}

	seen := make(map[string]bool)
	for _, t := range s.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target without a name")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Name] = true
		if len(t.Tests) == 0 {
			return nil, fmt.Errorf("target %q has no tests", t.Name)
		}
		tests := make(map[string]bool)
		for _, td := range t.Tests {
			if td.Name == "" || tests[td.Name] {
				return nil, fmt.Errorf("target %q has an empty or duplicate test name", t.Name)
			}
			tests[td.Name] = true
		}
	}
	return s, nil
}

// LoadSuite reads the suite at path, or the embedded default suite when
// path is empty.
func LoadSuite(path string) (*Suite, error) {
	b, err := util.ReadFileOrDefault(path, assets.DefaultTargets)
	if err != nil {
		return nil, err
	}
	return ParseSuite(b)
}

// Lookup returns the target for name at version. An empty version matches
// any target.
func (s *Suite) Lookup(name, version string) (*Target, error) {
	for i := range s.Targets {
		t := &s.Targets[i]
		if t.Name != name {
			continue
		}
		if version != "" && len(t.Versions) > 0 && !slices.Contains(t.Versions, version) {
			return nil, &UnknownTargetError{Target: name, Version: version}
		}
		return t, nil
	}
	return nil, &UnknownTargetError{Target: name}
}
