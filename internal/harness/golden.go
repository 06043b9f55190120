package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pagegraph/internal/ir"
)

// Snapshot is the deterministic record of a scenario run: every step
// report and the final content of every artifact.
type Snapshot struct {
	ScenarioName string
	BatchToken   string
	Steps        []StepResult
	Artifacts    map[string][]byte
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// handles IR values and plain maps and slices. Empty step lists are left out.
func (s *Snapshot) toCanonicalMap() (map[string]any, error) {
	steps := make([]any, len(s.Steps))
	for i, st := range s.Steps {
		m := map[string]any{
			"name": st.Name,
			"seq":  st.Seq,
		}
		for key, list := range map[string][]string{
			"ran":       st.Ran,
			"written":   st.Written,
			"unchanged": st.Unchanged,
			"deferred":  st.Deferred,
			"failed":    st.Failed,
			"errors":    st.Errors,
		} {
			if len(list) > 0 {
				m[key] = stringList(list)
			}
		}
		steps[i] = m
	}

	artifacts := make(map[string]any, len(s.Artifacts))
	for _, name := range slices.Sorted(maps.Keys(s.Artifacts)) {
		v, err := ir.Unmarshal(s.Artifacts[name])
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", name, err)
		}
		artifacts[name] = v
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"batch_token":   s.BatchToken,
		"steps":         steps,
		"artifacts":     artifacts,
	}, nil
}

// Marshal renders the snapshot as canonical JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	m, err := s.toCanonicalMap()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(m)
}

func stringList(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot run or any expectation failed.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed:\n%s", scenario.Name, strings.Join(result.Errors, "\n"))
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with the golden file for name.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{
		ScenarioName: name,
		BatchToken:   result.BatchToken,
		Steps:        result.Steps,
		Artifacts:    result.Artifacts,
	}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
