package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pagegraph/internal/runner"
	"github.com/roach88/pagegraph/internal/site"
)

// Scenario is one end-to-end engine test.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Mode is "build" (default) or "develop".
	Mode string `yaml:"mode,omitempty"`

	// BatchToken is the token every batch reports.
	BatchToken string `yaml:"batch_token,omitempty"`

	// Templates maps component paths to template source.
	Templates map[string]string `yaml:"templates"`

	// Site is sourced and declared by a step with declare: true.
	Site site.File `yaml:"site"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one batch. Mutations are applied in field order, then the engine
// is drained.
type Step struct {
	Name string `yaml:"name"`

	// Declare sources the site's nodes and declares its pages and static
	// queries, followed by the end of bootstrap.
	Declare bool `yaml:"declare,omitempty"`

	Upsert          []site.NodeSpec   `yaml:"upsert,omitempty"`
	Delete          []string          `yaml:"delete,omitempty"`
	CreatePages     []site.PageSpec   `yaml:"create_pages,omitempty"`
	DeletePages     []string          `yaml:"delete_pages,omitempty"`
	Templates       map[string]string `yaml:"templates,omitempty"`
	Static          map[string]string `yaml:"static,omitempty"`
	RemoveStatic    []string          `yaml:"remove_static,omitempty"`
	RemoveArtifacts []string          `yaml:"remove_artifacts,omitempty"`
	Activate        []string          `yaml:"activate,omitempty"`
	Deactivate      []string          `yaml:"deactivate,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is matched against the batch report. Lists are compared as sorted
// sets. Error is a substring of the drain error; empty means no error.
type Expect struct {
	Ran       []string `yaml:"ran,omitempty"`
	Written   []string `yaml:"written,omitempty"`
	Unchanged []string `yaml:"unchanged,omitempty"`
	Deferred  []string `yaml:"deferred,omitempty"`
	Failed    []string `yaml:"failed,omitempty"`
	Error     string   `yaml:"error,omitempty"`
}

// Assertion checks the engine state after the last step.
type Assertion struct {
	Type       string `yaml:"type"`
	Query      string `yaml:"query,omitempty"`
	Node       string `yaml:"node,omitempty"`
	Connection string `yaml:"connection,omitempty"`
	Contains   string `yaml:"contains,omitempty"`
	Count      *int   `yaml:"count,omitempty"`
	Writes     *int   `yaml:"writes,omitempty"`
}

// Assertion type constants.
const (
	AssertDirty        = "dirty"
	AssertDependsOn    = "depends_on"
	AssertNoDependency = "no_dependency"
	AssertUntracked    = "untracked"
	AssertArtifact     = "artifact"
	AssertExecutions   = "executions"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch runner.Mode(s.Mode) {
	case "", runner.ModeBuild, runner.ModeDevelop:
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if _, err := site.New("", s.Site); err != nil {
		return fmt.Errorf("site: %w", err)
	}

	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		for j, n := range step.Upsert {
			if n.ID == "" || n.Type == "" {
				return fmt.Errorf("steps[%d].upsert[%d]: id and type are required", i, j)
			}
		}
		for j, p := range step.CreatePages {
			if p.Path == "" || p.Component == "" {
				return fmt.Errorf("steps[%d].create_pages[%d]: path and component are required", i, j)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDirty:
		if a.Query == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: query and count are required for dirty", index)
		}
	case AssertDependsOn, AssertNoDependency:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for %s", index, a.Type)
		}
		if (a.Node == "") == (a.Connection == "") {
			return fmt.Errorf("assertions[%d]: exactly one of node and connection is required for %s", index, a.Type)
		}
	case AssertUntracked:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for untracked", index)
		}
	case AssertArtifact:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for artifact", index)
		}
		if a.Writes == nil && a.Contains == "" {
			return fmt.Errorf("assertions[%d]: writes or contains is required for artifact", index)
		}
	case AssertExecutions:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for executions", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
