package harness

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/roach88/pagegraph/internal/artifact"
	"github.com/roach88/pagegraph/internal/ir"
)

// evaluate checks one assertion against the final engine state.
func (h *Harness) evaluate(a Assertion, r *Result) error {
	switch a.Type {
	case AssertDirty:
		q, ok := h.engine.Query(a.Query)
		if !ok {
			return fmt.Errorf("query is not tracked")
		}
		if q.Dirty != *a.Count {
			return fmt.Errorf("dirty = %d, want %d", q.Dirty, *a.Count)
		}

	case AssertDependsOn:
		if !slices.Contains(h.engine.Dependencies(a.Query), dependency(a)) {
			return fmt.Errorf("missing dependency %s; have %v", describe(dependency(a)), h.engine.Dependencies(a.Query))
		}

	case AssertNoDependency:
		if slices.Contains(h.engine.Dependencies(a.Query), dependency(a)) {
			return fmt.Errorf("unexpected dependency %s", describe(dependency(a)))
		}

	case AssertUntracked:
		if _, ok := h.engine.Query(a.Query); ok {
			return fmt.Errorf("query is still tracked")
		}

	case AssertArtifact:
		name := artifact.FileName(a.Query)
		if a.Writes != nil {
			if n := h.out.Writes(name); n != *a.Writes {
				return fmt.Errorf("%s written %d times, want %d", name, n, *a.Writes)
			}
		}
		if a.Contains != "" {
			data, ok := h.out.Read(name)
			if !ok {
				return fmt.Errorf("%s does not exist", name)
			}
			if !bytes.Contains(data, []byte(a.Contains)) {
				return fmt.Errorf("%s = %s, does not contain %q", name, data, a.Contains)
			}
		}

	case AssertExecutions:
		if r.Executions != *a.Count {
			return fmt.Errorf("executions = %d, want %d", r.Executions, *a.Count)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func dependency(a Assertion) ir.Dependency {
	if a.Node != "" {
		return ir.NodeDependency(a.Node)
	}
	return ir.ConnectionDependency(a.Connection)
}

func describe(d ir.Dependency) string {
	if d.NodeID != "" {
		return "node " + d.NodeID
	}
	return "connection " + d.Connection
}
