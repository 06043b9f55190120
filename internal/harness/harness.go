package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/pagegraph/internal/artifact"
	"github.com/roach88/pagegraph/internal/datastore"
	"github.com/roach88/pagegraph/internal/engine"
	"github.com/roach88/pagegraph/internal/extract"
	"github.com/roach88/pagegraph/internal/runner"
	"github.com/roach88/pagegraph/internal/schema"
	"github.com/roach88/pagegraph/internal/site"
	"github.com/roach88/pagegraph/internal/testutil"
)

// Harness drives one engine through a scenario.
type Harness struct {
	data      *datastore.Store
	out       *artifact.Memory
	exec      *testutil.CountingExecutor
	engine    *engine.Engine
	templates *templateSource
	site      *site.Site
	unwatch   func()
}

// Run executes a scenario against a fresh engine, data store and in-memory
// artifact store. Failed expectations are collected in the result; the
// error return is reserved for scenarios that cannot be executed.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.unwatch()

	ctx := context.Background()
	result := NewResult(tokenFor(scenario))

	for i, step := range scenario.Steps {
		sr, err := h.step(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Name, err)
		}
		result.Steps = append(result.Steps, sr)
		checkExpect(result, step, sr)
	}

	result.Executions = h.exec.Total()
	for _, p := range h.out.Paths() {
		data, _ := h.out.Read(p)
		result.Artifacts[p] = data
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] %s %s: %v", i, a.Type, a.Query, err))
		}
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	s, err := site.New("", scenario.Site)
	if err != nil {
		return nil, fmt.Errorf("site: %w", err)
	}

	data := datastore.New()
	exec := schema.New(data)
	h := &Harness{
		data: data,
		out:  artifact.NewMemory(),
		exec: testutil.NewCountingExecutor(exec),
		templates: &templateSource{
			files:  maps.Clone(scenario.Templates),
			schema: exec,
		},
		site: s,
	}
	if h.templates.files == nil {
		h.templates.files = make(map[string]string)
	}

	mode := runner.ModeBuild
	if scenario.Mode != "" {
		mode = runner.Mode(scenario.Mode)
	}
	h.engine = engine.New(h.exec, h.out,
		engine.WithMode(mode),
		engine.WithExtractor(h.templates),
		engine.WithTokenGenerator(testutil.NewBatchTokens(scenario.BatchToken)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	h.unwatch = h.engine.Watch(data)
	return h, nil
}

// step applies one step's mutations and drains the engine.
func (h *Harness) step(ctx context.Context, st Step) (StepResult, error) {
	if st.Declare {
		if err := h.site.Source(h.data); err != nil {
			return StepResult{}, err
		}
		h.site.Declare(h.engine)
	}

	for _, spec := range st.Upsert {
		node, err := spec.Node()
		if err != nil {
			return StepResult{}, err
		}
		if _, err := h.data.Upsert(node); err != nil {
			return StepResult{}, err
		}
	}
	for _, id := range st.Delete {
		if !h.data.Delete(id) {
			return StepResult{}, fmt.Errorf("delete %s: no such node", id)
		}
	}

	for _, spec := range st.CreatePages {
		page, err := spec.Page()
		if err != nil {
			return StepResult{}, err
		}
		h.engine.Enqueue(engine.PageCreated(page))
	}
	for _, path := range st.DeletePages {
		h.engine.Enqueue(engine.PageDeleted(path))
	}

	for _, path := range slices.Sorted(maps.Keys(st.Templates)) {
		h.templates.files[path] = st.Templates[path]
		h.engine.Enqueue(engine.TemplateChanged(path))
	}
	for _, id := range slices.Sorted(maps.Keys(st.Static)) {
		h.engine.Enqueue(engine.StaticQueryReplaced(id, st.Static[id]))
	}
	for _, id := range st.RemoveStatic {
		h.engine.Enqueue(engine.StaticQueryRemoved(id))
	}
	for _, id := range st.RemoveArtifacts {
		h.out.Remove(artifact.FileName(id))
	}

	for _, path := range st.Activate {
		h.engine.Enqueue(engine.PathActivated(path))
	}
	for _, path := range st.Deactivate {
		h.engine.Enqueue(engine.PathDeactivated(path))
	}

	report, err := h.engine.Drain(ctx)
	sr := StepResult{
		Name:      st.Name,
		Seq:       report.Seq,
		Ran:       report.Ran,
		Written:   report.Written,
		Unchanged: report.Unchanged,
		Deferred:  report.Deferred,
		Failed:    report.Failed,
		err:       err,
	}
	if err != nil {
		sr.Errors = errorLines(err)
	}
	return sr, nil
}

func checkExpect(result *Result, st Step, sr StepResult) {
	exp := st.Expect
	if exp == nil {
		exp = &Expect{}
	}

	checkList(result, st.Name, "ran", exp.Ran, sr.Ran)
	checkList(result, st.Name, "written", exp.Written, sr.Written)
	checkList(result, st.Name, "unchanged", exp.Unchanged, sr.Unchanged)
	checkList(result, st.Name, "deferred", exp.Deferred, sr.Deferred)
	checkList(result, st.Name, "failed", exp.Failed, sr.Failed)

	switch {
	case exp.Error == "" && sr.err != nil:
		result.AddError(fmt.Sprintf("step %q: unexpected error: %v", st.Name, sr.err))
	case exp.Error != "" && sr.err == nil:
		result.AddError(fmt.Sprintf("step %q: expected error containing %q", st.Name, exp.Error))
	case exp.Error != "" && !strings.Contains(sr.err.Error(), exp.Error):
		result.AddError(fmt.Sprintf("step %q: error %q does not contain %q", st.Name, sr.err, exp.Error))
	}
}

func checkList(result *Result, step, field string, want, got []string) {
	if want == nil {
		return
	}
	want = slices.Sorted(slices.Values(want))
	if !slices.Equal(want, got) {
		result.AddError(fmt.Sprintf("step %q: %s = %v, want %v", step, field, got, want))
	}
}

// errorLines summarizes a drain error as "CODE subject" per failure.
func errorLines(err error) []string {
	var be *engine.BuildError
	if !errors.As(err, &be) {
		return []string{err.Error()}
	}
	lines := make([]string, 0, len(be.Errors))
	for _, re := range be.Errors {
		subject := re.QueryID
		if subject == "" {
			subject = re.ComponentPath
		}
		lines = append(lines, string(re.Code)+" "+subject)
	}
	return lines
}

func tokenFor(s *Scenario) string {
	return testutil.NewBatchTokens(s.BatchToken).Generate()
}

// templateSource serves template sources from memory and extracts their
// queries against the root fields of the current data.
type templateSource struct {
	files  map[string]string
	schema *schema.Executor
}

func (t *templateSource) Extract(componentPath string) (string, error) {
	src, ok := t.files[componentPath]
	if !ok {
		return "", fmt.Errorf("template %s not found", componentPath)
	}
	fields := make(map[string]bool)
	for _, f := range t.schema.RootFields() {
		fields[f] = true
	}
	return extract.Source(componentPath, []byte(src), fields)
}
