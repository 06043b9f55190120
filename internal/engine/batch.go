package engine

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/pagegraph/internal/chunk"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/runner"
)

// Report summarizes one batch. Every list is sorted.
type Report struct {
	Token string
	Seq   int64

	// Ran lists queries that succeeded.
	Ran []string
	// Written lists succeeded queries whose artifact was written.
	Written []string
	// Unchanged lists succeeded queries whose result hash did not change.
	Unchanged []string
	// Deferred lists dirty pages held back because no client is viewing them.
	Deferred []string
	// Failed lists queries that ended in a failed state.
	Failed []string

	Duration time.Duration
}

// flush runs one batch.
func (e *Engine) flush(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Token: e.tokens.Generate(), Seq: e.seq.next()}
	logger := e.logger.With("batch", report.Token, "seq", report.Seq)

	events := e.takePending()
	for _, id := range e.dirty.Affected(events) {
		e.tracker.MarkDirty(id)
	}

	ids := e.candidates()
	ids = e.gate(ids, &report)

	// Shared chunk outcomes are valid for one data generation only.
	e.registry.Reset()

	jobs, invalid := e.plan(ids)
	outcomes := append(invalid, e.runner.RunBatch(ctx, jobs)...)
	slices.SortFunc(outcomes, func(a, b runner.Outcome) int {
		return strings.Compare(a.ID, b.ID)
	})

	var failures []*RuntimeError
	for _, out := range outcomes {
		delete(e.queued, out.ID)
		// Failed queries keep no edges and stay dirty, so the next batch retries them.
		e.tracker.ClearDependencies(out.ID)

		if out.Failed() {
			report.Failed = append(report.Failed, out.ID)
			failures = append(failures, outcomeError(out))
			continue
		}

		for _, dep := range out.Dependencies {
			e.tracker.RecordDependency(out.ID, dep)
		}
		if len(out.Dependencies) == 0 {
			e.dirty.NeverRun([]string{out.ID})
		}
		e.tracker.MarkRan(out.ID)
		delete(e.invalidated, out.ID)

		report.Ran = append(report.Ran, out.ID)
		if out.Written {
			report.Written = append(report.Written, out.ID)
		} else {
			report.Unchanged = append(report.Unchanged, out.ID)
		}
	}

	e.stale = false
	report.Duration = time.Since(start)
	e.metrics.BatchesTotal.Inc()
	e.metrics.DirtyQueries.Set(float64(len(e.tracker.DirtyIDs())))

	logger.Info("batch finished",
		"events", len(events),
		"ran", len(report.Ran),
		"written", len(report.Written),
		"deferred", len(report.Deferred),
		"failed", len(report.Failed),
		"duration", report.Duration,
	)

	if e.mode != runner.ModeBuild {
		return report, nil
	}
	failures = append(e.extractionFailures(), failures...)
	if len(failures) > 0 {
		return report, &BuildError{Errors: failures}
	}
	return report, nil
}

// candidates returns the runnable queries that are dirty, explicitly
// queued, or have never recorded a dependency.
func (e *Engine) candidates() []string {
	var ids, fresh []string
	for _, id := range e.tracker.IDs() {
		if !e.runnable(id) {
			continue
		}
		q, _ := e.tracker.Get(id)
		if _, queued := e.queued[id]; queued || q.Dirty > 0 {
			ids = append(ids, id)
			continue
		}
		fresh = append(fresh, id)
	}
	ids = append(ids, e.dirty.NeverRun(fresh)...)
	slices.Sort(ids)
	return ids
}

// runnable reports whether id may execute now: bootstrap has finished and
// its template has an error-free extracted query.
func (e *Engine) runnable(id string) bool {
	if e.table.Bootstrapping() {
		return false
	}
	if ir.IsStaticQuery(id) {
		_, ok := e.static[id]
		return ok
	}
	p, ok := e.pages[id]
	if !ok {
		return false
	}
	c, ok := e.table.Get(p.ComponentPath)
	return ok && c.Runnable()
}

// gate holds back pages nobody is viewing in develop mode. A held page stays
// dirty, loses its dependency edges once, and its live result is evicted.
func (e *Engine) gate(ids []string, report *Report) []string {
	if e.mode != runner.ModeDevelop {
		return ids
	}
	var run []string
	for _, id := range ids {
		if e.isActive(id) {
			run = append(run, id)
			continue
		}
		if _, done := e.invalidated[id]; !done {
			e.tracker.ClearDependencies(id)
			e.invalidated[id] = struct{}{}
			if e.live != nil {
				e.live.Evict(id)
			}
		}
		if q, _ := e.tracker.Get(id); q.Dirty == 0 {
			e.tracker.MarkDirty(id)
		}
		delete(e.queued, id)
		report.Deferred = append(report.Deferred, id)
	}
	return run
}

func (e *Engine) isActive(id string) bool {
	return ir.IsStaticQuery(id) || e.alwaysRun[id] || e.active[id] > 0
}

// plan builds one job per query. Queries of a template share one compiled
// plan; templates that fail to compile yield failed outcomes instead.
func (e *Engine) plan(ids []string) ([]runner.Job, []runner.Outcome) {
	type entry struct {
		id, template, text, componentPath string
		context                           ir.Object
		isPage                            bool
	}

	var entries []entry
	templates := make(map[string]*chunk.Template)
	var order []string
	for _, id := range ids {
		en := entry{id: id}
		if text, ok := e.static[id]; ok && ir.IsStaticQuery(id) {
			en.template, en.text, en.componentPath = id, text, id
		} else {
			p := e.pages[id]
			c, _ := e.table.Get(p.ComponentPath)
			en.template, en.text, en.componentPath = p.ComponentPath, c.Query, p.ComponentPath
			en.context, en.isPage = p.Context, true
		}
		entries = append(entries, en)

		t, ok := templates[en.template]
		if !ok {
			t = &chunk.Template{ID: en.template, Text: en.text}
			templates[en.template] = t
			order = append(order, en.template)
		}
		t.Contexts = append(t.Contexts, runner.Variables(en.id, en.context, en.isPage))
	}

	list := make([]chunk.Template, 0, len(order))
	for _, key := range order {
		list = append(list, *templates[key])
	}
	plans, errs := chunk.Compile(list)

	var jobs []runner.Job
	var invalid []runner.Outcome
	for _, en := range entries {
		if err, bad := errs[en.template]; bad {
			invalid = append(invalid, e.invalidOutcome(en.id, en.componentPath, err))
			continue
		}
		jobs = append(jobs, runner.Job{
			ID:            en.id,
			ComponentPath: en.componentPath,
			Query:         en.text,
			Context:       en.context,
			IsPage:        en.isPage,
			Plan:          plans[en.template],
		})
	}
	return jobs, invalid
}

func (e *Engine) extractionFailures() []*RuntimeError {
	out := make([]*RuntimeError, 0, len(e.extractErrs))
	for _, path := range slices.Sorted(maps.Keys(e.extractErrs)) {
		out = append(out, e.extractErrs[path])
	}
	return out
}

// invalidOutcome reports a query whose text could not be planned. Develop
// mode reports it to clients like any other recoverable failure.
func (e *Engine) invalidOutcome(id, componentPath string, err error) runner.Outcome {
	out := runner.Outcome{
		ID:            id,
		ComponentPath: componentPath,
		State:         runner.StateFailedFatal,
		Failure:       runner.FailureValidation,
		Result: ir.QueryResult{
			Errors: []ir.QueryError{{Message: err.Error(), File: componentPath}},
		},
		Err: err,
	}
	if e.mode == runner.ModeDevelop {
		out.State = runner.StateFailedRecoverable
		if e.live != nil {
			e.live.EmitError(id, out.Result.Errors)
		}
	}
	return out
}
