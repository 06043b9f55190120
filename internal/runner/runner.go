package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/pagegraph/internal/artifact"
	"github.com/roach88/pagegraph/internal/chunk"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/metrics"
)

// Mode selects the error policy.
type Mode string

const (
	ModeBuild   Mode = "build"
	ModeDevelop Mode = "develop"
)

// DefaultLongRunningThreshold is when a still-running query gets a warning.
const DefaultLongRunningThreshold = 15 * time.Second

// Failure classifies why a run did not succeed.
type Failure string

const (
	FailureNone       Failure = ""
	FailureQuery      Failure = "query"
	FailureExecution  Failure = "execution"
	FailureChunk      Failure = "chunk"
	FailurePersist    Failure = "persist"
	FailureValidation Failure = "validation" // set by callers for text that could not be planned
)

// Job is one query to run.
type Job struct {
	ID            string
	ComponentPath string
	Query         string
	Context       ir.Object
	IsPage        bool
	Plan          chunk.Plan
}

// Outcome is the terminal report of one job.
type Outcome struct {
	ID            string
	ComponentPath string
	State         State
	Failure       Failure
	Result        ir.QueryResult
	Hash          string
	Written       bool
	Dependencies  []ir.Dependency
	Err           error
	Duration      time.Duration
}

// Failed reports whether the job ended in a failed state.
func (o Outcome) Failed() bool {
	return o.State == StateFailedFatal || o.State == StateFailedRecoverable
}

// Runner executes jobs.
type Runner struct {
	exec        Executor
	pool        *Pool
	registry    *chunk.Registry
	persist     artifact.Persistence
	hashes      *HashCache
	emitter     Emitter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	mode        Mode
	longRunning time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithMode sets build or develop error handling.
func WithMode(m Mode) Option {
	return func(r *Runner) { r.mode = m }
}

// WithEmitter sets the live-update emitter.
func WithEmitter(e Emitter) Option {
	return func(r *Runner) { r.emitter = e }
}

// WithMetrics sets the collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithLongRunningThreshold overrides DefaultLongRunningThreshold.
func WithLongRunningThreshold(d time.Duration) Option {
	return func(r *Runner) { r.longRunning = d }
}

// WithPool shares an existing pool.
func WithPool(p *Pool) Option {
	return func(r *Runner) { r.pool = p }
}

// New creates a runner. registry and hashes are owned by the caller so that
// their lifetime follows the engine, not the runner.
func New(exec Executor, persist artifact.Persistence, registry *chunk.Registry, hashes *HashCache, opts ...Option) *Runner {
	r := &Runner{
		exec:        exec,
		persist:     persist,
		registry:    registry,
		hashes:      hashes,
		logger:      slog.Default(),
		mode:        ModeBuild,
		longRunning: DefaultLongRunningThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	if r.pool == nil {
		r.pool = NewPool(DefaultConcurrency, r.metrics)
	}
	return r
}

// Mode returns the runner's error policy.
func (r *Runner) Mode() Mode {
	return r.mode
}

// RunBatch runs every job concurrently and waits for all of them. Outcomes
// are returned in job order. No job is cancelled because another failed.
func (r *Runner) RunBatch(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = r.Run(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Run executes one job to a terminal state.
func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	start := time.Now()
	ex := newExecution(job.ID)
	out := Outcome{ID: job.ID, ComponentPath: job.ComponentPath}

	data, errs, deps, failure, err := r.execute(ctx, job, ex)
	// Jobs served entirely from completed chunks never take a slot.
	ex.start()
	out.Dependencies = deps
	out.Result = ir.QueryResult{Data: data, Errors: errs}
	if job.IsPage {
		out.Result.PageContext = StripContext(job.Context)
	}

	switch {
	case err != nil:
		out.Failure = failure
		out.Err = err
	case len(errs) > 0:
		out.Failure = FailureQuery
		out.Err = fmt.Errorf("query %s returned %d error(s)", job.ID, len(errs))
	default:
		if err := r.persistResult(&out); err != nil {
			out.Failure = FailurePersist
			out.Err = err
		}
	}

	if out.Err != nil {
		r.fail(ex, &out)
	} else {
		_ = ex.advance(StateSucceeded)
	}
	out.State = ex.current()
	out.Duration = time.Since(start)

	r.metrics.QueriesTotal.WithLabelValues(string(out.State)).Inc()
	r.metrics.QueryDuration.Observe(out.Duration.Seconds())
	return out
}

func (r *Runner) fail(ex *execution, out *Outcome) {
	if r.mode == ModeDevelop {
		_ = ex.advance(StateFailedRecoverable)
		r.logger.Error("query failed", "query", out.ID, "failure", out.Failure, "error", out.Err)
		if r.emitter != nil {
			errs := out.Result.Errors
			if len(errs) == 0 {
				errs = []ir.QueryError{{Message: out.Err.Error(), File: out.ComponentPath}}
			}
			r.emitter.EmitError(out.ID, errs)
		}
		return
	}
	_ = ex.advance(StateFailedFatal)
}

// execute resolves shared chunks through the registry, runs the remainder
// and stitches the parts. Parts run concurrently; a failed part does not
// stop its siblings, so their outcomes still reach the registry.
func (r *Runner) execute(ctx context.Context, job Job, ex *execution) (ir.Object, []ir.QueryError, []ir.Dependency, Failure, error) {
	if job.Plan.Empty {
		return ir.Object{}, nil, nil, FailureNone, nil
	}

	type result struct {
		part    chunk.Part
		failure Failure
		err     error
	}
	vars := Variables(job.ID, job.Context, job.IsPage)
	offset := 0
	if job.Plan.Rest != "" {
		offset = 1
	}
	results := make([]result, offset+len(job.Plan.Shared))

	var g errgroup.Group
	if offset == 1 {
		g.Go(func() error {
			o, err := r.executeText(ctx, job, ex, job.Plan.Rest, vars)
			if err != nil {
				results[0] = result{failure: FailureExecution, err: err}
				return err
			}
			results[0] = result{part: chunk.RestPart(o)}
			return nil
		})
	}
	for i, c := range job.Plan.Shared {
		g.Go(func() error {
			o, err := r.resolveChunk(ctx, job, ex, c, vars)
			if err != nil {
				results[offset+i] = result{failure: FailureChunk, err: err}
				return err
			}
			results[offset+i] = result{part: chunk.ChunkPart(c, o)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Report the first failed part in document order, not the first to finish.
		for _, res := range results {
			if res.err != nil {
				return nil, nil, nil, res.failure, res.err
			}
		}
	}

	parts := make([]chunk.Part, len(results))
	for i, res := range results {
		parts[i] = res.part
	}
	data, errs, deps := chunk.Stitch(parts)
	return data, errs, deps, FailureNone, nil
}

func (r *Runner) resolveChunk(ctx context.Context, job Job, ex *execution, c chunk.Chunk, vars ir.Object) (chunk.Outcome, error) {
	digest, err := c.BindingDigest(vars)
	if err != nil {
		return chunk.Outcome{}, fmt.Errorf("chunk %s: %w", c.FieldName, err)
	}
	o, reused, err := r.registry.Do(ctx, chunk.Key{Hash: c.Hash, Digest: digest}, func(ctx context.Context) (chunk.Outcome, error) {
		return r.executeText(ctx, job, ex, c.Text, vars)
	})
	if err != nil {
		return chunk.Outcome{}, fmt.Errorf("chunk %s: %w", c.FieldName, err)
	}
	if reused {
		r.metrics.ChunkReuses.Inc()
	} else {
		r.metrics.ChunkExecutions.Inc()
	}
	return o, nil
}

// executeText runs one query text inside a pool slot. The job turns running
// when it first holds a slot, and the long-running threshold counts only
// time spent holding one.
func (r *Runner) executeText(ctx context.Context, job Job, ex *execution, text string, vars ir.Object) (chunk.Outcome, error) {
	var resp Response
	err := r.pool.Do(ctx, func() error {
		ex.start()
		r.logger.Debug("running query", "query", job.ID, "component", job.ComponentPath)
		defer r.watch(job)()

		var err error
		resp, err = r.exec.Execute(ctx, Request{QueryID: job.ID, Query: text, Variables: vars})
		return err
	})
	if err != nil {
		return chunk.Outcome{}, fmt.Errorf("execute %s: %w", job.ID, err)
	}
	if resp.Data == nil {
		resp.Data = ir.Object{}
	}
	return chunk.Outcome{
		Data:         resp.Data,
		Errors:       annotate(resp.Errors, job.ComponentPath, text),
		Dependencies: resp.Dependencies,
	}, nil
}

// watch arms the long-running warning for one execution. The returned func
// disarms it and waits for a warning already in progress.
func (r *Runner) watch(job Job) func() {
	fired := make(chan struct{})
	t := time.AfterFunc(r.longRunning, func() {
		defer close(fired)
		r.metrics.LongRunning.Inc()
		r.logger.Warn("query takes too long",
			"query", job.ID,
			"component", job.ComponentPath,
			"threshold", r.longRunning,
		)
	})
	return func() {
		if !t.Stop() {
			<-fired
		}
	}
}

// persistResult writes the result unless its hash is unchanged and the
// artifact still exists.
func (r *Runner) persistResult(out *Outcome) error {
	serialized, err := out.Result.Canonical()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", out.ID, err)
	}
	out.Hash = ir.ResultHash(serialized)
	path := artifact.FileName(out.ID)

	if prev, ok := r.hashes.Get(out.ID); ok && prev == out.Hash && r.persist.Exists(path) {
		r.metrics.WritesTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := r.persist.Write(path, serialized); err != nil {
		return fmt.Errorf("persist %s: %w", out.ID, err)
	}
	r.hashes.Set(out.ID, out.Hash)
	out.Written = true
	r.metrics.WritesTotal.WithLabelValues("written").Inc()

	if r.mode == ModeDevelop && r.emitter != nil {
		r.emitter.EmitResult(out.ID, out.Hash, out.Result)
	}
	return nil
}
