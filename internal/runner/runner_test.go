package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/roach88/pagegraph/internal/artifact"
	"github.com/roach88/pagegraph/internal/chunk"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/metrics"
)

// fieldExecutor answers every top-level field with its own name and reports
// a connection dependency on it. Fields listed in fail produce a located error.
type fieldExecutor struct {
	mu       sync.Mutex
	requests []Request
	fail     map[string]string
	raise    map[string]error
	err      error
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fieldExecutor) Execute(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Response{}, f.err
	}

	doc, err := chunk.ParseQuery(req.Query)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Data: ir.Object{}}
	for _, sel := range doc.Operations[0].SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if err, bad := f.raise[field.Name]; bad {
			return Response{}, err
		}
		if msg, bad := f.fail[field.Name]; bad {
			resp.Errors = append(resp.Errors, ir.QueryError{
				Message:   msg,
				Locations: []ir.Location{{Line: field.Position.Line, Column: field.Position.Column}},
			})
			continue
		}
		resp.Data[field.Alias] = ir.String(field.Name)
		resp.Dependencies = append(resp.Dependencies, ir.ConnectionDependency(field.Name))
	}
	return resp, nil
}

func (f *fieldExecutor) count(match func(Request) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if match(r) {
			n++
		}
	}
	return n
}

type recordingEmitter struct {
	mu      sync.Mutex
	results []string
	errors  map[string][]ir.QueryError
}

func (e *recordingEmitter) EmitResult(queryID, _ string, _ ir.QueryResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, queryID)
}

func (e *recordingEmitter) EmitError(queryID string, errs []ir.QueryError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.errors == nil {
		e.errors = make(map[string][]ir.QueryError)
	}
	e.errors[queryID] = errs
}

func newTestRunner(exec Executor, persist artifact.Persistence, opts ...Option) *Runner {
	return New(exec, persist, chunk.NewRegistry(), NewHashCache(), opts...)
}

func singleJob(t *testing.T, id, query string) Job {
	t.Helper()
	plan, err := chunk.PlanSingle(query)
	require.NoError(t, err)
	return Job{ID: id, ComponentPath: "src/templates/page.tsx", Query: query, IsPage: true, Plan: plan}
}

func TestRunWritesOnlyWhenHashChanges(t *testing.T) {
	exec := &fieldExecutor{}
	persist := artifact.NewMemory()
	r := newTestRunner(exec, persist)
	job := singleJob(t, "/a/", `{ site { title } }`)

	first := r.Run(context.Background(), job)
	require.NoError(t, first.Err)
	assert.Equal(t, StateSucceeded, first.State)
	assert.True(t, first.Written)
	assert.Equal(t, ir.Object{"site": ir.String("site")}, first.Result.Data)
	assert.Equal(t, []ir.Dependency{ir.ConnectionDependency("site")}, first.Dependencies)

	second := r.Run(context.Background(), job)
	require.NoError(t, second.Err)
	assert.False(t, second.Written)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 1, persist.Writes(artifact.FileName("/a/")))

	persist.Remove(artifact.FileName("/a/"))
	third := r.Run(context.Background(), job)
	assert.True(t, third.Written, "missing artifact is rewritten even with an unchanged hash")
}

func TestRunPageContextAndVariables(t *testing.T) {
	exec := &fieldExecutor{}
	persist := artifact.NewMemory()
	r := newTestRunner(exec, persist)

	job := singleJob(t, "/blog/a/", `query($slug: String) { post(slug: $slug) { title } }`)
	job.Context = ir.Object{
		"slug":          ir.String("a"),
		"componentPath": ir.String("src/templates/post.tsx"),
		"updatedAt":     ir.Int(1),
	}

	out := r.Run(context.Background(), job)
	require.NoError(t, out.Err)
	assert.Equal(t, ir.Object{"slug": ir.String("a")}, out.Result.PageContext)

	require.Len(t, exec.requests, 1)
	assert.Equal(t, ir.String("/blog/a/"), exec.requests[0].Variables["path"])
	assert.Equal(t, ir.String("a"), exec.requests[0].Variables["slug"])

	stored, ok := persist.Read(artifact.FileName("/blog/a/"))
	require.True(t, ok)
	assert.Equal(t, `{"data":{"post":"post"},"pageContext":{"slug":"a"}}`, string(stored))
}

func TestRunStaticQueryHasNoPageContext(t *testing.T) {
	r := newTestRunner(&fieldExecutor{}, artifact.NewMemory())
	job := singleJob(t, "sq--nav", `{ site { title } }`)
	job.IsPage = false
	job.Context = ir.Object{"x": ir.Int(1)}

	out := r.Run(context.Background(), job)
	require.NoError(t, out.Err)
	assert.Nil(t, out.Result.PageContext)
}

func TestRunEmptyPlan(t *testing.T) {
	exec := &fieldExecutor{}
	persist := artifact.NewMemory()
	r := newTestRunner(exec, persist)

	out := r.Run(context.Background(), Job{ID: "/static/", Plan: chunk.Plan{Empty: true}, IsPage: true})
	require.NoError(t, out.Err)
	assert.True(t, out.Written)
	assert.Empty(t, exec.requests)

	stored, _ := persist.Read(artifact.FileName("/static/"))
	assert.Equal(t, `{"data":{}}`, string(stored))
}

func TestRunQueryErrorsInBuildModeAreFatal(t *testing.T) {
	exec := &fieldExecutor{fail: map[string]string{"nope": "Cannot query field \"nope\""}}
	persist := artifact.NewMemory()
	r := newTestRunner(exec, persist, WithMode(ModeBuild))

	query := "query {\n  nope\n}"
	out := r.Run(context.Background(), singleJob(t, "/a/", query))

	assert.Equal(t, StateFailedFatal, out.State)
	assert.Equal(t, FailureQuery, out.Failure)
	assert.False(t, out.Written)
	require.Len(t, out.Result.Errors, 1)
	assert.Equal(t, "src/templates/page.tsx", out.Result.Errors[0].File)
	assert.Contains(t, out.Result.Errors[0].Codeframe, "> 2 |   nope")
	assert.False(t, persist.Exists(artifact.FileName("/a/")))
}

func TestRunQueryErrorsInDevelopModeKeepStaleArtifact(t *testing.T) {
	exec := &fieldExecutor{}
	persist := artifact.NewMemory()
	emitter := &recordingEmitter{}
	r := newTestRunner(exec, persist, WithMode(ModeDevelop), WithEmitter(emitter))

	good := r.Run(context.Background(), singleJob(t, "/a/", `{ site }`))
	require.True(t, good.Written)

	exec.fail = map[string]string{"broken": "boom"}
	bad := r.Run(context.Background(), singleJob(t, "/a/", `{ broken }`))

	assert.Equal(t, StateFailedRecoverable, bad.State)
	assert.Equal(t, 1, persist.Writes(artifact.FileName("/a/")))
	assert.Equal(t, []string{"/a/"}, emitter.results)
	require.Len(t, emitter.errors["/a/"], 1)
	assert.Equal(t, "boom", emitter.errors["/a/"][0].Message)
}

func TestRunExecutorFailure(t *testing.T) {
	boom := errors.New("connection refused")
	r := newTestRunner(&fieldExecutor{err: boom}, artifact.NewMemory())

	out := r.Run(context.Background(), singleJob(t, "/a/", `{ site }`))
	assert.Equal(t, StateFailedFatal, out.State)
	assert.Equal(t, FailureExecution, out.Failure)
	assert.ErrorIs(t, out.Err, boom)
}

func TestRunBatchExecutesSharedChunkOnce(t *testing.T) {
	exec := &fieldExecutor{delay: 5 * time.Millisecond}
	m := metrics.New(nil)
	r := newTestRunner(exec, artifact.NewMemory(), WithMetrics(m))

	query := `query($slug: String) { post(slug: $slug) { title } site { title } }`
	contexts := []ir.Object{{"slug": ir.String("a")}, {"slug": ir.String("b")}, {"slug": ir.String("c")}}
	vars := make([]ir.Object, len(contexts))
	paths := []string{"/a/", "/b/", "/c/"}
	for i, c := range contexts {
		vars[i] = Variables(paths[i], c, true)
	}
	plans, errs := chunk.Compile([]chunk.Template{{ID: "post", Text: query, Contexts: vars}})
	require.Empty(t, errs)
	require.Len(t, plans["post"].Shared, 1)

	jobs := make([]Job, len(paths))
	for i, p := range paths {
		jobs[i] = Job{ID: p, Query: query, Context: contexts[i], IsPage: true, Plan: plans["post"]}
	}
	outcomes := r.RunBatch(context.Background(), jobs)

	for i, out := range outcomes {
		require.NoError(t, out.Err)
		assert.Equal(t, paths[i], out.ID)
		assert.Equal(t, ir.Object{"post": ir.String("post"), "site": ir.String("site")}, out.Result.Data)
		assert.Contains(t, out.Dependencies, ir.ConnectionDependency("site"),
			"reused chunk dependencies are attributed to every consumer")
	}

	siteRuns := exec.count(func(r Request) bool { return !bytes.Contains([]byte(r.Query), []byte("post")) })
	assert.Equal(t, 1, siteRuns)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkExecutions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunkReuses))
}

// sharedBatch plans query for three pages that differ only in $slug.
func sharedBatch(t *testing.T, query string) ([]Job, chunk.Plan, []ir.Object) {
	t.Helper()
	paths := []string{"/a/", "/b/", "/c/"}
	contexts := make([]ir.Object, len(paths))
	vars := make([]ir.Object, len(paths))
	for i, p := range paths {
		contexts[i] = ir.Object{"slug": ir.String(p)}
		vars[i] = Variables(p, contexts[i], true)
	}
	plans, errs := chunk.Compile([]chunk.Template{{ID: "post", Text: query, Contexts: vars}})
	require.Empty(t, errs)

	jobs := make([]Job, len(paths))
	for i, p := range paths {
		jobs[i] = Job{ID: p, ComponentPath: "src/templates/post.tsx", Query: query, Context: contexts[i], IsPage: true, Plan: plans["post"]}
	}
	return jobs, plans["post"], vars
}

func sharedKey(t *testing.T, plan chunk.Plan, field string, vars ir.Object) chunk.Key {
	t.Helper()
	for _, c := range plan.Shared {
		if c.FieldName == field {
			digest, err := c.BindingDigest(vars)
			require.NoError(t, err)
			return chunk.Key{Hash: c.Hash, Digest: digest}
		}
	}
	t.Fatalf("%s is not a shared chunk", field)
	return chunk.Key{}
}

func TestRunBatchSharedChunkErrorsReachEveryConsumer(t *testing.T) {
	exec := &fieldExecutor{delay: 5 * time.Millisecond, fail: map[string]string{"broken": "Cannot query field \"broken\""}}
	registry := chunk.NewRegistry()
	r := New(exec, artifact.NewMemory(), registry, NewHashCache())

	jobs, plan, vars := sharedBatch(t, `query($slug: String) { post(slug: $slug) { title } site { title } broken }`)
	require.Len(t, plan.Shared, 2)

	outcomes := r.RunBatch(context.Background(), jobs)

	for _, out := range outcomes {
		assert.True(t, out.Failed(), out.ID)
		assert.Equal(t, FailureQuery, out.Failure)
		assert.False(t, out.Written)
		require.Len(t, out.Result.Errors, 1)
		assert.Equal(t, outcomes[0].Result.Errors, out.Result.Errors, "consumers share one chunk outcome")
	}
	assert.Equal(t, `Cannot query field "broken"`, outcomes[0].Result.Errors[0].Message)

	brokenRuns := exec.count(func(r Request) bool { return bytes.Contains([]byte(r.Query), []byte("broken")) })
	assert.Equal(t, 1, brokenRuns)
	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, 1, registry.Runs(sharedKey(t, plan, "broken", vars[0])))
	assert.Equal(t, 1, registry.Runs(sharedKey(t, plan, "site", vars[0])))
}

func TestRunBatchChunkFailureDoesNotStopSiblings(t *testing.T) {
	boom := errors.New("connection reset")
	exec := &fieldExecutor{delay: 5 * time.Millisecond, raise: map[string]error{"broken": boom}}
	registry := chunk.NewRegistry()
	r := New(exec, artifact.NewMemory(), registry, NewHashCache())

	jobs, plan, vars := sharedBatch(t, `query($slug: String) { post(slug: $slug) { title } site { title } broken }`)
	outcomes := r.RunBatch(context.Background(), jobs)

	for _, out := range outcomes {
		assert.Equal(t, StateFailedFatal, out.State)
		assert.Equal(t, FailureChunk, out.Failure)
		assert.ErrorIs(t, out.Err, boom)
	}

	postRuns := exec.count(func(r Request) bool { return bytes.Contains([]byte(r.Query), []byte("post")) })
	assert.Equal(t, 3, postRuns, "every remainder query still runs")
	assert.Equal(t, 1, registry.Len(), "only the successful chunk is cached")
	assert.Equal(t, 1, registry.Runs(sharedKey(t, plan, "site", vars[0])))
}

func TestRunLongRunningIgnoresQueueTime(t *testing.T) {
	m := metrics.New(nil)
	exec := &fieldExecutor{delay: 20 * time.Millisecond}
	r := newTestRunner(exec, artifact.NewMemory(),
		WithPool(NewPool(1, m)), WithMetrics(m), WithLongRunningThreshold(50*time.Millisecond))

	var jobs []Job
	for _, p := range []string{"/1/", "/2/", "/3/", "/4/", "/5/", "/6/"} {
		jobs = append(jobs, singleJob(t, p, `{ site }`))
	}
	outcomes := r.RunBatch(context.Background(), jobs)

	var longest time.Duration
	for _, out := range outcomes {
		assert.Equal(t, StateSucceeded, out.State)
		longest = max(longest, out.Duration)
	}
	assert.Greater(t, longest, 50*time.Millisecond, "the last job waited in the queue past the threshold")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LongRunning))
}

func TestRunBatchRespectsPoolSize(t *testing.T) {
	exec := &fieldExecutor{delay: 20 * time.Millisecond}
	m := metrics.New(nil)
	r := newTestRunner(exec, artifact.NewMemory(), WithPool(NewPool(2, m)), WithMetrics(m))

	var jobs []Job
	for _, p := range []string{"/1/", "/2/", "/3/", "/4/", "/5/", "/6/"} {
		jobs = append(jobs, singleJob(t, p, `{ site }`))
	}
	outcomes := r.RunBatch(context.Background(), jobs)

	for _, out := range outcomes {
		assert.Equal(t, StateSucceeded, out.State)
	}
	assert.LessOrEqual(t, exec.maxInFlight.Load(), int32(2))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PoolInFlight))
}

func TestRunLongRunningWarningDoesNotCancel(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	m := metrics.New(nil)
	r := newTestRunner(&fieldExecutor{delay: 50 * time.Millisecond}, artifact.NewMemory(),
		WithLongRunningThreshold(5*time.Millisecond), WithLogger(logger), WithMetrics(m))

	out := r.Run(context.Background(), singleJob(t, "/slow/", `{ site }`))

	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LongRunning))
	assert.Contains(t, logs.String(), "query takes too long")
	assert.Contains(t, logs.String(), "/slow/")
}

func TestRunDevelopEmitsWrittenResults(t *testing.T) {
	emitter := &recordingEmitter{}
	r := newTestRunner(&fieldExecutor{}, artifact.NewMemory(), WithMode(ModeDevelop), WithEmitter(emitter))
	job := singleJob(t, "/a/", `{ site }`)

	r.Run(context.Background(), job)
	r.Run(context.Background(), job)

	assert.Equal(t, []string{"/a/"}, emitter.results, "unchanged results are not re-emitted")
}
