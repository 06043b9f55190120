package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/roach88/pagegraph/internal/artifact"
	"github.com/roach88/pagegraph/internal/chunk"
	"github.com/roach88/pagegraph/internal/datastore"
	"github.com/roach88/pagegraph/internal/deps"
	"github.com/roach88/pagegraph/internal/dirty"
	"github.com/roach88/pagegraph/internal/extract"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/lifecycle"
	"github.com/roach88/pagegraph/internal/metrics"
	"github.com/roach88/pagegraph/internal/runner"
	"github.com/roach88/pagegraph/internal/store"
)

// ErrStopped is returned when an event is submitted after Stop.
var ErrStopped = errors.New("engine stopped")

// DefaultAlwaysRun lists the pages that run in develop mode even when no
// client is viewing them.
var DefaultAlwaysRun = []string{"/404.html", "/dev-404-page/"}

// Extractor reads a template's query text.
type Extractor interface {
	Extract(componentPath string) (string, error)
}

// Live is the develop-mode channel to connected clients.
type Live interface {
	runner.Emitter
	Evict(queryID string)
}

// Checkpointer persists engine state between runs.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp store.Checkpoint) error
	LoadCheckpoint(ctx context.Context) (store.Checkpoint, bool, error)
}

// Engine is the single-writer query engine.
//
// Thread-safety model:
//   - Enqueue, Drain and Checkpoint: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Step, Restore and the inspection methods (Query, Dependencies,
//     Component, Snapshot): only while Run is not active
type Engine struct {
	// Incremental state. Owned by the loop goroutine.
	tracker     *deps.Tracker
	dirty       *dirty.Calculator
	table       *lifecycle.Table
	registry    *chunk.Registry
	hashes      *runner.HashCache
	pages       map[string]ir.Page
	contexts    map[string]string
	static      map[string]string
	pending     []ir.NodeEvent
	nodes       map[string]store.NodeState
	reconciling bool
	queued      map[string]struct{}
	active      map[string]int
	invalidated map[string]struct{}
	extractErrs map[string]*RuntimeError
	stale       bool

	runner       *runner.Runner
	source       *datastore.Store
	extractor    Extractor
	live         Live
	checkpointer Checkpointer

	queue   *inbox
	seq     sequence
	tokens  TokenGenerator
	running atomic.Bool

	logger      *slog.Logger
	metrics     *metrics.Metrics
	mode        runner.Mode
	alwaysRun   map[string]bool
	concurrency int
	longRunning time.Duration
	window      time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithMode selects build or develop behavior. Default: build.
func WithMode(m runner.Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithExtractor sets the source of template query text.
func WithExtractor(x Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithLive sets the develop-mode client channel.
func WithLive(l Live) Option {
	return func(e *Engine) { e.live = l }
}

// WithCheckpointer enables Checkpoint and Restore.
func WithCheckpointer(c Checkpointer) Option {
	return func(e *Engine) { e.checkpointer = c }
}

// WithTokenGenerator overrides the UUIDv7 batch tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithConcurrency sets the execution pool size.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithLongRunningThreshold sets when a running query is reported as slow.
func WithLongRunningThreshold(d time.Duration) Option {
	return func(e *Engine) { e.longRunning = d }
}

// WithAlwaysRun replaces DefaultAlwaysRun.
func WithAlwaysRun(paths ...string) Option {
	return func(e *Engine) {
		e.alwaysRun = make(map[string]bool, len(paths))
		for _, p := range paths {
			e.alwaysRun[p] = true
		}
	}
}

// WithBatchWindow makes Run flush on its own once no event has arrived for d.
// Zero disables automatic flushing.
func WithBatchWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// New creates an engine that executes queries with exec and writes results
// to persist.
func New(exec runner.Executor, persist artifact.Persistence, opts ...Option) *Engine {
	tracker := deps.NewTracker()
	e := &Engine{
		tracker:     tracker,
		dirty:       dirty.New(tracker),
		table:       lifecycle.NewTable(),
		registry:    chunk.NewRegistry(),
		hashes:      runner.NewHashCache(),
		pages:       make(map[string]ir.Page),
		contexts:    make(map[string]string),
		static:      make(map[string]string),
		nodes:       make(map[string]store.NodeState),
		queued:      make(map[string]struct{}),
		active:      make(map[string]int),
		invalidated: make(map[string]struct{}),
		extractErrs: make(map[string]*RuntimeError),
		queue:       newInbox(),
		tokens:      UUIDv7Generator{},
		logger:      slog.Default(),
		mode:        runner.ModeBuild,
		concurrency: runner.DefaultConcurrency,
		longRunning: runner.DefaultLongRunningThreshold,
	}
	WithAlwaysRun(DefaultAlwaysRun...)(e)
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}

	ropts := []runner.Option{
		runner.WithMode(e.mode),
		runner.WithLogger(e.logger),
		runner.WithMetrics(e.metrics),
		runner.WithLongRunningThreshold(e.longRunning),
		runner.WithPool(runner.NewPool(e.concurrency, e.metrics)),
	}
	if e.live != nil {
		ropts = append(ropts, runner.WithEmitter(e.live))
	}
	e.runner = runner.New(exec, persist, e.registry, e.hashes, ropts...)
	return e
}

// Enqueue submits an event for processing.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.push(ev)
}

// Watch forwards every mutation of s to the engine. The returned function
// stops forwarding. Nodes already in s count as seen by the dependency index
// unless a checkpoint was restored. Call it before Run and at most once.
func (e *Engine) Watch(s *datastore.Store) func() {
	e.source = s
	if !e.reconciling {
		e.seedNodes(s)
	}
	return s.Subscribe(func(ev ir.NodeEvent) {
		e.Enqueue(NodeChanged(ev))
	})
}

// Run starts the single-writer event loop.
// Blocks until the context is cancelled or Stop is called.
//
// Event handling failures are logged and the loop continues; only flush and
// checkpoint requests report errors back to their caller.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer e.running.Store(false)

	e.logger.Info("engine starting", "mode", e.mode)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if ev, ok := e.queue.pop(); ok {
			e.processEvent(ctx, ev)
			if e.window > 0 && e.stale {
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(e.window)
				fire = timer.C
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.close()
			return ctx.Err()

		case <-fire:
			fire = nil
			if e.stale {
				if _, err := e.flush(ctx); err != nil {
					e.logger.Error("batch failed", "error", err)
				}
			}

		case _, open := <-e.queue.ready():
			if !open && e.queue.len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue, which makes Run return once it is empty.
func (e *Engine) Stop() {
	e.queue.close()
}

// Step processes every queued event in the calling goroutine.
func (e *Engine) Step(ctx context.Context) error {
	if e.running.Load() {
		return errors.New("engine: Step called while Run is active")
	}
	for {
		ev, ok := e.queue.pop()
		if !ok {
			return nil
		}
		e.processEvent(ctx, ev)
	}
}

// Drain processes every event submitted so far, runs one batch and waits
// for it to finish. In build mode the error is a *BuildError listing every
// failed query.
func (e *Engine) Drain(ctx context.Context) (Report, error) {
	return e.call(ctx, Event{Kind: EventFlush})
}

// Checkpoint persists tracked queries, dependencies and result hashes.
func (e *Engine) Checkpoint(ctx context.Context) error {
	_, err := e.call(ctx, Event{Kind: EventCheckpoint})
	return err
}

// call runs a request event and returns its reply, either through the
// loop or inline when Run is not active.
func (e *Engine) call(ctx context.Context, ev Event) (Report, error) {
	if !e.running.Load() {
		if err := e.Step(ctx); err != nil {
			return Report{}, err
		}
		return e.handleRequest(ctx, ev)
	}

	ev.reply = make(chan reply, 1)
	if !e.queue.push(ev) {
		return Report{}, ErrStopped
	}
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case r := <-ev.reply:
		return r.report, r.err
	}
}

// processEvent routes an event to its handler.
// Called only from the loop goroutine.
func (e *Engine) processEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventFlush, EventCheckpoint:
		report, err := e.handleRequest(ctx, ev)
		if ev.reply != nil {
			ev.reply <- reply{report: report, err: err}
		} else if err != nil {
			e.logger.Error("request failed", "event", ev.Kind, "error", err)
		}
		return
	}

	if err := e.handle(ev); err != nil {
		e.logger.Error("event processing failed",
			"event", ev.Kind,
			"id", ev.ID,
			"component", ev.ComponentPath,
			"error", err,
		)
	}
}

func (e *Engine) handleRequest(ctx context.Context, ev Event) (Report, error) {
	switch ev.Kind {
	case EventFlush:
		return e.flush(ctx)
	case EventCheckpoint:
		return Report{}, e.checkpoint(ctx)
	default:
		return Report{}, fmt.Errorf("not a request event: %s", ev.Kind)
	}
}

func (e *Engine) handle(ev Event) error {
	switch ev.Kind {
	case EventNodeChanged:
		e.pending = append(e.pending, ev.Node)
		e.stale = true

	case EventPageCreated:
		return e.createPage(ev.Page)

	case EventPageDeleted:
		p, ok := e.pages[ev.ID]
		if !ok {
			return fmt.Errorf("unknown page %q", ev.ID)
		}
		e.apply(e.table.Apply(p.ComponentPath, lifecycle.Event{Kind: lifecycle.EventPageDeleted, Path: ev.ID}))

	case EventStaticQueryReplaced:
		e.replaceStatic(ev.ID, ev.Query)

	case EventStaticQueryRemoved:
		id := staticID(ev.ID)
		delete(e.static, id)
		e.deleteQuery(id)

	case EventQueryExtracted:
		e.apply(e.table.Apply(ev.ComponentPath, lifecycle.Event{Kind: lifecycle.EventQueryExtracted, Query: ev.Query}))

	case EventExtractionFailed:
		e.failExtraction(ev.ComponentPath, ev.Failure, ev.Errors)

	case EventExtractionSucceeded:
		delete(e.extractErrs, ev.ComponentPath)
		e.apply(e.table.Apply(ev.ComponentPath, lifecycle.Event{Kind: lifecycle.EventExtractionSucceeded}))

	case EventComponentRemoved:
		delete(e.extractErrs, ev.ComponentPath)
		e.apply(e.table.Remove(ev.ComponentPath))

	case EventTemplateChanged:
		if e.extractor == nil {
			return errors.New("template changed without an extractor")
		}
		e.extract(ev.ComponentPath)

	case EventBootstrapFinished:
		e.finishBootstrap()

	case EventPathActivated:
		e.active[ev.ID]++
		if q, ok := e.tracker.Get(ev.ID); ok && q.Dirty > 0 {
			e.queued[ev.ID] = struct{}{}
			e.stale = true
		}

	case EventPathDeactivated:
		if e.active[ev.ID] <= 1 {
			delete(e.active, ev.ID)
		} else {
			e.active[ev.ID]--
		}

	default:
		return fmt.Errorf("unknown event kind: %s", ev.Kind)
	}
	return nil
}

func (e *Engine) createPage(p ir.Page) error {
	if p.Path == "" || p.ComponentPath == "" {
		return errors.New("page requires path and component path")
	}
	digest, err := ir.ContentDigest(p.Context)
	if err != nil {
		return fmt.Errorf("page %s: %w", p.Path, err)
	}

	prev, known := e.contexts[p.Path]
	modified := known && prev != digest

	if old, ok := e.pages[p.Path]; ok && old.ComponentPath != p.ComponentPath {
		e.apply(e.table.Apply(old.ComponentPath, lifecycle.Event{Kind: lifecycle.EventPageDeleted, Path: p.Path}))
		modified = false
	}

	e.pages[p.Path] = p
	e.contexts[p.Path] = digest

	effects := e.table.Apply(p.ComponentPath, lifecycle.Event{
		Kind:            lifecycle.EventPageCreated,
		Path:            p.Path,
		ContextModified: modified,
	})
	e.apply(effects)

	// A page restored from a checkpoint is new to the lifecycle table, which
	// therefore cannot see that its context changed.
	if modified && !hasEffect(effects, lifecycle.EffectMarkDirty) {
		e.tracker.MarkDirty(p.Path)
	}
	return nil
}

func (e *Engine) replaceStatic(id, query string) {
	id = staticID(id)
	if prev, ok := e.static[id]; ok && lifecycle.NormalizeQuery(prev) == lifecycle.NormalizeQuery(query) {
		return
	}
	e.static[id] = query
	if !e.tracker.Track(id, id, false) {
		e.tracker.MarkDirty(id)
	}
	e.stale = true
}

func (e *Engine) failExtraction(componentPath string, kind extract.Kind, errs []ir.QueryError) {
	code, ev := ErrCodeExtractionFailed, lifecycle.EventBabelError
	if kind == extract.KindGraphQL {
		code, ev = ErrCodeValidationFailed, lifecycle.EventGraphQLError
	}
	msg := "query extraction failed"
	if len(errs) > 0 {
		msg = errs[0].Message
	}
	e.extractErrs[componentPath] = &RuntimeError{
		Code:          code,
		Message:       msg,
		ComponentPath: componentPath,
		Errors:        errs,
	}
	e.apply(e.table.Apply(componentPath, lifecycle.Event{Kind: ev}))
}

// finishBootstrap leaves bootstrap mode and forgets restored queries whose
// page or static query was not declared again.
func (e *Engine) finishBootstrap() {
	for _, id := range e.tracker.IDs() {
		_, page := e.pages[id]
		_, static := e.static[id]
		if !page && !static {
			e.logger.Debug("dropping stale query", "query", id)
			e.deleteQuery(id)
		}
	}
	e.apply(e.table.FinishBootstrap())
}

// apply performs lifecycle effects.
func (e *Engine) apply(effects []lifecycle.Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case lifecycle.EffectExtractQueries:
			e.extract(eff.ComponentPath)
		case lifecycle.EffectTrackQuery:
			e.tracker.Track(eff.Path, eff.ComponentPath, true)
		case lifecycle.EffectMarkDirty:
			e.tracker.MarkDirty(eff.Path)
		case lifecycle.EffectDeleteQuery:
			e.deleteQuery(eff.Path)
		case lifecycle.EffectRunQuery:
			e.queued[eff.Path] = struct{}{}
		case lifecycle.EffectQueueComponent:
			if c, ok := e.table.Get(eff.ComponentPath); ok {
				for _, p := range c.Pages {
					e.queued[p] = struct{}{}
				}
			}
		}
	}
	if len(effects) > 0 {
		e.stale = true
	}
}

func (e *Engine) extract(componentPath string) {
	if e.extractor == nil {
		return
	}
	query, err := e.extractor.Extract(componentPath)
	if err != nil {
		failed := ExtractionFailed(componentPath, err)
		e.logger.Warn("query extraction failed", "component", componentPath, "error", err)
		e.failExtraction(componentPath, failed.Failure, failed.Errors)
		return
	}
	e.apply(e.table.Apply(componentPath, lifecycle.Event{Kind: lifecycle.EventQueryExtracted, Query: query}))
	delete(e.extractErrs, componentPath)
	e.apply(e.table.Apply(componentPath, lifecycle.Event{Kind: lifecycle.EventExtractionSucceeded}))
}

func (e *Engine) deleteQuery(id string) {
	e.tracker.Delete(id)
	e.dirty.Forget(id)
	e.hashes.Delete(id)
	delete(e.pages, id)
	delete(e.contexts, id)
	delete(e.queued, id)
	delete(e.invalidated, id)
	if e.live != nil {
		e.live.Evict(id)
	}
	e.stale = true
}

// Query returns the tracked query record for id.
func (e *Engine) Query(id string) (ir.TrackedQuery, bool) {
	return e.tracker.Get(id)
}

// Dependencies returns the recorded dependencies of id.
func (e *Engine) Dependencies(id string) []ir.Dependency {
	return e.tracker.Dependencies(id)
}

// Component returns the lifecycle record of a template.
func (e *Engine) Component(componentPath string) (lifecycle.Component, bool) {
	return e.table.Get(componentPath)
}

// Snapshot copies the tracker state.
func (e *Engine) Snapshot() deps.Snapshot {
	return e.tracker.Snapshot()
}

// Pages returns every known page path, sorted.
func (e *Engine) Pages() []string {
	return slices.Sorted(maps.Keys(e.pages))
}

func staticID(id string) string {
	if ir.IsStaticQuery(id) {
		return id
	}
	return ir.StaticQueryPrefix + id
}

func hasEffect(effects []lifecycle.Effect, kind lifecycle.EffectKind) bool {
	for _, eff := range effects {
		if eff.Kind == kind {
			return true
		}
	}
	return false
}
