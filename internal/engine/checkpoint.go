package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/lifecycle"
	"github.com/roach88/pagegraph/internal/store"
)

// ErrNoCheckpointer is returned by Checkpoint and Restore when the engine
// was built without WithCheckpointer.
var ErrNoCheckpointer = errors.New("engine has no checkpointer")

func (e *Engine) checkpoint(ctx context.Context) error {
	if e.checkpointer == nil {
		return ErrNoCheckpointer
	}

	queries := make(map[string]string)
	for _, c := range e.table.Components() {
		if c.Query != "" {
			queries[c.ComponentPath] = c.Query
		}
	}
	maps.Copy(queries, e.static)

	cp := store.Checkpoint{
		Seq:        int64(e.seq),
		Tracker:    e.tracker.Snapshot(),
		Hashes:     e.hashes.All(),
		Contexts:   maps.Clone(e.contexts),
		Components: queries,
		Nodes:      e.checkpointNodes(),
	}
	if err := e.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	e.logger.Debug("checkpoint saved", "seq", cp.Seq, "queries", len(cp.Tracker.Queries))
	return nil
}

// Restore loads the last checkpoint. It must be called before any event is
// processed. Restored queries keep their dirty counters and dependencies;
// pages and static queries that are declared again with unchanged context
// and text are not re-run. Node events are held until bootstrap finishes
// and then diffed against the checkpointed node digests, so a data store
// sourced from scratch only re-runs what changed between runs. ok is false
// when no checkpoint exists.
func (e *Engine) Restore(ctx context.Context) (ok bool, err error) {
	if e.checkpointer == nil {
		return false, ErrNoCheckpointer
	}
	if e.running.Load() {
		return false, errors.New("engine: Restore called while Run is active")
	}

	cp, ok, err := e.checkpointer.LoadCheckpoint(ctx)
	if err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	if !ok {
		return false, nil
	}

	e.tracker.Restore(cp.Tracker)
	e.hashes.Load(cp.Hashes)
	e.contexts = maps.Clone(cp.Contexts)
	if e.contexts == nil {
		e.contexts = make(map[string]string)
	}
	e.seq = sequence(cp.Seq)
	e.nodes = maps.Clone(cp.Nodes)
	if e.nodes == nil {
		e.nodes = make(map[string]store.NodeState)
	}
	e.reconciling = true

	for _, key := range slices.Sorted(maps.Keys(cp.Components)) {
		query := cp.Components[key]
		if ir.IsStaticQuery(key) {
			e.static[key] = query
			continue
		}
		e.table.Apply(key, lifecycle.Event{Kind: lifecycle.EventQueryExtracted, Query: query})
	}

	e.logger.Info("checkpoint restored", "seq", cp.Seq, "queries", len(cp.Tracker.Queries))
	return true, nil
}
