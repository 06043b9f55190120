package engine

import (
	"maps"
	"slices"

	"github.com/roach88/pagegraph/internal/datastore"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/store"
)

// takePending hands the buffered node events to a batch. After Restore the
// events are held until bootstrap finishes, then rewritten against the
// checkpointed node digests.
func (e *Engine) takePending() []ir.NodeEvent {
	if e.reconciling && e.table.Bootstrapping() {
		return nil
	}
	events := e.pending
	e.pending = nil
	if e.reconciling {
		events = e.reconcile(events)
		e.reconciling = false
	}
	e.recordNodes(events)
	return events
}

// reconcile turns the first batch after a restart into the mutations that
// happened since the checkpoint. A re-sourced node with an unchanged digest
// is dropped. A changed one becomes an update. A checkpointed node missing
// from the data store becomes a delete.
func (e *Engine) reconcile(events []ir.NodeEvent) []ir.NodeEvent {
	if e.source == nil {
		return events
	}

	var out []ir.NodeEvent
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seen[ev.NodeID] = true
		if ev.Type != ir.NodeCreated {
			out = append(out, ev)
			continue
		}
		prev, known := e.nodes[ev.NodeID]
		cur, ok := e.source.GetNode(ev.NodeID)
		switch {
		case known && ok && prev.Type == cur.Type && prev.Digest == cur.Digest:
			continue
		case known && prev.Type != ev.NodeType:
			out = append(out, ir.NodeEvent{Type: ir.NodeDeleted, NodeID: ev.NodeID, NodeType: prev.Type})
		case known || len(e.tracker.QueriesForNode(ev.NodeID)) > 0:
			ev.Type = ir.NodeUpdated
		}
		out = append(out, ev)
	}

	for _, id := range slices.Sorted(maps.Keys(e.nodes)) {
		if seen[id] {
			continue
		}
		prev := e.nodes[id]
		cur, ok := e.source.GetNode(id)
		switch {
		case !ok:
			out = append(out, ir.NodeEvent{Type: ir.NodeDeleted, NodeID: id, NodeType: prev.Type})
		case cur.Type != prev.Type:
			out = append(out,
				ir.NodeEvent{Type: ir.NodeDeleted, NodeID: id, NodeType: prev.Type},
				ir.NodeEvent{Type: ir.NodeCreated, NodeID: id, NodeType: cur.Type},
			)
		case cur.Digest != prev.Digest:
			out = append(out, ir.NodeEvent{Type: ir.NodeUpdated, NodeID: id, NodeType: cur.Type})
		}
	}

	if len(out) != len(events) {
		e.logger.Info("reconciled data store with checkpoint", "events", len(events), "changes", len(out))
	}
	return out
}

// recordNodes remembers the digest of every node a batch accounts for.
func (e *Engine) recordNodes(events []ir.NodeEvent) {
	if e.source == nil {
		return
	}
	for _, ev := range events {
		n, ok := e.source.GetNode(ev.NodeID)
		if ev.Type == ir.NodeDeleted || !ok {
			delete(e.nodes, ev.NodeID)
			continue
		}
		e.nodes[n.ID] = store.NodeState{Type: n.Type, Digest: n.Digest}
	}
}

// seedNodes records every node already in s as accounted for.
func (e *Engine) seedNodes(s *datastore.Store) {
	for _, typ := range s.Types() {
		for _, n := range s.GetNodesByType(typ) {
			e.nodes[n.ID] = store.NodeState{Type: n.Type, Digest: n.Digest}
		}
	}
}

// checkpointNodes copies the accounted node digests, leaving out nodes with
// events that no batch has consumed yet.
func (e *Engine) checkpointNodes() map[string]store.NodeState {
	nodes := maps.Clone(e.nodes)
	if e.reconciling {
		return nodes
	}
	for _, ev := range e.pending {
		delete(nodes, ev.NodeID)
	}
	return nodes
}
