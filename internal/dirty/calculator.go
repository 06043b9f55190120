// Package dirty computes which queries must re-run after a batch of node
// mutations.
package dirty

import (
	"slices"

	"github.com/roach88/pagegraph/internal/deps"
	"github.com/roach88/pagegraph/internal/ir"
)

// Calculator turns node events into affected query ids. It also remembers
// which queries were handed out without any recorded dependency so that a
// query that legitimately consumes nothing is queued only once.
type Calculator struct {
	tracker *deps.Tracker
	seen    map[string]struct{}
}

// New creates a calculator over tracker.
func New(tracker *deps.Tracker) *Calculator {
	return &Calculator{tracker: tracker, seen: make(map[string]struct{})}
}

// Affected returns the distinct, sorted query ids touched by events.
//
// Updates and deletes reach queries that consumed the node directly or
// through its type's connection. Creates reach only connection consumers,
// since no query can hold a reference to a node that did not exist. A
// deleted node's byNode entry is dropped once it has been accounted for.
func (c *Calculator) Affected(events []ir.NodeEvent) []string {
	affected := make(map[string]struct{})
	add := func(ids []string) {
		for _, id := range ids {
			affected[id] = struct{}{}
		}
	}

	var deleted []string
	for _, ev := range events {
		switch ev.Type {
		case ir.NodeCreated:
			add(c.tracker.QueriesForConnection(ev.NodeType))
		case ir.NodeUpdated:
			add(c.tracker.QueriesForNode(ev.NodeID))
			add(c.tracker.QueriesForConnection(ev.NodeType))
		case ir.NodeDeleted:
			add(c.tracker.QueriesForNode(ev.NodeID))
			add(c.tracker.QueriesForConnection(ev.NodeType))
			deleted = append(deleted, ev.NodeID)
		}
	}
	for _, id := range deleted {
		c.tracker.RemoveNode(id)
	}

	out := make([]string, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// NeverRun returns the candidates that have no recorded dependency and were
// not returned by an earlier call. Returned ids are remembered.
func (c *Calculator) NeverRun(candidates []string) []string {
	var out []string
	for _, id := range candidates {
		if c.tracker.HasDependencies(id) {
			continue
		}
		if _, ok := c.seen[id]; ok {
			continue
		}
		c.seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Forget drops id from the seen set so that NeverRun may return it again.
func (c *Calculator) Forget(id string) {
	delete(c.seen, id)
}
