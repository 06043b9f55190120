package deps

import (
	"slices"

	"github.com/roach88/pagegraph/internal/ir"
)

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// queryDeps is the reverse index for one query, used to clear it without
// scanning every entry.
type queryDeps struct {
	nodes       set
	connections set
}

// Tracker owns the dependency index and the tracked-query set.
//
// Every index entry refers to a tracked query: dependencies recorded for an
// unknown query are dropped and deleting a query clears its entries.
type Tracker struct {
	queries      map[string]*ir.TrackedQuery
	byNode       map[string]set
	byConnection map[string]set
	byQuery      map[string]*queryDeps
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		queries:      make(map[string]*ir.TrackedQuery),
		byNode:       make(map[string]set),
		byConnection: make(map[string]set),
		byQuery:      make(map[string]*queryDeps),
	}
}

// Track registers a query with a dirty counter of 1. Tracking an existing
// query only updates its component path.
func (t *Tracker) Track(id, componentPath string, isPage bool) bool {
	if q, ok := t.queries[id]; ok {
		q.ComponentPath = componentPath
		return false
	}
	t.queries[id] = &ir.TrackedQuery{ID: id, ComponentPath: componentPath, Dirty: 1, IsPage: isPage}
	return true
}

// Get returns a copy of a tracked query.
func (t *Tracker) Get(id string) (ir.TrackedQuery, bool) {
	q, ok := t.queries[id]
	if !ok {
		return ir.TrackedQuery{}, false
	}
	return *q, true
}

// IDs returns every tracked query id, sorted.
func (t *Tracker) IDs() []string {
	ids := make([]string, 0, len(t.queries))
	for id := range t.queries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DirtyIDs returns tracked queries whose dirty counter is positive, sorted.
func (t *Tracker) DirtyIDs() []string {
	var ids []string
	for id, q := range t.queries {
		if q.Dirty > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// MarkDirty adds one invalidation reason to a tracked query.
func (t *Tracker) MarkDirty(id string) bool {
	q, ok := t.queries[id]
	if !ok {
		return false
	}
	q.Dirty++
	return true
}

// MarkRan resets the dirty counter after a successful run.
func (t *Tracker) MarkRan(id string) {
	if q, ok := t.queries[id]; ok {
		q.Dirty = 0
	}
}

// Delete forgets a tracked query and every index entry that names it.
func (t *Tracker) Delete(id string) bool {
	if _, ok := t.queries[id]; !ok {
		return false
	}
	t.ClearDependencies(id)
	delete(t.queries, id)
	return true
}

// RecordDependency adds one dependency edge for a tracked query.
func (t *Tracker) RecordDependency(queryID string, dep ir.Dependency) bool {
	if _, ok := t.queries[queryID]; !ok {
		return false
	}
	qd, ok := t.byQuery[queryID]
	if !ok {
		qd = &queryDeps{nodes: set{}, connections: set{}}
		t.byQuery[queryID] = qd
	}
	if dep.NodeID != "" {
		addTo(t.byNode, dep.NodeID, queryID)
		qd.nodes[dep.NodeID] = struct{}{}
	}
	if dep.Connection != "" {
		addTo(t.byConnection, dep.Connection, queryID)
		qd.connections[dep.Connection] = struct{}{}
	}
	return true
}

// ClearDependencies removes the given queries from every index entry.
func (t *Tracker) ClearDependencies(queryIDs ...string) {
	for _, id := range queryIDs {
		qd, ok := t.byQuery[id]
		if !ok {
			continue
		}
		for nodeID := range qd.nodes {
			removeFrom(t.byNode, nodeID, id)
		}
		for conn := range qd.connections {
			removeFrom(t.byConnection, conn, id)
		}
		delete(t.byQuery, id)
	}
}

// RemoveNode drops the byNode entry of a deleted node.
func (t *Tracker) RemoveNode(nodeID string) {
	for id := range t.byNode[nodeID] {
		if qd, ok := t.byQuery[id]; ok {
			delete(qd.nodes, nodeID)
		}
	}
	delete(t.byNode, nodeID)
}

// QueriesForNode returns the queries that consumed a node, sorted.
func (t *Tracker) QueriesForNode(nodeID string) []string {
	return t.byNode[nodeID].sorted()
}

// QueriesForConnection returns the queries that consumed every node of a type, sorted.
func (t *Tracker) QueriesForConnection(typeName string) []string {
	return t.byConnection[typeName].sorted()
}

// HasDependencies reports whether any index entry names the query.
func (t *Tracker) HasDependencies(queryID string) bool {
	qd, ok := t.byQuery[queryID]
	return ok && (len(qd.nodes) > 0 || len(qd.connections) > 0)
}

// Dependencies returns the edges currently recorded for a query.
func (t *Tracker) Dependencies(queryID string) []ir.Dependency {
	qd, ok := t.byQuery[queryID]
	if !ok {
		return nil
	}
	var out []ir.Dependency
	for _, n := range qd.nodes.sorted() {
		out = append(out, ir.NodeDependency(n))
	}
	for _, c := range qd.connections.sorted() {
		out = append(out, ir.ConnectionDependency(c))
	}
	return out
}

func addTo(index map[string]set, key, queryID string) {
	s, ok := index[key]
	if !ok {
		s = set{}
		index[key] = s
	}
	s[queryID] = struct{}{}
}

func removeFrom(index map[string]set, key, queryID string) {
	s, ok := index[key]
	if !ok {
		return
	}
	delete(s, queryID)
	if len(s) == 0 {
		delete(index, key)
	}
}
