package deps

import "github.com/roach88/pagegraph/internal/ir"

// Snapshot is a serializable copy of the tracker state. Slices are sorted.
type Snapshot struct {
	Queries      []ir.TrackedQuery   `json:"queries"`
	ByNode       map[string][]string `json:"by_node"`
	ByConnection map[string][]string `json:"by_connection"`
}

// Snapshot copies the current state.
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{
		ByNode:       make(map[string][]string, len(t.byNode)),
		ByConnection: make(map[string][]string, len(t.byConnection)),
	}
	for _, id := range t.IDs() {
		snap.Queries = append(snap.Queries, *t.queries[id])
	}
	for k, s := range t.byNode {
		snap.ByNode[k] = s.sorted()
	}
	for k, s := range t.byConnection {
		snap.ByConnection[k] = s.sorted()
	}
	return snap
}

// Restore replaces the tracker state with snap. Index entries that name a
// query missing from snap.Queries are dropped.
func (t *Tracker) Restore(snap Snapshot) {
	*t = *NewTracker()
	for _, q := range snap.Queries {
		t.queries[q.ID] = &q
	}
	for nodeID, ids := range snap.ByNode {
		for _, id := range ids {
			t.RecordDependency(id, ir.NodeDependency(nodeID))
		}
	}
	for conn, ids := range snap.ByConnection {
		for _, id := range ids {
			t.RecordDependency(id, ir.ConnectionDependency(conn))
		}
	}
}
