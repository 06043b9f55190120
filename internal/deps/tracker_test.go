package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagegraph/internal/ir"
)

func TestTrackStartsDirty(t *testing.T) {
	tr := NewTracker()

	assert.True(t, tr.Track("/a/", "tmpl/post", true))
	assert.False(t, tr.Track("/a/", "tmpl/other", true))

	q, ok := tr.Get("/a/")
	require.True(t, ok)
	assert.Equal(t, ir.TrackedQuery{ID: "/a/", ComponentPath: "tmpl/other", Dirty: 1, IsPage: true}, q)
}

func TestDirtyCounter(t *testing.T) {
	tr := NewTracker()
	tr.Track("/a/", "c", true)
	tr.Track("/b/", "c", true)

	assert.True(t, tr.MarkDirty("/a/"))
	assert.False(t, tr.MarkDirty("/missing/"))

	q, _ := tr.Get("/a/")
	assert.Equal(t, 2, q.Dirty)

	tr.MarkRan("/b/")
	assert.Equal(t, []string{"/a/"}, tr.DirtyIDs())
}

func TestRecordDependency(t *testing.T) {
	tr := NewTracker()
	tr.Track("/a/", "c", true)
	tr.Track("/b/", "c", true)

	tr.RecordDependency("/a/", ir.NodeDependency("n1"))
	tr.RecordDependency("/a/", ir.NodeDependency("n1"))
	tr.RecordDependency("/b/", ir.NodeDependency("n1"))
	tr.RecordDependency("/b/", ir.ConnectionDependency("Post"))

	assert.Equal(t, []string{"/a/", "/b/"}, tr.QueriesForNode("n1"))
	assert.Equal(t, []string{"/b/"}, tr.QueriesForConnection("Post"))
	assert.True(t, tr.HasDependencies("/a/"))
	assert.Equal(t, []ir.Dependency{
		ir.NodeDependency("n1"),
		ir.ConnectionDependency("Post"),
	}, tr.Dependencies("/b/"))
}

func TestRecordDependencyIgnoresUntrackedQuery(t *testing.T) {
	tr := NewTracker()

	assert.False(t, tr.RecordDependency("/ghost/", ir.NodeDependency("n1")))
	assert.Empty(t, tr.QueriesForNode("n1"))
}

func TestClearDependencies(t *testing.T) {
	tr := NewTracker()
	tr.Track("/a/", "c", true)
	tr.Track("/b/", "c", true)
	tr.RecordDependency("/a/", ir.NodeDependency("n1"))
	tr.RecordDependency("/a/", ir.ConnectionDependency("Post"))
	tr.RecordDependency("/b/", ir.NodeDependency("n1"))

	tr.ClearDependencies("/a/")

	assert.Equal(t, []string{"/b/"}, tr.QueriesForNode("n1"))
	assert.Empty(t, tr.QueriesForConnection("Post"))
	assert.False(t, tr.HasDependencies("/a/"))
	assert.Empty(t, tr.Snapshot().ByConnection)
}

func TestDeleteRemovesIndexEntries(t *testing.T) {
	tr := NewTracker()
	tr.Track("/a/", "c", true)
	tr.RecordDependency("/a/", ir.NodeDependency("n1"))

	assert.True(t, tr.Delete("/a/"))
	assert.False(t, tr.Delete("/a/"))

	_, ok := tr.Get("/a/")
	assert.False(t, ok)
	assert.Empty(t, tr.QueriesForNode("n1"))
}

func TestRemoveNode(t *testing.T) {
	tr := NewTracker()
	tr.Track("/a/", "c", true)
	tr.RecordDependency("/a/", ir.NodeDependency("n1"))
	tr.RecordDependency("/a/", ir.NodeDependency("n2"))

	tr.RemoveNode("n1")

	assert.Empty(t, tr.QueriesForNode("n1"))
	assert.Equal(t, []ir.Dependency{ir.NodeDependency("n2")}, tr.Dependencies("/a/"))
}

func TestSnapshotRestore(t *testing.T) {
	tr := NewTracker()
	tr.Track("/a/", "c", true)
	tr.Track("sq--nav", "nav", false)
	tr.MarkRan("/a/")
	tr.RecordDependency("/a/", ir.NodeDependency("n1"))
	tr.RecordDependency("sq--nav", ir.ConnectionDependency("Page"))

	snap := tr.Snapshot()

	restored := NewTracker()
	restored.Restore(snap)

	assert.Equal(t, snap, restored.Snapshot())
	q, ok := restored.Get("/a/")
	require.True(t, ok)
	assert.Equal(t, 0, q.Dirty)
}

func TestRestoreDropsOrphanEntries(t *testing.T) {
	tr := NewTracker()
	tr.Restore(Snapshot{
		Queries: []ir.TrackedQuery{{ID: "/a/", Dirty: 0}},
		ByNode:  map[string][]string{"n1": {"/a/", "/gone/"}},
	})

	assert.Equal(t, []string{"/a/"}, tr.QueriesForNode("n1"))
}
