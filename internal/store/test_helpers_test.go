package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/pagegraph/internal/deps"
	"github.com/roach88/pagegraph/internal/ir"
)

// createTestStore opens a fresh database under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCheckpoint builds a checkpoint with two pages and a static query.
func createTestCheckpoint() Checkpoint {
	tr := deps.NewTracker()
	tr.Track("/blog/a/", "src/templates/post.tsx", true)
	tr.Track("/blog/b/", "src/templates/post.tsx", true)
	tr.Track("sq--nav", "sq--nav", false)
	tr.RecordDependency("/blog/a/", ir.NodeDependency("post-a"))
	tr.RecordDependency("/blog/b/", ir.NodeDependency("post-b"))
	tr.RecordDependency("/blog/a/", ir.ConnectionDependency("Site"))
	tr.RecordDependency("sq--nav", ir.ConnectionDependency("Site"))
	tr.MarkRan("/blog/a/")
	tr.MarkRan("sq--nav")

	return Checkpoint{
		Seq:     7,
		Tracker: tr.Snapshot(),
		Hashes: map[string]string{
			"/blog/a/": "hash-a",
			"sq--nav":  "hash-nav",
		},
		Contexts: map[string]string{
			"/blog/a/": "ctx-a",
			"/blog/b/": "ctx-b",
		},
		Components: map[string]string{
			"src/templates/post.tsx": "query($slug: String) { post(slug: $slug) { title } }",
		},
		Nodes: map[string]NodeState{
			"post-a": {Type: "Post", Digest: "d-a"},
			"post-b": {Type: "Post", Digest: "d-b"},
		},
	}
}
