package dirty

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/pagegraph/internal/deps"
	"github.com/roach88/pagegraph/internal/ir"
)

func setup() *deps.Tracker {
	tr := deps.NewTracker()
	tr.Track("/a/", "post", true)
	tr.Track("/b/", "post", true)
	tr.Track("/list/", "list", true)
	tr.RecordDependency("/a/", ir.NodeDependency("n1"))
	tr.RecordDependency("/b/", ir.NodeDependency("n2"))
	tr.RecordDependency("/list/", ir.ConnectionDependency("Post"))
	return tr
}

func TestAffected(t *testing.T) {
	tests := []struct {
		name     string
		events   []ir.NodeEvent
		expected []string
	}{
		{
			name:     "update reaches node and connection consumers",
			events:   []ir.NodeEvent{{Type: ir.NodeUpdated, NodeID: "n1", NodeType: "Post"}},
			expected: []string{"/a/", "/list/"},
		},
		{
			name:     "create reaches only connection consumers",
			events:   []ir.NodeEvent{{Type: ir.NodeCreated, NodeID: "n9", NodeType: "Post"}},
			expected: []string{"/list/"},
		},
		{
			name:     "create of unconsumed type",
			events:   []ir.NodeEvent{{Type: ir.NodeCreated, NodeID: "x", NodeType: "Author"}},
			expected: []string{},
		},
		{
			name: "duplicates collapse",
			events: []ir.NodeEvent{
				{Type: ir.NodeUpdated, NodeID: "n1", NodeType: "Post"},
				{Type: ir.NodeUpdated, NodeID: "n1", NodeType: "Post"},
				{Type: ir.NodeUpdated, NodeID: "n2", NodeType: "Post"},
			},
			expected: []string{"/a/", "/b/", "/list/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(setup())
			assert.Equal(t, tt.expected, c.Affected(tt.events))
		})
	}
}

func TestAffectedDeleteRemovesNodeEntry(t *testing.T) {
	tr := setup()
	c := New(tr)

	got := c.Affected([]ir.NodeEvent{{Type: ir.NodeDeleted, NodeID: "n1", NodeType: "Post"}})

	assert.Equal(t, []string{"/a/", "/list/"}, got)
	assert.Empty(t, tr.QueriesForNode("n1"))
	assert.Equal(t, []string{"/list/"}, tr.QueriesForConnection("Post"))
}

func TestNeverRunReturnsEachIDOnce(t *testing.T) {
	tr := setup()
	tr.Track("/empty/", "static", true)
	c := New(tr)

	candidates := []string{"/a/", "/empty/", "sq--nav"}
	assert.Equal(t, []string{"/empty/", "sq--nav"}, c.NeverRun(candidates))
	assert.Empty(t, c.NeverRun(candidates))

	c.Forget("/empty/")
	assert.Equal(t, []string{"/empty/"}, c.NeverRun(candidates))
}
