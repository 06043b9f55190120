package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagegraph/internal/ir"
)

func TestSplitAliasAndArgumentKindDoNotChangeHash(t *testing.T) {
	byVariable, err := Split(`query($id: String) { first: post(id: $id) { title } }`)
	require.NoError(t, err)
	byLiteral, err := Split(`{ post(id: "x") { title } }`)
	require.NoError(t, err)

	require.Len(t, byVariable, 1)
	require.Len(t, byLiteral, 1)
	assert.Equal(t, byLiteral[0].Hash, byVariable[0].Hash)

	assert.Equal(t, KindField, byVariable[0].Kind)
	assert.Equal(t, "first", byVariable[0].Alias)
	assert.Equal(t, "post", byVariable[0].FieldName)
	assert.Equal(t, []Leaf{{ArgPath: "post:id", Kind: LeafVariable, Name: "id"}}, byVariable[0].Leaves)
	assert.Equal(t, []Leaf{{ArgPath: "post:id", Kind: LeafLiteral, Value: ir.String("x")}}, byLiteral[0].Leaves)
}

func TestSplitDifferentSelectionsHashDifferently(t *testing.T) {
	a, err := Split(`{ post(id: "x") { title } }`)
	require.NoError(t, err)
	b, err := Split(`{ post(id: "x") { body } }`)
	require.NoError(t, err)

	assert.NotEqual(t, a[0].Hash, b[0].Hash)
}

func TestSplitNestedArgumentLeaves(t *testing.T) {
	chunks, err := Split(`query($slug: String) {
		allPost(filter: {slug: {eq: $slug}}, limit: 2) {
			nodes { id comments(first: 3) { id } }
		}
	}`)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, []Leaf{
		{ArgPath: "allPost:filter.slug.eq", Kind: LeafVariable, Name: "slug"},
		{ArgPath: "allPost:limit", Kind: LeafLiteral, Value: ir.Int(2)},
		{ArgPath: "allPost.nodes.comments:first", Kind: LeafLiteral, Value: ir.Int(3)},
	}, chunks[0].Leaves)
}

func TestSplitTopLevelSelections(t *testing.T) {
	chunks, err := Split(`
		query Page($id: String) {
			post(id: $id) { title }
			...SiteInfo
			site { siteMetadata { title } }
		}
		fragment SiteInfo on Query { buildTime }
	`)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, KindField, chunks[0].Kind)
	assert.Equal(t, KindFragment, chunks[1].Kind)
	assert.Equal(t, "...SiteInfo", chunks[1].FieldName)
	assert.Contains(t, chunks[1].Text, "fragment SiteInfo")
	assert.Equal(t, "site", chunks[2].Alias)
	assert.Empty(t, chunks[2].Leaves)

	// Each executable text only declares the variables it uses.
	assert.Contains(t, chunks[0].Text, "$id")
	assert.NotContains(t, chunks[2].Text, "$id")
}

func TestSplitExecutableTextDropsAlias(t *testing.T) {
	chunks, err := Split(`query($id: String) { first: post(id: $id) { title } }`)
	require.NoError(t, err)

	assert.NotContains(t, chunks[0].Text, "first")
	_, err = ParseQuery(chunks[0].Text)
	require.NoError(t, err)
}

func TestSplitParseError(t *testing.T) {
	_, err := Split(`{ post( }`)
	assert.Error(t, err)
}

func TestSplitFragmentsOnly(t *testing.T) {
	chunks, err := Split(`fragment F on Query { buildTime }`)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestBinding(t *testing.T) {
	byVariable, err := Split(`query($id: String) { post(id: $id, draft: false) { title } }`)
	require.NoError(t, err)
	c := byVariable[0]

	assert.Equal(t, ir.Object{
		"post:id":    ir.String("x"),
		"post:draft": ir.Bool(false),
	}, c.Binding(ir.Object{"id": ir.String("x"), "unused": ir.Int(1)}))

	assert.Equal(t, ir.Object{
		"post:id":    ir.Null{},
		"post:draft": ir.Bool(false),
	}, c.Binding(nil))

	byLiteral, err := Split(`{ post(id: "x", draft: false) { title } }`)
	require.NoError(t, err)

	d1, err := c.BindingDigest(ir.Object{"id": ir.String("x")})
	require.NoError(t, err)
	d2, err := byLiteral[0].BindingDigest(nil)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
