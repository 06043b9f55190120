package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testConfig = `database:  ".state/pagegraph.db"
outputDir: "out"
`

	testSite = `nodes:
  - {id: post-a, type: Post, fields: {title: First}}
  - {id: post-b, type: Post, fields: {title: Second}}
pages:
  - {path: /, component: src/pages/index.js}
  - {path: /a/, component: src/templates/post.js, context: {id: post-a}}
  - {path: /b/, component: src/templates/post.js, context: {id: post-b}}
static_queries:
  - {id: site, query: "{ allPost { totalCount } }"}
`

	postTemplate = "export default function Post() {}\n\nexport const query = graphql`\n  query($id: ID!) { node(id: $id) { id title } }\n`\n"
	indexTemplate = "export const query = graphql`{ allPost { totalCount } }`\n"
	badTemplate   = "export const query = graphql`{ nope }`\n"
)

// writeProject lays out a site root and returns the config path.
func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "pagegraph.cue", testConfig)
	writeFile(t, root, "site.yaml", testSite)
	writeFile(t, root, "src/templates/post.js", postTemplate)
	writeFile(t, root, "src/pages/index.js", indexTemplate)
	return filepath.Join(root, "pagegraph.cue")
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
