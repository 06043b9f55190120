package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Incremental(t *testing.T) {
	cfg := writeProject(t)
	root := filepath.Dir(cfg)

	out, _, err := execute(t, "build", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Ran 4 queries: 4 written, 0 unchanged")
	assert.Contains(t, out, "✓ Build finished")
	assert.Equal(t,
		`{"data":{"node":{"id":"post-a","title":"First"}},"pageContext":{"id":"post-a"}}`,
		readFile(t, root, "out/_a_.json"))
	assert.Equal(t, `{"data":{"allPost":{"totalCount":2}}}`, readFile(t, root, "out/sq--site.json"))

	out, _, err = execute(t, "build", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Ran 0 queries: 0 written, 0 unchanged", "unchanged site runs nothing")

	writeFile(t, root, "site.yaml", strings.Replace(testSite, "title: Second", "title: Second, edited", 1))
	out, _, err = execute(t, "build", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Ran 3 queries: 1 written, 2 unchanged")
	assert.Contains(t, readFile(t, root, "out/_b_.json"), `"title":"Second, edited"`)
}

func TestBuild_JSON(t *testing.T) {
	cfg := writeProject(t)

	out, _, err := execute(t, "build", "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   BuildResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(1), resp.Data.Seq)
	assert.False(t, resp.Data.Restored)
	assert.Equal(t, []string{"/", "/a/", "/b/", "sq--site"}, resp.Data.Ran)
	assert.Empty(t, resp.Data.Errors)
}

func TestBuild_OutputOverride(t *testing.T) {
	cfg := writeProject(t)
	root := filepath.Dir(cfg)

	_, _, err := execute(t, "build", "--config", cfg, "--out", "elsewhere", "--concurrency", "1")
	require.NoError(t, err)
	assert.Contains(t, readFile(t, root, "elsewhere/_b_.json"), `"title":"Second"`)
}

func TestBuild_Failures(t *testing.T) {
	cfg := writeProject(t)
	root := filepath.Dir(cfg)
	writeFile(t, root, "src/templates/post.js", badTemplate)

	out, _, err := execute(t, "build", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Ran 2 queries: 2 written, 0 unchanged", "pages of other templates still run")
	assert.Contains(t, out, "VALIDATION_FAILED")
	assert.Contains(t, out, "src/templates/post.js")
	assert.Contains(t, out, "✗ Build failed")

	t.Run("json", func(t *testing.T) {
		out, _, err := execute(t, "build", "--config", cfg, "--format", "json")
		require.Error(t, err)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeBuildFailed, resp.Error.Code)
	})

	t.Run("fixed template runs its pages", func(t *testing.T) {
		writeFile(t, root, "src/templates/post.js", postTemplate)
		out, _, err := execute(t, "build", "--config", cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "Ran 2 queries: 2 written, 0 unchanged")
	})
}

func TestBuild_CommandErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, root string)
		code  string
	}{
		{
			name:  "missing site file",
			setup: func(t *testing.T, root string) { writeFile(t, root, "pagegraph.cue", `site: "missing.yaml"`) },
			code:  ErrCodeNotFound,
		},
		{
			name:  "invalid config",
			setup: func(t *testing.T, root string) { writeFile(t, root, "pagegraph.cue", `concurrency: -1`) },
			code:  ErrCodeConfigInvalid,
		},
		{
			name:  "invalid site",
			setup: func(t *testing.T, root string) { writeFile(t, root, "site.yaml", "pages:\n  - {path: /x/}\n") },
			code:  ErrCodeSiteInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeProject(t)
			tt.setup(t, filepath.Dir(cfg))

			out, _, err := execute(t, "build", "--config", cfg)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}
