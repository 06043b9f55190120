package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pagegraph", cmd.Use)
	assert.Contains(t, cmd.Long, "re-running only what a data change touched")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"build", "develop", "validate", "deps", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "pagegraph.cue", configFlag.DefValue)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestEngineCommandFlags(t *testing.T) {
	for _, name := range []string{"build", "develop"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{name})
			require.NoError(t, err)

			out := sub.Flags().Lookup("out")
			require.NotNil(t, out)
			assert.Equal(t, "o", out.Shorthand)
			assert.Equal(t, "", out.DefValue, "empty keeps the config value")

			conc := sub.Flags().Lookup("concurrency")
			require.NotNil(t, conc)
			assert.Equal(t, "0", conc.DefValue)
		})
	}

	sub, _, err := NewRootCommand().Find([]string{"develop"})
	require.NoError(t, err)
	assert.NotNil(t, sub.Flags().Lookup("addr"))
}

func TestDepsCommandFlags(t *testing.T) {
	sub, _, err := NewRootCommand().Find([]string{"deps"})
	require.NoError(t, err)
	assert.NotNil(t, sub.Flags().Lookup("node"))
	assert.NotNil(t, sub.Flags().Lookup("connection"))
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "validate", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		verbose  bool
		contains string
		debug    bool
	}{
		{name: "text", format: "text", contains: "msg=hello"},
		{name: "json", format: "json", contains: `"msg":"hello"`},
		{name: "verbose enables debug", format: "text", verbose: true, contains: "msg=hello", debug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			logger := newLogger(&buf, tt.format, tt.verbose)
			logger.Info("hello")
			logger.Debug("details")

			assert.Contains(t, buf.String(), tt.contains)
			assert.Equal(t, tt.debug, strings.Contains(buf.String(), "details"))
		})
	}
}
