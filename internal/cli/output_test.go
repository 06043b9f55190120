package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	tests := []struct {
		name  string
		write func(f *OutputFormatter) error
		want  string
	}{
		{
			name:  "success",
			write: func(f *OutputFormatter) error { return f.Success([]string{"/a/"}) },
			want:  `{"status":"ok","data":["/a/"]}`,
		},
		{
			name:  "error",
			write: func(f *OutputFormatter) error { return f.Error(ErrCodeBuildFailed, "build failed", nil) },
			want:  `{"status":"error","error":{"code":"E006","message":"build failed"}}`,
		},
		{
			name: "error with details",
			write: func(f *OutputFormatter) error {
				return f.Error(ErrCodeTemplateGraphQL, "1 template(s) invalid", map[string]int{"line": 3})
			},
			want: `{"status":"error","error":{"code":"E202","message":"1 template(s) invalid","details":{"line":3}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: buf, Verbose: true}
			require.NoError(t, tt.write(f))
			assert.JSONEq(t, tt.want, buf.String())
		})
	}
}

func TestOutputFormatter_Text(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		write    func(f *OutputFormatter) error
		contains []string
		excludes []string
	}{
		{
			name:     "success",
			write:    func(f *OutputFormatter) error { return f.Success("2 template(s) valid") },
			contains: []string{"2 template(s) valid\n"},
		},
		{
			name: "error hides details",
			write: func(f *OutputFormatter) error {
				return f.Error(ErrCodeNotFound, "site file not found", "site.yaml")
			},
			contains: []string{"Error [E005]: site file not found"},
			excludes: []string{"Details:"},
		},
		{
			name:    "verbose error shows details",
			verbose: true,
			write: func(f *OutputFormatter) error {
				return f.Error(ErrCodeNotFound, "site file not found", "site.yaml")
			},
			contains: []string{"Error [E005]", "Details: site.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}
			require.NoError(t, tt.write(f))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		errWriter bool
	}{
		{name: "disabled", verbose: false},
		{name: "falls back to writer", verbose: true},
		{name: "uses diagnostic writer", verbose: true, errWriter: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: out, Verbose: tt.verbose}
			if tt.errWriter {
				f.ErrWriter = diag
			}

			f.VerboseLog("Validating template: %s", "src/templates/post.js")

			want := "Validating template: src/templates/post.js\n"
			switch {
			case !tt.verbose:
				assert.Empty(t, out.String())
				assert.Empty(t, diag.String())
			case tt.errWriter:
				assert.Empty(t, out.String(), "diagnostics never mix with JSON output")
				assert.Equal(t, want, diag.String())
			default:
				assert.Equal(t, want, out.String())
			}
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{name: "plain", err: NewExitError(ExitFailure, "2 failure(s)"), code: ExitFailure, msg: "2 failure(s)"},
		{name: "wrapped", err: WrapExitError(ExitCommandError, "failed to save state", cause), code: ExitCommandError, msg: "failed to save state: disk full"},
		{name: "nested", err: fmt.Errorf("develop: %w", NewExitError(ExitCommandError, "failed to listen")), code: ExitCommandError, msg: "develop: failed to listen"},
		{name: "foreign error", err: errors.New("unknown flag: --nope"), code: ExitFailure, msg: "unknown flag: --nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetExitCode(tt.err))
			assert.Equal(t, tt.msg, tt.err.Error())
		})
	}

	assert.ErrorIs(t, WrapExitError(ExitFailure, "x", cause), cause)
}
