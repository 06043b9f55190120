package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pagegraph/internal/engine"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/runner"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	EngineOverrides
}

// BuildResult is the JSON payload of a build.
type BuildResult struct {
	Batch     string         `json:"batch"`
	Seq       int64          `json:"seq"`
	Restored  bool           `json:"restored"`
	Ran       []string       `json:"ran"`
	Written   []string       `json:"written"`
	Unchanged []string       `json:"unchanged"`
	Failed    []string       `json:"failed,omitempty"`
	Errors    []BuildFailure `json:"errors,omitempty"`
}

// BuildFailure is one failed query or template.
type BuildFailure struct {
	Code          string          `json:"code"`
	Message       string          `json:"message"`
	QueryID       string          `json:"query_id,omitempty"`
	ComponentPath string          `json:"component_path,omitempty"`
	Errors        []ir.QueryError `json:"errors,omitempty"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run every dirty page query once and write results",
		Long: `Source the site, run every page and static query whose inputs changed since
the last build, and write one result file per query.

State is kept in the config's database, so an unchanged site runs nothing
and an edited node re-runs only the pages that read it.

Exit codes:
  0 - Every query succeeded
  1 - One or more queries or templates failed
  2 - Command error (invalid config, missing site file, etc.)

Examples:
  pagegraph build
  pagegraph build --config site/pagegraph.cue --concurrency 4
  pagegraph build --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "maximum queries running at once (default from config)")
	cmd.Flags().StringVarP(&opts.OutputDir, "out", "o", "", "output directory (default from config)")

	return cmd
}

func runBuild(opts *BuildOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.logger()
	ctx := cmd.Context()

	p, err := LoadProject(opts.Config)
	if err != nil {
		formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}
	formatter.VerboseLog("Loaded %d node(s), %d page(s) from %s", len(p.Site.Nodes), len(p.Site.Pages), p.Root)

	s, err := openSession(ctx, p, runner.ModeBuild, opts.EngineOverrides, logger)
	if err != nil {
		formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Error("error closing database", "error", cerr)
		}
	}()

	report, buildErr := s.engine.Drain(ctx)
	var be *engine.BuildError
	if buildErr != nil && !errors.As(buildErr, &be) {
		formatter.Error(ErrCodeGeneric, buildErr.Error(), nil)
		return WrapExitError(ExitCommandError, "build aborted", buildErr)
	}

	// Failed queries stay dirty in the checkpoint and are retried next time.
	if err := s.engine.Checkpoint(ctx); err != nil {
		formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to save state", err)
	}

	result := newBuildResult(report, s.restored, be)
	if formatter.JSON() {
		if be != nil {
			formatter.Error(ErrCodeBuildFailed, be.Error(), result)
		} else {
			formatter.Success(result)
		}
	} else {
		writeBuildText(cmd.OutOrStdout(), report, be)
	}

	if be != nil {
		return NewExitError(ExitFailure, fmt.Sprintf("%d failure(s)", len(be.Errors)))
	}
	return nil
}

func newBuildResult(report engine.Report, restored bool, be *engine.BuildError) BuildResult {
	r := BuildResult{
		Batch:     report.Token,
		Seq:       report.Seq,
		Restored:  restored,
		Ran:       orEmpty(report.Ran),
		Written:   orEmpty(report.Written),
		Unchanged: orEmpty(report.Unchanged),
		Failed:    report.Failed,
	}
	if be != nil {
		for _, re := range be.Errors {
			r.Errors = append(r.Errors, BuildFailure{
				Code:          string(re.Code),
				Message:       re.Message,
				QueryID:       re.QueryID,
				ComponentPath: re.ComponentPath,
				Errors:        re.Errors,
			})
		}
	}
	return r
}

func writeBuildText(w io.Writer, report engine.Report, be *engine.BuildError) {
	fmt.Fprintf(w, "Ran %d quer%s: %d written, %d unchanged\n",
		len(report.Ran), plural(len(report.Ran), "y", "ies"), len(report.Written), len(report.Unchanged))
	if be == nil {
		fmt.Fprintf(w, "✓ Build finished (batch %s)\n", report.Token)
		return
	}
	fmt.Fprintln(w)
	for _, line := range strings.Split(be.Error(), "\n") {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "✗ Build failed (batch %s)\n", report.Token)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
