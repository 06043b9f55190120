package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pagegraph/internal/harness"
)

const goldenDirName = "golden"

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the payload of the test command.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run engine scenarios",
		Long: `Run YAML engine scenarios against an in-memory engine.

Each scenario declares a site, applies steps of data, page and template
changes, and checks what every batch ran and wrote. When
<scenarios-dir>/golden/<name>.golden exists, the run's snapshot must match
it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  pagegraph test ./scenarios
  pagegraph test ./scenarios --filter "blog_*"
  pagegraph test ./scenarios --update
  pagegraph test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from this run")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, "scenarios directory not found: "+dir)
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{Scenarios: []ScenarioResult{}, Total: len(files)}
	for _, file := range files {
		sr := runScenario(file, opts.Update)
		formatter.VerboseLog("Ran scenario %s from %s", sr.Name, file)
		if !formatter.JSON() {
			writeScenarioText(formatter.Writer, sr, opts.Update)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	switch {
	case formatter.JSON() && result.Failed > 0:
		formatter.Error("E_TEST_FAILED", fmt.Sprintf("%d scenario(s) failed", result.Failed), result)
	case formatter.JSON():
		formatter.Success(result)
	case result.Total == 0:
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
	default:
		writeTestSummary(formatter.Writer, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// findScenarioFiles walks dir for .yaml and .yml files, skipping golden
// directories. filter is matched against the file name without extension.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != dir && d.Name() == goldenDirName:
			return filepath.SkipDir
		case d.IsDir():
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// runScenario runs one file. Expectations decide first; a golden file, when
// present, must then match the snapshot.
func runScenario(file string, update bool) ScenarioResult {
	fail := func(name, format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), "failed to load scenario: %v", err)
	}
	res, err := harness.Run(scenario)
	if err != nil {
		return fail(scenario.Name, "execution failed: %v", err)
	}
	if !res.Pass {
		return ScenarioResult{Name: scenario.Name, Errors: res.Errors}
	}

	snap := harness.Snapshot{
		ScenarioName: scenario.Name,
		BatchToken:   res.BatchToken,
		Steps:        res.Steps,
		Artifacts:    res.Artifacts,
	}
	got, err := snap.Marshal()
	if err != nil {
		return fail(scenario.Name, "failed to marshal snapshot: %v", err)
	}

	golden := goldenFilePath(file)
	if update {
		if err := os.MkdirAll(filepath.Dir(golden), 0o755); err != nil {
			return fail(scenario.Name, "failed to update golden file: %v", err)
		}
		if err := os.WriteFile(golden, got, 0o644); err != nil {
			return fail(scenario.Name, "failed to update golden file: %v", err)
		}
		return ScenarioResult{Name: scenario.Name, Pass: true}
	}

	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fail(scenario.Name, "failed to read golden file: %v", err)
	case !bytes.Equal(want, got):
		return fail(scenario.Name, "snapshot does not match golden file (run with --update to regenerate)")
	}
	return ScenarioResult{Name: scenario.Name, Pass: true}
}

// goldenFilePath maps dir/name.yaml to dir/golden/name.golden.
func goldenFilePath(file string) string {
	base := filepath.Base(file)
	return filepath.Join(filepath.Dir(file), goldenDirName, strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}

func writeScenarioText(w io.Writer, sr ScenarioResult, updated bool) {
	if sr.Pass {
		suffix := ""
		if updated {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(w, "✓ %s%s\n", sr.Name, suffix)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func writeTestSummary(w io.Writer, r TestResult) {
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	if r.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}
