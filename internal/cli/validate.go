package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pagegraph/internal/datastore"
	"github.com/roach88/pagegraph/internal/extract"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Components int               `json:"components"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one template that failed extraction.
type ValidationError struct {
	Code      string          `json:"code"`
	Component string          `json:"component"`
	Message   string          `json:"message"`
	Errors    []ir.QueryError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check config, site file and template queries without running them",
		Long: `Load the config and site file, then extract the query of every template a
page is bound to and check it against the sourced data's query fields.

Nothing is executed and no state is written. Faster than build for
development feedback.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	p, err := LoadProject(opts.Config)
	if err != nil {
		formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}

	// Root fields depend on the node types, so the site is sourced into a
	// throwaway store.
	data := datastore.New(datastore.WithLogger(opts.logger()))
	if err := p.Site.Source(data); err != nil {
		formatter.Error(ErrCodeSiteInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to source site", err)
	}
	x := extract.New(p.Site.Root, schema.New(data))

	components := p.Site.Components()
	result := ValidationResult{Valid: true, Components: len(components)}
	for _, c := range components {
		formatter.VerboseLog("Validating template: %s", c)
		if _, err := x.Extract(c); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, validationError(c, err))
		}
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d template(s) valid\n", result.Components)
	return nil
}

func validationError(component string, err error) ValidationError {
	ve := ValidationError{Code: ErrCodeTemplateSource, Component: component, Message: err.Error()}
	var xe *extract.Error
	if errors.As(err, &xe) {
		if xe.Kind == extract.KindGraphQL {
			ve.Code = ErrCodeTemplateGraphQL
		}
		ve.Errors = xe.Errors
	}
	return ve
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		formatter.Error(result.Errors[0].Code, fmt.Sprintf("%d template(s) invalid", len(result.Errors)), result)
	} else {
		for _, ve := range result.Errors {
			writeValidationError(formatter.Writer, ve)
		}
		fmt.Fprintf(formatter.Writer, "✗ %d of %d template(s) invalid\n", len(result.Errors), result.Components)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d template(s) invalid", len(result.Errors)))
}

func writeValidationError(w io.Writer, ve ValidationError) {
	if len(ve.Errors) == 0 {
		fmt.Fprintf(w, "Error [%s]: %s\n\n", ve.Code, ve.Message)
		return
	}
	for _, qe := range ve.Errors {
		loc := ve.Component
		if len(qe.Locations) > 0 {
			loc = fmt.Sprintf("%s:%d:%d", ve.Component, qe.Locations[0].Line, qe.Locations[0].Column)
		}
		fmt.Fprintf(w, "Error [%s]: %s: %s\n", ve.Code, loc, qe.Message)
		if qe.Codeframe != "" {
			for _, line := range strings.Split(qe.Codeframe, "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
		fmt.Fprintln(w)
	}
}
