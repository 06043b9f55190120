// Package extract pulls the page query out of a template source file.
//
// A template declares its query as a tagged template literal:
//
//	export const query = graphql`
//	  query($slug: String) { post(slug: $slug) { title } }
//	`
//
// Problems with the literal itself (unterminated, interpolated) are
// source-level errors. Problems with the query text are GraphQL errors.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/runner"
)

// Kind classifies an extraction failure.
type Kind string

const (
	// KindSource means the template source could not be read as a query literal.
	KindSource Kind = "source"
	// KindGraphQL means the literal was found but its query is invalid.
	KindGraphQL Kind = "graphql"
)

const tag = "graphql`"

// Error is an extraction failure for one template.
type Error struct {
	Kind   Kind
	File   string
	Errors []ir.QueryError
}

func (e *Error) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("%s: %s extraction error", e.File, e.Kind)
	}
	first := e.Errors[0]
	if len(first.Locations) > 0 {
		l := first.Locations[0]
		return fmt.Sprintf("%s:%d:%d: %s", e.File, l.Line, l.Column, first.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, first.Message)
}

// IsSourceError reports whether err is a source-level extraction failure.
func IsSourceError(err error) bool {
	var xe *Error
	return errors.As(err, &xe) && xe.Kind == KindSource
}

// IsGraphQLError reports whether err is an invalid-query extraction failure.
func IsGraphQLError(err error) bool {
	var xe *Error
	return errors.As(err, &xe) && xe.Kind == KindGraphQL
}

// RootFields lists the query root fields a query may select. A nil
// RootFields skips root field validation.
type RootFields interface {
	RootFields() []string
}

// Extractor reads templates from disk relative to a root directory.
type Extractor struct {
	root   string
	schema RootFields
}

// New creates an extractor for templates under root.
func New(root string, schema RootFields) *Extractor {
	return &Extractor{root: root, schema: schema}
}

// Extract reads componentPath and returns its query text.
func (x *Extractor) Extract(componentPath string) (string, error) {
	path := componentPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(x.root, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return "", &Error{
			Kind:   KindSource,
			File:   componentPath,
			Errors: []ir.QueryError{{Message: err.Error(), File: componentPath}},
		}
	}

	var fields map[string]bool
	if x.schema != nil {
		fields = make(map[string]bool)
		for _, f := range x.schema.RootFields() {
			fields[f] = true
		}
	}
	return Source(componentPath, src, fields)
}

// Source extracts the query from template source. A template without a
// query literal yields an empty string. rootFields, when non-nil, restricts
// the fields the query may select at its root.
func Source(file string, src []byte, rootFields map[string]bool) (string, error) {
	start := bytes.Index(src, []byte(tag))
	if start < 0 {
		return "", nil
	}
	bodyStart := start + len(tag)
	end := bytes.IndexByte(src[bodyStart:], '`')
	if end < 0 {
		return "", sourceError(file, src, start, "unterminated graphql template literal")
	}
	end += bodyStart

	if i := bytes.Index(src[bodyStart:end], []byte("${")); i >= 0 {
		return "", sourceError(file, src, bodyStart+i, "string interpolation is not allowed in graphql queries")
	}
	if next := bytes.Index(src[end+1:], []byte(tag)); next >= 0 {
		return "", &Error{
			Kind: KindGraphQL,
			File: file,
			Errors: []ir.QueryError{{
				Message:   "multiple root queries in one template",
				Locations: []ir.Location{location(src, end+1+next)},
				File:      file,
			}},
		}
	}

	query := string(src[bodyStart:end])
	if err := validate(file, query, rootFields); err != nil {
		return "", err
	}
	return strings.TrimSpace(query), nil
}

func validate(file, query string, rootFields map[string]bool) error {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	doc, gerr := parser.ParseQuery(&ast.Source{Name: file, Input: query})
	if gerr != nil {
		return graphqlError(file, query, gerr)
	}
	if rootFields == nil {
		return nil
	}

	var errs []ir.QueryError
	for _, op := range doc.Operations {
		if op.Operation != ast.Query {
			errs = append(errs, ir.QueryError{
				Message:   fmt.Sprintf("only query operations are supported, got %s", op.Operation),
				Locations: []ir.Location{{Line: op.Position.Line, Column: op.Position.Column}},
			})
			continue
		}
		for _, sel := range op.SelectionSet {
			f, ok := sel.(*ast.Field)
			if !ok || f.Name == "__typename" || rootFields[f.Name] {
				continue
			}
			errs = append(errs, ir.QueryError{
				Message:   fmt.Sprintf("Cannot query field %q on type \"Query\".", f.Name),
				Locations: []ir.Location{{Line: f.Position.Line, Column: f.Position.Column}},
			})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &Error{Kind: KindGraphQL, File: file, Errors: withCodeframes(file, query, errs)}
}

func graphqlError(file, query string, err error) error {
	var list gqlerror.List
	var single *gqlerror.Error
	switch {
	case errors.As(err, &list):
	case errors.As(err, &single):
		list = gqlerror.List{single}
	default:
		list = gqlerror.List{gqlerror.Errorf("%s", err.Error())}
	}

	errs := make([]ir.QueryError, 0, len(list))
	for _, e := range list {
		qe := ir.QueryError{Message: e.Message}
		for _, l := range e.Locations {
			qe.Locations = append(qe.Locations, ir.Location{Line: l.Line, Column: l.Column})
		}
		errs = append(errs, qe)
	}
	return &Error{Kind: KindGraphQL, File: file, Errors: withCodeframes(file, query, errs)}
}

func withCodeframes(file, query string, errs []ir.QueryError) []ir.QueryError {
	sort.SliceStable(errs, func(i, j int) bool {
		return lessLocation(errs[i].Locations, errs[j].Locations)
	})
	for i := range errs {
		errs[i].File = file
		if len(errs[i].Locations) > 0 {
			errs[i].Codeframe = runner.Codeframe(query, errs[i].Locations[0])
		}
	}
	return errs
}

func lessLocation(a, b []ir.Location) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) > len(b)
	}
	if a[0].Line != b[0].Line {
		return a[0].Line < b[0].Line
	}
	return a[0].Column < b[0].Column
}

func sourceError(file string, src []byte, offset int, msg string) error {
	loc := location(src, offset)
	return &Error{
		Kind: KindSource,
		File: file,
		Errors: []ir.QueryError{{
			Message:   msg,
			Locations: []ir.Location{loc},
			File:      file,
			Codeframe: runner.Codeframe(string(src), loc),
		}},
	}
}

// location converts a byte offset into a 1-based line and column.
func location(src []byte, offset int) ir.Location {
	before := src[:offset]
	line := bytes.Count(before, []byte{'\n'}) + 1
	col := offset - bytes.LastIndexByte(before, '\n')
	return ir.Location{Line: line, Column: col}
}
