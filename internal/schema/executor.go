package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/roach88/pagegraph/internal/datastore"
	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/runner"
)

const linkSuffix = "___NODE"

// Executor resolves queries over a data store.
type Executor struct {
	store *datastore.Store
}

// New creates an executor over store.
func New(store *datastore.Store) *Executor {
	return &Executor{store: store}
}

// RootFields lists the root fields for the node types currently in the store.
func (x *Executor) RootFields() []string {
	fields := []string{"node"}
	for _, t := range x.store.Types() {
		fields = append(fields, lowerFirst(t), "all"+t)
	}
	slices.Sort(fields)
	return fields
}

// Execute runs req. Query-level problems are returned in Response.Errors;
// the error return is reserved for cancellation.
func (x *Executor) Execute(ctx context.Context, req runner.Request) (runner.Response, error) {
	if err := ctx.Err(); err != nil {
		return runner.Response{}, err
	}

	doc, err := parser.ParseQuery(&ast.Source{Name: req.QueryID, Input: req.Query})
	if err != nil {
		return runner.Response{Data: ir.Object{}, Errors: parseErrors(err)}, nil
	}

	var op *ast.OperationDefinition
	for _, o := range doc.Operations {
		if o.Operation == ast.Query {
			op = o
			break
		}
	}
	if op == nil {
		return runner.Response{
			Data:   ir.Object{},
			Errors: []ir.QueryError{{Message: "document contains no query operation"}},
		}, nil
	}

	vars, _ := ir.ToGo(req.Variables).(map[string]any)
	r := &resolution{
		store: x.store,
		doc:   doc,
		vars:  vars,
		deps:  make(map[ir.Dependency]struct{}),
	}
	data := r.root(op.SelectionSet)
	return runner.Response{Data: data, Errors: r.errs, Dependencies: r.dependencies()}, nil
}

// resolution is the state of one execution.
type resolution struct {
	store *datastore.Store
	doc   *ast.QueryDocument
	vars  map[string]any
	deps  map[ir.Dependency]struct{}
	errs  []ir.QueryError
}

func (r *resolution) root(set ast.SelectionSet) ir.Object {
	out := ir.Object{}
	for _, f := range r.collect(set, "Query") {
		v, err := r.rootField(f)
		if err != nil {
			r.fail(f, []string{f.Alias}, err)
			out[f.Alias] = ir.Null{}
			continue
		}
		out[f.Alias] = v
	}
	return out
}

func (r *resolution) rootField(f *ast.Field) (ir.Value, error) {
	args, err := r.arguments(f.Arguments)
	if err != nil {
		return nil, err
	}

	switch {
	case f.Name == "__typename":
		return ir.String("Query"), nil
	case f.Name == "node":
		id, ok := args["id"].(ir.String)
		if !ok {
			return nil, errors.New(`argument "id" of type "ID!" is required`)
		}
		r.depend(ir.NodeDependency(string(id)))
		n, found := r.store.GetNode(string(id))
		if !found {
			return ir.Null{}, nil
		}
		return r.node(n, f.SelectionSet), nil
	case isConnectionField(f.Name):
		return r.connection(strings.TrimPrefix(f.Name, "all"), args, f.SelectionSet)
	}

	typeName, ok := r.typeFor(f.Name)
	if !ok {
		return nil, fmt.Errorf("Cannot query field %q on type \"Query\".", f.Name)
	}
	return r.single(typeName, args, f.SelectionSet), nil
}

// single resolves the first node of typeName matching every argument.
func (r *resolution) single(typeName string, args ir.Object, set ast.SelectionSet) ir.Value {
	if id, ok := args["id"].(ir.String); ok {
		r.depend(ir.NodeDependency(string(id)))
		n, found := r.store.GetNode(string(id))
		if found && n.Type == typeName && matches(n, without(args, "id")) {
			return r.node(n, set)
		}
		r.depend(ir.ConnectionDependency(typeName))
		return ir.Null{}
	}

	r.depend(ir.ConnectionDependency(typeName))
	for _, n := range r.store.GetNodesByType(typeName) {
		if matches(n, args) {
			r.depend(ir.NodeDependency(n.ID))
			return r.node(n, set)
		}
	}
	return ir.Null{}
}

// connection resolves allT. Supported arguments are filter, sort
// ({field, order}), skip and limit.
func (r *resolution) connection(typeName string, args ir.Object, set ast.SelectionSet) (ir.Value, error) {
	r.depend(ir.ConnectionDependency(typeName))

	var nodes []ir.Node
	filter, _ := args["filter"].(ir.Object)
	for _, n := range r.store.GetNodesByType(typeName) {
		ok, err := matchFilter(n, filter, "")
		if err != nil {
			return nil, err
		}
		if ok {
			nodes = append(nodes, n)
		}
	}

	if s, ok := args["sort"].(ir.Object); ok {
		sortNodes(nodes, s)
	}
	total := len(nodes)
	if skip, ok := args["skip"].(ir.Int); ok && skip > 0 {
		nodes = nodes[min(int(skip), len(nodes)):]
	}
	if limit, ok := args["limit"].(ir.Int); ok && limit >= 0 {
		nodes = nodes[:min(int(limit), len(nodes))]
	}

	out := ir.Object{}
	for _, f := range r.collect(set, typeName+"Connection") {
		switch f.Name {
		case "__typename":
			out[f.Alias] = ir.String(typeName + "Connection")
		case "totalCount":
			out[f.Alias] = ir.Int(total)
		case "nodes":
			list := make(ir.List, len(nodes))
			for i, n := range nodes {
				list[i] = r.node(n, f.SelectionSet)
			}
			out[f.Alias] = list
		default:
			return nil, fmt.Errorf("Cannot query field %q on type %q.", f.Name, typeName+"Connection")
		}
	}
	return out, nil
}

func (r *resolution) node(n ir.Node, set ast.SelectionSet) ir.Value {
	if len(set) == 0 {
		return ir.String(n.ID)
	}

	out := ir.Object{}
	for _, f := range r.collect(set, n.Type) {
		switch f.Name {
		case "__typename":
			out[f.Alias] = ir.String(n.Type)
		case "id":
			out[f.Alias] = ir.String(n.ID)
		case "parent":
			out[f.Alias] = r.link(ir.String(n.Parent), f.SelectionSet)
		case "children":
			ids := make(ir.List, len(n.Children))
			for i, id := range n.Children {
				ids[i] = ir.String(id)
			}
			out[f.Alias] = r.link(ids, f.SelectionSet)
		default:
			if v, ok := n.Fields[f.Name]; ok {
				out[f.Alias] = r.project(v, f.SelectionSet)
			} else if ref, ok := n.Fields[f.Name+linkSuffix]; ok {
				out[f.Alias] = r.link(ref, f.SelectionSet)
			} else {
				out[f.Alias] = ir.Null{}
			}
		}
	}
	return out
}

// link resolves a node id or a list of ids.
func (r *resolution) link(ref ir.Value, set ast.SelectionSet) ir.Value {
	switch v := ref.(type) {
	case ir.String:
		if v == "" {
			return ir.Null{}
		}
		r.depend(ir.NodeDependency(string(v)))
		n, ok := r.store.GetNode(string(v))
		if !ok {
			return ir.Null{}
		}
		return r.node(n, set)
	case ir.List:
		out := make(ir.List, 0, len(v))
		for _, elem := range v {
			out = append(out, r.link(elem, set))
		}
		return out
	default:
		return ir.Null{}
	}
}

// project applies a selection set to a plain field value.
func (r *resolution) project(v ir.Value, set ast.SelectionSet) ir.Value {
	if len(set) == 0 {
		return v
	}
	switch val := v.(type) {
	case ir.Object:
		out := ir.Object{}
		for _, f := range r.collect(set, "") {
			if f.Name == "__typename" {
				out[f.Alias] = ir.String("Object")
				continue
			}
			child, ok := val[f.Name]
			if !ok {
				out[f.Alias] = ir.Null{}
				continue
			}
			out[f.Alias] = r.project(child, f.SelectionSet)
		}
		return out
	case ir.List:
		out := make(ir.List, len(val))
		for i, elem := range val {
			out[i] = r.project(elem, set)
		}
		return out
	default:
		return v
	}
}

// collect flattens fragments and applies @skip and @include. Fragments
// with a type condition apply only when it names typeName.
func (r *resolution) collect(set ast.SelectionSet, typeName string) []*ast.Field {
	var out []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if r.included(s.Directives) {
				out = append(out, s)
			}
		case *ast.InlineFragment:
			if r.included(s.Directives) && appliesTo(s.TypeCondition, typeName) {
				out = append(out, r.collect(s.SelectionSet, typeName)...)
			}
		case *ast.FragmentSpread:
			def := r.doc.Fragments.ForName(s.Name)
			if def == nil || !r.included(s.Directives) || !appliesTo(def.TypeCondition, typeName) {
				continue
			}
			out = append(out, r.collect(def.SelectionSet, typeName)...)
		}
	}
	return out
}

func appliesTo(condition, typeName string) bool {
	return condition == "" || typeName == "" || condition == typeName
}

func (r *resolution) included(dirs ast.DirectiveList) bool {
	for _, d := range dirs {
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		v, err := arg.Value.Value(r.vars)
		if err != nil {
			continue
		}
		on, _ := v.(bool)
		switch d.Name {
		case "skip":
			if on {
				return false
			}
		case "include":
			if !on {
				return false
			}
		}
	}
	return true
}

func (r *resolution) arguments(args ast.ArgumentList) (ir.Object, error) {
	out := make(ir.Object, len(args))
	for _, a := range args {
		raw, err := a.Value.Value(r.vars)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", a.Name, err)
		}
		v, err := ir.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", a.Name, err)
		}
		if _, isNull := v.(ir.Null); isNull {
			continue
		}
		out[a.Name] = v
	}
	return out, nil
}

func (r *resolution) typeFor(field string) (string, bool) {
	for _, t := range r.store.Types() {
		if lowerFirst(t) == field {
			return t, true
		}
	}
	return "", false
}

func (r *resolution) depend(dep ir.Dependency) {
	r.deps[dep] = struct{}{}
}

func (r *resolution) dependencies() []ir.Dependency {
	out := make([]ir.Dependency, 0, len(r.deps))
	for d := range r.deps {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b ir.Dependency) int {
		if c := strings.Compare(a.Connection, b.Connection); c != 0 {
			return c
		}
		return strings.Compare(a.NodeID, b.NodeID)
	})
	return out
}

func (r *resolution) fail(f *ast.Field, path []string, err error) {
	qe := ir.QueryError{Message: err.Error(), Path: path}
	if f.Position != nil {
		qe.Locations = []ir.Location{{Line: f.Position.Line, Column: f.Position.Column}}
	}
	r.errs = append(r.errs, qe)
}

func parseErrors(err error) []ir.QueryError {
	var list gqlerror.List
	var single *gqlerror.Error
	switch {
	case errors.As(err, &list):
	case errors.As(err, &single):
		list = gqlerror.List{single}
	default:
		return []ir.QueryError{{Message: err.Error()}}
	}

	out := make([]ir.QueryError, 0, len(list))
	for _, e := range list {
		qe := ir.QueryError{Message: e.Message}
		for _, l := range e.Locations {
			qe.Locations = append(qe.Locations, ir.Location{Line: l.Line, Column: l.Column})
		}
		out = append(out, qe)
	}
	return out
}

func isConnectionField(name string) bool {
	rest, ok := strings.CutPrefix(name, "all")
	if !ok || rest == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsUpper(first)
}

func lowerFirst(s string) string {
	first, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToLower(first)) + s[size:]
}

func without(obj ir.Object, key string) ir.Object {
	out := make(ir.Object, len(obj))
	for k, v := range obj {
		if k != key {
			out[k] = v
		}
	}
	return out
}
