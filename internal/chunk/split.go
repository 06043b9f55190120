package chunk

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/roach88/pagegraph/internal/ir"
)

// Placeholder is the variable every argument leaf is replaced with before hashing.
const Placeholder = "PLACEHOLDER"

// Kind is the shape of a chunk's contribution to the final result.
type Kind string

const (
	// KindField results land under the selection's alias.
	KindField Kind = "field"
	// KindFragment results merge their keys into the parent object.
	KindFragment Kind = "fragment"
)

// LeafKind says where an argument leaf's value comes from.
type LeafKind string

const (
	LeafLiteral  LeafKind = "literal"
	LeafVariable LeafKind = "variable"
)

// Leaf is one scalar argument position inside a chunk.
type Leaf struct {
	ArgPath string
	Kind    LeafKind
	Name    string
	Value   ir.Value
}

// Chunk is one top-level selection of a query.
type Chunk struct {
	Hash       string
	Kind       Kind
	Alias      string
	FieldName  string
	Leaves     []Leaf
	Normalized string
	// Text is an executable query containing only this selection, with the
	// top-level alias removed so the result key is FieldName.
	Text string
}

// Binding resolves the chunk's argument leaves against a page context.
// Missing variables bind to null.
func (c Chunk) Binding(context ir.Object) ir.Object {
	binding := make(ir.Object, len(c.Leaves))
	for _, l := range c.Leaves {
		if l.Kind == LeafLiteral {
			binding[l.ArgPath] = l.Value
			continue
		}
		v, ok := context[l.Name]
		if !ok {
			v = ir.Null{}
		}
		binding[l.ArgPath] = v
	}
	return binding
}

// BindingDigest is ir.BindingDigest over Binding(context).
func (c Chunk) BindingDigest(context ir.Object) (string, error) {
	return ir.BindingDigest(c.Binding(context))
}

// ParseQuery parses query text into a document.
func ParseQuery(text string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "query", Input: text})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Split parses text and returns one chunk per top-level selection of its
// first operation. A document without operations yields no chunks.
func Split(text string) ([]Chunk, error) {
	_, chunks, err := parseAndSplit(text)
	return chunks, err
}

func parseAndSplit(text string) (*ast.QueryDocument, []Chunk, error) {
	doc, err := ParseQuery(text)
	if err != nil {
		return nil, nil, fmt.Errorf("split query: %w", err)
	}
	chunks, err := splitDocument(doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

func splitDocument(doc *ast.QueryDocument) ([]Chunk, error) {
	if len(doc.Operations) == 0 {
		return nil, nil
	}
	op := doc.Operations[0]

	chunks := make([]Chunk, 0, len(op.SelectionSet))
	for _, sel := range op.SelectionSet {
		c, err := newChunk(doc, op, sel)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func newChunk(doc *ast.QueryDocument, op *ast.OperationDefinition, sel ast.Selection) (Chunk, error) {
	n := &normalizer{doc: doc, fragments: map[string]bool{}}
	var c Chunk

	switch s := sel.(type) {
	case *ast.Field:
		c.Kind = KindField
		c.Alias = responseKey(s)
		c.FieldName = s.Name
	case *ast.FragmentSpread:
		c.Kind = KindFragment
		c.FieldName = "..." + s.Name
	case *ast.InlineFragment:
		c.Kind = KindFragment
		c.FieldName = "... on " + s.TypeCondition
	default:
		return Chunk{}, fmt.Errorf("unsupported selection %T", sel)
	}

	normalized := n.selection(sel, "", true)
	fragNames := n.fragmentNames()
	normFrags := make(ast.FragmentDefinitionList, 0, len(fragNames))
	for _, name := range fragNames {
		def := doc.Fragments.ForName(name)
		nd := *def
		nd.SelectionSet = n.selectionSet(def.SelectionSet, name)
		nd.Directives = n.directives(def.Directives, name)
		normFrags = append(normFrags, &nd)
	}

	c.Normalized = printDocument(&ast.QueryDocument{
		Operations: ast.OperationList{{Operation: ast.Query, SelectionSet: ast.SelectionSet{normalized}}},
		Fragments:  normFrags,
	})
	c.Hash = ir.ChunkHash(c.Normalized)
	c.Leaves = n.leaves
	c.Text = executableText(doc, op, ast.SelectionSet{stripAlias(sel)})
	return c, nil
}

// executableText prints an anonymous query over set with the variable
// definitions and fragments it needs.
func executableText(doc *ast.QueryDocument, op *ast.OperationDefinition, set ast.SelectionSet) string {
	used := map[string]bool{}
	fragments := map[string]bool{}
	collectUsage(doc, set, used, fragments)

	var vars ast.VariableDefinitionList
	for _, v := range op.VariableDefinitions {
		if used[v.Variable] {
			vars = append(vars, v)
		}
	}

	names := make([]string, 0, len(fragments))
	for name := range fragments {
		names = append(names, name)
	}
	slices.Sort(names)
	frags := make(ast.FragmentDefinitionList, 0, len(names))
	for _, name := range names {
		if def := doc.Fragments.ForName(name); def != nil {
			frags = append(frags, def)
		}
	}

	return printDocument(&ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           ast.Query,
			VariableDefinitions: vars,
			SelectionSet:        set,
		}},
		Fragments: frags,
	})
}

func stripAlias(sel ast.Selection) ast.Selection {
	f, ok := sel.(*ast.Field)
	if !ok {
		return sel
	}
	cp := *f
	cp.Alias = cp.Name
	return &cp
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func printDocument(doc *ast.QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// collectUsage gathers variables and fragment names referenced from set,
// following fragment spreads transitively.
func collectUsage(doc *ast.QueryDocument, set ast.SelectionSet, vars, fragments map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			for _, a := range s.Arguments {
				collectVars(a.Value, vars)
			}
			collectDirectiveVars(s.Directives, vars)
			collectUsage(doc, s.SelectionSet, vars, fragments)
		case *ast.InlineFragment:
			collectDirectiveVars(s.Directives, vars)
			collectUsage(doc, s.SelectionSet, vars, fragments)
		case *ast.FragmentSpread:
			collectDirectiveVars(s.Directives, vars)
			if fragments[s.Name] {
				continue
			}
			fragments[s.Name] = true
			if def := doc.Fragments.ForName(s.Name); def != nil {
				collectDirectiveVars(def.Directives, vars)
				collectUsage(doc, def.SelectionSet, vars, fragments)
			}
		}
	}
}

func collectDirectiveVars(dirs ast.DirectiveList, vars map[string]bool) {
	for _, d := range dirs {
		for _, a := range d.Arguments {
			collectVars(a.Value, vars)
		}
	}
}

func collectVars(v *ast.Value, vars map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		vars[v.Raw] = true
		return
	}
	for _, child := range v.Children {
		collectVars(child.Value, vars)
	}
}

// normalizer rewrites a selection with placeholder arguments and records
// the leaves it replaced.
type normalizer struct {
	doc       *ast.QueryDocument
	fragments map[string]bool
	leaves    []Leaf
}

func (n *normalizer) fragmentNames() []string {
	// Fragments can reference further fragments; expand until stable.
	for {
		before := len(n.fragments)
		for _, name := range sortedKeys(n.fragments) {
			if def := n.doc.Fragments.ForName(name); def != nil {
				n.markSpreads(def.SelectionSet)
			}
		}
		if len(n.fragments) == before {
			break
		}
	}

	var names []string
	for _, name := range sortedKeys(n.fragments) {
		if n.doc.Fragments.ForName(name) != nil {
			names = append(names, name)
		}
	}
	return names
}

func (n *normalizer) markSpreads(set ast.SelectionSet) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			n.markSpreads(s.SelectionSet)
		case *ast.InlineFragment:
			n.markSpreads(s.SelectionSet)
		case *ast.FragmentSpread:
			n.fragments[s.Name] = true
		}
	}
}

func (n *normalizer) selectionSet(set ast.SelectionSet, path string) ast.SelectionSet {
	if set == nil {
		return nil
	}
	out := make(ast.SelectionSet, 0, len(set))
	for _, sel := range set {
		out = append(out, n.selection(sel, path, false))
	}
	return out
}

func (n *normalizer) selection(sel ast.Selection, path string, top bool) ast.Selection {
	switch s := sel.(type) {
	case *ast.Field:
		cp := *s
		key := responseKey(s)
		if top {
			cp.Alias = cp.Name
			key = s.Name
		}
		fieldPath := join(path, key)
		cp.Arguments = n.arguments(s.Arguments, fieldPath)
		cp.Directives = n.directives(s.Directives, fieldPath)
		cp.SelectionSet = n.selectionSet(s.SelectionSet, fieldPath)
		return &cp
	case *ast.InlineFragment:
		cp := *s
		cp.Directives = n.directives(s.Directives, join(path, "on "+s.TypeCondition))
		cp.SelectionSet = n.selectionSet(s.SelectionSet, path)
		return &cp
	case *ast.FragmentSpread:
		cp := *s
		cp.Directives = n.directives(s.Directives, join(path, "..."+s.Name))
		n.fragments[s.Name] = true
		return &cp
	default:
		return sel
	}
}

func (n *normalizer) arguments(args ast.ArgumentList, fieldPath string) ast.ArgumentList {
	if args == nil {
		return nil
	}
	out := make(ast.ArgumentList, 0, len(args))
	for _, a := range args {
		cp := *a
		cp.Value = n.value(a.Value, fieldPath+":"+a.Name)
		out = append(out, &cp)
	}
	return out
}

func (n *normalizer) directives(dirs ast.DirectiveList, path string) ast.DirectiveList {
	if dirs == nil {
		return nil
	}
	out := make(ast.DirectiveList, 0, len(dirs))
	for _, d := range dirs {
		cp := *d
		cp.Arguments = n.arguments(d.Arguments, path+"@"+d.Name)
		out = append(out, &cp)
	}
	return out
}

func (n *normalizer) value(v *ast.Value, argPath string) *ast.Value {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case ast.ListValue, ast.ObjectValue:
		cp := *v
		cp.Children = make(ast.ChildValueList, 0, len(v.Children))
		for i, child := range v.Children {
			name := child.Name
			if v.Kind == ast.ListValue {
				name = strconv.Itoa(i)
			}
			cc := *child
			cc.Value = n.value(child.Value, argPath+"."+name)
			cp.Children = append(cp.Children, &cc)
		}
		return &cp
	case ast.Variable:
		n.leaves = append(n.leaves, Leaf{ArgPath: argPath, Kind: LeafVariable, Name: v.Raw})
	default:
		n.leaves = append(n.leaves, Leaf{ArgPath: argPath, Kind: LeafLiteral, Value: literal(v)})
	}
	return &ast.Value{Kind: ast.Variable, Raw: Placeholder, Position: v.Position}
}

func literal(v *ast.Value) ir.Value {
	switch v.Kind {
	case ast.NullValue:
		return ir.Null{}
	case ast.IntValue:
		if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return ir.Int(i)
		}
	case ast.FloatValue:
		if f, err := strconv.ParseFloat(v.Raw, 64); err == nil {
			return ir.Float(f)
		}
	case ast.BooleanValue:
		return ir.Bool(v.Raw == "true")
	}
	return ir.String(v.Raw)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
