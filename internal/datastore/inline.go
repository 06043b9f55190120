package datastore

import (
	"fmt"

	"github.com/roach88/pagegraph/internal/ir"
)

// maxAncestorDepth bounds parent walks so a cyclic parent chain terminates.
const maxAncestorDepth = 100

// InlineRef is a nested object or list inside a node's fields together with
// the id of the node that owns it.
type InlineRef struct {
	OwnerID string
	Path    string
	Value   ir.Value
}

// InlineRefs lists every nested object and list inside n's fields in
// depth-first order, each tagged with n's id.
func InlineRefs(n ir.Node) []InlineRef {
	var refs []InlineRef
	for _, k := range n.Fields.SortedKeys() {
		refs = collectInline(refs, n.ID, k, n.Fields[k])
	}
	return refs
}

func collectInline(refs []InlineRef, owner, path string, v ir.Value) []InlineRef {
	switch val := v.(type) {
	case ir.Object:
		refs = append(refs, InlineRef{OwnerID: owner, Path: path, Value: val})
		for _, k := range val.SortedKeys() {
			refs = collectInline(refs, owner, path+"."+k, val[k])
		}
	case ir.List:
		refs = append(refs, InlineRef{OwnerID: owner, Path: path, Value: val})
		for i, elem := range val {
			refs = collectInline(refs, owner, fmt.Sprintf("%s[%d]", path, i), elem)
		}
	}
	return refs
}

// Owner resolves the node that owns an inline reference.
func (s *Store) Owner(ref InlineRef) (ir.Node, bool) {
	return s.GetNode(ref.OwnerID)
}

// RootAncestor walks Parent links from id and returns the first node for
// which match reports true. With a nil match it returns the topmost ancestor
// reachable. The walk stops after maxAncestorDepth hops.
func (s *Store) RootAncestor(id string, match func(ir.Node) bool) (ir.Node, bool) {
	cur, ok := s.GetNode(id)
	if !ok {
		return ir.Node{}, false
	}

	for depth := 0; depth < maxAncestorDepth; depth++ {
		if match != nil && match(cur) {
			return cur, true
		}
		if cur.Parent == "" {
			break
		}
		parent, ok := s.GetNode(cur.Parent)
		if !ok {
			break
		}
		cur = parent
	}

	if match != nil {
		return ir.Node{}, false
	}
	return cur, true
}
