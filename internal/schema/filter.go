package schema

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/pagegraph/internal/ir"
)

// matches reports whether every argument equals the node field of the same
// name. An argument given as {eq: v} is treated like v.
func matches(n ir.Node, args ir.Object) bool {
	for name, want := range args {
		if op, ok := want.(ir.Object); ok {
			if eq, ok := op["eq"]; ok {
				want = eq
			}
		}
		got, ok := n.Fields.Lookup(name)
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

// matchFilter evaluates a nested filter. Keys are field names; leaves are
// operator objects with eq, ne or in.
func matchFilter(n ir.Node, filter ir.Object, prefix string) (bool, error) {
	for _, key := range filter.SortedKeys() {
		cond, ok := filter[key].(ir.Object)
		if !ok {
			return false, fmt.Errorf("filter %q must be an object", prefix+key)
		}
		path := prefix + key

		if !isOperator(cond) {
			ok, err := matchFilter(n, cond, path+".")
			if err != nil || !ok {
				return false, err
			}
			continue
		}

		got, present := fieldValue(n, path)
		for _, op := range cond.SortedKeys() {
			arg := cond[op]
			switch op {
			case "eq":
				if !present || !equal(got, arg) {
					return false, nil
				}
			case "ne":
				if present && equal(got, arg) {
					return false, nil
				}
			case "in":
				list, ok := arg.(ir.List)
				if !ok {
					return false, fmt.Errorf("filter %q: in expects a list", path)
				}
				if !present || !slices.ContainsFunc(list, func(v ir.Value) bool { return equal(got, v) }) {
					return false, nil
				}
			default:
				return false, fmt.Errorf("filter %q: unknown operator %q", path, op)
			}
		}
	}
	return true, nil
}

func isOperator(cond ir.Object) bool {
	for k := range cond {
		switch k {
		case "eq", "ne", "in":
			return true
		}
	}
	return false
}

func fieldValue(n ir.Node, path string) (ir.Value, bool) {
	switch path {
	case "id":
		return ir.String(n.ID), true
	case "parent":
		return ir.String(n.Parent), n.Parent != ""
	}
	return n.Fields.Lookup(path)
}

// sortNodes orders nodes by sort.field (dotted path), ascending unless
// sort.order is DESC. Ties keep id order.
func sortNodes(nodes []ir.Node, sort ir.Object) {
	field, _ := sort["field"].(ir.String)
	if field == "" {
		return
	}
	desc := false
	if order, ok := sort["order"].(ir.String); ok {
		desc = strings.EqualFold(string(order), "DESC")
	}

	slices.SortStableFunc(nodes, func(a, b ir.Node) int {
		av, _ := fieldValue(a, string(field))
		bv, _ := fieldValue(b, string(field))
		c := compare(av, bv)
		if desc {
			return -c
		}
		return c
	})
}

func equal(a, b ir.Value) bool {
	ab, err1 := ir.MarshalCanonical(a)
	bb, err2 := ir.MarshalCanonical(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}

// compare orders numbers numerically and everything else by canonical text.
// Missing values sort first.
func compare(a, b ir.Value) int {
	af, aNum := number(a)
	bf, bNum := number(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	if s, ok := a.(ir.String); ok {
		if t, ok := b.(ir.String); ok {
			return strings.Compare(string(s), string(t))
		}
	}
	ab, _ := ir.MarshalCanonical(a)
	bb, _ := ir.MarshalCanonical(b)
	return bytes.Compare(ab, bb)
}

func number(v ir.Value) (float64, bool) {
	switch n := v.(type) {
	case ir.Int:
		return float64(n), true
	case ir.Float:
		return float64(n), true
	}
	return 0, false
}
