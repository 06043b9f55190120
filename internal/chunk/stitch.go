package chunk

import "github.com/roach88/pagegraph/internal/ir"

// Part is one executed piece of a query ready to be stitched.
type Part struct {
	Kind      Kind
	Alias     string
	FieldName string
	Outcome   Outcome
}

// RestPart wraps the remainder query's outcome; its keys merge like a fragment.
func RestPart(o Outcome) Part {
	return Part{Kind: KindFragment, Outcome: o}
}

// ChunkPart wraps a shared chunk's outcome.
func ChunkPart(c Chunk, o Outcome) Part {
	return Part{Kind: c.Kind, Alias: c.Alias, FieldName: c.FieldName, Outcome: o}
}

// Stitch assembles parts into one result. Fragment-shaped parts merge their
// keys; field-shaped parts are placed under their alias. Errors from every
// part are concatenated in order, and dependencies are unioned.
func Stitch(parts []Part) (ir.Object, []ir.QueryError, []ir.Dependency) {
	data := ir.Object{}
	var errs []ir.QueryError
	var deps []ir.Dependency
	seen := make(map[ir.Dependency]bool)

	for _, p := range parts {
		switch p.Kind {
		case KindField:
			v, ok := p.Outcome.Data[p.FieldName]
			if !ok {
				v = ir.Null{}
			}
			data[p.Alias] = v
		default:
			for k, v := range p.Outcome.Data {
				data[k] = v
			}
		}
		errs = append(errs, p.Outcome.Errors...)
		for _, d := range p.Outcome.Dependencies {
			if !seen[d] {
				seen[d] = true
				deps = append(deps, d)
			}
		}
	}
	return data, errs, deps
}
