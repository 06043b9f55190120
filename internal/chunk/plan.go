package chunk

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/roach88/pagegraph/internal/ir"
)

// Template is one query text together with the context of every page bound
// to it. Static queries pass a single nil context.
type Template struct {
	ID       string
	Text     string
	Contexts []ir.Object
}

// Plan says how to execute one template's query.
type Plan struct {
	// Chunks lists every top-level selection in document order.
	Chunks []Chunk
	// Shared is the subset of Chunks resolved through the Registry.
	Shared []Chunk
	// Rest is an executable query over the selections that are not shared.
	// It is empty when every selection is shared.
	Rest string
	// Empty marks a template without query text or without operations.
	Empty bool
}

// Compile plans every template. A chunk becomes shared when the same
// (chunk hash, binding digest) pair occurs for at least two page usages
// across all templates. Templates that fail to parse are reported in errs
// and left out of plans.
func Compile(templates []Template) (plans map[string]Plan, errs map[string]error) {
	plans = make(map[string]Plan, len(templates))
	errs = make(map[string]error)

	type parsed struct {
		tmpl   Template
		doc    *ast.QueryDocument
		chunks []Chunk
	}
	var all []parsed
	counts := make(map[string]map[string]int)

	for _, tmpl := range templates {
		if strings.TrimSpace(tmpl.Text) == "" {
			plans[tmpl.ID] = Plan{Empty: true}
			continue
		}
		doc, chunks, err := parseAndSplit(tmpl.Text)
		if err != nil {
			errs[tmpl.ID] = err
			continue
		}
		if len(chunks) == 0 {
			plans[tmpl.ID] = Plan{Empty: true}
			continue
		}
		all = append(all, parsed{tmpl: tmpl, doc: doc, chunks: chunks})

		for _, c := range chunks {
			for _, ctx := range tmpl.Contexts {
				digest, err := c.BindingDigest(ctx)
				if err != nil {
					errs[tmpl.ID] = fmt.Errorf("binding for %s: %w", c.FieldName, err)
					continue
				}
				if counts[c.Hash] == nil {
					counts[c.Hash] = make(map[string]int)
				}
				counts[c.Hash][digest]++
			}
		}
	}

	shareable := make(map[string]bool)
	for hash, digests := range counts {
		for _, n := range digests {
			if n > 1 {
				shareable[hash] = true
				break
			}
		}
	}

	for _, p := range all {
		plans[p.tmpl.ID] = planFor(p.tmpl.Text, p.doc, p.chunks, shareable)
	}
	return plans, errs
}

// PlanSingle plans one query in isolation. Nothing is shared.
func PlanSingle(text string) (Plan, error) {
	plans, errs := Compile([]Template{{ID: "", Text: text}})
	if err := errs[""]; err != nil {
		return Plan{}, err
	}
	return plans[""], nil
}

func planFor(text string, doc *ast.QueryDocument, chunks []Chunk, shareable map[string]bool) Plan {
	plan := Plan{Chunks: chunks}

	op := doc.Operations[0]
	var rest ast.SelectionSet
	for i, c := range chunks {
		if shareable[c.Hash] {
			plan.Shared = append(plan.Shared, c)
			continue
		}
		rest = append(rest, op.SelectionSet[i])
	}

	switch {
	case len(plan.Shared) == 0:
		plan.Rest = text
	case len(rest) > 0:
		plan.Rest = executableText(doc, op, rest)
	}
	return plan
}
