package runner

import "github.com/roach88/pagegraph/internal/ir"

// strippedContextKeys are page fields that never belong in a result's pageContext.
var strippedContextKeys = []string{
	"path",
	"internalComponentName",
	"component",
	"componentChunkName",
	"componentPath",
	"context",
	"updatedAt",
	"pluginCreator___NODE",
	"pluginCreatorId",
	"isCreatedByStatefulCreatePages",
}

// StripContext returns a copy of a page context without internal page fields.
func StripContext(pageContext ir.Object) ir.Object {
	out := pageContext.Clone()
	for _, k := range strippedContextKeys {
		delete(out, k)
	}
	return out
}

// Variables builds the variables a query runs with. Pages get their path
// as $path unless the context sets one.
func Variables(id string, pageContext ir.Object, isPage bool) ir.Object {
	vars := make(ir.Object, len(pageContext)+1)
	if isPage {
		vars["path"] = ir.String(id)
	}
	for k, v := range pageContext {
		vars[k] = v
	}
	return vars
}
