package ir

import "strings"

// StaticQueryPrefix marks query identifiers that belong to named shared
// queries rather than pages.
const StaticQueryPrefix = "sq--"

// IsStaticQuery reports whether id names a static query.
func IsStaticQuery(id string) bool {
	return strings.HasPrefix(id, StaticQueryPrefix)
}

// NodeEventType is the kind of mutation a data store reports.
type NodeEventType string

const (
	NodeCreated NodeEventType = "CREATE"
	NodeUpdated NodeEventType = "UPDATE"
	NodeDeleted NodeEventType = "DELETE"
)

// NodeEvent is a single data mutation.
type NodeEvent struct {
	Type     NodeEventType `json:"type"`
	NodeID   string        `json:"node_id"`
	NodeType string        `json:"node_type"`
}

// Node is a typed record produced by sourcing.
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
	Fields   Object   `json:"fields"`
	Digest   string   `json:"digest"`
}

// Dependency is one edge consumed by a query: either a single node or every
// node of a type. Exactly one of NodeID and Connection is set.
type Dependency struct {
	NodeID     string `json:"node_id,omitempty"`
	Connection string `json:"connection,omitempty"`
}

// NodeDependency builds a dependency on a single node.
func NodeDependency(id string) Dependency {
	return Dependency{NodeID: id}
}

// ConnectionDependency builds a dependency on every node of a type.
func ConnectionDependency(typeName string) Dependency {
	return Dependency{Connection: typeName}
}

// TrackedQuery is the bookkeeping record for one page or static query.
// Dirty counts pending invalidation reasons; zero means the cached result is valid.
type TrackedQuery struct {
	ID            string `json:"id"`
	ComponentPath string `json:"component_path"`
	Dirty         int    `json:"dirty"`
	IsPage        bool   `json:"is_page"`
}

// Page binds a URL path to a template component and its variables.
type Page struct {
	Path          string `json:"path"`
	ComponentPath string `json:"component_path"`
	Context       Object `json:"context,omitempty"`
}

// Location is a 1-based line/column position inside query text.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// QueryError is a structured error attached to a query result.
type QueryError struct {
	Message   string     `json:"message"`
	Locations []Location `json:"locations,omitempty"`
	Path      []string   `json:"path,omitempty"`
	File      string     `json:"file,omitempty"`
	Codeframe string     `json:"codeframe,omitempty"`
}

// Object renders the error the way it appears inside a result artifact.
func (e QueryError) Object() Object {
	obj := Object{"message": String(e.Message)}
	if len(e.Locations) > 0 {
		locs := make(List, len(e.Locations))
		for i, l := range e.Locations {
			locs[i] = Object{"line": Int(l.Line), "column": Int(l.Column)}
		}
		obj["locations"] = locs
	}
	if len(e.Path) > 0 {
		path := make(List, len(e.Path))
		for i, p := range e.Path {
			path[i] = String(p)
		}
		obj["path"] = path
	}
	return obj
}

// QueryResult is what a query produces and what is persisted per query id.
type QueryResult struct {
	Data        Object       `json:"data"`
	Errors      []QueryError `json:"errors,omitempty"`
	PageContext Object       `json:"pageContext,omitempty"`
}

// Canonical serializes the result deterministically as
// {"data":...,"errors"?:[...],"pageContext"?:{...}}.
func (r QueryResult) Canonical() ([]byte, error) {
	data := r.Data
	if data == nil {
		data = Object{}
	}
	obj := Object{"data": data}
	if len(r.Errors) > 0 {
		errs := make(List, len(r.Errors))
		for i, e := range r.Errors {
			errs[i] = e.Object()
		}
		obj["errors"] = errs
	}
	if len(r.PageContext) > 0 {
		obj["pageContext"] = r.PageContext
	}
	return MarshalCanonical(obj)
}
