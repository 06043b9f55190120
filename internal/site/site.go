// Package site loads a site description: the nodes to source, the pages to
// create and the static queries to register.
//
//	nodes:
//	  - id: post-a
//	    type: Post
//	    fields: {title: Hello, slug: hello}
//	pages:
//	  - path: /blog/hello/
//	    component: src/templates/post.js
//	    context: {slug: hello}
//	static_queries:
//	  - id: nav
//	    query: "{ allPost { totalCount } }"
//
// Component paths are relative to the directory holding the site file.
package site

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pagegraph/internal/datastore"
	"github.com/roach88/pagegraph/internal/engine"
	"github.com/roach88/pagegraph/internal/ir"
)

// File is the YAML shape of a site file.
type File struct {
	Nodes         []NodeSpec   `yaml:"nodes"`
	Pages         []PageSpec   `yaml:"pages"`
	StaticQueries []StaticSpec `yaml:"static_queries,omitempty"`
}

// NodeSpec declares one node.
type NodeSpec struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	Parent   string         `yaml:"parent,omitempty"`
	Children []string       `yaml:"children,omitempty"`
	Fields   map[string]any `yaml:"fields,omitempty"`
}

// PageSpec declares one page.
type PageSpec struct {
	Path      string         `yaml:"path"`
	Component string         `yaml:"component"`
	Context   map[string]any `yaml:"context,omitempty"`
}

// StaticSpec declares one static query.
type StaticSpec struct {
	ID    string `yaml:"id"`
	Query string `yaml:"query"`
}

// StaticQuery is a validated static query. ID carries the sq-- prefix.
type StaticQuery struct {
	ID    string
	Query string
}

// Site is a loaded site.
type Site struct {
	Root          string
	Nodes         []ir.Node
	Pages         []ir.Page
	StaticQueries []StaticQuery
}

// Sink receives engine events.
type Sink interface {
	Enqueue(ev engine.Event) bool
}

// Load reads and validates the site file at path.
func Load(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site file: %w", err)
	}
	s, err := Parse(filepath.Dir(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a site file. Unknown YAML fields are rejected.
func Parse(root string, data []byte) (*Site, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return New(root, f)
}

// New validates a decoded site file.
func New(root string, f File) (*Site, error) {
	s := &Site{Root: root}
	seen := make(map[string]bool)
	for i, n := range f.Nodes {
		if n.ID == "" || n.Type == "" {
			return nil, fmt.Errorf("nodes[%d]: id and type are required", i)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("nodes[%d]: duplicate node id %q", i, n.ID)
		}
		seen[n.ID] = true

		node, err := n.Node()
		if err != nil {
			return nil, err
		}
		s.Nodes = append(s.Nodes, node)
	}

	paths := make(map[string]bool)
	for i, p := range f.Pages {
		if p.Path == "" || p.Component == "" {
			return nil, fmt.Errorf("pages[%d]: path and component are required", i)
		}
		if paths[p.Path] {
			return nil, fmt.Errorf("pages[%d]: duplicate page path %q", i, p.Path)
		}
		paths[p.Path] = true

		page, err := p.Page()
		if err != nil {
			return nil, err
		}
		s.Pages = append(s.Pages, page)
	}

	ids := make(map[string]bool)
	for i, q := range f.StaticQueries {
		if q.ID == "" || q.Query == "" {
			return nil, fmt.Errorf("static_queries[%d]: id and query are required", i)
		}
		id := q.ID
		if !ir.IsStaticQuery(id) {
			id = ir.StaticQueryPrefix + id
		}
		if ids[id] {
			return nil, fmt.Errorf("static_queries[%d]: duplicate id %q", i, q.ID)
		}
		ids[id] = true
		s.StaticQueries = append(s.StaticQueries, StaticQuery{ID: id, Query: q.Query})
	}
	return s, nil
}

// Node converts the spec into a node record.
func (n NodeSpec) Node() (ir.Node, error) {
	fields, err := ir.ObjectFromGo(normalize(n.Fields).(map[string]any))
	if err != nil {
		return ir.Node{}, fmt.Errorf("node %s: fields: %w", n.ID, err)
	}
	return ir.Node{
		ID:       n.ID,
		Type:     n.Type,
		Parent:   n.Parent,
		Children: n.Children,
		Fields:   fields,
	}, nil
}

// Page converts the spec into a page record. A missing context stays nil.
func (p PageSpec) Page() (ir.Page, error) {
	page := ir.Page{Path: p.Path, ComponentPath: p.Component}
	if p.Context != nil {
		context, err := ir.ObjectFromGo(normalize(p.Context).(map[string]any))
		if err != nil {
			return ir.Page{}, fmt.Errorf("page %s: context: %w", p.Path, err)
		}
		page.Context = context
	}
	return page, nil
}

// Components returns the distinct component paths pages are bound to, sorted.
func (s *Site) Components() []string {
	var out []string
	for _, p := range s.Pages {
		if !slices.Contains(out, p.ComponentPath) {
			out = append(out, p.ComponentPath)
		}
	}
	slices.Sort(out)
	return out
}

// Source upserts every node into store.
func (s *Site) Source(store *datastore.Store) error {
	for _, n := range s.Nodes {
		if _, err := store.Upsert(n); err != nil {
			return err
		}
	}
	return nil
}

// Declare enqueues the site's pages and static queries followed by
// BootstrapFinished.
func (s *Site) Declare(sink Sink) {
	for _, p := range s.Pages {
		sink.Enqueue(engine.PageCreated(p))
	}
	for _, q := range s.StaticQueries {
		sink.Enqueue(engine.StaticQueryReplaced(q.ID, q.Query))
	}
	sink.Enqueue(engine.BootstrapFinished())
}

// normalize turns YAML timestamps into RFC 3339 strings. A nil map becomes
// an empty one.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return map[string]any{}
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if elem == nil {
				out[k] = nil
				continue
			}
			out[k] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			if elem == nil {
				continue
			}
			out[i] = normalize(elem)
		}
		return out
	default:
		return v
	}
}
