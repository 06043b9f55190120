package datastore

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/pagegraph/internal/ir"
)

// ErrInvalidNode is returned for nodes without an id or type.
var ErrInvalidNode = errors.New("node requires id and type")

// Listener receives node events after the mutation is visible to readers.
type Listener func(ir.NodeEvent)

// Store is an in-memory node store safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	nodes  map[string]ir.Node
	byType map[string]map[string]struct{}

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		nodes:     make(map[string]ir.Node),
		byType:    make(map[string]map[string]struct{}),
		listeners: make(map[int]Listener),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers l for every future event and returns a function that
// removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// Upsert creates or replaces a node. Re-submitting a node whose digest is
// unchanged is a no-op and reports changed=false. A node whose type changes
// is reported as a delete of the old type followed by a create.
func (s *Store) Upsert(node ir.Node) (changed bool, err error) {
	if node.ID == "" || node.Type == "" {
		return false, fmt.Errorf("upsert %q: %w", node.ID, ErrInvalidNode)
	}
	if node.Fields == nil {
		node.Fields = ir.Object{}
	}
	if node.Digest == "" {
		digest, err := ir.ContentDigest(node.Fields)
		if err != nil {
			return false, fmt.Errorf("upsert %q: %w", node.ID, err)
		}
		node.Digest = digest
	}
	node.Children = slices.Clone(node.Children)
	node.Fields = node.Fields.Clone()

	s.mu.Lock()
	prev, existed := s.nodes[node.ID]
	if existed && prev.Digest == node.Digest && prev.Type == node.Type &&
		prev.Parent == node.Parent && slices.Equal(prev.Children, node.Children) {
		s.mu.Unlock()
		return false, nil
	}

	var events []ir.NodeEvent
	switch {
	case !existed:
		events = append(events, ir.NodeEvent{Type: ir.NodeCreated, NodeID: node.ID, NodeType: node.Type})
	case prev.Type != node.Type:
		s.unindex(prev)
		events = append(events,
			ir.NodeEvent{Type: ir.NodeDeleted, NodeID: prev.ID, NodeType: prev.Type},
			ir.NodeEvent{Type: ir.NodeCreated, NodeID: node.ID, NodeType: node.Type},
		)
	default:
		events = append(events, ir.NodeEvent{Type: ir.NodeUpdated, NodeID: node.ID, NodeType: node.Type})
	}
	s.nodes[node.ID] = node
	s.index(node)
	s.mu.Unlock()

	s.emit(events...)
	return true, nil
}

// Delete removes a node. It reports false when the node does not exist.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	prev, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.nodes, id)
	s.unindex(prev)
	s.mu.Unlock()

	s.emit(ir.NodeEvent{Type: ir.NodeDeleted, NodeID: prev.ID, NodeType: prev.Type})
	return true
}

// GetNode returns a copy of the node with the given id.
func (s *Store) GetNode(id string) (ir.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return ir.Node{}, false
	}
	return copyNode(n), true
}

// GetNodesByType returns copies of every node of a type, ordered by id.
func (s *Store) GetNodesByType(typeName string) []ir.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byType[typeName]))
	for id := range s.byType[typeName] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]ir.Node, len(ids))
	for i, id := range ids {
		out[i] = copyNode(s.nodes[id])
	}
	return out
}

// Types returns every type name with at least one node, sorted.
func (s *Store) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) index(n ir.Node) {
	set, ok := s.byType[n.Type]
	if !ok {
		set = make(map[string]struct{})
		s.byType[n.Type] = set
	}
	set[n.ID] = struct{}{}
}

func (s *Store) unindex(n ir.Node) {
	set := s.byType[n.Type]
	delete(set, n.ID)
	if len(set) == 0 {
		delete(s.byType, n.Type)
	}
}

func (s *Store) emit(events ...ir.NodeEvent) {
	s.listenersMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, len(ids))
	for i, id := range ids {
		listeners[i] = s.listeners[id]
	}
	s.listenersMu.Unlock()

	for _, ev := range events {
		s.logger.Debug("node event", "type", ev.Type, "node", ev.NodeID, "node_type", ev.NodeType)
		for _, l := range listeners {
			l(ev)
		}
	}
}

func copyNode(n ir.Node) ir.Node {
	n.Children = slices.Clone(n.Children)
	n.Fields = n.Fields.Clone()
	return n
}
