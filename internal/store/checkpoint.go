package store

import (
	"github.com/roach88/pagegraph/internal/deps"
)

// Checkpoint is the durable part of the engine state.
type Checkpoint struct {
	// Seq is the logical clock position of the last finished batch.
	Seq int64
	// Tracker holds tracked queries and the dependency index.
	Tracker deps.Snapshot
	// Hashes maps query id to the last persisted result hash.
	Hashes map[string]string
	// Contexts maps page path to the digest of its context.
	Contexts map[string]string
	// Components maps component path to its extracted query text.
	Components map[string]string
	// Nodes maps node id to the type and content digest the dependency
	// index last accounted for.
	Nodes map[string]NodeState
}

// NodeState is the remembered identity of one node.
type NodeState struct {
	Type   string
	Digest string
}

const (
	kindNode       = "node"
	kindConnection = "connection"
)
