// Package datastore holds sourced nodes and reports every mutation as an
// ir.NodeEvent to its subscribers.
//
// Nested objects inside a node never point at their owner implicitly; the
// owner is carried as an explicit InlineRef.OwnerID and ancestors are found
// by walking Parent links.
package datastore
