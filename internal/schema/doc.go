// Package schema executes queries against the data store.
//
// The query root exposes three kinds of fields for every node type T:
//
//	node(id: ID!)                         any node by id
//	t(id: ID, <field>: <value>, ...)      first node of type T matching every argument
//	allT(filter:, sort:, skip:, limit:)   { nodes, totalCount } over nodes of type T
//
// Node objects resolve id, __typename, parent, children and their fields.
// A field F missing from a node falls back to F___NODE, which holds the id
// (or list of ids) of linked nodes.
//
// Every node and connection read during execution is reported as a
// dependency of the executing query.
package schema
