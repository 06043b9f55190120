// Package deps holds tracked queries and the dependency index that maps
// nodes and node types to the queries that consumed them.
//
// A Tracker is not safe for concurrent use. The engine owns it and mutates
// it only from its event loop.
package deps
