// Package chunk splits queries into content-addressed sub-queries and makes
// sure each (chunk, arguments) pair executes once per data generation.
//
// Every top-level selection of a query is a chunk. Its identity is the hash
// of the selection printed with every argument leaf replaced by
// $PLACEHOLDER and the top-level alias dropped, so `a: post(id: 1)` and
// `b: post(id: $id)` share a hash. The concrete arguments a page would pass
// form the binding, whose digest completes the registry key.
//
// Chunks whose binding digest repeats across pages are shared: the runner
// resolves them through a Registry. Everything else in a query runs as one
// remainder query. Results are put back together by Stitch.
package chunk
