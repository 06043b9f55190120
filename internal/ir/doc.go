// Package ir provides the shared value types and content digests for pagegraph.
//
// All other internal packages import ir; ir imports nothing internal. Values
// are a sealed set (Null, String, Int, Float, Bool, List, Object) so that
// node fields, page contexts, argument bindings and results serialize
// identically everywhere.
//
// Digests are SHA-256 over RFC 8785 canonical JSON with a per-purpose domain
// prefix:
//   - ChunkHash: normalized sub-query text
//   - BindingDigest: concrete arguments a chunk runs with
//   - ResultHash: serialized query result
//   - ContentDigest: node fields
package ir
