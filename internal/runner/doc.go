// Package runner executes query jobs against an Executor with bounded
// concurrency, stitches shared chunks back together and persists results
// whose content hash changed.
//
// Every execution, shared chunk or remainder query, holds one Pool slot
// while it runs. Shared chunks enter the pool only through the chunk
// Registry, so callers waiting on an in-flight chunk do not take a slot.
//
// Execution states:
//
//	queued -> running -> succeeded | failed-fatal | failed-recoverable
//
// In build mode any query error is fatal and reported once the batch has
// drained. In develop mode errors are broadcast and the last good artifact
// stays in place.
package runner
