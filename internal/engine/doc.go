// Package engine implements the incremental query engine.
//
// The engine is the context object that owns every piece of incremental
// state: the dependency tracker, the dirty-set calculator, the component
// lifecycle table, the chunk registry, the result-hash cache and the page
// and static query records. Nothing else holds this state.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Data mutations, page and template changes, and live-client path
// activations arrive as events on a FIFO queue. Engine.Run dequeues them in
// one goroutine, so the tracker and lifecycle table never need locks.
//
// Batches:
// Node events accumulate until a flush (explicit Drain, or the batch window
// in develop mode). A flush computes the dirty set, gates inactive pages in
// develop mode, plans shared chunks, runs every query concurrently through
// the runner's bounded pool and then applies the outcomes sequentially:
// dependencies are re-recorded and dirty counters reset for successes only.
//
// Every batch is stamped with a token from a TokenGenerator and a sequence
// number that continues across Checkpoint and Restore.
//
// Synchronous Use:
// Build-style callers that never start Run may enqueue events and call
// Drain; the events are processed in the caller's goroutine instead.
package engine
