// Package store provides SQLite-backed durable storage for engine checkpoints.
//
// A checkpoint holds everything needed to resume incremental work after a
// restart:
//   - Tracked queries with their dirty counters
//   - The dependency index (node and connection edges per query)
//   - The last persisted result hash per query
//   - Page context digests and component query texts, so that re-created
//     pages and re-extracted queries are recognized as unchanged
//   - Node type and digest per node id, so that a re-sourced data store can
//     be diffed against the previous run
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Dependencies are removed with their query
//
// Reads use ORDER BY on primary keys so that loaded checkpoints are
// deterministic.
package store
