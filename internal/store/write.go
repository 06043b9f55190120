package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
)

// SaveCheckpoint replaces the stored checkpoint with cp in one transaction.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save checkpoint: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"dependencies", "tracked_queries", "result_hashes", "page_contexts", "component_queries", "node_digests"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("save checkpoint: clear %s: %w", table, err)
		}
	}

	if err := writeQueries(ctx, tx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := writeDependencies(ctx, tx, kindNode, cp.Tracker.ByNode); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := writeDependencies(ctx, tx, kindConnection, cp.Tracker.ByConnection); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := writePairs(ctx, tx, `INSERT INTO result_hashes (query_id, hash) VALUES (?, ?)`, cp.Hashes); err != nil {
		return fmt.Errorf("save checkpoint: result hashes: %w", err)
	}
	if err := writePairs(ctx, tx, `INSERT INTO page_contexts (path, digest) VALUES (?, ?)`, cp.Contexts); err != nil {
		return fmt.Errorf("save checkpoint: page contexts: %w", err)
	}
	if err := writePairs(ctx, tx, `INSERT INTO component_queries (component_path, query) VALUES (?, ?)`, cp.Components); err != nil {
		return fmt.Errorf("save checkpoint: component queries: %w", err)
	}

	if err := writeNodes(ctx, tx, cp.Nodes); err != nil {
		return fmt.Errorf("save checkpoint: node digests: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('seq', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.FormatInt(cp.Seq, 10))
	if err != nil {
		return fmt.Errorf("save checkpoint: seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save checkpoint: commit: %w", err)
	}
	return nil
}

func writeQueries(ctx context.Context, tx *sql.Tx, cp Checkpoint) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracked_queries (id, component_path, dirty, is_page)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare tracked queries: %w", err)
	}
	defer stmt.Close()

	for _, q := range cp.Tracker.Queries {
		if _, err := stmt.ExecContext(ctx, q.ID, q.ComponentPath, q.Dirty, q.IsPage); err != nil {
			return fmt.Errorf("tracked query %s: %w", q.ID, err)
		}
	}
	return nil
}

// writeDependencies inserts index edges. Edges naming a query missing from
// tracked_queries are skipped; the tracker never produces them.
func writeDependencies(ctx context.Context, tx *sql.Tx, kind string, index map[string][]string) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dependencies (query_id, kind, target)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM tracked_queries WHERE id = ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare %s dependencies: %w", kind, err)
	}
	defer stmt.Close()

	for _, target := range sortedKeys(index) {
		for _, queryID := range index[target] {
			if _, err := stmt.ExecContext(ctx, queryID, kind, target, queryID); err != nil {
				return fmt.Errorf("%s dependency %s -> %s: %w", kind, queryID, target, err)
			}
		}
	}
	return nil
}

func writeNodes(ctx context.Context, tx *sql.Tx, nodes map[string]NodeState) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO node_digests (id, type, digest) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range sortedKeys(nodes) {
		n := nodes[id]
		if _, err := stmt.ExecContext(ctx, id, n.Type, n.Digest); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}

func writePairs(ctx context.Context, tx *sql.Tx, query string, pairs map[string]string) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, k := range sortedKeys(pairs) {
		if _, err := stmt.ExecContext(ctx, k, pairs[k]); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
