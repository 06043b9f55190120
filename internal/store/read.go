package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/pagegraph/internal/deps"
	"github.com/roach88/pagegraph/internal/ir"
)

// LoadCheckpoint reads the stored checkpoint. ok is false when nothing has
// been saved yet.
func (s *Store) LoadCheckpoint(ctx context.Context) (cp Checkpoint, ok bool, err error) {
	var seq string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'seq'`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: seq: %w", err)
	}
	cp.Seq, err = strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: invalid seq %q: %w", seq, err)
	}

	if cp.Tracker, err = s.readTracker(ctx); err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Hashes, err = s.readPairs(ctx, `SELECT query_id, hash FROM result_hashes ORDER BY query_id`); err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: result hashes: %w", err)
	}
	if cp.Contexts, err = s.readPairs(ctx, `SELECT path, digest FROM page_contexts ORDER BY path`); err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: page contexts: %w", err)
	}
	if cp.Components, err = s.readPairs(ctx, `SELECT component_path, query FROM component_queries ORDER BY component_path`); err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: component queries: %w", err)
	}
	if cp.Nodes, err = s.readNodes(ctx); err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: node digests: %w", err)
	}
	return cp, true, nil
}

func (s *Store) readTracker(ctx context.Context) (deps.Snapshot, error) {
	snap := deps.Snapshot{
		ByNode:       make(map[string][]string),
		ByConnection: make(map[string][]string),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, component_path, dirty, is_page
		FROM tracked_queries
		ORDER BY id ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("tracked queries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q ir.TrackedQuery
		if err := rows.Scan(&q.ID, &q.ComponentPath, &q.Dirty, &q.IsPage); err != nil {
			return snap, fmt.Errorf("scan tracked query: %w", err)
		}
		snap.Queries = append(snap.Queries, q)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("tracked queries: %w", err)
	}

	depRows, err := s.db.QueryContext(ctx, `
		SELECT query_id, kind, target
		FROM dependencies
		ORDER BY kind ASC, target ASC, query_id ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var queryID, kind, target string
		if err := depRows.Scan(&queryID, &kind, &target); err != nil {
			return snap, fmt.Errorf("scan dependency: %w", err)
		}
		switch kind {
		case kindNode:
			snap.ByNode[target] = append(snap.ByNode[target], queryID)
		case kindConnection:
			snap.ByConnection[target] = append(snap.ByConnection[target], queryID)
		default:
			return snap, fmt.Errorf("unknown dependency kind %q", kind)
		}
	}
	return snap, depRows.Err()
}

func (s *Store) readNodes(ctx context.Context) (map[string]NodeState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, digest FROM node_digests ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]NodeState)
	for rows.Next() {
		var id string
		var n NodeState
		if err := rows.Scan(&id, &n.Type, &n.Digest); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *Store) readPairs(ctx context.Context, query string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Dependents returns the ids of stored queries that depend on dep, sorted.
func (s *Store) Dependents(ctx context.Context, dep ir.Dependency) ([]string, error) {
	kind, target := kindNode, dep.NodeID
	if dep.Connection != "" {
		kind, target = kindConnection, dep.Connection
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT query_id FROM dependencies
		WHERE kind = ? AND target = ?
		ORDER BY query_id ASC
	`, kind, target)
	if err != nil {
		return nil, fmt.Errorf("dependents of %s %s: %w", kind, target, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResultHash returns the stored result hash for a query.
func (s *Store) ResultHash(ctx context.Context, queryID string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM result_hashes WHERE query_id = ?`, queryID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("result hash %s: %w", queryID, err)
	}
	return hash, true, nil
}
