package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteObject(t *testing.T, s *Store, kind, name string) bool {
	t.Helper()
	var got string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	// Reopening an existing database must not fail or lose tables.
	for range 3 {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
	assert.FileExists(t, path)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"meta", "tracked_queries", "dependencies", "result_hashes", "page_contexts", "component_queries", "node_digests"} {
		assert.True(t, sqliteObject(t, s, "table", table), "table %s", table)
	}
	assert.True(t, sqliteObject(t, s, "index", "idx_dependencies_target"))
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
		{"user_version", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.pragma(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_MigratesVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// A database left at version 1 has the index but no node digests.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec(migrations[0])
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, sqliteObject(t, s, "table", "node_digests"))
	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", version)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "state.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}
