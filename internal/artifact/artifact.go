// Package artifact persists query results as files.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Persistence stores serialized results by relative path.
type Persistence interface {
	Write(path string, data []byte) error
	Exists(path string) bool
}

// FileName maps a query id to a filesystem-safe file name. The mapping is
// injective: "/" becomes "_", and every byte outside [A-Za-z0-9.-] is
// percent-encoded, "_" included.
func FileName(queryID string) string {
	var b strings.Builder
	for i := 0; i < len(queryID); i++ {
		c := queryID[i]
		switch {
		case c == '/':
			b.WriteByte('_')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String() + ".json"
}

// Dir writes artifacts below a root directory. Writes go to a temporary
// file in the destination directory and are renamed into place, so readers
// never observe a partial file.
type Dir struct {
	root string
}

// NewDir creates the root directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the artifact root directory.
func (d *Dir) Root() string {
	return d.root
}

// Write atomically replaces path with data.
func (d *Dir) Write(path string, data []byte) error {
	full := filepath.Join(d.root, path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path is present.
func (d *Dir) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(d.root, path))
	return err == nil
}

// Read returns the content of path.
func (d *Dir) Read(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, path))
}

// Memory is an in-memory Persistence that counts writes.
type Memory struct {
	mu     sync.Mutex
	files  map[string][]byte
	writes map[string]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte), writes: make(map[string]int)}
}

// Write stores a copy of data.
func (m *Memory) Write(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	m.writes[path]++
	return nil
}

// Exists reports whether path was written and not removed.
func (m *Memory) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// Read returns the stored content of path.
func (m *Memory) Read(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	return b, ok
}

// Writes returns how many times path was written.
func (m *Memory) Writes(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[path]
}

// Remove deletes path, simulating a missing artifact.
func (m *Memory) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// Paths returns every stored path.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	return out
}
