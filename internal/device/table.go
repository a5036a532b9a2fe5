package device

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

// Entry is one row of the device table.
type Entry struct {
	Path     string
	Identity descriptor.Identity
}

// table maps canonical node paths to the identity read when the node was
// first seen.
type table struct {
	mu      sync.Mutex
	devices map[string]descriptor.Identity
}

func newTable() *table {
	return &table{devices: make(map[string]descriptor.Identity)}
}

// add inserts path. It reports false and leaves the table unchanged when
// path is already present.
func (t *table) add(path string, id descriptor.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.devices[path]; ok {
		return false
	}
	t.devices[path] = id
	return true
}

func (t *table) remove(path string) (descriptor.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.devices[path]
	if ok {
		delete(t.devices, path)
	}
	return id, ok
}

func (t *table) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.devices)
}

func (t *table) entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.devices))
	for p, id := range t.devices {
		out = append(out, Entry{Path: p, Identity: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// canonical resolves symlinks in the parent directory of path. The node
// itself may already be gone when a deletion is reported, so only its
// directory is resolved.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs
	}
	return filepath.Join(dir, filepath.Base(abs))
}
