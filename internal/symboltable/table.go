// Package symboltable provides the session-scoped registry that maps a node
// identity to its best-known kind while files are parsed in parallel.
package symboltable

import (
	"sync"

	"github.com/dshills/codegraph/pkg/types"
)

// Table is a concurrent NodeID -> NodeKind registry. The zero value is not
// usable; create one with New.
type Table struct {
	mu    sync.RWMutex
	kinds map[types.NodeID]types.NodeKind
}

// New creates an empty table
func New() *Table {
	return &Table{kinds: make(map[types.NodeID]types.NodeKind)}
}

// Insert records kind for id. An UNKNOWN entry is upgraded by a concrete
// kind; a concrete entry is never changed (first concrete definition wins).
func (t *Table) Insert(id types.NodeID, kind types.NodeKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(id, kind)
}

func (t *Table) insertLocked(id types.NodeID, kind types.NodeKind) {
	existing, ok := t.kinds[id]
	if !ok || (!existing.IsConcrete() && kind.IsConcrete()) {
		t.kinds[id] = kind
	}
}

// Get returns the best-known kind for id
func (t *Table) Get(id types.NodeID) (types.NodeKind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kind, ok := t.kinds[id]
	return kind, ok
}

// IsConcrete reports whether id is known with a concrete kind
func (t *Table) IsConcrete(id types.NodeID) bool {
	kind, ok := t.Get(id)
	return ok && kind.IsConcrete()
}

// Seed inserts the kinds of previously persisted nodes under one lock
func (t *Table) Seed(nodes []types.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range nodes {
		t.insertLocked(nodes[i].ID, nodes[i].Kind)
	}
}

// Len returns the number of entries
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.kinds)
}

// Clear drops every entry. Used between independent workspace loads.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kinds = make(map[types.NodeID]types.NodeKind)
}
