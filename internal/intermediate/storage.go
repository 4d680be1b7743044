// Package intermediate holds the in-memory accumulator used between parsing
// and a batched store flush.
package intermediate

import (
	"github.com/dshills/codegraph/internal/symboltable"
	"github.com/dshills/codegraph/pkg/types"
)

// Storage accumulates graph elements for one unit of work. It performs no
// deduplication; the persistent store upserts by id.
type Storage struct {
	Nodes       []types.Node
	Edges       []types.Edge
	Occurrences []types.Occurrence
	Errors      []types.ErrorInfo
}

// New creates an empty Storage
func New() *Storage {
	return &Storage{}
}

// FromResult wraps an adapter result without copying its slices
func FromResult(r *types.IndexResult) *Storage {
	if r == nil {
		return New()
	}
	return &Storage{
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Occurrences: r.Occurrences,
		Errors:      r.Errors,
	}
}

func (s *Storage) AddNode(n types.Node)             { s.Nodes = append(s.Nodes, n) }
func (s *Storage) AddEdge(e types.Edge)             { s.Edges = append(s.Edges, e) }
func (s *Storage) AddOccurrence(o types.Occurrence) { s.Occurrences = append(s.Occurrences, o) }
func (s *Storage) AddError(e types.ErrorInfo)       { s.Errors = append(s.Errors, e) }

// Merge appends every collection of other, preserving insertion order
func (s *Storage) Merge(other *Storage) {
	if other == nil {
		return
	}
	s.Nodes = append(s.Nodes, other.Nodes...)
	s.Edges = append(s.Edges, other.Edges...)
	s.Occurrences = append(s.Occurrences, other.Occurrences...)
	s.Errors = append(s.Errors, other.Errors...)
}

// MergeResolved merges other, dropping UNKNOWN placeholder nodes whose
// identity the symbol table already knows with a concrete kind.
func (s *Storage) MergeResolved(other *Storage, table *symboltable.Table) {
	if other == nil {
		return
	}
	if table == nil {
		s.Merge(other)
		return
	}
	for _, n := range other.Nodes {
		if !n.Kind.IsConcrete() && table.IsConcrete(n.ID) {
			continue
		}
		s.Nodes = append(s.Nodes, n)
	}
	s.Edges = append(s.Edges, other.Edges...)
	s.Occurrences = append(s.Occurrences, other.Occurrences...)
	s.Errors = append(s.Errors, other.Errors...)
}

// Clear empties all collections while keeping capacity
func (s *Storage) Clear() {
	s.Nodes = s.Nodes[:0]
	s.Edges = s.Edges[:0]
	s.Occurrences = s.Occurrences[:0]
	s.Errors = s.Errors[:0]
}

// Len returns the total number of elements held
func (s *Storage) Len() int {
	return len(s.Nodes) + len(s.Edges) + len(s.Occurrences) + len(s.Errors)
}

// IsEmpty reports whether nothing has been added
func (s *Storage) IsEmpty() bool {
	return s.Len() == 0
}
