package resolution

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// Candidate is a definition an edge may resolve to
type Candidate struct {
	ID         types.NodeID
	Kind       types.NodeKind
	Name       string
	Qualified  string
	FileNodeID *types.NodeID
}

// CandidateIndex looks definitions up by the last segment of their name
type CandidateIndex struct {
	bySegment map[string][]Candidate
	size      int
}

// NewCandidateIndex indexes nodes. Placeholders are never candidates.
func NewCandidateIndex(nodes []types.Node) *CandidateIndex {
	idx := &CandidateIndex{bySegment: make(map[string][]Candidate)}
	for i := range nodes {
		n := &nodes[i]
		if !n.Kind.IsConcrete() || n.SerializedName == "" {
			continue
		}
		c := Candidate{
			ID:         n.ID,
			Kind:       n.Kind,
			Name:       n.SerializedName,
			Qualified:  n.DisplayName(),
			FileNodeID: n.FileNodeID,
		}
		seg := lastSegment(n.SerializedName)
		idx.bySegment[seg] = append(idx.bySegment[seg], c)
		idx.size++
	}
	for _, list := range idx.bySegment {
		sortCandidates(list)
	}
	return idx
}

// Lookup returns the candidates whose name ends with the last segment of
// written, in qualified-name order
func (idx *CandidateIndex) Lookup(written string) []Candidate {
	return idx.bySegment[lastSegment(written)]
}

// Len returns the number of indexed candidates
func (idx *CandidateIndex) Len() int {
	return idx.size
}

func sortCandidates(list []Candidate) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Qualified != list[j].Qualified {
			return list[i].Qualified < list[j].Qualified
		}
		return list[i].ID < list[j].ID
	})
}

func lastSegment(name string) string {
	return types.NameSegment(name)
}

// container returns a qualified name without its last "::" or "." segment
func container(qualified string) string {
	i := strings.LastIndexAny(qualified, ".:")
	if i < 0 {
		return ""
	}
	if qualified[i] == ':' && i > 0 && qualified[i-1] == ':' {
		i--
	}
	return qualified[:i]
}

// endsAtBoundary reports whether s ends with suffix right after a separator
func endsAtBoundary(s, suffix string) bool {
	if len(s) <= len(suffix) || !strings.HasSuffix(s, suffix) {
		return false
	}
	switch s[len(s)-len(suffix)-1] {
	case '.', ':', '/':
		return true
	}
	return false
}

type indexKey struct {
	store      string
	kinds      string
	generation uint64
}

// candidateCache memoizes candidate indexes per (store, kind set, store
// generation). Any committed node write moves the generation, so stale
// indexes are never hit.
type candidateCache struct {
	cache *lru.Cache[indexKey, *CandidateIndex]
}

func newCandidateCache(size int) (*candidateCache, error) {
	if size <= 0 {
		size = 8
	}
	c, err := lru.New[indexKey, *CandidateIndex](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create candidate cache: %w", err)
	}
	return &candidateCache{cache: c}, nil
}

// get returns the index for kinds, building it on a miss. refreshed is true
// when the index had to be built.
func (c *candidateCache) get(ctx context.Context, store storage.Store, kinds []types.NodeKind) (idx *CandidateIndex, refreshed bool, err error) {
	key := indexKey{store: store.Identity(), kinds: kindsKey(kinds), generation: store.Generation()}
	if idx, ok := c.cache.Get(key); ok {
		return idx, false, nil
	}

	nodes, err := store.GetNodes(ctx, storage.NodeFilter{Kinds: kinds})
	if err != nil {
		return nil, false, fmt.Errorf("failed to load candidates: %w", err)
	}
	idx = NewCandidateIndex(nodes)
	c.cache.Add(key, idx)
	return idx, true, nil
}

func kindsKey(kinds []types.NodeKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
