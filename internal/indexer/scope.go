package indexer

import (
	"sort"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// scopeBuilder accumulates what a run touched so resolution only revisits
// edges that could have changed: edges owned by touched or affected files,
// and edges written against a name a new definition can satisfy.
type scopeBuilder struct {
	files    map[types.NodeID]struct{}
	targets  map[types.NodeID]struct{}
	segments map[string]struct{}
}

func newScopeBuilder() *scopeBuilder {
	return &scopeBuilder{
		files:    make(map[types.NodeID]struct{}),
		targets:  make(map[types.NodeID]struct{}),
		segments: make(map[string]struct{}),
	}
}

func (b *scopeBuilder) addFiles(ids ...types.NodeID) {
	for _, id := range ids {
		b.files[id] = struct{}{}
	}
}

// addDefinitions records concrete definitions. A reference elsewhere may
// spell a definition as its bare name, a qualified suffix or a longer path
// such as crate::util::helper for util::helper. Every spelling ends in the
// same last segment, which is what the scope matches on.
func (b *scopeBuilder) addDefinitions(nodes []types.Node) {
	for i := range nodes {
		n := &nodes[i]
		if !n.Kind.IsConcrete() || n.Kind == types.NodeFile {
			continue
		}
		b.targets[n.ID] = struct{}{}
		b.segments[types.NameSegment(n.SerializedName)] = struct{}{}
		b.segments[types.NameSegment(n.DisplayName())] = struct{}{}
	}
}

func (b *scopeBuilder) build() storage.Scope {
	var scope storage.Scope
	for id := range b.files {
		scope.FileIDs = append(scope.FileIDs, id)
	}
	for id := range b.targets {
		scope.TargetIDs = append(scope.TargetIDs, id)
	}
	for seg := range b.segments {
		if seg != "" {
			scope.TargetSegments = append(scope.TargetSegments, seg)
		}
	}
	sort.Slice(scope.FileIDs, func(i, j int) bool { return scope.FileIDs[i] < scope.FileIDs[j] })
	sort.Slice(scope.TargetIDs, func(i, j int) bool { return scope.TargetIDs[i] < scope.TargetIDs[j] })
	sort.Strings(scope.TargetSegments)
	return scope
}
