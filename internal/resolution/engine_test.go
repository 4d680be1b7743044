package resolution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph/internal/cancel"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

func forEachStore(t *testing.T, fn func(t *testing.T, s storage.Store)) {
	factories := map[string]func(t *testing.T) storage.Store{
		"sqlite": func(t *testing.T) storage.Store {
			s, err := storage.NewSQLiteStorage(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"memory": func(t *testing.T) storage.Store { return storage.NewMemoryStorage() },
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func placeholder(written string) types.Node {
	return types.Node{ID: types.GenerateID(written), Kind: types.NodeUnknown, SerializedName: written}
}

func fileNode(path string) types.Node {
	return types.Node{ID: types.GenerateID(path), Kind: types.NodeFile, SerializedName: path}
}

// provisional inserts a CALL edge from caller to the placeholder for written
func provisional(t *testing.T, s storage.Store, caller string, file types.NodeID, written string) types.Edge {
	t.Helper()
	source := types.GenerateID(caller)
	target := types.GenerateID(written)
	edge := types.Edge{
		ID:         types.GenerateEdgeID(source, target, types.EdgeCall),
		Source:     source,
		Target:     target,
		Kind:       types.EdgeCall,
		FileNodeID: types.Ptr(file),
		Line:       types.Ptr(3),
	}
	require.NoError(t, s.InsertNodesBatch(context.Background(), []types.Node{placeholder(written)}))
	require.NoError(t, s.InsertEdgesBatch(context.Background(), []types.Edge{edge}))
	return edge
}

func edgeByID(t *testing.T, s storage.Store, id types.EdgeID) types.Edge {
	t.Helper()
	edges, err := s.GetEdges(context.Background(), storage.EdgeFilter{})
	require.NoError(t, err)
	for _, e := range edges {
		if e.ID == id {
			return e
		}
	}
	require.FailNow(t, "edge not found")
	return types.Edge{}
}

// seed writes pkg/a.go calling helper (defined in pkg/b.go) and foo (defined nowhere)
func seed(t *testing.T, s storage.Store) (resolvable, undefined types.Edge) {
	t.Helper()
	require.NoError(t, s.InsertNodesBatch(context.Background(), []types.Node{
		fileNode("pkg/a.go"), fileNode("pkg/b.go"), fileNode("other/c.go"),
		def("pkg.caller", types.NodeFunction, fileA),
		def("pkg.helper", types.NodeFunction, fileB),
	}))
	resolvable = provisional(t, s, "pkg.caller", fileA, "helper")
	undefined = provisional(t, s, "pkg.caller", fileA, "foo")
	return resolvable, undefined
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{Workers: 2})
	require.NoError(t, err)
	return e
}

func TestEngine_Resolve(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		resolvable, undefined := seed(t, s)

		result, err := newEngine(t).Resolve(ctx, s, storage.Scope{}, cancel.New())
		require.NoError(t, err)
		assert.False(t, result.Cancelled)
		assert.True(t, result.CacheRefreshed)
		require.Len(t, result.Passes, 2)
		assert.Equal(t, 1, result.Resolved(types.EdgeCall))
		assert.Equal(t, 0, result.Resolved(types.EdgeImport))
		assert.Equal(t, 2, result.Passes[0].Considered)
		assert.Equal(t, 1, result.Passes[0].Counters.SameModule)
		assert.Equal(t, 1, result.Passes[0].Counters.Unresolved)

		e := edgeByID(t, s, resolvable.ID)
		require.True(t, e.IsResolved())
		assert.Equal(t, types.GenerateID("pkg.helper"), *e.ResolvedTarget)
		assert.Equal(t, resolvable.Source, *e.ResolvedSource)
		assert.InDelta(t, 0.80, *e.Confidence, 1e-9)
		require.NotNil(t, e.Certainty)
		assert.Equal(t, types.CertaintyCertain, *e.Certainty)
		assert.Empty(t, e.CandidateTargets)

		e = edgeByID(t, s, undefined.ID)
		assert.False(t, e.IsResolved())
		assert.Nil(t, e.Confidence)
		assert.Empty(t, e.CandidateTargets)
	})
}

func TestEngine_ForwardReference(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		engine := newEngine(t)

		// The caller is flushed and resolved before its callee exists
		require.NoError(t, s.InsertNodesBatch(ctx, []types.Node{
			fileNode("pkg/a.go"), def("pkg.caller", types.NodeFunction, fileA),
		}))
		edge := provisional(t, s, "pkg.caller", fileA, "helper")
		result, err := engine.Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Resolved(types.EdgeCall))

		require.NoError(t, s.InsertNodesBatch(ctx, []types.Node{
			fileNode("pkg/b.go"), def("pkg.helper", types.NodeFunction, fileB),
		}))
		result, err = engine.Resolve(ctx, s, storage.Scope{TargetNames: []string{"helper"}}, nil)
		require.NoError(t, err)
		assert.True(t, result.CacheRefreshed)
		assert.Equal(t, 1, result.Resolved(types.EdgeCall))
		assert.True(t, edgeByID(t, s, edge.ID).IsResolved())
	})
}

func TestEngine_Ambiguous(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertNodesBatch(ctx, []types.Node{
			fileNode("pkg/a.go"), fileNode("other/c.go"),
			def("pkg.caller", types.NodeFunction, fileA),
			def("beta.helper", types.NodeFunction, fileC),
			def("alpha.helper", types.NodeFunction, fileC),
		}))
		edge := provisional(t, s, "pkg.caller", fileA, "helper")

		result, err := newEngine(t).Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Passes[0].Counters.Ambiguous)

		e := edgeByID(t, s, edge.ID)
		require.True(t, e.IsResolved())
		assert.Equal(t, types.GenerateID("alpha.helper"), *e.ResolvedTarget)
		require.NotNil(t, e.Certainty)
		assert.Equal(t, types.CertaintyUncertain, *e.Certainty)
		assert.ElementsMatch(t, []types.NodeID{types.GenerateID("alpha.helper"), types.GenerateID("beta.helper")}, e.CandidateTargets)
	})
}

func TestEngine_Imports(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		main := types.GenerateID("app/main.py")
		mod := types.Node{ID: types.GenerateID("pkg.mod"), Kind: types.NodeModule, SerializedName: "pkg.mod", QualifiedName: "pkg.mod"}
		require.NoError(t, s.InsertNodesBatch(ctx, []types.Node{fileNode("app/main.py"), mod, placeholder("pkg.mod")}))
		// The module node replaced the placeholder with the same id
		n, err := s.GetNode(ctx, mod.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NodeModule, n.Kind)

		imp := types.Edge{
			ID:         types.GenerateEdgeID(main, mod.ID, types.EdgeImport),
			Source:     main,
			Target:     mod.ID,
			Kind:       types.EdgeImport,
			FileNodeID: types.Ptr(main),
		}
		require.NoError(t, s.InsertEdgesBatch(ctx, []types.Edge{imp}))

		result, err := newEngine(t).Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Resolved(types.EdgeImport))

		e := edgeByID(t, s, imp.ID)
		require.True(t, e.IsResolved())
		assert.Equal(t, mod.ID, *e.ResolvedTarget)
		assert.Equal(t, types.CertaintyUncertain, *e.Certainty)
	})
}

func TestEngine_StaleResolutions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		resolvable, _ := seed(t, s)
		require.NoError(t, s.InsertNodesBatch(ctx, []types.Node{def("pkg.Widget", types.NodeStruct, fileB)}))

		// A resolution to a non-callable kind is retracted and redone
		conf := 0.9
		require.NoError(t, s.ApplyResolutionUpdates(ctx, []storage.ResolvedEdgeUpdate{{
			EdgeID:         resolvable.ID,
			ResolvedSource: types.Ptr(resolvable.Source),
			ResolvedTarget: types.Ptr(types.GenerateID("pkg.Widget")),
			Confidence:     &conf,
			Certainty:      types.CertaintyFromConfidence(&conf, types.DefaultCertaintyThreshold),
		}}))

		result, err := newEngine(t).Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Passes[0].StaleReset)

		e := edgeByID(t, s, resolvable.ID)
		require.True(t, e.IsResolved())
		assert.Equal(t, types.GenerateID("pkg.helper"), *e.ResolvedTarget)
	})
}

func TestEngine_LowConfidenceIsRetracted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		resolvable, _ := seed(t, s)

		conf := 0.3
		require.NoError(t, s.ApplyResolutionUpdates(ctx, []storage.ResolvedEdgeUpdate{{
			EdgeID:         resolvable.ID,
			ResolvedSource: types.Ptr(resolvable.Source),
			ResolvedTarget: types.Ptr(types.GenerateID("pkg.helper")),
			Confidence:     &conf,
		}}))

		result, err := newEngine(t).Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Passes[0].StaleReset)
		assert.InDelta(t, 0.80, *edgeByID(t, s, resolvable.ID).Confidence, 1e-9)
	})
}

func TestEngine_Scope(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		resolvable, _ := seed(t, s)

		result, err := newEngine(t).Resolve(ctx, s, storage.Scope{FileIDs: []types.NodeID{fileC}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Passes[0].Considered)
		assert.False(t, edgeByID(t, s, resolvable.ID).IsResolved())

		result, err = newEngine(t).Resolve(ctx, s, storage.Scope{FileIDs: []types.NodeID{fileA}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Passes[0].Considered)
		assert.True(t, edgeByID(t, s, resolvable.ID).IsResolved())
	})
}

// cancellingStrategy cancels the token while scoring, after candidates have
// been loaded but before anything is written
type cancellingStrategy struct {
	*CallStrategy
	token *cancel.Token
}

func (s *cancellingStrategy) Select(idx *CandidateIndex, row storage.UnresolvedEdgeRow) Selection {
	s.token.Cancel()
	return s.CallStrategy.Select(idx, row)
}

func TestEngine_Cancellation(t *testing.T) {
	t.Run("before the first pass", func(t *testing.T) {
		s := storage.NewMemoryStorage()
		resolvable, _ := seed(t, s)
		token := cancel.New()
		token.Cancel()

		result, err := newEngine(t).Resolve(context.Background(), s, storage.Scope{}, token)
		require.NoError(t, err)
		assert.True(t, result.Cancelled)
		assert.Empty(t, result.Passes)
		assert.False(t, edgeByID(t, s, resolvable.ID).IsResolved())
	})

	t.Run("before the write", func(t *testing.T) {
		forEachStore(t, func(t *testing.T, s storage.Store) {
			resolvable, _ := seed(t, s)
			token := cancel.New()
			engine, err := NewEngine(Config{
				Workers:    1,
				Strategies: []Strategy{&cancellingStrategy{CallStrategy: NewCallStrategy(DefaultCallPolicy, nil), token: token}},
			})
			require.NoError(t, err)

			result, err := engine.Resolve(context.Background(), s, storage.Scope{}, token)
			require.NoError(t, err)
			assert.True(t, result.Cancelled)
			assert.Empty(t, result.Passes)
			assert.False(t, edgeByID(t, s, resolvable.ID).IsResolved())
		})
	})
}

func TestEngine_CandidateCache(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		seed(t, s)
		engine := newEngine(t)

		result, err := engine.Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.True(t, result.CacheRefreshed)

		// Resolution writes leave the node set alone, so the index is reused
		result, err = engine.Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.False(t, result.CacheRefreshed)
		assert.Equal(t, 1, result.Passes[0].Considered)

		require.NoError(t, s.InsertNodesBatch(ctx, []types.Node{def("other.foo", types.NodeFunction, fileC)}))
		result, err = engine.Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		assert.True(t, result.CacheRefreshed)
		assert.Equal(t, 1, result.Resolved(types.EdgeCall))
	})
}

func TestEngine_CandidateCacheIsPerStore(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	// Both stores see the same number of node writes, one defines helper
	withHelper := storage.NewMemoryStorage()
	resolvable, _ := seed(t, withHelper)
	without := storage.NewMemoryStorage()
	require.NoError(t, without.InsertNodesBatch(ctx, []types.Node{
		fileNode("pkg/a.go"), def("pkg.caller", types.NodeFunction, fileA),
	}))
	provisional(t, without, "pkg.caller", fileA, "helper")
	provisional(t, without, "pkg.caller", fileA, "foo")
	require.Equal(t, withHelper.Generation(), without.Generation())

	_, err := engine.Resolve(ctx, withHelper, storage.Scope{}, nil)
	require.NoError(t, err)
	require.True(t, edgeByID(t, withHelper, resolvable.ID).IsResolved())

	result, err := engine.Resolve(ctx, without, storage.Scope{}, nil)
	require.NoError(t, err)
	assert.True(t, result.CacheRefreshed)
	assert.Equal(t, 0, result.Resolved(types.EdgeCall))
	assert.False(t, edgeByID(t, without, resolvable.ID).IsResolved())
}

func TestEngine_FileRemoval(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		resolvable, _ := seed(t, s)
		engine := newEngine(t)

		_, err := engine.Resolve(ctx, s, storage.Scope{}, nil)
		require.NoError(t, err)
		require.True(t, edgeByID(t, s, resolvable.ID).IsResolved())

		summary, err := s.DeleteFileProjection(ctx, "pkg/b.go")
		require.NoError(t, err)
		assert.Equal(t, []types.NodeID{fileA}, summary.AffectedFiles)

		result, err := engine.Resolve(ctx, s, storage.Scope{FileIDs: summary.AffectedFiles}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Resolved(types.EdgeCall))
		e := edgeByID(t, s, resolvable.ID)
		assert.False(t, e.IsResolved())
		assert.Empty(t, e.CandidateTargets)
	})
}

func TestEngine_EmptyStore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s storage.Store) {
		result, err := newEngine(t).Resolve(context.Background(), s, storage.Scope{}, nil)
		require.NoError(t, err)
		require.Len(t, result.Passes, 2)
		assert.False(t, result.CacheRefreshed)
		assert.Equal(t, 0, result.Passes[0].Considered)
	})
}
