package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

var (
	javaFoo   = types.GenerateID("src/com/acme/Foo.java")
	javaOther = types.GenerateID("src/com/acme/Bar.java")
)

func rowIn(path string, file types.NodeID, caller, written string) storage.UnresolvedEdgeRow {
	row := callRow(caller, file, written)
	row.FilePath = path
	return row
}

func moduleNode(name string, kind types.NodeKind) types.Node {
	return types.Node{ID: types.GenerateID(name), Kind: kind, SerializedName: name, QualifiedName: name}
}

func TestSemanticResolvers_For(t *testing.T) {
	resolvers := DefaultSemanticResolvers()
	assert.Equal(t, []string{"java", "typescript"}, resolvers.Languages())

	r, ok := resolvers.For("src/com/acme/Foo.java")
	require.True(t, ok)
	assert.Equal(t, "java", r.Language())

	r, ok = resolvers.For("web/App.TSX")
	require.True(t, ok)
	assert.Equal(t, "typescript", r.Language())

	_, ok = resolvers.For("pkg/a.go")
	assert.False(t, ok)
	_, ok = resolvers.For("")
	assert.False(t, ok)

	var none *SemanticResolvers
	_, ok = none.For("src/Foo.java")
	assert.False(t, ok)
	assert.Empty(t, none.Languages())
}

func TestCallStrategy_SemanticFallback(t *testing.T) {
	strategy := NewCallStrategy(DefaultCallPolicy, nil)
	// Another class declared in the caller's file is neither same module
	// nor, for a common name, eligible for the same-file tier
	sibling := def("com.acme.Helper.add", types.NodeMethod, javaFoo)

	t.Run("common name in the caller's file", func(t *testing.T) {
		idx := NewCandidateIndex([]types.Node{sibling})
		sel := strategy.Select(idx, rowIn("src/com/acme/Foo.java", javaFoo, "com.acme.Foo.run", "add"))
		require.NotNil(t, sel.Target)
		assert.Equal(t, sibling.ID, *sel.Target)
		assert.Equal(t, TierSemantic, sel.Tier)
		assert.InDelta(t, 0.55, sel.Confidence, 1e-9)
	})

	t.Run("scored below the global tier", func(t *testing.T) {
		other := def("com.acme.Util.add", types.NodeMethod, javaOther)
		idx := NewCandidateIndex([]types.Node{sibling, other})
		sel := strategy.Select(idx, rowIn("src/com/acme/Foo.java", javaFoo, "com.acme.Foo.run", "add"))
		require.NotNil(t, sel.Target)
		assert.Equal(t, sibling.ID, *sel.Target)
		assert.Less(t, sel.Confidence, DefaultCallPolicy.Global)
	})

	t.Run("common name in another file stays unresolved", func(t *testing.T) {
		idx := NewCandidateIndex([]types.Node{def("com.acme.Util.add", types.NodeMethod, javaOther)})
		sel := strategy.Select(idx, rowIn("src/com/acme/Foo.java", javaFoo, "com.acme.Foo.run", "add"))
		assert.Nil(t, sel.Target)
	})

	t.Run("typescript method in the caller's file", func(t *testing.T) {
		app := types.GenerateID("src/app.ts")
		push := def("src.app.Stack.push", types.NodeMethod, app)
		sel := strategy.Select(NewCandidateIndex([]types.Node{push}), rowIn("src/app.ts", app, "src.app.main", "push"))
		require.NotNil(t, sel.Target)
		assert.Equal(t, push.ID, *sel.Target)
		assert.Equal(t, TierSemantic, sel.Tier)
	})

	t.Run("languages without a resolver", func(t *testing.T) {
		idx := NewCandidateIndex([]types.Node{def("pkg.Stack.push", types.NodeMethod, fileA)})
		assert.Nil(t, strategy.Select(idx, rowIn("pkg/a.go", fileA, "pkg.main", "push")).Target)
	})

	t.Run("disabled", func(t *testing.T) {
		off := NewCallStrategy(DefaultCallPolicy, nil)
		off.Semantic = nil
		idx := NewCandidateIndex([]types.Node{sibling})
		assert.Nil(t, off.Select(idx, rowIn("src/com/acme/Foo.java", javaFoo, "com.acme.Foo.run", "add")).Target)

		policy := DefaultCallPolicy
		policy.Semantic = 0
		zero := NewCallStrategy(policy, nil)
		assert.Nil(t, zero.Select(idx, rowIn("src/com/acme/Foo.java", javaFoo, "com.acme.Foo.run", "add")).Target)
	})
}

func TestImportStrategy_SemanticFallback(t *testing.T) {
	strategy := NewImportStrategy(DefaultImportPolicy)
	importIn := func(path, written string) storage.UnresolvedEdgeRow {
		return storage.UnresolvedEdgeRow{
			Source:              types.GenerateID(path),
			Target:              types.GenerateID(written),
			FileNodeID:          types.Ptr(types.GenerateID(path)),
			FilePath:            path,
			CallerQualifiedName: path,
			TargetName:          written,
		}
	}

	tests := []struct {
		name       string
		nodes      []types.Node
		row        storage.UnresolvedEdgeRow
		want       string
		confidence float64
		tier       Tier
	}{
		{
			name:       "java type import lands on its package",
			nodes:      []types.Node{moduleNode("com.acme.util", types.NodePackage)},
			row:        importIn("src/com/acme/Foo.java", "com.acme.util.Helper"),
			want:       "com.acme.util",
			confidence: 0.45,
			tier:       TierSemantic,
		},
		{
			name:       "java static member import",
			nodes:      []types.Node{moduleNode("com.acme.util", types.NodePackage)},
			row:        importIn("src/com/acme/Foo.java", "com.acme.util.Helper.run"),
			want:       "com.acme.util",
			confidence: 0.45,
			tier:       TierSemantic,
		},
		{
			name:       "relative specifier",
			nodes:      []types.Node{moduleNode("src.lib.util", types.NodeModule), moduleNode("vendor.util", types.NodeModule)},
			row:        importIn("src/app/main.ts", "../lib/util"),
			want:       "src.lib.util",
			confidence: 0.45,
			tier:       TierSemantic,
		},
		{
			name:       "directory index",
			nodes:      []types.Node{moduleNode("src.lib.index", types.NodeModule)},
			row:        importIn("src/main.js", "./lib"),
			want:       "src.lib.index",
			confidence: 0.45,
			tier:       TierSemantic,
		},
		{
			name:       "bare specifier matched by trailing path",
			nodes:      []types.Node{moduleNode("packages.acme.util", types.NodeModule)},
			row:        importIn("src/main.ts", "@acme/util"),
			want:       "packages.acme.util",
			confidence: 0.40,
			tier:       TierSemantic,
		},
		{
			name:       "global tier still wins",
			nodes:      []types.Node{moduleNode("com.acme.util", types.NodePackage)},
			row:        importIn("src/com/acme/Foo.java", "com.acme.util"),
			want:       "com.acme.util",
			confidence: 0.50,
			tier:       TierGlobal,
		},
		{
			name:       "fuzzy when nothing semantic applies",
			nodes:      []types.Node{moduleNode("pkg.util", types.NodeModule)},
			row:        importIn("src/main.ts", "./other/util"),
			want:       "pkg.util",
			confidence: 0.30,
			tier:       TierFuzzy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := strategy.Select(NewCandidateIndex(tt.nodes), tt.row)
			require.NotNil(t, sel.Target)
			assert.Equal(t, types.GenerateID(tt.want), *sel.Target)
			assert.InDelta(t, tt.confidence, sel.Confidence, 1e-9)
			assert.Equal(t, tt.tier, sel.Tier)
		})
	}
}

func TestModuleNames(t *testing.T) {
	assert.Equal(t, []string{"src.lib.util", "src.lib.util.index"}, moduleNames("src/lib/util.ts"))
	assert.Equal(t, []string{"src.lib.index", "src.lib"}, moduleNames("src/lib/index.js"))
	assert.Equal(t, []string{"lodash", "lodash.index"}, moduleNames("lodash"))
	assert.Empty(t, moduleNames("."))
}

func TestCounters_Semantic(t *testing.T) {
	var c Counters
	c.add(Selection{Target: types.Ptr(types.NodeID(1)), Tier: TierSemantic})
	c.add(Selection{})
	assert.Equal(t, 1, c.Semantic)
	assert.Equal(t, 1, c.Unresolved)
	assert.Equal(t, "semantic", TierSemantic.String())
}
