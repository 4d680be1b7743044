package intermediate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph/internal/symboltable"
	"github.com/dshills/codegraph/pkg/types"
)

func TestAddAndMerge(t *testing.T) {
	a := New()
	a.AddNode(types.Node{ID: 1, Kind: types.NodeFunction})
	a.AddEdge(types.Edge{ID: 10, Source: 1, Target: 2, Kind: types.EdgeCall})
	a.AddOccurrence(types.Occurrence{ElementID: 1})
	a.AddError(types.ErrorInfo{Message: "first"})

	b := New()
	b.AddNode(types.Node{ID: 2, Kind: types.NodeClass})
	b.AddNode(types.Node{ID: 1, Kind: types.NodeFunction})
	b.AddError(types.ErrorInfo{Message: "second"})

	a.Merge(b)

	require.Len(t, a.Nodes, 3)
	assert.Equal(t, types.NodeID(1), a.Nodes[0].ID)
	assert.Equal(t, types.NodeID(2), a.Nodes[1].ID)
	assert.Equal(t, types.NodeID(1), a.Nodes[2].ID, "merge must not deduplicate")
	assert.Len(t, a.Edges, 1)
	assert.Len(t, a.Occurrences, 1)
	assert.Equal(t, []string{"first", "second"}, []string{a.Errors[0].Message, a.Errors[1].Message})
	assert.Equal(t, 7, a.Len())

	a.Merge(nil)
	assert.Equal(t, 7, a.Len())
}

func TestClear(t *testing.T) {
	s := New()
	s.AddNode(types.Node{ID: 1})
	s.AddEdge(types.Edge{ID: 1})
	require.False(t, s.IsEmpty())

	s.Clear()
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Len())
}

func TestFromResult(t *testing.T) {
	r := &types.IndexResult{
		Nodes:  []types.Node{{ID: 1}},
		Errors: []types.ErrorInfo{{Message: "syntax error"}},
	}
	s := FromResult(r)
	assert.Len(t, s.Nodes, 1)
	assert.Len(t, s.Errors, 1)
	assert.True(t, FromResult(nil).IsEmpty())
}

func TestMergeResolved(t *testing.T) {
	table := symboltable.New()
	table.Insert(1, types.NodeFunction)
	table.Insert(2, types.NodeUnknown)

	other := New()
	other.AddNode(types.Node{ID: 1, Kind: types.NodeUnknown, SerializedName: "helper"})
	other.AddNode(types.Node{ID: 2, Kind: types.NodeUnknown, SerializedName: "missing"})
	other.AddNode(types.Node{ID: 3, Kind: types.NodeClass, SerializedName: "Widget"})
	other.AddEdge(types.Edge{ID: 5, Source: 3, Target: 1, Kind: types.EdgeCall})

	s := New()
	s.MergeResolved(other, table)

	require.Len(t, s.Nodes, 2)
	assert.Equal(t, types.NodeID(2), s.Nodes[0].ID)
	assert.Equal(t, types.NodeID(3), s.Nodes[1].ID)
	assert.Len(t, s.Edges, 1)

	plain := New()
	plain.MergeResolved(other, nil)
	assert.Len(t, plain.Nodes, 3)
}
