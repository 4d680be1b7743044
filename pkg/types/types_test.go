package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertaintyFromConfidence(t *testing.T) {
	tests := []struct {
		name       string
		confidence *float64
		threshold  float64
		want       *Certainty
	}{
		{"absent confidence", nil, 0.7, nil},
		{"below threshold", Ptr(0.69), 0.7, Ptr(CertaintyUncertain)},
		{"at threshold", Ptr(0.7), 0.7, Ptr(CertaintyCertain)},
		{"above threshold", Ptr(0.95), 0.7, Ptr(CertaintyCertain)},
		{"zero", Ptr(0.0), 0.7, Ptr(CertaintyUncertain)},
		{"custom threshold", Ptr(0.5), 0.4, Ptr(CertaintyCertain)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CertaintyFromConfidence(tt.confidence, tt.threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCertaintyFromConfidence_Pure(t *testing.T) {
	// Same input always yields the same label, and the mapping is monotonic.
	var prev Certainty = CertaintyUncertain
	for i := 0; i <= 100; i++ {
		c := float64(i) / 100
		first := CertaintyFromConfidence(&c, DefaultCertaintyThreshold)
		second := CertaintyFromConfidence(&c, DefaultCertaintyThreshold)
		require.NotNil(t, first)
		assert.Equal(t, *first, *second)
		if prev == CertaintyCertain {
			assert.Equal(t, CertaintyCertain, *first, "certainty regressed at %v", c)
		}
		prev = *first
	}
}

func TestParseCertainty(t *testing.T) {
	c, err := ParseCertainty("certain")
	require.NoError(t, err)
	assert.Equal(t, CertaintyCertain, c)

	_, err = ParseCertainty("probable")
	assert.Error(t, err)
}

func TestGenerateID(t *testing.T) {
	assert.Equal(t, GenerateID("main.run"), GenerateID("main.run"))
	assert.NotEqual(t, GenerateID("main.run"), GenerateID("main.stop"))
	assert.NotEqual(t, GenerateID("a.py"), GenerateID("b.py"))
}

func TestGenerateEdgeID(t *testing.T) {
	a, b := GenerateID("a"), GenerateID("b")

	assert.Equal(t, GenerateEdgeID(a, b, EdgeCall), GenerateEdgeID(a, b, EdgeCall))
	assert.NotEqual(t, GenerateEdgeID(a, b, EdgeCall), GenerateEdgeID(b, a, EdgeCall))
	assert.NotEqual(t, GenerateEdgeID(a, b, EdgeCall), GenerateEdgeID(a, b, EdgeImport))
}

func TestNodeKind(t *testing.T) {
	assert.Equal(t, 13, int(NodeFunction))
	assert.Equal(t, 21, int(NodeUnknown))
	assert.Equal(t, "FUNCTION", NodeFunction.String())
	assert.True(t, NodeClass.IsConcrete())
	assert.False(t, NodeUnknown.IsConcrete())
	assert.False(t, NodeKind(99).IsValid())

	k, ok := ParseNodeKind("METHOD")
	assert.True(t, ok)
	assert.Equal(t, NodeMethod, k)
}

func TestEdgeKindValues(t *testing.T) {
	assert.Equal(t, 3, int(EdgeCall))
	assert.Equal(t, 9, int(EdgeImport))
	assert.Equal(t, "IMPORT", EdgeImport.String())
}

func TestRefreshInfoValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := RefreshInfo{FilesToIndex: []string{"a.py"}, FilesToRemove: []string{"b.py"}}
		assert.NoError(t, r.Validate())
		assert.False(t, r.IsEmpty())
	})

	t.Run("empty path", func(t *testing.T) {
		r := RefreshInfo{FilesToIndex: []string{""}}
		assert.True(t, errors.Is(r.Validate(), ErrInvalidRefreshInfo))
	})

	t.Run("overlap", func(t *testing.T) {
		r := RefreshInfo{FilesToIndex: []string{"a.py"}, FilesToRemove: []string{"a.py"}}
		assert.ErrorIs(t, r.Validate(), ErrInvalidRefreshInfo)
	})

	t.Run("empty refresh", func(t *testing.T) {
		r := RefreshInfo{}
		assert.True(t, r.IsEmpty())
		assert.NoError(t, r.Validate())
	})
}

func TestEdgeClearResolution(t *testing.T) {
	e := Edge{
		ResolvedTarget:   Ptr(NodeID(4)),
		Confidence:       Ptr(0.9),
		Certainty:        Ptr(CertaintyCertain),
		CandidateTargets: []NodeID{4},
	}
	require.True(t, e.IsResolved())

	e.ClearResolution()
	assert.False(t, e.IsResolved())
	assert.Nil(t, e.Confidence)
	assert.Nil(t, e.Certainty)
	assert.Empty(t, e.CandidateTargets)
}

func TestEdgeIsResolved_Values(t *testing.T) {
	edges := map[string]Edge{
		"resolved":    {ResolvedTarget: Ptr(NodeID(1))},
		"provisional": {},
	}
	// map elements are not addressable
	assert.True(t, edges["resolved"].IsResolved())
	assert.False(t, edges["provisional"].IsResolved())
	assert.True(t, Edge{ResolvedTarget: Ptr(NodeID(2))}.IsResolved())
}
