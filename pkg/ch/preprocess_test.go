package ch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"turn_router/pkg/graph"
	"turn_router/pkg/graph/graphtest"
)

func TestBuildTurnGraphRejectsMalformedInput(t *testing.T) {
	in := graphtest.Chain(3)
	in.Edges[0].EdgeIDAtSource = 4
	_, err := BuildTurnGraph(in, testConfig(1), zap.NewNop())
	assert.ErrorIs(t, err, graph.ErrMalformedInput)

	in = graphtest.Chain(3)
	in.Geometry = &graph.Geometry{First: []uint32{0}}
	_, err = BuildTurnGraph(in, testConfig(1), zap.NewNop())
	assert.ErrorIs(t, err, graph.ErrMalformedInput)
}

func TestBuildTurnGraphDropsLongEdges(t *testing.T) {
	in := graphtest.Chain(3)
	in.Edges[1].Distance = 100_000 // more than a day

	h, err := BuildTurnGraph(in, testConfig(1), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, h.Roads, 2)
	assert.Equal(t, uint32(10), h.Roads[0].Distance)
	assert.Zero(t, h.Roads[1].Distance)
	// Each kept edge is stored at both endpoints.
	assert.Equal(t, uint32(2), h.Graph.NumEdges())
}

func TestBuildTurnGraphDistances(t *testing.T) {
	in := graphtest.Chain(4)
	in.Edges[0].Distance = 0     // rounds up to the minimum
	in.Edges[1].Distance = 2.349 // 23.49 deci-seconds
	h, err := BuildTurnGraph(in, testConfig(1), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h.Roads[0].Distance)
	assert.Equal(t, uint32(23), h.Roads[1].Distance)
	assert.Equal(t, uint32(10), h.Roads[2].Distance)
}

func TestBidirectionalPrefix(t *testing.T) {
	edges := []graph.Edge{
		{Source: 0, Target: 1, EdgeIDAtSource: 0, EdgeIDAtTarget: 1, Bidirectional: true},
		{Source: 1, Target: 2, EdgeIDAtSource: 3},
	}
	assert.Equal(t, []uint8{1, 2, 0}, bidirectionalPrefix(3, edges))
}

func TestPreprocessWritesHierarchy(t *testing.T) {
	in := graphtest.Grid(graphtest.Rand(11), graphtest.GridOptions{
		Rows: 5, Cols: 5, OneWay: 0.2, Restricted: 0.1, Penalized: 0.2, UTurn: -1,
	})
	path := filepath.Join(t.TempDir(), "grid.turn")

	h, err := Preprocess(in, path, testConfig(2), zap.NewNop())
	require.NoError(t, err)
	loaded, err := graph.ReadTurnBinary(path)
	require.NoError(t, err)

	assert.Equal(t, h.Graph.Edges(), loaded.Graph.Edges())
	assert.Equal(t, h.Roads, loaded.Roads)
	assert.Len(t, loaded.NodeLat, 25)
}

func TestBuildTurnGraphStoresBothLoopDirections(t *testing.T) {
	h, err := BuildTurnGraph(graphtest.Lasso(), testConfig(1), zap.NewNop())
	require.NoError(t, err)
	loop := h.Roads[2]

	var slots [][2]uint8
	for _, e := range h.Graph.Edges() {
		if e.Data.ID != 2 || e.Source != 1 {
			continue
		}
		assert.Equal(t, uint32(1), e.Target)
		assert.True(t, e.Data.Forward)
		assert.True(t, e.Data.Backward)
		slots = append(slots, [2]uint8{e.SourceSlot, e.TargetSlot})
	}
	assert.ElementsMatch(t, [][2]uint8{
		{loop.SourceSlot, loop.TargetSlot},
		{loop.TargetSlot, loop.SourceSlot},
	}, slots)
	// Two records per input edge, the loop included.
	assert.Equal(t, uint32(6), h.Graph.NumEdges())
}
