package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turn_router/pkg/graph"
)

func TestSnapperIndexesLiveRoads(t *testing.T) {
	net := testNetwork()
	net.Roads[5].Distance = 0 // dropped during import
	s := NewSnapper(net, 0)
	assert.Equal(t, 5, s.Len())

	// Midway between 4 and 5 the dropped road is not a candidate.
	res, err := s.Snap(1.301, 103.8015)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(5), res.Road)
}

func TestSnapRatio(t *testing.T) {
	s := NewSnapper(testNetwork(), 100)

	res, err := s.Snap(1.3002, 103.8005)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.Road)
	assert.InDelta(t, 0.5, res.Ratio, 1e-3)
	assert.InDelta(t, 22.2, res.Dist, 0.5)
	assert.InDelta(t, 1.300, res.Lat, 1e-6)
	assert.InDelta(t, 103.8005, res.Lon, 1e-6)

	_, err = s.Snap(1.31, 103.8)
	assert.ErrorIs(t, err, ErrPointTooFar)
}

func TestSnapFollowsGeometry(t *testing.T) {
	// One road bent through (1.001, 103.001): its two legs are equally long.
	net := &graph.Network{
		NodeLat: []float64{1.000, 1.000},
		NodeLon: []float64{103.000, 103.002},
		Roads:   []graph.Road{{Source: 0, Target: 1, Distance: 100}},
		Geometry: &graph.Geometry{
			First: []uint32{0, 1},
			Lat:   []float64{1.001},
			Lon:   []float64{103.001},
		},
	}
	s := NewSnapper(net, 0)
	assert.Equal(t, 2, s.Len())

	res, err := s.Snap(1.001, 103.001)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Ratio, 1e-3)
	assert.InDelta(t, 0, res.Dist, 0.1)

	res, err = s.Snap(1.0005, 103.0015)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, res.Ratio, 1e-3)
}
