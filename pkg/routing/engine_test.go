package routing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"turn_router/pkg/ch"
	"turn_router/pkg/graph"
	"turn_router/pkg/graph/graphtest"
)

func turnEngine(t *testing.T, in *graph.Input) *TurnEngine {
	t.Helper()
	h, err := ch.Preprocess(in, "", testConfig(), zap.NewNop())
	require.NoError(t, err)
	eng, err := NewTurnEngine(h, DefaultEngineConfig())
	require.NoError(t, err)
	return eng
}

func segmentRoads(res *RouteResult) []uint32 {
	ids := make([]uint32, len(res.Segments))
	for i, s := range res.Segments {
		ids[i] = s.RoadID
	}
	return ids
}

func TestTurnEngineRoute(t *testing.T) {
	// Chain junctions sit at lon 103 + i/1000, edges take one second.
	eng := turnEngine(t, graphtest.Chain(6))

	res, err := eng.Route(context.Background(), LatLng{Lat: 1, Lng: 103.0005}, LatLng{Lat: 1, Lng: 103.0035})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.TravelTimeSeconds, 0.01)
	assert.Equal(t, []uint32{0, 1, 2, 3}, segmentRoads(res))
	assert.InDelta(t, 333.5, res.TotalDistanceMeters, 1)

	first := res.Segments[0].Geometry[0]
	assert.InDelta(t, 103.0005, first.Lng, 1e-6)
	lastSeg := res.Segments[len(res.Segments)-1].Geometry
	assert.InDelta(t, 103.0035, lastSeg[len(lastSeg)-1].Lng, 1e-6)
}

func TestTurnEngineSameRoad(t *testing.T) {
	eng := turnEngine(t, graphtest.Chain(6))

	res, err := eng.Route(context.Background(), LatLng{Lat: 1, Lng: 103.0012}, LatLng{Lat: 1, Lng: 103.0018})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, segmentRoads(res))
	assert.InDelta(t, 0.6, res.TravelTimeSeconds, 0.01)
	assert.InDelta(t, 66.7, res.TotalDistanceMeters, 0.5)
}

func TestTurnEngineSameRoadBehindStart(t *testing.T) {
	eng := turnEngine(t, ring())

	// Road 0 runs east along lat 1; the end lies behind the start.
	res, err := eng.Route(context.Background(), LatLng{Lat: 1, Lng: 103.0007}, LatLng{Lat: 1, Lng: 103.0003})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3, 0}, segmentRoads(res))
	// 0.3 of road 0, three full roads, 0.3 of road 0.
	assert.InDelta(t, 36.0, res.TravelTimeSeconds, 0.01)

	first := res.Segments[0].Geometry[0]
	assert.InDelta(t, 103.0007, first.Lng, 1e-6)
	lastSeg := res.Segments[len(res.Segments)-1].Geometry
	assert.InDelta(t, 103.0003, lastSeg[len(lastSeg)-1].Lng, 1e-6)

	// Ahead of the start the road is followed directly.
	res, err = eng.Route(context.Background(), LatLng{Lat: 1, Lng: 103.0003}, LatLng{Lat: 1, Lng: 103.0007})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, segmentRoads(res))
	assert.InDelta(t, 4.0, res.TravelTimeSeconds, 0.01)
}

func TestTurnEngineLoopRoad(t *testing.T) {
	eng := turnEngine(t, graphtest.Lasso())

	// From road 0 the loop at junction 1 can only be driven against its
	// stored direction before leaving towards junction 2.
	res, err := eng.Route(context.Background(), LatLng{Lat: 1, Lng: 103.0005}, LatLng{Lat: 1, Lng: 103.0015})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 1}, segmentRoads(res))
	assert.InDelta(t, 1+3+1, res.TravelTimeSeconds, 0.01)
}

func TestTurnEngineAvoidsForbiddenTurn(t *testing.T) {
	eng := turnEngine(t, diamond(true))

	res, err := eng.Route(context.Background(), LatLng{Lat: 1, Lng: 103.0005}, LatLng{Lat: 1, Lng: 103.0025})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 3, 4}, segmentRoads(res))
	assert.InDelta(t, 9.0, res.TravelTimeSeconds, 0.01)
}

func TestTurnEngineErrors(t *testing.T) {
	eng := turnEngine(t, graphtest.Chain(6))
	ctx := context.Background()

	_, err := eng.Route(ctx, LatLng{Lat: 10, Lng: 10}, LatLng{Lat: 1, Lng: 103.0005})
	assert.ErrorIs(t, err, ErrPointTooFar)
	_, err = eng.Route(ctx, LatLng{Lat: 1, Lng: 103.0005}, LatLng{Lat: 10, Lng: 10})
	assert.ErrorIs(t, err, ErrPointTooFar)

	// The chain is one-way.
	_, err = eng.Route(ctx, LatLng{Lat: 1, Lng: 103.0035}, LatLng{Lat: 1, Lng: 103.0005})
	assert.ErrorIs(t, err, ErrNoRoute)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = eng.Route(cancelled, LatLng{Lat: 1, Lng: 103.0005}, LatLng{Lat: 1, Lng: 103.0035})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTurnEngineConcurrentRoutes(t *testing.T) {
	eng := turnEngine(t, graphtest.Grid(graphtest.Rand(31), graphtest.GridOptions{
		Rows: 10, Cols: 10, Restricted: 0.05, Penalized: 0.3, UTurn: 30,
	}))
	start := LatLng{Lat: 1.0004, Lng: 103.0001}
	end := LatLng{Lat: 1.0081, Lng: 103.0070}

	want, wantErr := eng.Route(context.Background(), start, end)

	var wg sync.WaitGroup
	results := make([]*RouteResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = eng.Route(context.Background(), start, end)
		}()
	}
	wg.Wait()
	for i := range results {
		assert.Equal(t, wantErr, errs[i])
		assert.Equal(t, want, results[i])
	}
}
