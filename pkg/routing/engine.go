package routing

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"turn_router/pkg/geo"
	"turn_router/pkg/graph"
	"turn_router/pkg/metrics"
)

// LatLng represents a geographic coordinate.
type LatLng struct {
	Lat float64
	Lng float64
}

// Segment is the part of one road travelled by a route.
type Segment struct {
	RoadID         uint32
	DistanceMeters float64
	Geometry       []LatLng
}

// RouteResult is the output of a route query.
type RouteResult struct {
	TravelTimeSeconds   float64
	TotalDistanceMeters float64
	Segments            []Segment
}

// Router is the interface for route queries.
type Router interface {
	Route(ctx context.Context, start, end LatLng) (*RouteResult, error)
}

// EngineConfig configures a routing engine.
type EngineConfig struct {
	MaxSnapDistance float64 // meters
	UnpackCacheSize int     // cached shortcut expansions, 0 disables
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxSnapDistance: DefaultMaxSnapDistance, UnpackCacheSize: 10_000}
}

// TurnEngine implements Router on a turn hierarchy. It is safe for concurrent
// use; every query takes its own search state from a pool.
type TurnEngine struct {
	h        *graph.TurnHierarchy
	snapper  *Snapper
	unpacker *Unpacker
	queries  sync.Pool
}

// NewTurnEngine creates a routing engine over a contracted turn hierarchy.
func NewTurnEngine(h *graph.TurnHierarchy, cfg EngineConfig) (*TurnEngine, error) {
	unpacker, err := NewUnpacker(h.Graph, cfg.UnpackCacheSize)
	if err != nil {
		return nil, err
	}
	e := &TurnEngine{
		h:        h,
		snapper:  NewSnapper(&h.Network, cfg.MaxSnapDistance),
		unpacker: unpacker,
	}
	e.queries.New = func() any { return NewTurnQuery(h.Graph) }
	return e, nil
}

// endpoint is one travel direction along a snapped road. Ratio is the
// position of the snapped point measured in travel direction.
type endpoint struct {
	edge  QueryEdge
	ratio float64
	trav  traversal
}

func endpoints(net *graph.Network, s SnapResult) []endpoint {
	r := net.Roads[s.Road]
	fwd := endpoint{
		edge:  QueryEdge{Source: r.Source, Target: r.Target, ID: s.Road},
		ratio: s.Ratio,
		trav:  traversal{road: s.Road},
	}
	if !r.Bidirectional {
		return []endpoint{fwd}
	}
	bwd := endpoint{
		edge:  QueryEdge{Source: r.Target, Target: r.Source, ID: s.Road},
		ratio: 1 - s.Ratio,
		trav:  traversal{road: s.Road, reverse: true},
	}
	if r.Source == r.Target {
		// The reverse direction of a loop leaves through its target slot.
		if r.TargetSlot < r.SourceSlot {
			fwd.edge.Opposite = true
		} else {
			bwd.edge.Opposite = true
		}
	}
	return []endpoint{fwd, bwd}
}

// Route computes the fastest route between two points. Each snapped road is
// tried in every direction it can be travelled, and the untravelled parts of
// the first and last road are subtracted from the query cost. When both points
// lie on the same road with the end behind the start, the route leaves the
// road and returns to it.
func (e *TurnEngine) Route(ctx context.Context, start, end LatLng) (*RouteResult, error) {
	startSnap, err := e.snapper.Snap(start.Lat, start.Lng)
	if err != nil {
		return nil, err
	}
	endSnap, err := e.snapper.Snap(end.Lat, end.Lng)
	if err != nil {
		return nil, err
	}

	q := e.queries.Get().(*TurnQuery)
	defer e.queries.Put(q)

	bestCost := math.Inf(1)
	var bestPath []PathEdge
	var bestFrom, bestTo float64
	var direct []traversal
	settled := 0

	for _, src := range endpoints(&e.h.Network, startSnap) {
		for _, dst := range endpoints(&e.h.Network, endSnap) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			d1 := float64(e.h.Roads[src.edge.ID].Distance)
			d2 := float64(e.h.Roads[dst.edge.ID].Distance)
			if src.edge == dst.edge && src.ratio <= dst.ratio {
				if cost := (dst.ratio - src.ratio) * d1; cost < bestCost {
					bestCost, bestFrom, bestTo = cost, src.ratio, dst.ratio
					bestPath, direct = nil, []traversal{src.trav}
				}
				continue
			}
			var res Result
			var err error
			if src.edge == dst.edge {
				// The end lies behind the start: leave the road and come back.
				res, err = q.QueryAround(src.edge)
			} else {
				res, err = q.Query(src.edge, dst.edge)
			}
			if err != nil {
				return nil, err
			}
			settled += res.Settled
			if res.Distance == Unreachable {
				continue
			}
			cost := float64(res.Distance) - src.ratio*d1 - (1-dst.ratio)*d2
			if cost < bestCost {
				bestCost, bestFrom, bestTo = cost, src.ratio, dst.ratio
				bestPath, direct = res.Path, nil
			}
		}
	}

	metrics.SearchSettled.Observe(float64(settled))
	if math.IsInf(bestCost, 1) {
		return nil, ErrNoRoute
	}
	if direct != nil {
		return assembleRoute(&e.h.Network, direct, bestFrom, bestTo, bestCost), nil
	}

	unpacked, err := e.unpacker.Unpack(bestPath)
	if err != nil {
		return nil, fmt.Errorf("unpack route: %w", err)
	}
	metrics.UnpackedEdges.Observe(float64(len(unpacked)))
	hops := make([]traversal, len(unpacked))
	for i, pe := range unpacked {
		r := e.h.Roads[pe.ID]
		hops[i] = traversal{road: pe.ID, reverse: pe.From != r.Source || pe.FromSlot != r.SourceSlot}
	}
	return assembleRoute(&e.h.Network, hops, bestFrom, bestTo, bestCost), nil
}

// traversal is one road travelled from its source, or from its target when
// reverse is set.
type traversal struct {
	road    uint32
	reverse bool
}

// assembleRoute builds the route result along hops. The first road is entered
// at fraction from and the last left at fraction to, both measured in travel
// direction. cost is in deci-seconds.
func assembleRoute(net *graph.Network, hops []traversal, from, to, cost float64) *RouteResult {
	res := &RouteResult{TravelTimeSeconds: math.Max(cost, 0) / 10}
	for i, t := range hops {
		lat, lon := net.RoadShape(t.road)
		if t.reverse {
			slices.Reverse(lat)
			slices.Reverse(lon)
		}
		a, b := 0.0, 1.0
		if i == 0 {
			a = from
		}
		if i == len(hops)-1 {
			b = to
		}
		geom := cutPolyline(lat, lon, a, b)
		meters := 0.0
		for j := 1; j < len(geom); j++ {
			meters += geo.Haversine(geom[j-1].Lat, geom[j-1].Lng, geom[j].Lat, geom[j].Lng)
		}
		res.Segments = append(res.Segments, Segment{RoadID: t.road, DistanceMeters: meters, Geometry: geom})
		res.TotalDistanceMeters += meters
	}
	return res
}

// cutPolyline returns the part of a polyline between fractions a and b of its
// length.
func cutPolyline(lat, lon []float64, a, b float64) []LatLng {
	total := geo.PolylineLength(lat, lon)
	last := len(lat) - 1
	if total == 0 {
		return []LatLng{{lat[0], lon[0]}, {lat[last], lon[last]}}
	}
	startM, endM := a*total, b*total

	var out []LatLng
	walked := 0.0
	for i := 1; i <= last; i++ {
		segLen := geo.Haversine(lat[i-1], lon[i-1], lat[i], lon[i])
		segEnd := walked + segLen
		if out == nil && startM <= segEnd {
			t := 0.0
			if segLen > 0 {
				t = (startM - walked) / segLen
			}
			pLat, pLon := geo.Interpolate(t, lat[i-1], lon[i-1], lat[i], lon[i])
			out = append(out, LatLng{pLat, pLon})
		}
		if out != nil && endM <= segEnd {
			t := 1.0
			if segLen > 0 {
				t = (endM - walked) / segLen
			}
			pLat, pLon := geo.Interpolate(t, lat[i-1], lon[i-1], lat[i], lon[i])
			return append(out, LatLng{pLat, pLon})
		}
		if out != nil {
			out = append(out, LatLng{lat[i], lon[i]})
		}
		walked = segEnd
	}
	if out == nil {
		out = append(out, LatLng{lat[last], lon[last]})
	}
	return out
}
