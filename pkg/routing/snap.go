package routing

import (
	"errors"
	"math"

	"github.com/tidwall/rtree"

	"turn_router/pkg/geo"
	"turn_router/pkg/graph"
)

// DefaultMaxSnapDistance is the snap radius used when none is configured.
const DefaultMaxSnapDistance = 500.0

const metersPerDegree = 111_320.0

// ErrPointTooFar is returned when the query point is too far from any road.
var ErrPointTooFar = errors.New("point too far from road")

// SnapResult is a point projected onto a road.
type SnapResult struct {
	Road  uint32
	Ratio float64 // 0 at the road's source, 1 at its target
	Dist  float64 // meters from the query point
	Lat   float64
	Lon   float64
}

type segmentRef struct {
	road uint32
	seg  uint32
}

// Snapper finds the nearest road segment to a coordinate using an R-tree over
// road shape segments.
type Snapper struct {
	tree    rtree.RTreeG[segmentRef]
	net     *graph.Network
	maxDist float64
	// prefix[road][i] is the length of the first i segments in meters.
	prefix [][]float64
}

// NewSnapper indexes every road of n that survived import.
func NewSnapper(n *graph.Network, maxDist float64) *Snapper {
	if maxDist <= 0 {
		maxDist = DefaultMaxSnapDistance
	}
	s := &Snapper{net: n, maxDist: maxDist, prefix: make([][]float64, len(n.Roads))}
	for id, r := range n.Roads {
		if r.Distance == 0 {
			continue
		}
		lat, lon := n.RoadShape(uint32(id))
		prefix := make([]float64, len(lat))
		for i := 1; i < len(lat); i++ {
			prefix[i] = prefix[i-1] + geo.Haversine(lat[i-1], lon[i-1], lat[i], lon[i])
			s.tree.Insert(
				[2]float64{math.Min(lon[i-1], lon[i]), math.Min(lat[i-1], lat[i])},
				[2]float64{math.Max(lon[i-1], lon[i]), math.Max(lat[i-1], lat[i])},
				segmentRef{road: uint32(id), seg: uint32(i - 1)},
			)
		}
		s.prefix[id] = prefix
	}
	return s
}

// Len returns the number of indexed segments.
func (s *Snapper) Len() int { return s.tree.Len() }

// Snap returns the road closest to lat/lon within the snap radius.
func (s *Snapper) Snap(lat, lon float64) (SnapResult, error) {
	dLat := s.maxDist / metersPerDegree
	dLon := dLat / math.Max(math.Cos(lat*math.Pi/180), 0.01)

	best := SnapResult{Dist: math.Inf(1)}
	s.tree.Search(
		[2]float64{lon - dLon, lat - dLat},
		[2]float64{lon + dLon, lat + dLat},
		func(_, _ [2]float64, ref segmentRef) bool {
			shapeLat, shapeLon := s.net.RoadShape(ref.road)
			i := ref.seg
			dist, t := geo.PointToSegmentDist(lat, lon, shapeLat[i], shapeLon[i], shapeLat[i+1], shapeLon[i+1])
			if dist < best.Dist || (dist == best.Dist && ref.road < best.Road) {
				prefix := s.prefix[ref.road]
				total := prefix[len(prefix)-1]
				ratio := 0.0
				if total > 0 {
					ratio = (prefix[i] + t*(prefix[i+1]-prefix[i])) / total
				}
				pLat, pLon := geo.Interpolate(t, shapeLat[i], shapeLon[i], shapeLat[i+1], shapeLon[i+1])
				best = SnapResult{Road: ref.road, Ratio: ratio, Dist: dist, Lat: pLat, Lon: pLon}
			}
			return true
		},
	)
	if best.Dist > s.maxDist {
		return SnapResult{}, ErrPointTooFar
	}
	return best, nil
}
