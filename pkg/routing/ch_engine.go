package routing

import (
	"context"
	"fmt"
	"math"
	"sync"

	"turn_router/pkg/graph"
)

// CHEngine implements Router on a plain CH graph. Turn penalties and
// restrictions are not modelled. It is safe for concurrent use.
type CHEngine struct {
	chg     *graph.CHGraph
	snapper *Snapper
	queries sync.Pool
}

// NewCHEngine creates a routing engine from a plain CH graph.
func NewCHEngine(chg *graph.CHGraph, cfg EngineConfig) *CHEngine {
	e := &CHEngine{
		chg:     chg,
		snapper: NewSnapper(&chg.Network, cfg.MaxSnapDistance),
	}
	e.queries.New = func() any { return NewCHQuery(chg) }
	return e
}

// seedFor is a search seed together with the partial road it stands for.
type seedFor struct {
	seed  Seed
	ratio float64 // snapped position in travel direction
	trav  traversal
}

// sourceSeeds returns the nodes reachable from a snapped point: the road's
// target, and its source when the road is bidirectional.
func sourceSeeds(net *graph.Network, s SnapResult) []seedFor {
	r := net.Roads[s.Road]
	d := float64(r.Distance)
	seeds := []seedFor{{
		seed:  Seed{Node: r.Target, Dist: uint32(math.Round(d * (1 - s.Ratio)))},
		ratio: s.Ratio,
		trav:  traversal{road: s.Road},
	}}
	if r.Bidirectional {
		seeds = append(seeds, seedFor{
			seed:  Seed{Node: r.Source, Dist: uint32(math.Round(d * s.Ratio))},
			ratio: 1 - s.Ratio,
			trav:  traversal{road: s.Road, reverse: true},
		})
	}
	return seeds
}

// targetSeeds returns the nodes a snapped point can be reached from.
func targetSeeds(net *graph.Network, s SnapResult) []seedFor {
	r := net.Roads[s.Road]
	d := float64(r.Distance)
	seeds := []seedFor{{
		seed:  Seed{Node: r.Source, Dist: uint32(math.Round(d * s.Ratio))},
		ratio: s.Ratio,
		trav:  traversal{road: s.Road},
	}}
	if r.Bidirectional {
		seeds = append(seeds, seedFor{
			seed:  Seed{Node: r.Target, Dist: uint32(math.Round(d * (1 - s.Ratio)))},
			ratio: 1 - s.Ratio,
			trav:  traversal{road: s.Road, reverse: true},
		})
	}
	return seeds
}

// pickSeed returns the cheapest seed at node.
func pickSeed(seeds []seedFor, node uint32) (seedFor, bool) {
	var best seedFor
	found := false
	for _, s := range seeds {
		if s.seed.Node == node && (!found || s.seed.Dist < best.seed.Dist) {
			best, found = s, true
		}
	}
	return best, found
}

// Route computes the fastest route between two points.
func (e *CHEngine) Route(ctx context.Context, start, end LatLng) (*RouteResult, error) {
	startSnap, err := e.snapper.Snap(start.Lat, start.Lng)
	if err != nil {
		return nil, err
	}
	endSnap, err := e.snapper.Snap(end.Lat, end.Lng)
	if err != nil {
		return nil, err
	}
	net := &e.chg.Network
	sources := sourceSeeds(net, startSnap)
	targets := targetSeeds(net, endSnap)

	// Both points on the same road in travel order.
	bestDirect := math.Inf(1)
	var direct seedFor
	var directTo float64
	if startSnap.Road == endSnap.Road {
		d := float64(net.Roads[startSnap.Road].Distance)
		for _, s := range sources {
			to := endSnap.Ratio
			if s.trav.reverse {
				to = 1 - endSnap.Ratio
			}
			if s.ratio <= to && (to-s.ratio)*d < bestDirect {
				bestDirect, direct, directTo = (to-s.ratio)*d, s, to
			}
		}
	}

	seeds := func(in []seedFor) []Seed {
		out := make([]Seed, len(in))
		for i, s := range in {
			out[i] = s.seed
		}
		return out
	}
	q := e.queries.Get().(*CHQuery)
	defer e.queries.Put(q)
	dist, hops, err := q.Query(ctx, seeds(sources), seeds(targets))
	if err != nil {
		return nil, err
	}

	if dist == Unreachable || float64(dist) >= bestDirect {
		if math.IsInf(bestDirect, 1) {
			return nil, ErrNoRoute
		}
		return assembleRoute(net, []traversal{direct.trav}, direct.ratio, directTo, bestDirect), nil
	}

	var first, last uint32
	if len(hops) > 0 {
		first, last = hops[0].From, hops[len(hops)-1].To
	} else {
		// Source and target seeds meet at a single node.
		first = meetingNode(sources, targets, dist)
		last = first
	}
	src, ok := pickSeed(sources, first)
	if !ok {
		return nil, fmt.Errorf("route starts at %d, not at a source seed", first)
	}
	dst, ok := pickSeed(targets, last)
	if !ok {
		return nil, fmt.Errorf("route ends at %d, not at a target seed", last)
	}

	trav, err := unpackOverlayPath(e.chg, hops)
	if err != nil {
		return nil, fmt.Errorf("unpack route: %w", err)
	}
	route := make([]traversal, 0, len(trav)+2)
	route = append(route, src.trav)
	route = append(route, trav...)
	route = append(route, dst.trav)
	return assembleRoute(net, route, src.ratio, dst.ratio, float64(dist)), nil
}

// meetingNode finds the node where a source and a target seed add up to dist.
func meetingNode(sources, targets []seedFor, dist uint32) uint32 {
	for _, s := range sources {
		for _, t := range targets {
			if s.seed.Node == t.seed.Node && uint64(s.seed.Dist)+uint64(t.seed.Dist) == uint64(dist) {
				return s.seed.Node
			}
		}
	}
	return noNode
}
