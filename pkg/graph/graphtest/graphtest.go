// Package graphtest builds synthetic routing inputs for tests and benchmarks.
package graphtest

import (
	"math"
	"math/rand/v2"

	"turn_router/pkg/graph"
)

// GridOptions shapes a random grid.
type GridOptions struct {
	Rows, Cols int
	OneWay     float64 // probability that a street is one-way
	Restricted float64 // probability that a turn is forbidden
	Penalized  float64 // probability that a turn costs 1 to 20 seconds
	UTurn      float64 // penalty for turning back onto the same street, negative forbids
	Loops      float64 // probability that a junction has a loop street
}

// Grid returns a Rows x Cols street grid with random travel times of 0.5 to
// 60 seconds. Junction r*Cols+c sits at (1+r/1000, 103+c/1000).
func Grid(rng *rand.Rand, opt GridOptions) *graph.Input {
	n := opt.Rows * opt.Cols
	in := &graph.Input{Nodes: make([]graph.Node, n)}
	for r := range opt.Rows {
		for c := range opt.Cols {
			in.Nodes[r*opt.Cols+c] = graph.Node{Lat: 1 + float64(r)/1000, Lon: 103 + float64(c)/1000}
		}
	}

	street := func(a, b int) {
		e := graph.Edge{
			Source:        uint32(a),
			Target:        uint32(b),
			Distance:      math.Round(5+rng.Float64()*595) / 10,
			Bidirectional: true,
		}
		if rng.Float64() < opt.OneWay {
			e.Bidirectional = false
			if rng.IntN(2) == 0 {
				e.Source, e.Target = e.Target, e.Source
			}
		}
		in.Edges = append(in.Edges, e)
	}
	for r := range opt.Rows {
		for c := range opt.Cols {
			v := r*opt.Cols + c
			if c+1 < opt.Cols {
				street(v, v+1)
			}
			if r+1 < opt.Rows {
				street(v, v+opt.Cols)
			}
		}
	}
	if opt.Loops > 0 {
		for v := range n {
			if rng.Float64() < opt.Loops {
				street(v, v)
			}
		}
	}

	slotsIn, slotsOut, err := graph.AssignSlots(n, in.Edges)
	if err != nil {
		panic(err) // a grid junction has at most four streets
	}
	in.Penalties = Penalties(rng, slotsIn, slotsOut, opt)
	return in
}

// Penalties draws a penalty matrix for every junction of the slot tables.
func Penalties(rng *rand.Rand, slotsIn, slotsOut [][]graph.SlotRef, opt GridOptions) graph.Penalties {
	p := graph.Penalties{}
	p.InDegree, p.OutDegree = graph.Degrees(slotsIn, slotsOut)
	for v := range slotsIn {
		for _, a := range slotsIn[v] {
			for _, b := range slotsOut[v] {
				if a.Edge == b.Edge {
					p.Values = append(p.Values, opt.UTurn)
					continue
				}
				x := rng.Float64()
				switch {
				case x < opt.Restricted:
					p.Values = append(p.Values, -1)
				case x < opt.Restricted+opt.Penalized:
					p.Values = append(p.Values, float64(1+rng.IntN(20)))
				default:
					p.Values = append(p.Values, 0)
				}
			}
		}
	}
	return p
}

// Lasso returns junctions 0, 1 and 2 joined by one-way edges 0 -> 1 (ID 0)
// and 1 -> 2 (ID 1), and a bidirectional loop at 1 (ID 2). Coming from 0 the
// only allowed turn is into the loop against its stored direction, and the
// only way out of the loop towards 2 is from that direction. Edges take two
// seconds, the loop three.
func Lasso() *graph.Input {
	in := &graph.Input{
		Nodes: []graph.Node{{Lat: 1, Lon: 103}, {Lat: 1, Lon: 103.001}, {Lat: 1, Lon: 103.002}},
		Edges: []graph.Edge{
			{Source: 0, Target: 1, Distance: 2},
			{Source: 1, Target: 2, Distance: 2},
			{Source: 1, Target: 1, Distance: 3, Bidirectional: true},
		},
	}
	slotsIn, slotsOut, err := graph.AssignSlots(3, in.Edges)
	if err != nil {
		panic(err)
	}
	in.Penalties.InDegree, in.Penalties.OutDegree = graph.Degrees(slotsIn, slotsOut)
	for v := range 3 {
		for _, a := range slotsIn[v] {
			for _, b := range slotsOut[v] {
				allowed := v != 1 ||
					(a.Edge == 0 && b.Edge == 2 && b.Reverse) ||
					(a.Edge == 2 && a.Reverse && b.Edge == 1)
				if allowed {
					in.Penalties.Values = append(in.Penalties.Values, 0)
				} else {
					in.Penalties.Values = append(in.Penalties.Values, -1)
				}
			}
		}
	}
	return in
}

// Chain returns n junctions joined by n-1 one-way edges of one second each,
// without turn penalties.
func Chain(n int) *graph.Input {
	in := &graph.Input{Nodes: make([]graph.Node, n)}
	for i := range n {
		in.Nodes[i] = graph.Node{Lat: 1, Lon: 103 + float64(i)/1000}
		if i > 0 {
			in.Edges = append(in.Edges, graph.Edge{Source: uint32(i - 1), Target: uint32(i), Distance: 1})
		}
	}
	slotsIn, slotsOut, err := graph.AssignSlots(n, in.Edges)
	if err != nil {
		panic(err)
	}
	in.Penalties.InDegree, in.Penalties.OutDegree = graph.Degrees(slotsIn, slotsOut)
	in.Penalties.Values = make([]float64, 0, n)
	for v := range n {
		in.Penalties.Values = append(in.Penalties.Values, make([]float64, len(slotsIn[v])*len(slotsOut[v]))...)
	}
	return in
}

// Rand returns a deterministic generator for seed.
func Rand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
