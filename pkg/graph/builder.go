package graph

import (
	"cmp"
	"slices"
)

// BuildGraph creates a CSR Graph over numNodes junctions from a road table.
// Bidirectional roads yield an edge in each direction; dropped roads
// (Distance 0) are skipped.
func BuildGraph(numNodes uint32, roads []Road) *Graph {
	type compactEdge struct {
		from, to uint32
		weight   uint32
		id       uint32
	}

	// Step 1: Expand roads into directed edges.
	compact := make([]compactEdge, 0, len(roads)*2)
	for i, r := range roads {
		if r.Distance == 0 {
			continue
		}
		compact = append(compact, compactEdge{from: r.Source, to: r.Target, weight: r.Distance, id: uint32(i)})
		if r.Bidirectional && r.Source != r.Target {
			compact = append(compact, compactEdge{from: r.Target, to: r.Source, weight: r.Distance, id: uint32(i)})
		}
	}

	// Step 2: Sort edges by source node, cheapest first among parallel edges.
	slices.SortFunc(compact, func(a, b compactEdge) int {
		return cmp.Or(
			cmp.Compare(a.from, b.from),
			cmp.Compare(a.to, b.to),
			cmp.Compare(a.weight, b.weight),
			cmp.Compare(a.id, b.id),
		)
	})

	// Step 3: Build CSR arrays.
	numEdges := uint32(len(compact))
	firstOut := make([]uint32, numNodes+1)
	head := make([]uint32, numEdges)
	weight := make([]uint32, numEdges)
	edgeID := make([]uint32, numEdges)

	for i, e := range compact {
		head[i] = e.to
		weight[i] = e.weight
		edgeID[i] = e.id
	}

	// Build FirstOut via counting.
	for _, e := range compact {
		firstOut[e.from+1]++
	}
	// Prefix sum.
	for i := uint32(1); i <= numNodes; i++ {
		firstOut[i] += firstOut[i-1]
	}

	return &Graph{
		NumNodes: numNodes,
		NumEdges: numEdges,
		FirstOut: firstOut,
		Head:     head,
		Weight:   weight,
		EdgeID:   edgeID,
	}
}

// FindEdge returns the cheapest edge from u to v, or EndEdge.
func (g *Graph) FindEdge(u, v uint32) uint32 {
	start, end := g.EdgesFrom(u)
	for e := start; e < end; e++ {
		if g.Head[e] == v {
			return e
		}
	}
	return EndEdge
}
