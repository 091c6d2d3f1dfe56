package graph

// UnionFind implements a disjoint-set data structure with path compression
// and union by rank.
type UnionFind struct {
	parent []uint32
	rank   []byte // union by rank keeps ranks below 32
	size   []uint32
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n uint32) *UnionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := range n {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x, with path halving.
func (uf *UnionFind) Find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}

	// Union by rank.
	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// LargestComponent returns the junction indices belonging to the largest
// weakly connected component (treating the directed graph as undirected).
// Ties go to the component containing the lowest junction index.
func LargestComponent(in *Input) []uint32 {
	n := uint32(len(in.Nodes))
	if n == 0 {
		return nil
	}

	uf := NewUnionFind(n)

	// Union all edges (both directions treated as undirected).
	for _, e := range in.Edges {
		uf.Union(e.Source, e.Target)
	}

	// Find the representative with the largest size.
	bestRoot := uint32(0)
	bestSize := uint32(0)
	for i := range n {
		root := uf.Find(i)
		if uf.size[root] > bestSize {
			bestRoot = root
			bestSize = uf.size[root]
		}
	}

	// Collect all nodes in the largest component.
	nodes := make([]uint32, 0, bestSize)
	for i := range n {
		if uf.Find(i) == bestRoot {
			nodes = append(nodes, i)
		}
	}

	return nodes
}

// FilterInput creates a new input containing only the specified junctions,
// given in ascending order. Edges with an endpoint outside the set are
// dropped; slots, penalty matrices and shapes of kept edges are preserved.
func FilterInput(in *Input, nodes []uint32) *Input {
	if len(nodes) == 0 {
		return &Input{}
	}

	// Build old->new node index mapping.
	const dropped = ^uint32(0)
	oldToNew := make([]uint32, len(in.Nodes))
	for i := range oldToNew {
		oldToNew[i] = dropped
	}
	for newIdx, oldIdx := range nodes {
		oldToNew[oldIdx] = uint32(newIdx)
	}

	// Penalty matrix offsets of the old junctions.
	offsets := make([]int, len(in.Nodes)+1)
	for i := range in.Nodes {
		offsets[i+1] = offsets[i] + int(in.Penalties.InDegree[i])*int(in.Penalties.OutDegree[i])
	}

	out := &Input{
		Nodes: make([]Node, len(nodes)),
		Penalties: Penalties{
			InDegree:  make([]uint8, len(nodes)),
			OutDegree: make([]uint8, len(nodes)),
		},
	}
	for newIdx, oldIdx := range nodes {
		out.Nodes[newIdx] = in.Nodes[oldIdx]
		out.Penalties.InDegree[newIdx] = in.Penalties.InDegree[oldIdx]
		out.Penalties.OutDegree[newIdx] = in.Penalties.OutDegree[oldIdx]
		out.Penalties.Values = append(out.Penalties.Values, in.Penalties.Values[offsets[oldIdx]:offsets[oldIdx+1]]...)
	}

	if in.Geometry != nil {
		out.Geometry = &Geometry{First: []uint32{0}}
	}
	for i, e := range in.Edges {
		u, v := oldToNew[e.Source], oldToNew[e.Target]
		if u == dropped || v == dropped {
			continue
		}
		e.Source, e.Target = u, v
		out.Edges = append(out.Edges, e)
		if out.Geometry != nil {
			lat, lon := in.Geometry.Shape(uint32(i))
			out.Geometry.Lat = append(out.Geometry.Lat, lat...)
			out.Geometry.Lon = append(out.Geometry.Lon, lon...)
			out.Geometry.First = append(out.Geometry.First, uint32(len(out.Geometry.Lat)))
		}
	}

	return out
}
