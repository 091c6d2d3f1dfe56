package graph

// CHGraph holds the output of plain (turn-unaware) contraction hierarchies
// preprocessing.
type CHGraph struct {
	Network
	NumNodes uint32
	Rank     []uint32

	// Forward upward graph (edges where rank[source] < rank[target]).
	FwdFirstOut []uint32
	FwdHead     []uint32
	FwdWeight   []uint32
	FwdMiddle   []int32

	// Backward upward graph (reversed edges where rank[source] < rank[target]).
	BwdFirstOut []uint32
	BwdHead     []uint32
	BwdWeight   []uint32
	BwdMiddle   []int32

	// Original graph, used to resolve unpacked hops to roads.
	OrigFirstOut []uint32
	OrigHead     []uint32
	OrigWeight   []uint32
	OrigEdgeID   []uint32
}

// Graph represents a directed graph in CSR (Compressed Sparse Row) format.
type Graph struct {
	NumNodes uint32
	NumEdges uint32
	FirstOut []uint32 // len: NumNodes + 1; FirstOut[i]..FirstOut[i+1] are edges from node i
	Head     []uint32 // len: NumEdges; target node for each edge
	Weight   []uint32 // len: NumEdges; travel time in deci-seconds
	EdgeID   []uint32 // len: NumEdges; index into the road table
}

// EdgesFrom returns the range of edge indices for edges originating from node u.
func (g *Graph) EdgesFrom(u uint32) (start, end uint32) {
	return g.FirstOut[u], g.FirstOut[u+1]
}

// Original returns the CSR graph the hierarchy was built from.
func (chg *CHGraph) Original() *Graph {
	return &Graph{
		NumNodes: chg.NumNodes,
		NumEdges: uint32(len(chg.OrigHead)),
		FirstOut: chg.OrigFirstOut,
		Head:     chg.OrigHead,
		Weight:   chg.OrigWeight,
		EdgeID:   chg.OrigEdgeID,
	}
}
