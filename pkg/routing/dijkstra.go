package routing

import (
	"context"
	"math"
	"slices"

	"turn_router/pkg/graph"
)

const noNode = ^uint32(0) // sentinel for "no node"

// MinHeap is a concrete-typed lazy min-heap for the plain CH query. Stale
// entries are skipped by the caller.
type MinHeap struct {
	items []PQItem
}

// PQItem is a priority queue entry.
type PQItem struct {
	Node uint32
	Dist uint32
}

func (h *MinHeap) Len() int { return len(h.items) }

func (h *MinHeap) Push(node, dist uint32) {
	h.items = append(h.items, PQItem{node, dist})
	h.siftUp(len(h.items) - 1)
}

func (h *MinHeap) Pop() PQItem {
	n := len(h.items)
	item := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return item
}

func (h *MinHeap) PeekDist() uint32 {
	if len(h.items) == 0 {
		return math.MaxUint32
	}
	return h.items[0].Dist
}

func (h *MinHeap) Reset() {
	h.items = h.items[:0]
}

func (h *MinHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].Dist >= h.items[parent].Dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *MinHeap) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && h.items[left].Dist < h.items[smallest].Dist {
			smallest = left
		}
		if right < n && h.items[right].Dist < h.items[smallest].Dist {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// QueryState holds per-query state for bidirectional CH Dijkstra.
type QueryState struct {
	DistFwd []uint32
	DistBwd []uint32
	PredFwd []uint32 // overlay edge that reached the node in the forward search (noNode for seeds)
	PredBwd []uint32 // overlay edge that reached the node in the backward search (noNode for seeds)
	FromFwd []uint32 // node the forward edge starts at
	FromBwd []uint32 // node the backward edge starts at
	Touched []uint32 // nodes touched during this query (for fast reset)
	FwdPQ   MinHeap
	BwdPQ   MinHeap
}

// NewQueryState creates a new QueryState for a graph with n nodes.
func NewQueryState(n uint32) *QueryState {
	qs := &QueryState{
		DistFwd: make([]uint32, n),
		DistBwd: make([]uint32, n),
		PredFwd: make([]uint32, n),
		PredBwd: make([]uint32, n),
		FromFwd: make([]uint32, n),
		FromBwd: make([]uint32, n),
		Touched: make([]uint32, 0, 1024),
		FwdPQ:   MinHeap{items: make([]PQItem, 0, 256)},
		BwdPQ:   MinHeap{items: make([]PQItem, 0, 256)},
	}
	for i := range n {
		qs.clear(i)
	}
	return qs
}

func (qs *QueryState) clear(node uint32) {
	qs.DistFwd[node] = math.MaxUint32
	qs.DistBwd[node] = math.MaxUint32
	qs.PredFwd[node] = noNode
	qs.PredBwd[node] = noNode
	qs.FromFwd[node] = noNode
	qs.FromBwd[node] = noNode
}

// Reset clears only the touched entries for fast reuse.
func (qs *QueryState) Reset() {
	for _, node := range qs.Touched {
		qs.clear(node)
	}
	qs.Touched = qs.Touched[:0]
	qs.FwdPQ.Reset()
	qs.BwdPQ.Reset()
}

func (qs *QueryState) touch(node uint32) {
	if qs.DistFwd[node] == math.MaxUint32 && qs.DistBwd[node] == math.MaxUint32 {
		qs.Touched = append(qs.Touched, node)
	}
}

// Seed is a search start: a node and the cost already spent to reach it.
type Seed struct {
	Node uint32
	Dist uint32
}

// OverlayHop is one edge of a CH path in travel direction. Middle is -1 for
// original edges.
type OverlayHop struct {
	From   uint32
	To     uint32
	Weight uint32
	Middle int32
}

// CHQuery runs bidirectional searches on a plain CH graph. It owns its search
// state and must not be used concurrently.
type CHQuery struct {
	chg   *graph.CHGraph
	qs    *QueryState
	stall bool
}

// NewCHQuery creates a query with stall-on-demand enabled.
func NewCHQuery(chg *graph.CHGraph) *CHQuery {
	return &CHQuery{chg: chg, qs: NewQueryState(chg.NumNodes), stall: true}
}

// SetStallOnDemand toggles stall-on-demand pruning.
func (q *CHQuery) SetStallOnDemand(on bool) { q.stall = on }

// Query returns the cheapest path from any source seed to any target seed.
// An unreachable target yields Unreachable and a nil path.
func (q *CHQuery) Query(ctx context.Context, sources, targets []Seed) (uint32, []OverlayHop, error) {
	qs := q.qs
	defer qs.Reset()

	for _, s := range sources {
		if s.Dist < qs.DistFwd[s.Node] {
			qs.touch(s.Node)
			qs.DistFwd[s.Node] = s.Dist
			qs.FwdPQ.Push(s.Node, s.Dist)
		}
	}
	for _, s := range targets {
		if s.Dist < qs.DistBwd[s.Node] {
			qs.touch(s.Node)
			qs.DistBwd[s.Node] = s.Dist
			qs.BwdPQ.Push(s.Node, s.Dist)
		}
	}

	mu := uint32(math.MaxUint32)
	meetNode := noNode
	chg := q.chg

	iterations := 0
	for {
		fOpen := qs.FwdPQ.Len() > 0 && qs.FwdPQ.PeekDist() < mu
		bOpen := qs.BwdPQ.Len() > 0 && qs.BwdPQ.PeekDist() < mu
		if !fOpen && !bOpen {
			break
		}

		// Check context cancellation periodically.
		iterations++
		if iterations%100 == 0 {
			if err := ctx.Err(); err != nil {
				return Unreachable, nil, err
			}
		}

		if fOpen && (!bOpen || qs.FwdPQ.PeekDist() <= qs.BwdPQ.PeekDist()) {
			q.step(&qs.FwdPQ, qs.DistFwd, qs.DistBwd, qs.PredFwd, qs.FromFwd,
				chg.FwdFirstOut, chg.FwdHead, chg.FwdWeight,
				chg.BwdFirstOut, chg.BwdHead, chg.BwdWeight, &mu, &meetNode)
		} else {
			q.step(&qs.BwdPQ, qs.DistBwd, qs.DistFwd, qs.PredBwd, qs.FromBwd,
				chg.BwdFirstOut, chg.BwdHead, chg.BwdWeight,
				chg.FwdFirstOut, chg.FwdHead, chg.FwdWeight, &mu, &meetNode)
		}
	}

	if meetNode == noNode {
		return Unreachable, nil, nil
	}
	return mu, q.path(meetNode), nil
}

// step settles the minimum of one search. The forward and backward searches
// share it with the overlay graphs swapped: up* is the graph the search
// relaxes, down* the opposite graph used for stalling.
func (q *CHQuery) step(pq *MinHeap, dist, otherDist, pred, from []uint32,
	upFirst, upHead, upWeight, downFirst, downHead, downWeight []uint32, mu, meetNode *uint32) {
	qs := q.qs
	item := pq.Pop()
	u, d := item.Node, item.Dist
	if d > dist[u] {
		return // stale entry
	}

	// Check meet condition.
	if otherDist[u] < math.MaxUint32 {
		if candidate := uint64(d) + uint64(otherDist[u]); candidate < uint64(*mu) {
			*mu = uint32(candidate)
			*meetNode = u
		}
	}

	// Stall-on-demand: an edge from a higher node proves u is not reached
	// optimally by this search.
	if q.stall {
		for e := downFirst[u]; e < downFirst[u+1]; e++ {
			v := downHead[e]
			if dist[v] < math.MaxUint32 && uint64(dist[v])+uint64(downWeight[e]) < uint64(d) {
				return
			}
		}
	}

	for e := upFirst[u]; e < upFirst[u+1]; e++ {
		v := upHead[e]
		nd := uint64(d) + uint64(upWeight[e])
		if nd >= uint64(dist[v]) {
			continue
		}
		qs.touch(v)
		dist[v] = uint32(nd)
		pred[v] = e
		from[v] = u
		pq.Push(v, uint32(nd))
	}
}

// path builds the overlay path from the source seed through the meeting node
// to the target seed.
func (q *CHQuery) path(meet uint32) []OverlayHop {
	qs, chg := q.qs, q.chg
	var up []OverlayHop
	for v := meet; qs.PredFwd[v] != noNode; v = qs.FromFwd[v] {
		e := qs.PredFwd[v]
		up = append(up, OverlayHop{From: qs.FromFwd[v], To: v, Weight: chg.FwdWeight[e], Middle: chg.FwdMiddle[e]})
	}
	slices.Reverse(up)
	for v := meet; qs.PredBwd[v] != noNode; v = qs.FromBwd[v] {
		e := qs.PredBwd[v]
		up = append(up, OverlayHop{From: v, To: qs.FromBwd[v], Weight: chg.BwdWeight[e], Middle: chg.BwdMiddle[e]})
	}
	return up
}
