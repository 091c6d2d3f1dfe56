package routing

import (
	"errors"
	"fmt"
	"math"

	"turn_router/pkg/graph"
	"turn_router/pkg/pq"
)

// Unreachable is the cost reported when no route exists.
const Unreachable = math.MaxUint32

const noKey = math.MaxUint32

// maxStallQueue bounds the stall propagation BFS per settled entry.
const maxStallQueue = 32

var (
	// ErrNoRoute is returned when the target cannot be reached.
	ErrNoRoute = errors.New("no route found")
	// ErrUnknownEdge is returned when a query edge does not exist.
	ErrUnknownEdge = errors.New("unknown query edge")
)

// QueryEdge locates a query on original edge ID, travelled from Source to
// Target. A bidirectional loop is travelled leaving the lower of its two
// out-slots, or the higher one when Opposite is set.
type QueryEdge struct {
	Source   uint32
	Target   uint32
	ID       uint32
	Opposite bool
}

// PathEdge is one hop of a route in travel direction. FromSlot is the
// out-slot at From and ToSlot the in-slot at To.
type PathEdge struct {
	From     uint32
	To       uint32
	FromSlot uint8
	ToSlot   uint8
	Distance uint32
	Shortcut bool
	ID       uint32
	Middle   uint32
}

// Result is the answer of a turn query. Path may contain shortcuts.
type Result struct {
	Distance uint32
	Path     []PathEdge
	Settled  int
}

type queryData struct {
	node    uint32
	slot    uint8
	parent  uint32 // key of the previous entry, noKey for seeds
	via     uint32 // node storing edge
	edge    uint32
	reverse bool // edge is stored at the head of the travelled hop
	stalled bool
}

// TurnQuery runs searches over a turn graph. It owns its heaps and must not be
// used concurrently; the graph may be shared between queries.
type TurnQuery struct {
	graph    *graph.TurnGraph
	forward  *pq.Heap[queryData]
	backward *pq.Heap[queryData]
	stall    bool
	queue    []stallItem
}

type stallItem struct {
	key  uint32
	dist int64
}

// NewTurnQuery creates a query over a contracted hierarchy with stall-on-demand.
func NewTurnQuery(g *graph.TurnGraph) *TurnQuery {
	size := int(g.NumOriginalEdges())
	return &TurnQuery{
		graph:    g,
		forward:  pq.New[queryData](size),
		backward: pq.New[queryData](size),
		stall:    true,
	}
}

// SetStallOnDemand toggles stall-on-demand pruning.
func (q *TurnQuery) SetStallOnDemand(on bool) { q.stall = on }

type meeting struct {
	dist     int64
	forward  uint32
	backward uint32
}

// Query returns the shortest route from source to target on a contracted
// hierarchy. An unreachable target yields Distance Unreachable and a nil path.
func (q *TurnQuery) Query(source, target QueryEdge) (Result, error) {
	return q.run(source, target, true, false)
}

// QueryAround returns the shortest route that leaves edge and comes back onto
// it. The path starts and ends with edge, both counted in full.
func (q *TurnQuery) QueryAround(edge QueryEdge) (Result, error) {
	return q.run(edge, edge, true, true)
}

// QueryUnidirectional runs a forward-only search. On an uncontracted graph it
// is an exhaustive Dijkstra and serves as ground truth.
func (q *TurnQuery) QueryUnidirectional(source, target QueryEdge) (Result, error) {
	stall := q.stall
	q.stall = false
	defer func() { q.stall = stall }()
	return q.run(source, target, false, false)
}

func (q *TurnQuery) run(source, target QueryEdge, bidirectional, around bool) (Result, error) {
	g := q.graph
	q.forward.Clear()
	q.backward.Clear()

	fe, fReverse, err := q.locate(source)
	if err != nil {
		return Result{}, fmt.Errorf("source: %w", err)
	}
	be, bReverse, err := q.locate(target)
	if err != nil {
		return Result{}, fmt.Errorf("target: %w", err)
	}
	if source == target && !around {
		pe := q.pathEdge(fe.via, fe.edge, fReverse)
		return Result{Distance: pe.Distance, Path: []PathEdge{pe}}, nil
	}

	// Forward seed: arrived at source.Target. Backward seed: about to leave
	// target.Source.
	fSeed := q.pathEdge(fe.via, fe.edge, fReverse)
	q.forward.Insert(g.OriginalKey(fSeed.To, fSeed.ToSlot), int64(fSeed.Distance), queryData{
		node: fSeed.To, slot: fSeed.ToSlot, parent: noKey, via: fe.via, edge: fe.edge, reverse: fReverse,
	})
	bSeed := q.pathEdge(be.via, be.edge, bReverse)
	q.backward.Insert(g.OriginalKey(bSeed.From, bSeed.FromSlot), int64(bSeed.Distance), queryData{
		node: bSeed.From, slot: bSeed.FromSlot, parent: noKey, via: be.via, edge: be.edge, reverse: bReverse,
	})

	best := meeting{dist: math.MaxInt64, forward: noKey, backward: noKey}
	settled := 0
	for {
		fOpen := !q.forward.Empty() && q.forward.MinDistance() < best.dist
		bOpen := bidirectional && !q.backward.Empty() && q.backward.MinDistance() < best.dist
		if !fOpen && !bOpen {
			break
		}
		if fOpen && (!bOpen || q.forward.MinDistance() <= q.backward.MinDistance()) {
			q.settle(q.forward, q.backward, true, &best)
		} else {
			q.settle(q.backward, q.forward, false, &best)
		}
		settled++
	}

	if best.forward == noKey {
		return Result{Distance: Unreachable, Settled: settled}, nil
	}
	return Result{
		Distance: uint32(min(best.dist, Unreachable-1)),
		Path:     q.path(best),
		Settled:  settled,
	}, nil
}

type located struct {
	via  uint32
	edge uint32
}

// locate finds the stored record of an original edge. It reports whether the
// record is stored at the edge's head.
func (q *TurnQuery) locate(qe QueryEdge) (located, bool, error) {
	g := q.graph
	if qe.Source >= g.NumNodes() || qe.Target >= g.NumNodes() {
		return located{}, false, fmt.Errorf("%w: %d->%d outside graph", ErrUnknownEdge, qe.Source, qe.Target)
	}
	if qe.Opposite && qe.Source != qe.Target {
		return located{}, false, fmt.Errorf("%w: %d->%d is not a loop", ErrUnknownEdge, qe.Source, qe.Target)
	}
	best, matches := located{edge: graph.EndEdge}, 0
	for e := g.BeginEdges(qe.Source); e < g.EndEdges(qe.Source); e++ {
		d := g.EdgeData(e)
		if !d.Forward || d.Shortcut || d.ID != qe.ID || g.Target(e) != qe.Target {
			continue
		}
		if qe.Source != qe.Target {
			return located{via: qe.Source, edge: e}, false, nil
		}
		// Both directions of a bidirectional loop are stored here; pick by
		// slot so the choice does not depend on record order.
		matches++
		if best.edge == graph.EndEdge || (g.OriginalEdgeSource(e) > g.OriginalEdgeSource(best.edge)) == qe.Opposite {
			best = located{via: qe.Source, edge: e}
		}
	}
	switch {
	case qe.Opposite && matches < 2:
		return located{}, false, fmt.Errorf("%w: loop %d id %d has one direction", ErrUnknownEdge, qe.Source, qe.ID)
	case matches > 0:
		return best, false, nil
	}
	for e := g.BeginEdges(qe.Target); e < g.EndEdges(qe.Target); e++ {
		d := g.EdgeData(e)
		if d.Backward && !d.Shortcut && d.ID == qe.ID && g.Target(e) == qe.Source {
			return located{via: qe.Target, edge: e}, true, nil
		}
	}
	return located{}, false, fmt.Errorf("%w: %d->%d id %d", ErrUnknownEdge, qe.Source, qe.Target, qe.ID)
}

// turn returns the penalty for continuing from a search state with slot from
// over an edge using slot to at node. Forward states hold in-slots, backward
// states out-slots.
func (q *TurnQuery) turn(node uint32, from, to uint8, forward bool) uint8 {
	if forward {
		return q.graph.Penalty(node, from, to)
	}
	return q.graph.Penalty(node, to, from)
}

func (q *TurnQuery) settle(h, other *pq.Heap[queryData], forward bool, best *meeting) {
	g := q.graph
	key := h.DeleteMin()
	data := *h.Data(key)
	dist := h.Distance(key)
	node := data.node

	// Meeting test against every state of the opposite search at node.
	otherDegree := g.OutDegree(node)
	if !forward {
		otherDegree = g.InDegree(node)
	}
	for s := range otherDegree {
		ok := g.OriginalKey(node, s)
		if !other.WasInserted(ok) {
			continue
		}
		p := q.turn(node, data.slot, s, forward)
		if p == graph.RestrictedTurn {
			continue
		}
		if d := dist + other.Distance(ok) + int64(p); d < best.dist {
			best.dist = d
			if forward {
				best.forward, best.backward = key, ok
			} else {
				best.forward, best.backward = ok, key
			}
		}
	}

	if data.stalled {
		return
	}
	if q.stall {
		if stallDist, ok := q.stalledBy(h, node, data.slot, dist, forward); ok {
			h.Data(key).stalled = true
			q.propagateStall(h, node, data.slot, stallDist, forward)
			return
		}
	}

	for e := g.BeginEdges(node); e < g.EndEdges(node); e++ {
		d := g.EdgeData(e)
		if (forward && !d.Forward) || (!forward && !d.Backward) {
			continue
		}
		p := q.turn(node, data.slot, g.OriginalEdgeSource(e), forward)
		if p == graph.RestrictedTurn {
			continue
		}
		to := g.Target(e)
		slot := g.OriginalEdgeTarget(e)
		relax(h, g.OriginalKey(to, slot), dist+int64(p)+int64(d.Distance), queryData{
			node: to, slot: slot, parent: key, via: node, edge: e, reverse: !forward,
		})
	}
}

func relax(h *pq.Heap[queryData], key uint32, dist int64, data queryData) {
	switch {
	case !h.WasInserted(key):
		h.Insert(key, dist, data)
	case !h.WasRemoved(key) && dist < h.Distance(key):
		*h.Data(key) = data
		h.DecreaseKey(key, dist)
	}
}

// stalledBy looks for a cheaper way into (node, slot) over an edge stored at
// node in the opposite direction, from an entry the same search already
// reached at a higher junction.
func (q *TurnQuery) stalledBy(h *pq.Heap[queryData], node uint32, slot uint8, dist int64, forward bool) (int64, bool) {
	g := q.graph
	for e := g.BeginEdges(node); e < g.EndEdges(node); e++ {
		d := g.EdgeData(e)
		if (forward && !d.Backward) || (!forward && !d.Forward) || g.OriginalEdgeSource(e) != slot {
			continue
		}
		t := g.Target(e)
		tSlot := g.OriginalEdgeTarget(e)
		degree := g.InDegree(t)
		if !forward {
			degree = g.OutDegree(t)
		}
		for s := range degree {
			k := g.OriginalKey(t, s)
			if !h.WasInserted(k) {
				continue
			}
			p := q.turn(t, s, tSlot, forward)
			if p == graph.RestrictedTurn {
				continue
			}
			if alt := h.Distance(k) + int64(p) + int64(d.Distance); alt < dist {
				return alt, true
			}
		}
	}
	return 0, false
}

// propagateStall marks successors of a stalled entry whose tentative distance
// is beaten by the stalling path.
func (q *TurnQuery) propagateStall(h *pq.Heap[queryData], node uint32, slot uint8, dist int64, forward bool) {
	g := q.graph
	q.queue = append(q.queue[:0], stallItem{key: g.OriginalKey(node, slot), dist: dist})
	for i := 0; i < len(q.queue); i++ {
		item := q.queue[i]
		cur := *h.Data(item.key)
		for e := g.BeginEdges(cur.node); e < g.EndEdges(cur.node); e++ {
			d := g.EdgeData(e)
			if (forward && !d.Forward) || (!forward && !d.Backward) {
				continue
			}
			p := q.turn(cur.node, cur.slot, g.OriginalEdgeSource(e), forward)
			if p == graph.RestrictedTurn {
				continue
			}
			k := g.OriginalKey(g.Target(e), g.OriginalEdgeTarget(e))
			if !h.WasInserted(k) || h.WasRemoved(k) {
				continue
			}
			alt := item.dist + int64(p) + int64(d.Distance)
			if entry := h.Data(k); !entry.stalled && alt < h.Distance(k) {
				entry.stalled = true
				if len(q.queue) < maxStallQueue {
					q.queue = append(q.queue, stallItem{key: k, dist: alt})
				}
			}
		}
	}
}

func (q *TurnQuery) pathEdge(via, e uint32, reverse bool) PathEdge {
	return edgeFromStorage(q.graph, via, e, reverse)
}

// path walks both parent chains from the meeting point.
func (q *TurnQuery) path(m meeting) []PathEdge {
	var up []PathEdge
	for key := m.forward; key != noKey; {
		data := q.forward.Data(key)
		up = append(up, q.pathEdge(data.via, data.edge, data.reverse))
		key = data.parent
	}
	path := make([]PathEdge, 0, len(up)+8)
	for i := len(up) - 1; i >= 0; i-- {
		path = append(path, up[i])
	}
	for key := m.backward; key != noKey; {
		data := q.backward.Data(key)
		path = append(path, q.pathEdge(data.via, data.edge, data.reverse))
		key = data.parent
	}
	return path
}
