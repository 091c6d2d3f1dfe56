package ch

import (
	"math"

	"turn_router/pkg/pq"
)

// maxWeight is the largest weight a shortcut can carry.
const maxWeight = math.MaxUint32 - 1

// witnessState holds the reusable heap of the plain witness search. The heap
// keeps distances of every reached node until the next search.
type witnessState struct {
	heap *pq.Heap[int] // data: hops from the source
}

func newWitnessState(numNodes uint32) *witnessState {
	return &witnessState{heap: pq.New[int](int(numNodes))}
}

// distance returns the witness distance to v found by the last search, or
// math.MaxInt64 when v was not reached.
func (ws *witnessState) distance(v uint32) int64 {
	if !ws.heap.WasInserted(v) {
		return math.MaxInt64
	}
	return ws.heap.Distance(v)
}

// search runs a single Dijkstra from source, excluding the contracted node,
// bounded by limit, the settle cap and the hop cap. The caller checks which
// outgoing targets need shortcuts.
func (ws *witnessState) search(outAdj [][]adjEntry, source, excluded uint32, limit int64, contracted []bool, cfg PlainConfig) {
	h := ws.heap
	h.Clear()
	h.Insert(source, 0, 0)

	settled := 0
	for !h.Empty() {
		dist := h.MinDistance()
		if dist > limit {
			return
		}
		u := h.DeleteMin()
		hops := *h.Data(u)

		settled++
		if cfg.MaxSettled > 0 && settled >= cfg.MaxSettled {
			return
		}
		if cfg.MaxHops > 0 && hops >= cfg.MaxHops {
			continue
		}

		for _, e := range outAdj[u] {
			if e.to == excluded || contracted[e.to] {
				continue
			}
			nd := dist + int64(e.weight)
			if nd > limit {
				continue
			}
			switch {
			case !h.WasInserted(e.to):
				h.Insert(e.to, nd, hops+1)
			case !h.WasRemoved(e.to) && nd < h.Distance(e.to):
				*h.Data(e.to) = hops + 1
				h.DecreaseKey(e.to, nd)
			}
		}
	}
}
