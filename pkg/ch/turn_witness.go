package ch

import (
	"math"

	"turn_router/pkg/graph"
	"turn_router/pkg/pq"
)

// witnessData is the heap payload of a witness search entry keyed by
// (junction, in-slot).
type witnessData struct {
	node          uint32
	originalEdges uint32
	slot          uint8
	// onlyVia marks entries whose shortest known path runs through the
	// junction being contracted.
	onlyVia bool
}

type contractStats struct {
	edgesAdded      int
	edgesDeleted    int
	originalAdded   int
	originalDeleted int
}

// contract finds the shortcuts needed to remove node. In simulate mode it only
// counts them; otherwise it appends them to w.inserted.
func (c *TurnContractor) contract(w *worker, node uint32, simulate bool) contractStats {
	g := c.graph
	var st contractStats
	maxSettled := c.cfg.MaxSettled
	if simulate {
		maxSettled = c.cfg.SimulatedMaxSettled
	}
	first := len(w.inserted)

	for in := g.BeginEdges(node); in < g.EndEdges(node); in++ {
		inData := g.EdgeData(in)
		source := g.Target(in)
		if simulate {
			st.edgesDeleted++
			st.originalDeleted += int(inData.OriginalEdges)
		}
		if !inData.Backward || source == node {
			continue
		}
		inOut := g.OriginalEdgeTarget(in)

		h := w.heap
		h.Clear()
		via := 0
		for e := g.BeginEdges(source); e < g.EndEdges(source); e++ {
			d := g.EdgeData(e)
			if !d.Forward {
				continue
			}
			target := g.Target(e)
			out := g.OriginalEdgeSource(e)
			onlyVia := target == node && out == inOut
			if target == node && !onlyVia {
				continue
			}
			if !simulate && target != node && c.contracting[target] {
				continue
			}
			gm := c.gamma.Forward(source, inOut, out)
			if gm == restrictedNeighbour {
				continue
			}
			slot := g.OriginalEdgeTarget(e)
			via += relaxWitness(h, g.OriginalKey(target, slot), int64(d.Distance)+int64(gm),
				witnessData{node: target, originalEdges: d.OriginalEdges, slot: slot, onlyVia: onlyVia})
		}
		if via == 0 {
			continue
		}
		c.witnessSearch(h, node, via, maxSettled, simulate)

		for out := g.BeginEdges(node); out < g.EndEdges(node); out++ {
			outData := g.EdgeData(out)
			target := g.Target(out)
			if !outData.Forward || target == node {
				continue
			}
			outIn := g.OriginalEdgeTarget(out)
			key := g.OriginalKey(target, outIn)
			if !h.WasInserted(key) {
				continue
			}
			entry := *h.Data(key)
			if !entry.onlyVia {
				if c.cfg.CollectWitnesses && !simulate {
					w.witnesses = append(w.witnesses, Witness{Source: source, Target: target, Middle: node})
				}
				continue
			}
			dist := h.Distance(key)
			if c.witnessedAtTarget(h, target, outIn, dist) {
				if c.cfg.CollectWitnesses && !simulate {
					w.witnesses = append(w.witnesses, Witness{Source: source, Target: target, Middle: node})
				}
				continue
			}
			if source == target && !c.loopNecessary(source, inOut, outIn, dist) {
				continue
			}
			if !simulate && c.cfg.Aggressive && !c.shortcutNecessary(w, node, source, inOut, target, outIn, dist) {
				w.saved++
				continue
			}

			if simulate {
				st.edgesAdded += 2
				st.originalAdded += 2 * int(entry.originalEdges)
				continue
			}
			data := graph.EdgeData{
				Distance:      uint32(min(dist, math.MaxUint32-1)),
				OriginalEdges: entry.originalEdges,
				Shortcut:      true,
				Middle:        node,
			}
			fwd, bwd := data, data
			fwd.Forward = true
			bwd.Backward = true
			w.inserted = append(w.inserted,
				graph.TurnEdge{Source: source, Target: target, SourceSlot: inOut, TargetSlot: outIn, Data: fwd},
				graph.TurnEdge{Source: target, Target: source, SourceSlot: outIn, TargetSlot: inOut, Data: bwd},
			)
		}
	}

	if !simulate {
		w.inserted = append(w.inserted[:first], mergeShortcuts(w.inserted[first:])...)
	}
	return st
}

// witnessSearch settles entries until every via entry is settled or the
// settle limit is hit for paths that no longer run through node.
func (c *TurnContractor) witnessSearch(h *pq.Heap[witnessData], node uint32, via, maxSettled int, simulate bool) {
	g := c.graph
	settled := 0
	for !h.Empty() {
		key := h.DeleteMin()
		data := *h.Data(key)
		dist := h.Distance(key)
		if data.onlyVia {
			via--
		}
		settled++
		toOnlyVia := data.onlyVia && data.node == node
		if !toOnlyVia {
			if via == 0 {
				return
			}
			if settled > maxSettled {
				continue
			}
		}

		for e := g.BeginEdges(data.node); e < g.EndEdges(data.node); e++ {
			d := g.EdgeData(e)
			if !d.Forward {
				continue
			}
			to := g.Target(e)
			if to == node && !toOnlyVia {
				continue
			}
			if !simulate && to != node && c.contracting[to] {
				continue
			}
			p := g.Penalty(data.node, data.slot, g.OriginalEdgeSource(e))
			if p == graph.RestrictedTurn {
				continue
			}
			slot := g.OriginalEdgeTarget(e)
			via += relaxWitness(h, g.OriginalKey(to, slot), dist+int64(p)+int64(d.Distance),
				witnessData{node: to, originalEdges: data.originalEdges + d.OriginalEdges, slot: slot, onlyVia: toOnlyVia})
		}
	}
}

// relaxWitness inserts or improves an entry and returns the change in the
// number of via entries.
func relaxWitness(h *pq.Heap[witnessData], key uint32, dist int64, data witnessData) int {
	if !h.WasInserted(key) {
		h.Insert(key, dist, data)
		if data.onlyVia {
			return 1
		}
		return 0
	}
	if h.WasRemoved(key) || dist >= h.Distance(key) {
		return 0
	}
	old := h.Data(key)
	delta := 0
	switch {
	case old.onlyVia && !data.onlyVia:
		delta = -1
	case !old.onlyVia && data.onlyVia:
		delta = 1
	}
	*old = data
	h.DecreaseKey(key, dist)
	return delta
}

// witnessedAtTarget reports whether arriving at target through another
// in-slot is cheaper for every turn that the via path could take.
func (c *TurnContractor) witnessedAtTarget(h *pq.Heap[witnessData], target uint32, outIn uint8, dist int64) bool {
	g := c.graph
	for i := range g.InDegree(target) {
		if i == outIn {
			continue
		}
		gm := c.gamma.Backward(target, outIn, i)
		if gm == restrictedNeighbour {
			continue
		}
		key := g.OriginalKey(target, i)
		if h.WasInserted(key) && h.Distance(key)+int64(gm) < dist {
			return true
		}
	}
	return false
}

// loopNecessary reports whether a loop shortcut at junction improves some
// turn there: it replaces a forbidden turn or undercuts its penalty.
func (c *TurnContractor) loopNecessary(junction uint32, inOut, outIn uint8, dist int64) bool {
	g := c.graph
	for in := range g.InDegree(junction) {
		first := g.Penalty(junction, in, inOut)
		if first == graph.RestrictedTurn {
			continue
		}
		for out := range g.OutDegree(junction) {
			second := g.Penalty(junction, outIn, out)
			if second == graph.RestrictedTurn {
				continue
			}
			direct := g.Penalty(junction, in, out)
			if direct == graph.RestrictedTurn || int64(first)+dist+int64(second) < int64(direct) {
				return true
			}
		}
	}
	return false
}

// shortcutNecessary checks every turn into and out of the shortcut exactly:
// the shortcut is needed if for some pair no path avoiding node is strictly
// shorter.
func (c *TurnContractor) shortcutNecessary(w *worker, node, source uint32, inOut uint8, target uint32, outIn uint8, dist int64) bool {
	g := c.graph
	h := w.aggressiveHeap
	for pre := range g.InDegree(source) {
		prePenalty := g.Penalty(source, pre, inOut)
		if prePenalty == graph.RestrictedTurn {
			continue
		}
		pathDist := int64(prePenalty) + dist

		h.Clear()
		h.Insert(g.OriginalKey(source, pre), 0, witnessData{node: source, slot: pre})
		pending := 0
		for i := range g.InDegree(target) {
			key := g.OriginalKey(target, i)
			if !h.WasInserted(key) {
				h.Insert(key, math.MaxInt64, witnessData{node: target, slot: i, onlyVia: true})
				pending++
			}
		}

		settled := 0
		for !h.Empty() && pending > 0 && h.MinDistance() != math.MaxInt64 {
			key := h.DeleteMin()
			data := *h.Data(key)
			dist := h.Distance(key)
			if data.onlyVia {
				pending--
			}
			settled++
			if settled > c.cfg.AggressiveMaxSettled {
				break
			}
			for e := g.BeginEdges(data.node); e < g.EndEdges(data.node); e++ {
				d := g.EdgeData(e)
				to := g.Target(e)
				if !d.Forward || to == node || c.contracting[to] {
					continue
				}
				p := g.Penalty(data.node, data.slot, g.OriginalEdgeSource(e))
				if p == graph.RestrictedTurn {
					continue
				}
				slot := g.OriginalEdgeTarget(e)
				toKey := g.OriginalKey(to, slot)
				nd := dist + int64(p) + int64(d.Distance)
				switch {
				case !h.WasInserted(toKey):
					h.Insert(toKey, nd, witnessData{node: to, slot: slot})
				case !h.WasRemoved(toKey) && nd < h.Distance(toKey):
					h.DecreaseKey(toKey, nd)
				}
			}
		}

		for post := range g.OutDegree(target) {
			ref := g.Penalty(target, outIn, post)
			if ref == graph.RestrictedTurn {
				continue
			}
			best := int64(math.MaxInt64)
			for i := range g.InDegree(target) {
				key := g.OriginalKey(target, i)
				if !h.WasInserted(key) || h.Distance(key) == math.MaxInt64 {
					continue
				}
				p := g.Penalty(target, i, post)
				if p == graph.RestrictedTurn {
					continue
				}
				best = min(best, h.Distance(key)+int64(p))
			}
			if best >= pathDist+int64(ref) {
				return true
			}
		}
	}
	return false
}

// mergeShortcuts folds records with equal endpoints, slots and distance into
// one record carrying both directions.
func mergeShortcuts(edges []graph.TurnEdge) []graph.TurnEdge {
	out := edges[:0]
	for _, e := range edges {
		merged := false
		for i := range out {
			o := &out[i]
			if o.Source == e.Source && o.Target == e.Target && o.SourceSlot == e.SourceSlot &&
				o.TargetSlot == e.TargetSlot && o.Data.Distance == e.Data.Distance {
				o.Data.Forward = o.Data.Forward || e.Data.Forward
				o.Data.Backward = o.Data.Backward || e.Data.Backward
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, e)
		}
	}
	return out
}
