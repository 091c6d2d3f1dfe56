package routing

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"turn_router/pkg/graph"
)

const maxUnpackDepth = 200

type shortcutKey struct {
	from, to         uint32
	fromSlot, toSlot uint8
	distance         uint32
	middle           uint32
}

// Unpacker expands shortcuts of a turn hierarchy into original edges. It is
// safe for concurrent use.
type Unpacker struct {
	graph *graph.TurnGraph
	cache *lru.Cache[shortcutKey, []PathEdge]
}

// NewUnpacker creates an unpacker caching up to cacheSize shortcut
// expansions. A cacheSize of zero disables the cache.
func NewUnpacker(g *graph.TurnGraph, cacheSize int) (*Unpacker, error) {
	u := &Unpacker{graph: g}
	if cacheSize > 0 {
		c, err := lru.New[shortcutKey, []PathEdge](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create unpack cache: %w", err)
		}
		u.cache = c
	}
	return u, nil
}

// Unpack replaces every shortcut of path by the original edges it bypasses.
func (u *Unpacker) Unpack(path []PathEdge) ([]PathEdge, error) {
	out := make([]PathEdge, 0, len(path))
	for _, pe := range path {
		if !pe.Shortcut {
			out = append(out, pe)
			continue
		}
		key := shortcutKey{pe.From, pe.To, pe.FromSlot, pe.ToSlot, pe.Distance, pe.Middle}
		if u.cache != nil {
			if edges, ok := u.cache.Get(key); ok {
				out = append(out, edges...)
				continue
			}
		}
		edges, err := u.expand(pe)
		if err != nil {
			return nil, err
		}
		if u.cache != nil {
			u.cache.Add(key, edges)
		}
		out = append(out, edges...)
	}
	return out, nil
}

// expand unpacks a single shortcut with an explicit stack.
func (u *Unpacker) expand(sc PathEdge) ([]PathEdge, error) {
	type item struct {
		edge  PathEdge
		depth int
	}
	stack := []item{{sc, 0}}
	var result []PathEdge
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !it.edge.Shortcut {
			result = append(result, it.edge)
			continue
		}
		if it.depth > maxUnpackDepth {
			return nil, fmt.Errorf("shortcut %d->%d exceeds unpack depth %d", sc.From, sc.To, maxUnpackDepth)
		}
		parts, err := u.split(it.edge)
		if err != nil {
			return nil, err
		}
		for i := len(parts) - 1; i >= 0; i-- {
			stack = append(stack, item{parts[i], it.depth + 1})
		}
	}
	return result, nil
}

// split finds the hops a shortcut bypasses at its middle junction: an edge
// into the middle, possibly loops at the middle, and an edge out of it, whose
// distances and turn penalties add up to the shortcut distance.
func (u *Unpacker) split(sc PathEdge) ([]PathEdge, error) {
	g := u.graph
	m := sc.Middle
	for e1 := g.BeginEdges(m); e1 < g.EndEdges(m); e1++ {
		d1 := g.EdgeData(e1)
		if !d1.Backward || g.Target(e1) != sc.From || g.OriginalEdgeTarget(e1) != sc.FromSlot || d1.Distance > sc.Distance {
			continue
		}
		first := edgeFromStorage(g, m, e1, true)
		loops := u.loopDistances(m, first.ToSlot, int64(d1.Distance), int64(sc.Distance))
		for e2 := g.BeginEdges(m); e2 < g.EndEdges(m); e2++ {
			d2 := g.EdgeData(e2)
			if !d2.Forward || g.Target(e2) != sc.To || g.OriginalEdgeTarget(e2) != sc.ToSlot {
				continue
			}
			out := g.OriginalEdgeSource(e2)
			for in := range g.InDegree(m) {
				state, ok := loops[in]
				if !ok {
					continue
				}
				p := g.Penalty(m, in, out)
				if p == graph.RestrictedTurn || state.dist+int64(p)+int64(d2.Distance) != int64(sc.Distance) {
					continue
				}
				parts := []PathEdge{first}
				parts = append(parts, loopChain(loops, in)...)
				return append(parts, edgeFromStorage(g, m, e2, false)), nil
			}
		}
	}
	return nil, fmt.Errorf("shortcut %d->%d via %d (distance %d) cannot be unpacked", sc.From, sc.To, m, sc.Distance)
}

type loopState struct {
	dist   int64
	parent uint8
	hop    PathEdge
	seed   bool
}

// loopDistances runs a small Dijkstra over the in-slots of junction m using
// only loop edges at m, starting in slot in with distance dist.
func (u *Unpacker) loopDistances(m uint32, in uint8, dist, limit int64) map[uint8]loopState {
	g := u.graph
	states := map[uint8]loopState{in: {dist: dist, seed: true}}
	done := map[uint8]bool{}
	for {
		cur, found := uint8(0), false
		for s, st := range states {
			if !done[s] && (!found || st.dist < states[cur].dist || (st.dist == states[cur].dist && s < cur)) {
				cur, found = s, true
			}
		}
		if !found {
			return states
		}
		done[cur] = true
		base := states[cur].dist
		for e := g.BeginEdges(m); e < g.EndEdges(m); e++ {
			d := g.EdgeData(e)
			if !d.Forward || g.Target(e) != m {
				continue
			}
			p := g.Penalty(m, cur, g.OriginalEdgeSource(e))
			if p == graph.RestrictedTurn {
				continue
			}
			nd := base + int64(p) + int64(d.Distance)
			next := g.OriginalEdgeTarget(e)
			if nd > limit {
				continue
			}
			if st, ok := states[next]; !ok || nd < st.dist {
				states[next] = loopState{dist: nd, parent: cur, hop: edgeFromStorage(g, m, e, false)}
				done[next] = false
			}
		}
	}
}

func loopChain(states map[uint8]loopState, last uint8) []PathEdge {
	var chain []PathEdge
	for s := last; !states[s].seed; s = states[s].parent {
		chain = append(chain, states[s].hop)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// edgeFromStorage converts edge e stored at via into a hop in travel
// direction. reverse means the edge is travelled towards via.
func edgeFromStorage(g *graph.TurnGraph, via, e uint32, reverse bool) PathEdge {
	d := g.EdgeData(e)
	pe := PathEdge{
		From:     via,
		To:       g.Target(e),
		FromSlot: g.OriginalEdgeSource(e),
		ToSlot:   g.OriginalEdgeTarget(e),
		Distance: d.Distance,
		Shortcut: d.Shortcut,
	}
	if reverse {
		pe.From, pe.To = pe.To, pe.From
		pe.FromSlot, pe.ToSlot = pe.ToSlot, pe.FromSlot
	}
	if d.Shortcut {
		pe.Middle = d.Middle
	} else {
		pe.ID = d.ID
	}
	return pe
}
