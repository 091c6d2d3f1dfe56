package routing

import (
	"fmt"

	"turn_router/pkg/graph"
)

// unpackOverlayPath expands every shortcut hop of an overlay path into the
// original edges it bypasses and resolves each edge to its road.
func unpackOverlayPath(chg *graph.CHGraph, hops []OverlayHop) ([]traversal, error) {
	var result []traversal
	for _, hop := range hops {
		edges, err := unpackHop(chg, hop)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			road, err := findRoad(chg, e)
			if err != nil {
				return nil, err
			}
			result = append(result, traversal{road: road, reverse: chg.Roads[road].Source != e.From})
		}
	}
	return result, nil
}

// unpackHop iteratively unpacks a single overlay hop into original edges.
// Uses an explicit stack to avoid recursion.
func unpackHop(chg *graph.CHGraph, hop OverlayHop) ([]OverlayHop, error) {
	type item struct {
		hop   OverlayHop
		depth int
	}

	stack := []item{{hop, 0}}
	var result []OverlayHop

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if it.hop.Middle < 0 {
			result = append(result, it.hop)
			continue
		}
		if it.depth > maxUnpackDepth {
			return nil, fmt.Errorf("shortcut %d->%d exceeds unpack depth %d", hop.From, hop.To, maxUnpackDepth)
		}

		left, right, ok := splitShortcut(chg, it.hop)
		if !ok {
			return nil, fmt.Errorf("shortcut %d->%d via %d (weight %d) cannot be unpacked",
				it.hop.From, it.hop.To, it.hop.Middle, it.hop.Weight)
		}
		// Push right half first, then left half, so left is processed first (LIFO).
		stack = append(stack, item{right, it.depth + 1}, item{left, it.depth + 1})
	}

	return result, nil
}

// splitShortcut finds the two overlay edges a shortcut replaces. Both are
// stored at the middle node, which ranks below both ends: from->m in the
// backward graph and m->to in the forward graph.
func splitShortcut(chg *graph.CHGraph, sc OverlayHop) (left, right OverlayHop, ok bool) {
	m := uint32(sc.Middle)
	for e1 := chg.BwdFirstOut[m]; e1 < chg.BwdFirstOut[m+1]; e1++ {
		if chg.BwdHead[e1] != sc.From || chg.BwdWeight[e1] > sc.Weight {
			continue
		}
		for e2 := chg.FwdFirstOut[m]; e2 < chg.FwdFirstOut[m+1]; e2++ {
			if chg.FwdHead[e2] != sc.To || uint64(chg.BwdWeight[e1])+uint64(chg.FwdWeight[e2]) != uint64(sc.Weight) {
				continue
			}
			left = OverlayHop{From: sc.From, To: m, Weight: chg.BwdWeight[e1], Middle: chg.BwdMiddle[e1]}
			right = OverlayHop{From: m, To: sc.To, Weight: chg.FwdWeight[e2], Middle: chg.FwdMiddle[e2]}
			return left, right, true
		}
	}
	return OverlayHop{}, OverlayHop{}, false
}

// findRoad resolves an original edge to the road it was built from, preferring
// an exact weight match among parallel edges.
func findRoad(chg *graph.CHGraph, hop OverlayHop) (uint32, error) {
	found := noNode
	for e := chg.OrigFirstOut[hop.From]; e < chg.OrigFirstOut[hop.From+1]; e++ {
		if chg.OrigHead[e] != hop.To {
			continue
		}
		if chg.OrigWeight[e] == hop.Weight {
			return chg.OrigEdgeID[e], nil
		}
		if found == noNode {
			found = chg.OrigEdgeID[e]
		}
	}
	if found == noNode {
		return 0, fmt.Errorf("%w: no road from %d to %d", ErrUnknownEdge, hop.From, hop.To)
	}
	return found, nil
}
