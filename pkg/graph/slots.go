package graph

import (
	"fmt"
	"math"
)

// SlotRef is the edge occupying a slot at a junction. Reverse is set when the
// edge passes the slot against its stored direction, which only happens for
// bidirectional edges.
type SlotRef struct {
	Edge    int
	Reverse bool
}

// AssignSlots numbers the edges at every junction and fills in
// EdgeIDAtSource and EdgeIDAtTarget. Bidirectional edges come first and share
// their in- and out-slot; one-way edges follow. It returns per junction the
// edge in each in-slot and out-slot, so len(in[v]) is the in-degree of v.
func AssignSlots(numNodes int, edges []Edge) (in, out [][]SlotRef, err error) {
	in = make([][]SlotRef, numNodes)
	out = make([][]SlotRef, numNodes)
	for i := range edges {
		e := &edges[i]
		if !e.Bidirectional {
			continue
		}
		e.EdgeIDAtSource = uint8(len(out[e.Source]))
		out[e.Source] = append(out[e.Source], SlotRef{Edge: i})
		in[e.Source] = append(in[e.Source], SlotRef{Edge: i, Reverse: true})
		e.EdgeIDAtTarget = uint8(len(in[e.Target]))
		in[e.Target] = append(in[e.Target], SlotRef{Edge: i})
		out[e.Target] = append(out[e.Target], SlotRef{Edge: i, Reverse: true})
	}
	for i := range edges {
		e := &edges[i]
		if e.Bidirectional {
			continue
		}
		e.EdgeIDAtSource = uint8(len(out[e.Source]))
		out[e.Source] = append(out[e.Source], SlotRef{Edge: i})
		e.EdgeIDAtTarget = uint8(len(in[e.Target]))
		in[e.Target] = append(in[e.Target], SlotRef{Edge: i})
	}
	for v := range numNodes {
		if len(in[v]) > math.MaxUint8 || len(out[v]) > math.MaxUint8 {
			return nil, nil, fmt.Errorf("%w: junction %d has %d incoming and %d outgoing edges",
				ErrMalformedInput, v, len(in[v]), len(out[v]))
		}
	}
	return in, out, nil
}

// Degrees returns the in- and out-degree arrays of slot tables built by
// AssignSlots.
func Degrees(in, out [][]SlotRef) (inDegree, outDegree []uint8) {
	inDegree = make([]uint8, len(in))
	outDegree = make([]uint8, len(out))
	for v := range in {
		inDegree[v] = uint8(len(in[v]))
		outDegree[v] = uint8(len(out[v]))
	}
	return inDegree, outDegree
}
