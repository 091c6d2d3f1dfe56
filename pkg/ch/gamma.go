package ch

import (
	"math"

	"turn_router/pkg/graph"
)

// restrictedNeighbour marks slot pairs where the second slot is forbidden
// for some turn that allows the first.
const restrictedNeighbour = math.MinInt16

// gammaTable bounds how much more a turn may cost when it uses another slot.
// forward[out][out2] is the maximum over in-slots allowing both turns of
// penalty(in,out2) - penalty(in,out). backward[in][in2] is the same over
// out-slots with penalty(in2,out) - penalty(in,out).
type gammaTable struct {
	values   []int16
	forward  []uint32 // per penalty class
	backward []uint32
	classes  []graph.PenaltyClass
	class    func(node uint32) uint32
}

func newGammaTable(g *graph.TurnGraph) *gammaTable {
	classes := g.Classes()
	t := &gammaTable{
		forward:  make([]uint32, len(classes)),
		backward: make([]uint32, len(classes)),
		classes:  classes,
		class:    g.Class,
	}
	for c := range classes {
		pc := classes[c]
		class := uint32(c)
		t.forward[c] = uint32(len(t.values))
		for out := range pc.Out {
			for out2 := range pc.Out {
				t.values = append(t.values, gamma(pc.In, func(in uint8) (uint8, uint8) {
					return g.ClassPenalty(class, in, out), g.ClassPenalty(class, in, out2)
				}))
			}
		}
		t.backward[c] = uint32(len(t.values))
		for in := range pc.In {
			for in2 := range pc.In {
				t.values = append(t.values, gamma(pc.Out, func(out uint8) (uint8, uint8) {
					return g.ClassPenalty(class, in, out), g.ClassPenalty(class, in2, out)
				}))
			}
		}
	}
	return t
}

// gamma scans n turns, each yielding the penalty via the reference slot and
// via the alternative slot.
func gamma(n uint8, turn func(uint8) (uint8, uint8)) int16 {
	best := int16(math.MinInt16)
	found := false
	for i := range n {
		ref, alt := turn(i)
		if ref == graph.RestrictedTurn {
			continue
		}
		if alt == graph.RestrictedTurn {
			return restrictedNeighbour
		}
		found = true
		best = max(best, int16(alt)-int16(ref))
	}
	if !found {
		return 0
	}
	return best
}

// Forward returns the bound for leaving node through out2 instead of out.
func (t *gammaTable) Forward(node uint32, out, out2 uint8) int16 {
	c := t.class(node)
	return t.values[t.forward[c]+uint32(out)*uint32(t.classes[c].Out)+uint32(out2)]
}

// Backward returns the bound for entering node through in2 instead of in.
func (t *gammaTable) Backward(node uint32, in, in2 uint8) int16 {
	c := t.class(node)
	return t.values[t.backward[c]+uint32(in)*uint32(t.classes[c].In)+uint32(in2)]
}
