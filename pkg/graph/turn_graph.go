package graph

import (
	"fmt"
	"math"
	"sync/atomic"
)

// RestrictedTurn marks a forbidden turn in a penalty matrix.
const RestrictedTurn = uint8(255)

// EndEdge is returned by the find methods when no edge matches.
const EndEdge = math.MaxUint32

const dummyTarget = math.MaxUint32

// EdgeData is the payload of a turn graph edge. Distance is in deci-seconds.
type EdgeData struct {
	Distance      uint32
	OriginalEdges uint32
	Forward       bool
	Backward      bool
	Shortcut      bool
	ID            uint32 // input edge index, original edges only
	Middle        uint32 // bypassed junction, shortcuts only
}

// TurnEdge is an edge record as inserted into a TurnGraph.
// SourceSlot is the slot of the edge at Source, TargetSlot its slot at Target.
type TurnEdge struct {
	Source     uint32
	Target     uint32
	SourceSlot uint8
	TargetSlot uint8
	Data       EdgeData
}

// PenaltyClass is one shared penalty matrix: In*Out bytes starting at Offset.
type PenaltyClass struct {
	In     uint8
	Out    uint8
	Offset uint32
}

type turnNode struct {
	firstEdge     uint32
	numEdges      uint32
	class         uint32
	firstOriginal uint32
}

type turnEdge struct {
	target     uint32
	sourceSlot uint8
	targetSlot uint8
	data       EdgeData
}

// TurnGraph is an adjacency array over junctions whose edges carry local
// slots at both endpoints. Each junction owns a contiguous range with slack;
// growing a full range moves it to the end of the edge array.
//
// Methods that mutate a junction's range must not run concurrently for the
// same junction. Reads are safe while no writer is active.
type TurnGraph struct {
	nodes            []turnNode
	edges            []turnEdge
	classes          []PenaltyClass
	penalties        []uint8
	numEdges         atomic.Int64
	numOriginalEdges uint32
}

// NewTurnGraph builds a graph from per-node penalty class indices and edges
// sorted by source. It panics on inconsistent input.
func NewTurnGraph(nodeClasses []uint32, classes []PenaltyClass, penalties []uint8, edges []TurnEdge) *TurnGraph {
	g := &TurnGraph{
		nodes:     make([]turnNode, len(nodeClasses)),
		classes:   classes,
		penalties: penalties,
	}
	for i, c := range classes {
		if int(c.Offset)+int(c.In)*int(c.Out) > len(penalties) {
			panic(fmt.Sprintf("graph: penalty class %d exceeds penalty array", i))
		}
	}

	capacity := 0
	for e := 0; e < len(edges); {
		s := edges[e].Source
		end := e
		for end < len(edges) && edges[end].Source == s {
			end++
		}
		capacity += growCapacity(end - e)
		e = end
	}
	capacity += len(nodeClasses)
	g.edges = make([]turnEdge, 0, capacity)

	var firstOriginal uint32
	e := 0
	for node := range nodeClasses {
		class := nodeClasses[node]
		if int(class) >= len(classes) {
			panic(fmt.Sprintf("graph: node %d references penalty class %d of %d", node, class, len(classes)))
		}
		begin := e
		for e < len(edges) && edges[e].Source == uint32(node) {
			e++
		}
		g.nodes[node] = turnNode{
			firstEdge:     uint32(len(g.edges)),
			numEdges:      uint32(e - begin),
			class:         class,
			firstOriginal: firstOriginal,
		}
		c := classes[class]
		firstOriginal += uint32(max(c.In, c.Out))

		for _, te := range edges[begin:e] {
			g.edges = append(g.edges, turnEdge{target: te.Target, sourceSlot: te.SourceSlot, targetSlot: te.TargetSlot, data: te.Data})
		}
		for range growCapacity(e-begin) - (e - begin) {
			g.edges = append(g.edges, turnEdge{target: dummyTarget})
		}
	}
	if e != len(edges) {
		panic(fmt.Sprintf("graph: edges not sorted by source or source out of range at edge %d", e))
	}
	g.numOriginalEdges = firstOriginal
	g.numEdges.Store(int64(len(edges)))

	for node := range g.nodes {
		for i := g.BeginEdges(uint32(node)); i < g.EndEdges(uint32(node)); i++ {
			if err := g.checkEdge(uint32(node), i); err != nil {
				panic("graph: " + err.Error())
			}
		}
	}
	return g
}

// growCapacity returns the slot capacity reserved for n edges.
func growCapacity(n int) int {
	return n + n/5 + 1
}

// checkEdge verifies target range and slot bounds of edge e stored at source.
func (g *TurnGraph) checkEdge(source, e uint32) error {
	ed := &g.edges[e]
	if int(ed.target) >= len(g.nodes) {
		return fmt.Errorf("edge %d at node %d targets node %d of %d", e, source, ed.target, len(g.nodes))
	}
	sc := g.classes[g.nodes[source].class]
	tc := g.classes[g.nodes[ed.target].class]
	if ed.data.Forward && (ed.sourceSlot >= sc.Out || ed.targetSlot >= tc.In) {
		return fmt.Errorf("forward edge %d->%d slots (%d,%d) outside degrees (out %d, in %d)",
			source, ed.target, ed.sourceSlot, ed.targetSlot, sc.Out, tc.In)
	}
	if ed.data.Backward && (ed.sourceSlot >= sc.In || ed.targetSlot >= tc.Out) {
		return fmt.Errorf("backward edge %d->%d slots (%d,%d) outside degrees (in %d, out %d)",
			source, ed.target, ed.sourceSlot, ed.targetSlot, sc.In, tc.Out)
	}
	if !ed.data.Forward && !ed.data.Backward {
		return fmt.Errorf("edge %d->%d has no direction", source, ed.target)
	}
	return nil
}

func (g *TurnGraph) NumNodes() uint32 { return uint32(len(g.nodes)) }

// NumEdges returns the number of stored edge records.
func (g *TurnGraph) NumEdges() uint32 { return uint32(g.numEdges.Load()) }

// NumOriginalEdges returns the size of the (junction, slot) key space.
func (g *TurnGraph) NumOriginalEdges() uint32 { return g.numOriginalEdges }

func (g *TurnGraph) BeginEdges(node uint32) uint32 { return g.nodes[node].firstEdge }

func (g *TurnGraph) EndEdges(node uint32) uint32 {
	n := &g.nodes[node]
	return n.firstEdge + n.numEdges
}

// Degree returns the number of edges stored at node.
func (g *TurnGraph) Degree(node uint32) uint32 { return g.nodes[node].numEdges }

func (g *TurnGraph) Target(e uint32) uint32 { return g.edges[e].target }

func (g *TurnGraph) EdgeData(e uint32) EdgeData { return g.edges[e].data }

// OriginalEdgeSource returns the slot of edge e at the node storing it.
func (g *TurnGraph) OriginalEdgeSource(e uint32) uint8 { return g.edges[e].sourceSlot }

// OriginalEdgeTarget returns the slot of edge e at its target.
func (g *TurnGraph) OriginalEdgeTarget(e uint32) uint8 { return g.edges[e].targetSlot }

// FirstOriginalEdge returns the first key of node in the (junction, slot) key space.
func (g *TurnGraph) FirstOriginalEdge(node uint32) uint32 { return g.nodes[node].firstOriginal }

// OriginalKey returns the dense key of a slot at node.
func (g *TurnGraph) OriginalKey(node uint32, slot uint8) uint32 {
	return g.nodes[node].firstOriginal + uint32(slot)
}

func (g *TurnGraph) Class(node uint32) uint32 { return g.nodes[node].class }

func (g *TurnGraph) Classes() []PenaltyClass { return g.classes }

func (g *TurnGraph) PenaltyValues() []uint8 { return g.penalties }

func (g *TurnGraph) InDegree(node uint32) uint8 { return g.classes[g.nodes[node].class].In }

func (g *TurnGraph) OutDegree(node uint32) uint8 { return g.classes[g.nodes[node].class].Out }

// Penalty returns the cost of turning from in-slot in to out-slot out at node.
func (g *TurnGraph) Penalty(node uint32, in, out uint8) uint8 {
	return g.ClassPenalty(g.nodes[node].class, in, out)
}

// ClassPenalty returns one entry of a penalty class matrix.
func (g *TurnGraph) ClassPenalty(class uint32, in, out uint8) uint8 {
	c := g.classes[class]
	if in >= c.In || out >= c.Out {
		panic(fmt.Sprintf("graph: turn (%d,%d) outside %dx%d penalty class %d", in, out, c.In, c.Out, class))
	}
	return g.penalties[c.Offset+uint32(in)*uint32(c.Out)+uint32(out)]
}

// InsertEdge appends an edge to its source's range and returns its index.
func (g *TurnGraph) InsertEdge(te TurnEdge) uint32 {
	n := &g.nodes[te.Source]
	end := n.firstEdge + n.numEdges
	if int(end) >= len(g.edges) || g.edges[end].target != dummyTarget {
		newFirst := uint32(len(g.edges))
		newCap := growCapacity(int(n.numEdges)) + 1
		for range newCap {
			g.edges = append(g.edges, turnEdge{target: dummyTarget})
		}
		copy(g.edges[newFirst:], g.edges[n.firstEdge:end])
		for i := n.firstEdge; i < end; i++ {
			g.edges[i] = turnEdge{target: dummyTarget}
		}
		n.firstEdge = newFirst
		end = newFirst + n.numEdges
	}
	g.edges[end] = turnEdge{target: te.Target, sourceSlot: te.SourceSlot, targetSlot: te.TargetSlot, data: te.Data}
	n.numEdges++
	g.numEdges.Add(1)
	return end
}

// DeleteEdge removes edge e from source's range by swapping in the last edge.
func (g *TurnGraph) DeleteEdge(source, e uint32) {
	n := &g.nodes[source]
	if e < n.firstEdge || e >= n.firstEdge+n.numEdges {
		panic(fmt.Sprintf("graph: edge %d not stored at node %d", e, source))
	}
	last := n.firstEdge + n.numEdges - 1
	g.edges[e] = g.edges[last]
	g.edges[last] = turnEdge{target: dummyTarget}
	n.numEdges--
	g.numEdges.Add(-1)
}

// DeleteEdgesTo removes every edge from source to target and returns how many
// were removed. Safe to call concurrently for distinct sources.
func (g *TurnGraph) DeleteEdgesTo(source, target uint32) int {
	n := &g.nodes[source]
	end := n.firstEdge + n.numEdges
	removed := 0
	for i := n.firstEdge; i < end; {
		if g.edges[i].target != target {
			i++
			continue
		}
		end--
		g.edges[i] = g.edges[end]
		g.edges[end] = turnEdge{target: dummyTarget}
		removed++
	}
	n.numEdges -= uint32(removed)
	g.numEdges.Add(-int64(removed))
	return removed
}

// FindEdge returns the edge from -> to with the given slots, or EndEdge.
func (g *TurnGraph) FindEdge(from, to uint32, sourceSlot, targetSlot uint8) uint32 {
	for e := g.BeginEdges(from); e < g.EndEdges(from); e++ {
		ed := &g.edges[e]
		if ed.target == to && ed.sourceSlot == sourceSlot && ed.targetSlot == targetSlot {
			return e
		}
	}
	return EndEdge
}

// FindOriginalEdge returns a non-shortcut edge at from using slot, flagged
// forward or backward, or EndEdge.
func (g *TurnGraph) FindOriginalEdge(from uint32, slot uint8, forward bool) uint32 {
	for e := g.BeginEdges(from); e < g.EndEdges(from); e++ {
		ed := &g.edges[e]
		if ed.data.Shortcut || ed.sourceSlot != slot {
			continue
		}
		if (forward && ed.data.Forward) || (!forward && ed.data.Backward) {
			return e
		}
	}
	return EndEdge
}

// Edges returns a copy of every stored edge, grouped by source in node order.
func (g *TurnGraph) Edges() []TurnEdge {
	out := make([]TurnEdge, 0, g.NumEdges())
	for node := range g.NumNodes() {
		for e := g.BeginEdges(node); e < g.EndEdges(node); e++ {
			ed := &g.edges[e]
			out = append(out, TurnEdge{Source: node, Target: ed.target, SourceSlot: ed.sourceSlot, TargetSlot: ed.targetSlot, Data: ed.data})
		}
	}
	return out
}

// NodeClasses returns the penalty class index of every node.
func (g *TurnGraph) NodeClasses() []uint32 {
	out := make([]uint32, len(g.nodes))
	for i := range g.nodes {
		out[i] = g.nodes[i].class
	}
	return out
}
