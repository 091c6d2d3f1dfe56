package graph

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedInput is returned when importer data violates slot or degree bounds.
var ErrMalformedInput = errors.New("malformed routing input")

// Node is a junction as delivered by an importer.
type Node struct {
	Lat float64
	Lon float64
}

// Edge is a directed road segment between two junctions.
// EdgeIDAtSource is the out-slot at Source and EdgeIDAtTarget the in-slot at
// Target. A bidirectional edge also uses them as in-slot at Source and
// out-slot at Target.
type Edge struct {
	Source         uint32
	Target         uint32
	EdgeIDAtSource uint8
	EdgeIDAtTarget uint8
	Distance       float64 // seconds
	Bidirectional  bool
}

// Penalties holds the turn penalty matrix of every junction, flattened in
// junction order, each matrix row-major by in-slot. Values are seconds; a
// negative value forbids the turn.
type Penalties struct {
	InDegree  []uint8
	OutDegree []uint8
	Values    []float64
}

// Importer delivers the raw routing graph.
type Importer interface {
	RoutingNodes() ([]Node, error)
	RoutingEdges() ([]Edge, error)
	RoutingPenalties() (*Penalties, error)
}

// Geometry holds the intermediate shape points of every edge, excluding the
// junctions themselves. Points of edge i are [First[i], First[i+1]).
type Geometry struct {
	First []uint32
	Lat   []float64
	Lon   []float64
}

// Shape returns the intermediate points of edge i.
func (g *Geometry) Shape(i uint32) (lat, lon []float64) {
	if g == nil || int(i)+1 >= len(g.First) {
		return nil, nil
	}
	return g.Lat[g.First[i]:g.First[i+1]], g.Lon[g.First[i]:g.First[i+1]]
}

// GeometryImporter is implemented by importers that also deliver edge shapes.
type GeometryImporter interface {
	RoutingGeometry() (*Geometry, error)
}

// Input is an in-memory Importer.
type Input struct {
	Nodes     []Node
	Edges     []Edge
	Penalties Penalties
	Geometry  *Geometry
}

func (in *Input) RoutingNodes() ([]Node, error) { return in.Nodes, nil }

func (in *Input) RoutingEdges() ([]Edge, error) { return in.Edges, nil }

func (in *Input) RoutingPenalties() (*Penalties, error) { return &in.Penalties, nil }

func (in *Input) RoutingGeometry() (*Geometry, error) { return in.Geometry, nil }

// Validate checks the degree and slot bounds of the input.
func (in *Input) Validate() error {
	return ValidateInput(in.Nodes, in.Edges, &in.Penalties)
}

// ValidateInput checks that every edge slot lies inside the degree of its
// junction and that the penalty array matches the declared degrees.
func ValidateInput(nodes []Node, edges []Edge, p *Penalties) error {
	n := len(nodes)
	if len(p.InDegree) != n || len(p.OutDegree) != n {
		return fmt.Errorf("%w: %d nodes but %d in-degrees and %d out-degrees",
			ErrMalformedInput, n, len(p.InDegree), len(p.OutDegree))
	}
	var size int
	for i := range n {
		size += int(p.InDegree[i]) * int(p.OutDegree[i])
	}
	if len(p.Values) != size {
		return fmt.Errorf("%w: penalty array has %d values, degrees require %d", ErrMalformedInput, len(p.Values), size)
	}
	for i, e := range edges {
		if math.IsNaN(e.Distance) || e.Distance < 0 {
			return fmt.Errorf("%w: edge %d has distance %v", ErrMalformedInput, i, e.Distance)
		}
		if int(e.Source) >= n || int(e.Target) >= n {
			return fmt.Errorf("%w: edge %d references node outside [0, %d)", ErrMalformedInput, i, n)
		}
		if e.EdgeIDAtSource >= p.OutDegree[e.Source] {
			return fmt.Errorf("%w: edge %d source slot %d >= out-degree %d", ErrMalformedInput, i, e.EdgeIDAtSource, p.OutDegree[e.Source])
		}
		if e.EdgeIDAtTarget >= p.InDegree[e.Target] {
			return fmt.Errorf("%w: edge %d target slot %d >= in-degree %d", ErrMalformedInput, i, e.EdgeIDAtTarget, p.InDegree[e.Target])
		}
		if !e.Bidirectional {
			continue
		}
		if e.EdgeIDAtSource >= p.InDegree[e.Source] {
			return fmt.Errorf("%w: bidirectional edge %d source slot %d >= in-degree %d", ErrMalformedInput, i, e.EdgeIDAtSource, p.InDegree[e.Source])
		}
		if e.EdgeIDAtTarget >= p.OutDegree[e.Target] {
			return fmt.Errorf("%w: bidirectional edge %d target slot %d >= out-degree %d", ErrMalformedInput, i, e.EdgeIDAtTarget, p.OutDegree[e.Target])
		}
	}
	return nil
}
