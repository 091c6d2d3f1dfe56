package graph

import (
	"fmt"
	"io"
)

const (
	turnMagic   = "TRNROUTE"
	turnVersion = uint32(1)
)

// turnHeader is the format header of a turn hierarchy file.
type turnHeader struct {
	Network    networkHeader
	NumClasses uint32
	NumPenalty uint32
	NumEdges   uint32
}

type classRecord struct {
	Offset uint32
	In     uint8
	Out    uint8
	_      [2]uint8
}

const (
	flagForward = 1 << iota
	flagBackward
	flagShortcut
	flagBidirectional
)

// edgeRecord stores ID for original edges and Middle for shortcuts in Ref.
type edgeRecord struct {
	Source        uint32
	Target        uint32
	Distance      uint32
	OriginalEdges uint32
	Ref           uint32
	SourceSlot    uint8
	TargetSlot    uint8
	Flags         uint8
	_             uint8
}

// WriteTurnBinary serializes a turn hierarchy: node table with penalty class
// indices and coordinates, road table, optional road shapes, penalty classes,
// penalty bytes and the edge table of the contracted graph.
func WriteTurnBinary(path string, h *TurnHierarchy, level int) error {
	nh, err := newNetworkHeader(&h.Network)
	if err != nil {
		return err
	}
	g := h.Graph
	if nh.NumNodes != g.NumNodes() {
		return fmt.Errorf("network has %d nodes, graph %d", nh.NumNodes, g.NumNodes())
	}
	hdr := turnHeader{
		Network:    nh,
		NumClasses: uint32(len(g.Classes())),
		NumPenalty: uint32(len(g.PenaltyValues())),
		NumEdges:   g.NumEdges(),
	}
	return writeFramed(path, turnMagic, turnVersion, &hdr, level, func(w io.Writer) error {
		if err := writeNetwork(w, &h.Network); err != nil {
			return err
		}
		if err := writeSlice(w, g.NodeClasses()); err != nil {
			return fmt.Errorf("write node classes: %w", err)
		}
		classes := make([]classRecord, len(g.Classes()))
		for i, c := range g.Classes() {
			classes[i] = classRecord{Offset: c.Offset, In: c.In, Out: c.Out}
		}
		if err := writeSlice(w, classes); err != nil {
			return fmt.Errorf("write classes: %w", err)
		}
		if err := writeSlice(w, g.PenaltyValues()); err != nil {
			return fmt.Errorf("write penalties: %w", err)
		}
		edges := g.Edges()
		records := make([]edgeRecord, len(edges))
		for i, e := range edges {
			records[i] = encodeEdge(e)
		}
		if err := writeSlice(w, records); err != nil {
			return fmt.Errorf("write edges: %w", err)
		}
		return nil
	})
}

// ReadTurnBinary loads a hierarchy written by WriteTurnBinary. Any structural
// inconsistency is reported as ErrCorruptFile; nothing partially loaded is
// returned.
func ReadTurnBinary(path string) (*TurnHierarchy, error) {
	var (
		hdr          turnHeader
		network      Network
		nodeClasses  []uint32
		classRecords []classRecord
		penalties    []uint8
		records      []edgeRecord
	)
	err := readFramed(path, turnMagic, turnVersion, &hdr, func(r io.Reader) error {
		if err := hdr.Network.check(); err != nil {
			return err
		}
		if hdr.NumEdges > maxEdges || hdr.NumPenalty > maxEdges || hdr.NumClasses > maxNodes {
			return fmt.Errorf("%w: counts exceed limits", ErrCorruptFile)
		}
		var err error
		if network, err = readNetwork(r, hdr.Network); err != nil {
			return err
		}
		if nodeClasses, err = readSlice[uint32](r, int(hdr.Network.NumNodes)); err != nil {
			return bodyError("node classes", err)
		}
		if classRecords, err = readSlice[classRecord](r, int(hdr.NumClasses)); err != nil {
			return bodyError("classes", err)
		}
		if penalties, err = readSlice[uint8](r, int(hdr.NumPenalty)); err != nil {
			return bodyError("penalties", err)
		}
		if records, err = readSlice[edgeRecord](r, int(hdr.NumEdges)); err != nil {
			return bodyError("edges", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	classes := make([]PenaltyClass, len(classRecords))
	for i, c := range classRecords {
		classes[i] = PenaltyClass{In: c.In, Out: c.Out, Offset: c.Offset}
	}
	edges := make([]TurnEdge, len(records))
	for i, rec := range records {
		edges[i] = decodeEdge(rec)
	}
	if err := validateNetwork(&network); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	if err := validateTurnGraph(nodeClasses, classes, penalties, edges, hdr.Network.NumRoads); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	return &TurnHierarchy{
		Network: network,
		Graph:   NewTurnGraph(nodeClasses, classes, penalties, edges),
	}, nil
}

func encodeEdge(e TurnEdge) edgeRecord {
	rec := edgeRecord{
		Source:        e.Source,
		Target:        e.Target,
		Distance:      e.Data.Distance,
		OriginalEdges: e.Data.OriginalEdges,
		Ref:           e.Data.ID,
		SourceSlot:    e.SourceSlot,
		TargetSlot:    e.TargetSlot,
	}
	if e.Data.Forward {
		rec.Flags |= flagForward
	}
	if e.Data.Backward {
		rec.Flags |= flagBackward
	}
	if e.Data.Shortcut {
		rec.Flags |= flagShortcut
		rec.Ref = e.Data.Middle
	}
	return rec
}

func decodeEdge(rec edgeRecord) TurnEdge {
	e := TurnEdge{
		Source:     rec.Source,
		Target:     rec.Target,
		SourceSlot: rec.SourceSlot,
		TargetSlot: rec.TargetSlot,
		Data: EdgeData{
			Distance:      rec.Distance,
			OriginalEdges: rec.OriginalEdges,
			Forward:       rec.Flags&flagForward != 0,
			Backward:      rec.Flags&flagBackward != 0,
			Shortcut:      rec.Flags&flagShortcut != 0,
		},
	}
	if e.Data.Shortcut {
		e.Data.Middle = rec.Ref
	} else {
		e.Data.ID = rec.Ref
	}
	return e
}

// validateTurnGraph checks everything NewTurnGraph would otherwise panic on.
func validateTurnGraph(nodeClasses []uint32, classes []PenaltyClass, penalties []uint8, edges []TurnEdge, numRoads uint32) error {
	for i, c := range classes {
		if int(c.Offset)+int(c.In)*int(c.Out) > len(penalties) {
			return fmt.Errorf("penalty class %d exceeds penalty array", i)
		}
	}
	n := uint32(len(nodeClasses))
	for i, c := range nodeClasses {
		if int(c) >= len(classes) {
			return fmt.Errorf("node %d references penalty class %d of %d", i, c, len(classes))
		}
	}
	for i, e := range edges {
		if e.Source >= n || e.Target >= n {
			return fmt.Errorf("edge %d references node outside [0, %d)", i, n)
		}
		if i > 0 && edges[i-1].Source > e.Source {
			return fmt.Errorf("edges not sorted by source at %d", i)
		}
		if !e.Data.Forward && !e.Data.Backward {
			return fmt.Errorf("edge %d has no direction", i)
		}
		sc, tc := classes[nodeClasses[e.Source]], classes[nodeClasses[e.Target]]
		if e.Data.Forward && (e.SourceSlot >= sc.Out || e.TargetSlot >= tc.In) {
			return fmt.Errorf("forward edge %d slots outside degrees", i)
		}
		if e.Data.Backward && (e.SourceSlot >= sc.In || e.TargetSlot >= tc.Out) {
			return fmt.Errorf("backward edge %d slots outside degrees", i)
		}
		if e.Data.Shortcut && e.Data.Middle >= n {
			return fmt.Errorf("shortcut %d middle %d outside [0, %d)", i, e.Data.Middle, n)
		}
		if !e.Data.Shortcut && e.Data.ID >= numRoads {
			return fmt.Errorf("edge %d id %d outside [0, %d)", i, e.Data.ID, numRoads)
		}
	}
	return nil
}
