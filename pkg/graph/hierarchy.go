package graph

// Road is an input edge after slot remapping, indexed by its input position.
// Distance is in deci-seconds; zero marks an edge dropped during import.
type Road struct {
	Source        uint32
	Target        uint32
	SourceSlot    uint8
	TargetSlot    uint8
	Distance      uint32
	Bidirectional bool
}

// Network is the geographic side of a hierarchy: junction coordinates, the
// road table and optional road shapes.
type Network struct {
	NodeLat  []float64
	NodeLon  []float64
	Roads    []Road
	Geometry *Geometry // optional
}

// NumNodes returns the number of junctions.
func (n *Network) NumNodes() uint32 { return uint32(len(n.NodeLat)) }

// RoadShape returns the full polyline of road id in travel direction from its
// source, endpoints included.
func (n *Network) RoadShape(id uint32) (lat, lon []float64) {
	r := n.Roads[id]
	midLat, midLon := n.Geometry.Shape(id)
	lat = make([]float64, 0, len(midLat)+2)
	lon = make([]float64, 0, len(midLon)+2)
	lat = append(lat, n.NodeLat[r.Source])
	lon = append(lon, n.NodeLon[r.Source])
	lat = append(lat, midLat...)
	lon = append(lon, midLon...)
	lat = append(lat, n.NodeLat[r.Target])
	lon = append(lon, n.NodeLon[r.Target])
	return lat, lon
}

// TurnHierarchy is a turn graph together with the network needed to locate
// queries on it.
type TurnHierarchy struct {
	Network
	Graph *TurnGraph
}
