package osm

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"

	"turn_router/pkg/geo"
	"turn_router/pkg/graph"
)

// carHighways lists highway tag values accessible by car with their default
// speed in km/h.
var carHighways = map[string]float64{
	"motorway":       100,
	"motorway_link":  60,
	"trunk":          80,
	"trunk_link":     50,
	"primary":        65,
	"primary_link":   40,
	"secondary":      55,
	"secondary_link": 35,
	"tertiary":       45,
	"tertiary_link":  30,
	"unclassified":   35,
	"residential":    25,
	"living_street":  10,
	"service":        15,
}

// isCarAccessible returns true if the way is drivable by car.
func isCarAccessible(tags osm.Tags) bool {
	hw := tags.Find("highway")
	if _, ok := carHighways[hw]; !ok {
		return false
	}

	// Skip area highways (pedestrian plazas).
	if tags.Find("area") == "yes" {
		return false
	}

	// Skip restricted access.
	access := tags.Find("access")
	if access == "no" || access == "private" {
		return false
	}
	if tags.Find("motor_vehicle") == "no" || tags.Find("motorcar") == "no" {
		return false
	}

	return true
}

// directionFlags returns (forward, backward) based on highway type and oneway tags.
func directionFlags(tags osm.Tags) (forward, backward bool) {
	// Default: bidirectional.
	forward = true
	backward = true

	hw := tags.Find("highway")

	// Implied oneway for motorways and roundabouts.
	if hw == "motorway" || hw == "motorway_link" || tags.Find("junction") == "roundabout" {
		backward = false
	}

	// Explicit oneway tag overrides.
	switch tags.Find("oneway") {
	case "yes", "true", "1":
		forward = true
		backward = false
	case "-1", "reverse":
		forward = false
		backward = true
	case "no":
		forward = true
		backward = true
	case "reversible", "alternating":
		// Time-dependent, skip entirely.
		forward = false
		backward = false
	}

	return forward, backward
}

// speedKMH returns the travel speed of a way: its maxspeed when it parses,
// otherwise the default of its highway class.
func speedKMH(tags osm.Tags) float64 {
	if v, ok := parseMaxspeed(tags.Find("maxspeed")); ok {
		return v
	}
	return carHighways[tags.Find("highway")]
}

// parseMaxspeed understands plain km/h values and values suffixed with mph.
func parseMaxspeed(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	factor := 1.0
	if rest, ok := strings.CutSuffix(s, "mph"); ok {
		s = strings.TrimSpace(rest)
		factor = 1.609344
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return 0, false
	}
	return v * factor, true
}

// BBox defines a geographic bounding box for filtering.
// If non-zero, only edges with both endpoints inside the box are kept.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// IsZero returns true if the bbox is unset.
func (b BBox) IsZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLng == 0 && b.MaxLng == 0
}

// Contains returns true if the point is inside the bounding box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ParseOptions configures the OSM parser.
type ParseOptions struct {
	BBox BBox // if non-zero, filter edges to this bounding box
	// UTurnPenalty is charged in seconds for turns sharper than UTurnAngle
	// degrees. A negative value forbids them.
	UTurnPenalty float64
	UTurnAngle   float64
}

// DefaultParseOptions returns the options used for car routing.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{UTurnPenalty: 30, UTurnAngle: 170}
}

// wayInfo holds parsed way data collected during pass 1.
type wayInfo struct {
	ID       osm.WayID
	NodeIDs  []osm.NodeID
	Forward  bool
	Backward bool
	SpeedKMH float64
}

// restriction is a from-way/via-node/to-way turn restriction. Only forbids
// every exit except To; otherwise the single turn From->To is forbidden.
type restriction struct {
	From osm.WayID
	Via  osm.NodeID
	To   osm.WayID
	Only bool
}

// extract collects the parts of an OSM file needed to build the routing input.
type extract struct {
	ways         []wayInfo
	restrictions []restriction
	refs         map[osm.NodeID]int // way references, endpoints count twice
	lat          map[osm.NodeID]float64
	lon          map[osm.NodeID]float64
}

func newExtract() *extract {
	return &extract{
		refs: make(map[osm.NodeID]int),
		lat:  make(map[osm.NodeID]float64),
		lon:  make(map[osm.NodeID]float64),
	}
}

func (ex *extract) addWay(w *osm.Way) {
	if !isCarAccessible(w.Tags) || len(w.Nodes) < 2 {
		return
	}
	fwd, bwd := directionFlags(w.Tags)
	if !fwd && !bwd {
		return
	}
	ids := make([]osm.NodeID, len(w.Nodes))
	for i, wn := range w.Nodes {
		ids[i] = wn.ID
		ex.refs[wn.ID]++
	}
	ex.refs[ids[0]]++
	ex.refs[ids[len(ids)-1]]++
	ex.ways = append(ex.ways, wayInfo{
		ID:       w.ID,
		NodeIDs:  ids,
		Forward:  fwd,
		Backward: bwd,
		SpeedKMH: speedKMH(w.Tags),
	})
}

func (ex *extract) addRelation(r *osm.Relation) {
	if r.Tags.Find("type") != "restriction" {
		return
	}
	if strings.Contains(r.Tags.Find("except"), "motorcar") {
		return
	}
	kind := r.Tags.Find("restriction")
	if kind == "" {
		kind = r.Tags.Find("restriction:motorcar")
	}
	var res restriction
	switch {
	case strings.HasPrefix(kind, "no_"):
	case strings.HasPrefix(kind, "only_"):
		res.Only = true
	default:
		return
	}

	var from, via, to int
	for _, m := range r.Members {
		switch {
		case m.Role == "from" && m.Type == osm.TypeWay:
			res.From = osm.WayID(m.Ref)
			from++
		case m.Role == "to" && m.Type == osm.TypeWay:
			res.To = osm.WayID(m.Ref)
			to++
		case m.Role == "via" && m.Type == osm.TypeNode:
			res.Via = osm.NodeID(m.Ref)
			via++
		case m.Role == "via":
			return // via-way restrictions are not supported
		}
	}
	if from != 1 || via != 1 || to != 1 {
		return
	}
	ex.restrictions = append(ex.restrictions, res)
}

func (ex *extract) addNode(n *osm.Node) {
	if _, needed := ex.refs[n.ID]; !needed {
		return
	}
	ex.lat[n.ID] = n.Lat
	ex.lon[n.ID] = n.Lon
}

// Parse reads an OSM PBF file and returns the junction graph for car routing
// with turn penalties from restriction relations.
// The reader is consumed twice (seeks back to start for the second pass),
// so it must implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, opt ParseOptions, logger *zap.Logger) (*graph.Input, error) {
	log := logger.Sugar()
	ex := newExtract()

	// Pass 1: ways and restriction relations.
	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Way:
			ex.addWay(o)
		case *osm.Relation:
			ex.addRelation(o)
		}
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 1 (ways): %w", err)
	}
	scanner.Close()
	log.Infof("pass 1 complete: %d ways, %d restrictions, %d referenced nodes",
		len(ex.ways), len(ex.restrictions), len(ex.refs))

	// Pass 2: coordinates of referenced nodes only.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}
	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true
	for scanner.Scan() {
		if n, ok := scanner.Object().(*osm.Node); ok {
			ex.addNode(n)
		}
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 2 (nodes): %w", err)
	}
	scanner.Close()
	log.Infof("pass 2 complete: %d node coordinates collected", len(ex.lat))

	return ex.build(opt, logger)
}

// rawEdge is a way section between two junctions in travel direction.
type rawEdge struct {
	way     osm.WayID
	nodes   []osm.NodeID // junction, shape nodes, junction
	seconds float64
	bidir   bool
}

// junctions assigns dense indices to junction nodes.
type junctions struct {
	index map[osm.NodeID]uint32
	ids   []osm.NodeID
}

func (j *junctions) get(id osm.NodeID) uint32 {
	if i, ok := j.index[id]; ok {
		return i
	}
	i := uint32(len(j.ids))
	j.index[id] = i
	j.ids = append(j.ids, id)
	return i
}

// split cuts the ways at junctions into directed edges.
func (ex *extract) split(opt ParseOptions) (edges []rawEdge, missing, outside, loops int) {
	useBBox := !opt.BBox.IsZero()
	for _, w := range ex.ways {
		start := 0
		for i := 1; i < len(w.NodeIDs); i++ {
			if ex.refs[w.NodeIDs[i]] < 2 && i != len(w.NodeIDs)-1 {
				continue
			}
			section := w.NodeIDs[start : i+1]
			start = i

			meters, ok := ex.length(section)
			if !ok {
				missing++
				continue
			}
			a, b := section[0], section[len(section)-1]
			if useBBox && (!opt.BBox.Contains(ex.lat[a], ex.lon[a]) || !opt.BBox.Contains(ex.lat[b], ex.lon[b])) {
				outside++
				continue
			}
			if a == b {
				loops++
				continue
			}
			nodes := append([]osm.NodeID(nil), section...)
			if !w.Forward {
				for l, r := 0, len(nodes)-1; l < r; l, r = l+1, r-1 {
					nodes[l], nodes[r] = nodes[r], nodes[l]
				}
			}
			edges = append(edges, rawEdge{
				way:     w.ID,
				nodes:   nodes,
				seconds: meters / (w.SpeedKMH / 3.6),
				bidir:   w.Forward && w.Backward,
			})
		}
	}
	return edges, missing, outside, loops
}

// length returns the length in meters along nodes, false when a coordinate is
// missing.
func (ex *extract) length(nodes []osm.NodeID) (float64, bool) {
	var meters float64
	for i, id := range nodes {
		if _, ok := ex.lat[id]; !ok {
			return 0, false
		}
		if i > 0 {
			prev := nodes[i-1]
			meters += geo.Haversine(ex.lat[prev], ex.lon[prev], ex.lat[id], ex.lon[id])
		}
	}
	return meters, true
}

// build turns the collected ways, nodes and restrictions into routing input.
// Bidirectional edges take the lowest slots of each junction so that their
// in- and out-slot coincide.
func (ex *extract) build(opt ParseOptions, logger *zap.Logger) (*graph.Input, error) {
	log := logger.Sugar()
	raw, missing, outside, loops := ex.split(opt)
	if missing > 0 {
		log.Warnf("skipped %d way sections due to missing node coordinates", missing)
	}
	if outside > 0 {
		log.Infof("filtered %d way sections outside bounding box", outside)
	}
	if loops > 0 {
		log.Debugf("dropped %d closed way sections", loops)
	}

	jn := &junctions{index: make(map[osm.NodeID]uint32)}
	in := &graph.Input{
		Edges:    make([]graph.Edge, len(raw)),
		Geometry: &graph.Geometry{First: make([]uint32, 0, len(raw)+1)},
	}
	for i, r := range raw {
		in.Edges[i] = graph.Edge{
			Source:        jn.get(r.nodes[0]),
			Target:        jn.get(r.nodes[len(r.nodes)-1]),
			Distance:      r.seconds,
			Bidirectional: r.bidir,
		}
		in.Geometry.First = append(in.Geometry.First, uint32(len(in.Geometry.Lat)))
		for _, id := range r.nodes[1 : len(r.nodes)-1] {
			in.Geometry.Lat = append(in.Geometry.Lat, ex.lat[id])
			in.Geometry.Lon = append(in.Geometry.Lon, ex.lon[id])
		}
	}
	in.Geometry.First = append(in.Geometry.First, uint32(len(in.Geometry.Lat)))

	n := len(jn.ids)
	in.Nodes = make([]graph.Node, n)
	for i, id := range jn.ids {
		in.Nodes[i] = graph.Node{Lat: ex.lat[id], Lon: ex.lon[id]}
	}

	inSlots, outSlots, err := graph.AssignSlots(n, in.Edges)
	if err != nil {
		return nil, err
	}
	in.Penalties.InDegree, in.Penalties.OutDegree = graph.Degrees(inSlots, outSlots)
	offset := make([]int, n+1)
	for v := range n {
		offset[v+1] = offset[v] + len(inSlots[v])*len(outSlots[v])
	}
	in.Penalties.Values = make([]float64, offset[n])

	uturns := 0
	for v := range n {
		for i, a := range inSlots[v] {
			for o, b := range outSlots[v] {
				if ex.isUTurn(raw, a, b, opt.UTurnAngle) {
					in.Penalties.Values[offset[v]+i*len(outSlots[v])+o] = opt.UTurnPenalty
					uturns++
				}
			}
		}
	}

	applied := 0
	for _, res := range ex.restrictions {
		v, ok := jn.index[res.Via]
		if !ok {
			continue
		}
		outs := outSlots[v]
		row := func(i int) []float64 {
			return in.Penalties.Values[offset[v]+i*len(outs) : offset[v]+(i+1)*len(outs)]
		}
		matched := false
		for i, a := range inSlots[v] {
			if raw[a.Edge].way != res.From {
				continue
			}
			for o, b := range outs {
				if (raw[b.Edge].way == res.To) != res.Only {
					row(i)[o] = -1
					matched = true
				}
			}
		}
		if matched {
			applied++
		}
	}

	log.Infof("built %d junctions, %d edges, %d u-turn penalties, %d of %d restrictions applied",
		n, len(in.Edges), uturns, applied, len(ex.restrictions))
	return in, in.Validate()
}

// isUTurn reports whether entering a junction through a and leaving through b
// turns by at least limit degrees.
func (ex *extract) isUTurn(raw []rawEdge, a, b graph.SlotRef, limit float64) bool {
	if a.Edge == b.Edge {
		return true
	}
	in, out := raw[a.Edge].nodes, raw[b.Edge].nodes
	prev, via := in[len(in)-2], in[len(in)-1]
	if a.Reverse {
		prev, via = in[1], in[0]
	}
	next := out[1]
	if b.Reverse {
		next = out[len(out)-2]
	}
	angle := geo.TurnAngle(ex.lat[prev], ex.lon[prev], ex.lat[via], ex.lon[via], ex.lat[next], ex.lon[next])
	return math.Abs(angle) >= limit
}
