package ch

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"turn_router/pkg/graph"
	"turn_router/pkg/penalty"
)

// maxDistance drops edges longer than a day of travel, in deci-seconds.
const maxDistance = 864000

// BuildTurnGraph reads an importer, classifies its penalty tables and builds
// the uncontracted turn graph.
func BuildTurnGraph(imp graph.Importer, cfg Config, logger *zap.Logger) (*graph.TurnHierarchy, error) {
	log := logger.Sugar()
	nodes, err := imp.RoutingNodes()
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	edges, err := imp.RoutingEdges()
	if err != nil {
		return nil, fmt.Errorf("read edges: %w", err)
	}
	pens, err := imp.RoutingPenalties()
	if err != nil {
		return nil, fmt.Errorf("read penalties: %w", err)
	}
	var geometry *graph.Geometry
	if gi, ok := imp.(graph.GeometryImporter); ok {
		if geometry, err = gi.RoutingGeometry(); err != nil {
			return nil, fmt.Errorf("read geometry: %w", err)
		}
	}
	if err := graph.ValidateInput(nodes, edges, pens); err != nil {
		return nil, err
	}
	if geometry != nil && len(geometry.First) != len(edges)+1 {
		return nil, fmt.Errorf("%w: geometry index has %d entries for %d edges",
			graph.ErrMalformedInput, len(geometry.First), len(edges))
	}
	log.Infof("input: %d junctions, %d edges, %d turn penalties", len(nodes), len(edges), len(pens.Values))

	start := time.Now()
	tables := &penalty.Tables{
		InDegree:  pens.InDegree,
		OutDegree: pens.OutDegree,
		Prefix:    bidirectionalPrefix(len(nodes), edges),
		Values:    penalty.QuantizeAll(pens.Values),
	}
	limit := cfg.PermutationLimit
	if limit <= 0 {
		limit = penalty.DefaultPermutationLimit
	}
	res, stats := penalty.Classify(tables, limit)
	log.Infof("penalty classes: tested %d tables, %d permutations, %d skipped on budget, %d classes left (%s)",
		stats.Tested, stats.Permutations, stats.Skipped, stats.Classes, time.Since(start).Round(time.Millisecond))

	remapped := slices.Clone(edges)
	res.RemapEdges(remapped)
	turnEdges, roads, skipped := buildTurnEdges(remapped)
	if skipped > 0 {
		log.Warnf("skipped %d edges longer than %d deci-seconds", skipped, maxDistance)
	}

	h := &graph.TurnHierarchy{
		Network: graph.Network{
			NodeLat:  make([]float64, len(nodes)),
			NodeLon:  make([]float64, len(nodes)),
			Roads:    roads,
			Geometry: geometry,
		},
		Graph: graph.NewTurnGraph(res.NodeClass, res.Classes, res.Penalties, turnEdges),
	}
	for i, n := range nodes {
		h.NodeLat[i] = n.Lat
		h.NodeLon[i] = n.Lon
	}
	log.Infof("turn graph: %d junctions, %d edge records, %d original edge keys",
		h.Graph.NumNodes(), h.Graph.NumEdges(), h.Graph.NumOriginalEdges())
	return h, nil
}

// Preprocess builds the turn graph, contracts it and writes the hierarchy to
// path. An empty path skips writing.
func Preprocess(imp graph.Importer, path string, cfg Config, logger *zap.Logger) (*graph.TurnHierarchy, error) {
	h, err := BuildTurnGraph(imp, cfg, logger)
	if err != nil {
		return nil, err
	}
	NewTurnContractor(h.Graph, cfg, logger).Run()
	if path == "" {
		return h, nil
	}
	start := time.Now()
	if err := graph.WriteTurnBinary(path, h, cfg.CompressionLevel); err != nil {
		return nil, fmt.Errorf("write hierarchy: %w", err)
	}
	logger.Info("hierarchy written", zap.String("path", path), zap.Duration("took", time.Since(start)))
	return h, nil
}

// bidirectionalPrefix returns per junction one past the highest slot used by a
// bidirectional edge.
func bidirectionalPrefix(n int, edges []graph.Edge) []uint8 {
	prefix := make([]uint8, n)
	for _, e := range edges {
		if !e.Bidirectional {
			continue
		}
		prefix[e.Source] = max(prefix[e.Source], e.EdgeIDAtSource+1)
		prefix[e.Target] = max(prefix[e.Target], e.EdgeIDAtTarget+1)
	}
	return prefix
}

// buildTurnEdges stores every input edge at both endpoints and returns the
// records sorted by source and slot, the per-edge road table and the number of
// edges dropped for length. A bidirectional loop gets both records too: its
// two travel directions use different slot pairs.
func buildTurnEdges(edges []graph.Edge) ([]graph.TurnEdge, []graph.Road, int) {
	out := make([]graph.TurnEdge, 0, 2*len(edges))
	roads := make([]graph.Road, len(edges))
	skipped := 0
	for i, e := range edges {
		roads[i] = graph.Road{
			Source:        e.Source,
			Target:        e.Target,
			SourceSlot:    e.EdgeIDAtSource,
			TargetSlot:    e.EdgeIDAtTarget,
			Bidirectional: e.Bidirectional,
		}
		d := e.Distance*10 + 0.5
		if d > maxDistance {
			skipped++
			continue
		}
		dist := max(uint32(math.Max(d, 0)), 1)
		roads[i].Distance = dist

		data := graph.EdgeData{Distance: dist, OriginalEdges: 1, ID: uint32(i)}
		fwd := data
		fwd.Forward = true
		fwd.Backward = e.Bidirectional
		out = append(out, graph.TurnEdge{Source: e.Source, Target: e.Target, SourceSlot: e.EdgeIDAtSource, TargetSlot: e.EdgeIDAtTarget, Data: fwd})
		bwd := data
		bwd.Forward = e.Bidirectional
		bwd.Backward = true
		out = append(out, graph.TurnEdge{Source: e.Target, Target: e.Source, SourceSlot: e.EdgeIDAtTarget, TargetSlot: e.EdgeIDAtSource, Data: bwd})
	}
	slices.SortStableFunc(out, func(a, b graph.TurnEdge) int {
		return cmp.Or(
			cmp.Compare(a.Source, b.Source),
			cmp.Compare(a.SourceSlot, b.SourceSlot),
			cmp.Compare(a.Target, b.Target),
			cmp.Compare(a.TargetSlot, b.TargetSlot),
		)
	})
	return out, roads, skipped
}
