package ch

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"turn_router/pkg/graph"
	"turn_router/pkg/pq"
)

// buildTestGraph creates a small graph for testing:
//
//	0 ---100--- 1 ---200--- 2
//	|                       |
//	300                    400
//	|                       |
//	3 ---500--- 4 ---600--- 5
//
// All edges are bidirectional.
func buildTestGraph() *graph.Graph {
	return graph.BuildGraph(6, []graph.Road{
		{Source: 0, Target: 1, Distance: 100, Bidirectional: true},
		{Source: 1, Target: 2, Distance: 200, Bidirectional: true},
		{Source: 0, Target: 3, Distance: 300, Bidirectional: true},
		{Source: 2, Target: 5, Distance: 400, Bidirectional: true},
		{Source: 3, Target: 4, Distance: 500, Bidirectional: true},
		{Source: 4, Target: 5, Distance: 600, Bidirectional: true},
	})
}

// randomRoads returns m random roads over n nodes, a third of them one-way.
func randomRoads(rng *rand.Rand, n, m int) []graph.Road {
	roads := make([]graph.Road, m)
	for i := range roads {
		roads[i] = graph.Road{
			Source:        uint32(rng.IntN(n)),
			Target:        uint32(rng.IntN(n)),
			Distance:      uint32(1 + rng.IntN(1000)),
			Bidirectional: rng.IntN(3) > 0,
		}
	}
	return roads
}

// distancesFrom runs a one-to-all Dijkstra over a CSR adjacency.
func distancesFrom(firstOut, head, weight []uint32, source uint32) []int64 {
	n := len(firstOut) - 1
	h := pq.New[struct{}](n)
	h.Insert(source, 0, struct{}{})
	for !h.Empty() {
		d := h.MinDistance()
		u := h.DeleteMin()
		for e := firstOut[u]; e < firstOut[u+1]; e++ {
			v, nd := head[e], d+int64(weight[e])
			switch {
			case !h.WasInserted(v):
				h.Insert(v, nd, struct{}{})
			case !h.WasRemoved(v) && nd < h.Distance(v):
				h.DecreaseKey(v, nd)
			}
		}
	}
	dist := make([]int64, n)
	for v := range dist {
		dist[v] = math.MaxInt64
		if h.WasInserted(uint32(v)) {
			dist[v] = h.Distance(uint32(v))
		}
	}
	return dist
}

func plainDijkstra(g *graph.Graph, source, target uint32) uint32 {
	d := distancesFrom(g.FirstOut, g.Head, g.Weight, source)[target]
	if d == math.MaxInt64 {
		return math.MaxUint32
	}
	return uint32(d)
}

// chDijkstra meets exhaustive upward searches from both ends.
func chDijkstra(ch *graph.CHGraph, source, target uint32) uint32 {
	fwd := distancesFrom(ch.FwdFirstOut, ch.FwdHead, ch.FwdWeight, source)
	bwd := distancesFrom(ch.BwdFirstOut, ch.BwdHead, ch.BwdWeight, target)
	best := int64(math.MaxUint32)
	for v := range fwd {
		if fwd[v] != math.MaxInt64 && bwd[v] != math.MaxInt64 {
			best = min(best, fwd[v]+bwd[v])
		}
	}
	return uint32(best)
}

func TestContractSmallGraph(t *testing.T) {
	g := buildTestGraph()
	require.Equal(t, uint32(6), g.NumNodes)

	ch := Contract(g, DefaultPlainConfig(), zap.NewNop())
	require.Equal(t, uint32(6), ch.NumNodes)

	// Ranks are a permutation of 0..5.
	rankSeen := make(map[uint32]bool)
	for _, r := range ch.Rank {
		assert.Less(t, r, ch.NumNodes)
		rankSeen[r] = true
	}
	assert.Len(t, rankSeen, int(ch.NumNodes))

	// Overlay edges always lead upward.
	for u := range ch.NumNodes {
		for e := ch.FwdFirstOut[u]; e < ch.FwdFirstOut[u+1]; e++ {
			assert.Greater(t, ch.Rank[ch.FwdHead[e]], ch.Rank[u])
		}
		for e := ch.BwdFirstOut[u]; e < ch.BwdFirstOut[u+1]; e++ {
			assert.Greater(t, ch.Rank[ch.BwdHead[e]], ch.Rank[u])
		}
	}
}

func TestCHCorrectnessAllPairs(t *testing.T) {
	g := buildTestGraph()
	ch := Contract(g, DefaultPlainConfig(), zap.NewNop())

	for s := range g.NumNodes {
		for d := range g.NumNodes {
			if s == d {
				continue
			}
			assert.Equal(t, plainDijkstra(g, s, d), chDijkstra(ch, s, d), "s=%d d=%d", s, d)
		}
	}
}

func TestCHRandomGraphs(t *testing.T) {
	configs := map[string]PlainConfig{
		"default":      DefaultPlainConfig(),
		"tight search": {MaxSettled: 3, MaxHops: 1},
		"core":         {MaxSettled: 500, MaxHops: 5, CoreShortcutLimit: 2},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(42, 7))
			for range 5 {
				g := graph.BuildGraph(40, randomRoads(rng, 40, 90))
				ch := Contract(g, cfg, zap.NewNop())
				for s := range g.NumNodes {
					for d := range g.NumNodes {
						if s != d {
							require.Equal(t, plainDijkstra(g, s, d), chDijkstra(ch, s, d), "s=%d d=%d", s, d)
						}
					}
				}
			}
		})
	}
}

func TestContractEmptyGraph(t *testing.T) {
	ch := Contract(graph.BuildGraph(0, nil), DefaultPlainConfig(), zap.NewNop())
	assert.Equal(t, uint32(0), ch.NumNodes)
}

func TestContractLinearGraph(t *testing.T) {
	// Linear chain: 0 -> 1 -> 2 -> 3 -> 4 (all one-way)
	g := graph.BuildGraph(5, []graph.Road{
		{Source: 0, Target: 1, Distance: 100},
		{Source: 1, Target: 2, Distance: 200},
		{Source: 2, Target: 3, Distance: 300},
		{Source: 3, Target: 4, Distance: 400},
	})
	ch := Contract(g, DefaultPlainConfig(), zap.NewNop())

	assert.Equal(t, uint32(1000), chDijkstra(ch, 0, 4))
	assert.Equal(t, uint32(math.MaxUint32), chDijkstra(ch, 4, 0))
}

func TestContractNetworkKeepsNetwork(t *testing.T) {
	net := &graph.Network{
		NodeLat: []float64{1, 2},
		NodeLon: []float64{3, 4},
		Roads:   []graph.Road{{Source: 0, Target: 1, Distance: 7}},
	}
	chg := ContractNetwork(net, DefaultPlainConfig(), zap.NewNop())
	assert.Equal(t, net.Roads, chg.Roads)
	assert.Equal(t, uint32(2), chg.NumNodes)
	require.Len(t, chg.OrigEdgeID, 1)
	assert.Equal(t, uint32(0), chg.OrigEdgeID[0])
}
