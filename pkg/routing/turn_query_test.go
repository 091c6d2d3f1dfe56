package routing

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"turn_router/pkg/ch"
	"turn_router/pkg/graph"
	"turn_router/pkg/graph/graphtest"
)

func testConfig() ch.Config {
	cfg := ch.DefaultConfig()
	cfg.Workers = 2
	return cfg
}

// hierarchies returns the contracted hierarchy of in and the plain turn graph
// it was built from.
func hierarchies(t *testing.T, in *graph.Input) (contracted, plain *graph.TurnHierarchy) {
	t.Helper()
	plain, err := ch.BuildTurnGraph(in, testConfig(), zap.NewNop())
	require.NoError(t, err)
	contracted, err = ch.Preprocess(in, "", testConfig(), zap.NewNop())
	require.NoError(t, err)
	return contracted, plain
}

// queryEdges lists every travel direction of every road that survived import.
func queryEdges(h *graph.TurnHierarchy) []QueryEdge {
	var out []QueryEdge
	for id, r := range h.Roads {
		if r.Distance == 0 {
			continue
		}
		out = append(out, QueryEdge{Source: r.Source, Target: r.Target, ID: uint32(id)})
		if r.Bidirectional {
			out = append(out, QueryEdge{Source: r.Target, Target: r.Source, ID: uint32(id), Opposite: r.Source == r.Target})
		}
	}
	return out
}

// requireValidTurnPath checks that path only uses original edges, starts with
// src, ends with dst, never takes a forbidden turn and costs dist.
func requireValidTurnPath(t *testing.T, g *graph.TurnGraph, path []PathEdge, src, dst QueryEdge, dist uint32) {
	t.Helper()
	require.NotEmpty(t, path)
	first, last := path[0], path[len(path)-1]
	src.Opposite, dst.Opposite = false, false
	require.Equal(t, src, QueryEdge{Source: first.From, Target: first.To, ID: first.ID})
	require.Equal(t, dst, QueryEdge{Source: last.From, Target: last.To, ID: last.ID})

	sum := uint64(first.Distance)
	for i, pe := range path {
		require.False(t, pe.Shortcut, "hop %d is a shortcut", i)
		if i == 0 {
			continue
		}
		prev := path[i-1]
		require.Equal(t, prev.To, pe.From, "hop %d is not connected", i)
		p := g.Penalty(pe.From, prev.ToSlot, pe.FromSlot)
		require.NotEqual(t, graph.RestrictedTurn, p, "hop %d follows a forbidden turn", i)
		sum += uint64(p) + uint64(pe.Distance)
	}
	require.Equal(t, uint64(dist), sum)
}

func TestTurnQueryMatchesDijkstra(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3, 4} {
		in := graphtest.Grid(graphtest.Rand(seed), graphtest.GridOptions{
			Rows: 5, Cols: 5, OneWay: 0.3, Restricted: 0.15, Penalized: 0.3, UTurn: 40,
			Loops: float64(seed%2) * 0.3,
		})
		contracted, plain := hierarchies(t, in)
		unpacker, err := NewUnpacker(contracted.Graph, 64)
		require.NoError(t, err)

		truth := NewTurnQuery(plain.Graph)
		stalled := NewTurnQuery(contracted.Graph)
		unstalled := NewTurnQuery(contracted.Graph)
		unstalled.SetStallOnDemand(false)

		edges := queryEdges(contracted)
		for _, src := range edges {
			for _, dst := range edges {
				want, err := truth.QueryUnidirectional(src, dst)
				require.NoError(t, err)
				for _, q := range []*TurnQuery{stalled, unstalled} {
					got, err := q.Query(src, dst)
					require.NoError(t, err)
					require.Equal(t, want.Distance, got.Distance, "seed %d: %+v -> %+v", seed, src, dst)
					if got.Distance == Unreachable {
						assert.Nil(t, got.Path)
						continue
					}
					path, err := unpacker.Unpack(got.Path)
					require.NoError(t, err)
					requireValidTurnPath(t, contracted.Graph, path, src, dst, got.Distance)
				}
			}
		}
	}
}

func TestTurnQueryBidirectionalOnPlainGraph(t *testing.T) {
	in := graphtest.Grid(graphtest.Rand(9), graphtest.GridOptions{
		Rows: 4, Cols: 4, OneWay: 0.2, Restricted: 0.1, Penalized: 0.2, UTurn: 20, Loops: 0.3,
	})
	_, plain := hierarchies(t, in)
	q := NewTurnQuery(plain.Graph)
	edges := queryEdges(plain)
	for _, src := range edges {
		for _, dst := range edges {
			want, err := q.QueryUnidirectional(src, dst)
			require.NoError(t, err)
			got, err := q.Query(src, dst)
			require.NoError(t, err)
			require.Equal(t, want.Distance, got.Distance, "%+v -> %+v", src, dst)
		}
	}
}

// diamond is 0 -> 1 -> 3 -> 4 with a detour 1 -> 2 -> 3. All edges are
// one-way; the detour costs 8 seconds, the direct edge 1.
func diamond(forbidDirect bool) *graph.Input {
	in := &graph.Input{
		Nodes: []graph.Node{
			{Lat: 1, Lon: 103}, {Lat: 1, Lon: 103.001}, {Lat: 1.001, Lon: 103.0015},
			{Lat: 1, Lon: 103.002}, {Lat: 1, Lon: 103.003},
		},
		Edges: []graph.Edge{
			{Source: 0, Target: 1, Distance: 1},
			{Source: 1, Target: 3, Distance: 1},
			{Source: 1, Target: 2, Distance: 4},
			{Source: 2, Target: 3, Distance: 4},
			{Source: 3, Target: 4, Distance: 1},
		},
	}
	slotsIn, slotsOut, err := graph.AssignSlots(len(in.Nodes), in.Edges)
	if err != nil {
		panic(err)
	}
	in.Penalties.InDegree, in.Penalties.OutDegree = graph.Degrees(slotsIn, slotsOut)
	for v := range in.Nodes {
		for _, a := range slotsIn[v] {
			for _, b := range slotsOut[v] {
				p := 0.0
				if forbidDirect && a.Edge == 0 && b.Edge == 1 {
					p = -1
				}
				in.Penalties.Values = append(in.Penalties.Values, p)
			}
		}
	}
	return in
}

func pathIDs(path []PathEdge) []uint32 {
	ids := make([]uint32, len(path))
	for i, pe := range path {
		ids[i] = pe.ID
	}
	return ids
}

func TestTurnQueryRestriction(t *testing.T) {
	src := QueryEdge{Source: 0, Target: 1, ID: 0}
	dst := QueryEdge{Source: 3, Target: 4, ID: 4}

	tests := []struct {
		name   string
		forbid bool
		dist   uint32
		ids    []uint32
	}{
		{"direct", false, 30, []uint32{0, 1, 4}},
		{"detour around forbidden turn", true, 100, []uint32{0, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contracted, plain := hierarchies(t, diamond(tt.forbid))

			want, err := NewTurnQuery(plain.Graph).QueryUnidirectional(src, dst)
			require.NoError(t, err)
			assert.Equal(t, tt.dist, want.Distance)
			assert.Equal(t, tt.ids, pathIDs(want.Path))

			got, err := NewTurnQuery(contracted.Graph).Query(src, dst)
			require.NoError(t, err)
			assert.Equal(t, tt.dist, got.Distance)
			unpacker, err := NewUnpacker(contracted.Graph, 0)
			require.NoError(t, err)
			path, err := unpacker.Unpack(got.Path)
			require.NoError(t, err)
			assert.Equal(t, tt.ids, pathIDs(path))
		})
	}
}

// deadEnd is 0 <-> 1 <-> 2 with two-way edges of 2 and 3 seconds. Reaching
// 1 -> 0 from 1 -> 2 needs a U-turn at the dead end 2.
func deadEnd(uTurn float64) *graph.Input {
	in := &graph.Input{
		Nodes: []graph.Node{{Lat: 1, Lon: 103}, {Lat: 1, Lon: 103.001}, {Lat: 1, Lon: 103.002}},
		Edges: []graph.Edge{
			{Source: 0, Target: 1, Distance: 2, Bidirectional: true},
			{Source: 1, Target: 2, Distance: 3, Bidirectional: true},
		},
	}
	slotsIn, slotsOut, err := graph.AssignSlots(len(in.Nodes), in.Edges)
	if err != nil {
		panic(err)
	}
	in.Penalties = graphtest.Penalties(graphtest.Rand(1), slotsIn, slotsOut, graphtest.GridOptions{UTurn: uTurn})
	return in
}

func TestTurnQueryUTurn(t *testing.T) {
	src := QueryEdge{Source: 1, Target: 2, ID: 1}
	dst := QueryEdge{Source: 1, Target: 0, ID: 0}

	contracted, _ := hierarchies(t, deadEnd(5))
	res, err := NewTurnQuery(contracted.Graph).Query(src, dst)
	require.NoError(t, err)
	// 1->2, U-turn, 2->1, 1->0.
	assert.Equal(t, uint32(30+50+30+20), res.Distance)

	contracted, plain := hierarchies(t, deadEnd(-1))
	for _, g := range []*graph.TurnGraph{contracted.Graph, plain.Graph} {
		res, err = NewTurnQuery(g).Query(src, dst)
		require.NoError(t, err)
		assert.Equal(t, uint32(Unreachable), res.Distance)
		assert.Nil(t, res.Path)
	}
}

func TestTurnQuerySameEdge(t *testing.T) {
	contracted, _ := hierarchies(t, deadEnd(5))
	qe := QueryEdge{Source: 2, Target: 1, ID: 1}
	res, err := NewTurnQuery(contracted.Graph).Query(qe, qe)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), res.Distance)
	require.Len(t, res.Path, 1)
	assert.Equal(t, uint32(2), res.Path[0].From)
	assert.Equal(t, uint32(1), res.Path[0].To)
}

func TestTurnQueryLoopBothDirections(t *testing.T) {
	contracted, plain := hierarchies(t, graphtest.Lasso())
	src := QueryEdge{Source: 0, Target: 1, ID: 0}
	dst := QueryEdge{Source: 1, Target: 2, ID: 1}
	loop := plain.Roads[2]
	// The reverse direction leaves the loop through its target slot.
	reverse := QueryEdge{Source: 1, Target: 1, ID: 2, Opposite: loop.TargetSlot > loop.SourceSlot}
	stored := QueryEdge{Source: 1, Target: 1, ID: 2, Opposite: !reverse.Opposite}

	tests := []struct {
		name     string
		src, dst QueryEdge
		dist     uint32
		ids      []uint32
	}{
		{"through the loop", src, dst, 70, []uint32{0, 2, 1}},
		{"into the loop", src, reverse, 50, []uint32{0, 2}},
		{"out of the loop", reverse, dst, 50, []uint32{2, 1}},
		{"stored direction is a dead end", src, stored, Unreachable, nil},
	}
	unpacker, err := NewUnpacker(contracted.Graph, 0)
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := NewTurnQuery(plain.Graph).QueryUnidirectional(tt.src, tt.dst)
			require.NoError(t, err)
			require.Equal(t, tt.dist, want.Distance)

			for _, g := range []*graph.TurnGraph{plain.Graph, contracted.Graph} {
				got, err := NewTurnQuery(g).Query(tt.src, tt.dst)
				require.NoError(t, err)
				require.Equal(t, tt.dist, got.Distance)
			}
			got, err := NewTurnQuery(contracted.Graph).Query(tt.src, tt.dst)
			require.NoError(t, err)
			if tt.ids == nil {
				assert.Nil(t, got.Path)
				return
			}
			path, err := unpacker.Unpack(got.Path)
			require.NoError(t, err)
			assert.Equal(t, tt.ids, pathIDs(path))
			requireValidTurnPath(t, contracted.Graph, path, tt.src, tt.dst, got.Distance)
			for _, pe := range path {
				if pe.ID == 2 {
					assert.Equal(t, loop.TargetSlot, pe.FromSlot)
				}
			}
		})
	}
}

func TestTurnQueryAround(t *testing.T) {
	contracted, plain := hierarchies(t, ring())
	first := QueryEdge{Source: 0, Target: 1, ID: 0}
	unpacker, err := NewUnpacker(contracted.Graph, 0)
	require.NoError(t, err)

	for _, g := range []*graph.TurnGraph{plain.Graph, contracted.Graph} {
		q := NewTurnQuery(g)
		res, err := q.QueryAround(first)
		require.NoError(t, err)
		assert.Equal(t, uint32(500), res.Distance)

		// Without going around, the query stays on the edge.
		same, err := q.Query(first, first)
		require.NoError(t, err)
		assert.Equal(t, uint32(100), same.Distance)
	}

	res, err := NewTurnQuery(contracted.Graph).QueryAround(first)
	require.NoError(t, err)
	path, err := unpacker.Unpack(res.Path)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3, 0}, pathIDs(path))
	requireValidTurnPath(t, contracted.Graph, path, first, first, res.Distance)
}

func TestTurnQueryAroundMatchesPlainGraph(t *testing.T) {
	in := graphtest.Grid(graphtest.Rand(21), graphtest.GridOptions{
		Rows: 4, Cols: 4, OneWay: 0.4, Restricted: 0.1, Penalized: 0.3, UTurn: -1, Loops: 0.2,
	})
	contracted, plain := hierarchies(t, in)
	want := NewTurnQuery(plain.Graph)
	got := NewTurnQuery(contracted.Graph)
	for _, qe := range queryEdges(contracted) {
		a, err := want.QueryAround(qe)
		require.NoError(t, err)
		b, err := got.QueryAround(qe)
		require.NoError(t, err)
		require.Equal(t, a.Distance, b.Distance, "%+v", qe)
	}
}

// ring is the one-way cycle 0 -> 1 -> 2 -> 3 -> 0 with ten seconds per edge,
// laid out as a square with 0 -> 1 along lat 1.
func ring() *graph.Input {
	in := &graph.Input{
		Nodes: []graph.Node{
			{Lat: 1, Lon: 103}, {Lat: 1, Lon: 103.001}, {Lat: 1.001, Lon: 103.001}, {Lat: 1.001, Lon: 103},
		},
	}
	for v := range 4 {
		in.Edges = append(in.Edges, graph.Edge{Source: uint32(v), Target: uint32((v + 1) % 4), Distance: 10})
	}
	slotsIn, slotsOut, err := graph.AssignSlots(len(in.Nodes), in.Edges)
	if err != nil {
		panic(err)
	}
	in.Penalties = graphtest.Penalties(graphtest.Rand(1), slotsIn, slotsOut, graphtest.GridOptions{})
	return in
}

func TestTurnQuerySymmetric(t *testing.T) {
	in := graphtest.Grid(graphtest.Rand(5), graphtest.GridOptions{Rows: 5, Cols: 5, UTurn: 10})
	contracted, _ := hierarchies(t, in)
	q := NewTurnQuery(contracted.Graph)
	reverse := func(e QueryEdge) QueryEdge { return QueryEdge{Source: e.Target, Target: e.Source, ID: e.ID} }

	edges := queryEdges(contracted)
	for _, a := range edges {
		for _, b := range edges {
			there, err := q.Query(a, b)
			require.NoError(t, err)
			back, err := q.Query(reverse(b), reverse(a))
			require.NoError(t, err)
			require.Equal(t, there.Distance, back.Distance, "%+v -> %+v", a, b)
		}
	}
}

func TestTurnQueryUnknownEdge(t *testing.T) {
	contracted, _ := hierarchies(t, deadEnd(5))
	q := NewTurnQuery(contracted.Graph)
	good := QueryEdge{Source: 0, Target: 1, ID: 0}

	tests := []struct {
		name     string
		src, dst QueryEdge
	}{
		{"wrong id", QueryEdge{Source: 0, Target: 1, ID: 1}, good},
		{"no such edge", good, QueryEdge{Source: 0, Target: 2, ID: 0}},
		{"node outside graph", good, QueryEdge{Source: 7, Target: 1, ID: 0}},
		{"opposite of a plain edge", QueryEdge{Source: 0, Target: 1, ID: 0, Opposite: true}, good},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Query(tt.src, tt.dst)
			assert.ErrorIs(t, err, ErrUnknownEdge)
		})
	}
}

func TestTurnQueryAfterReload(t *testing.T) {
	in := graphtest.Grid(graphtest.Rand(4), graphtest.GridOptions{
		Rows: 4, Cols: 4, OneWay: 0.3, Restricted: 0.1, Penalized: 0.3, UTurn: 30,
	})
	path := filepath.Join(t.TempDir(), "turn.bin")
	h, err := ch.Preprocess(in, path, testConfig(), zap.NewNop())
	require.NoError(t, err)
	loaded, err := graph.ReadTurnBinary(path)
	require.NoError(t, err)

	before := NewTurnQuery(h.Graph)
	after := NewTurnQuery(loaded.Graph)
	edges := queryEdges(h)
	for _, src := range edges {
		for _, dst := range edges {
			want, err := before.Query(src, dst)
			require.NoError(t, err)
			got, err := after.Query(src, dst)
			require.NoError(t, err)
			require.Equal(t, want.Distance, got.Distance)
			require.Equal(t, want.Path, got.Path)
		}
	}
}

func BenchmarkTurnQuery(b *testing.B) {
	in := graphtest.Grid(graphtest.Rand(8), graphtest.GridOptions{
		Rows: 40, Cols: 40, OneWay: 0.2, Restricted: 0.05, Penalized: 0.3, UTurn: 30,
	})
	h, err := ch.Preprocess(in, "", testConfig(), zap.NewNop())
	require.NoError(b, err)
	edges := queryEdges(h)
	q := NewTurnQuery(h.Graph)
	rng := graphtest.Rand(9)

	b.ResetTimer()
	for range b.N {
		_, _ = q.Query(edges[rng.IntN(len(edges))], edges[rng.IntN(len(edges))])
	}
}
