package penalty

import (
	"cmp"
	"fmt"
	"slices"

	"turn_router/pkg/graph"
)

// DefaultPermutationLimit caps the permutations tried when matching a
// junction against one class.
const DefaultPermutationLimit = 1024

// Tables are the raw per-junction penalty matrices.
type Tables struct {
	InDegree  []uint8
	OutDegree []uint8
	// Prefix is the number of leading slots used by bidirectional edges.
	// Those slots are permuted jointly for rows and columns.
	Prefix []uint8
	Values []uint8
}

// Stats describes the work done by Classify.
type Stats struct {
	Tested       int
	Permutations int
	Skipped      int
	Classes      int
}

// Result maps every junction onto a shared penalty class.
type Result struct {
	Classes   []graph.PenaltyClass
	Penalties []uint8
	NodeClass []uint32

	mapping       []uint8
	mappingOffset []uint32
}

// InSlot maps an in-slot of node onto the in-slot of its class.
func (r *Result) InSlot(node uint32, slot uint8) uint8 {
	return r.mapping[r.mappingOffset[node]+uint32(slot)]
}

// OutSlot maps an out-slot of node onto the out-slot of its class.
func (r *Result) OutSlot(node uint32, slot uint8) uint8 {
	in := uint32(r.Classes[r.NodeClass[node]].In)
	return r.mapping[r.mappingOffset[node]+in+uint32(slot)]
}

// RemapEdges rewrites the slots of input edges into class slots.
func (r *Result) RemapEdges(edges []graph.Edge) {
	for i := range edges {
		e := &edges[i]
		e.EdgeIDAtSource = r.OutSlot(e.Source, e.EdgeIDAtSource)
		e.EdgeIDAtTarget = r.InSlot(e.Target, e.EdgeIDAtTarget)
	}
}

type table struct {
	node   uint32
	in     uint8
	out    uint8
	prefix uint8
	offset uint32
	hash   uint32
}

func (t *table) value(values []uint8, in, out uint8) uint8 {
	return values[t.offset+uint32(in)*uint32(t.out)+uint32(out)]
}

// Classify groups junctions whose matrices are equal up to a slot
// permutation. A junction whose match is not found within limit
// permutations gets its own class.
func Classify(t *Tables, limit int) (*Result, Stats) {
	n := len(t.InDegree)
	tables := make([]table, n)
	var offset uint32
	for i := range n {
		tb := table{node: uint32(i), in: t.InDegree[i], out: t.OutDegree[i], offset: offset}
		if t.Prefix != nil {
			tb.prefix = t.Prefix[i]
		}
		if tb.prefix > tb.in || tb.prefix > tb.out {
			panic(fmt.Sprintf("penalty: node %d prefix %d exceeds degrees %dx%d", i, tb.prefix, tb.in, tb.out))
		}
		tb.hash = hashTable(&tb, t.Values)
		tables[i] = tb
		offset += uint32(tb.in) * uint32(tb.out)
	}
	if int(offset) != len(t.Values) {
		panic(fmt.Sprintf("penalty: %d values for degrees requiring %d", len(t.Values), offset))
	}

	slices.SortFunc(tables, func(a, b table) int {
		return cmp.Or(
			cmp.Compare(a.hash, b.hash),
			cmp.Compare(a.in, b.in),
			cmp.Compare(a.out, b.out),
			cmp.Compare(a.node, b.node),
		)
	})

	res := &Result{
		NodeClass:     make([]uint32, n),
		mappingOffset: make([]uint32, n),
	}
	var mapSize uint32
	for i := range n {
		res.mappingOffset[i] = mapSize
		mapSize += uint32(t.InDegree[i]) + uint32(t.OutDegree[i])
	}
	res.mapping = make([]uint8, mapSize)

	var stats Stats
	var classTables []table
	m := newMatcher(limit)
	for i := range tables {
		tb := &tables[i]
		class := -1
		for c := len(classTables) - 1; c >= 0; c-- {
			ct := &classTables[c]
			if ct.hash != tb.hash || ct.in != tb.in || ct.out != tb.out {
				break
			}
			stats.Tested++
			ok, runs := m.match(tb, ct, t.Values)
			stats.Permutations += runs
			if runs > limit {
				stats.Skipped++
			}
			if ok {
				class = c
				break
			}
		}
		if class < 0 {
			m.identity(tb.in, tb.out)
			class = len(classTables)
			classTables = append(classTables, *tb)
			res.Classes = append(res.Classes, graph.PenaltyClass{In: tb.in, Out: tb.out, Offset: uint32(len(res.Penalties))})
			res.Penalties = append(res.Penalties, t.Values[tb.offset:tb.offset+uint32(tb.in)*uint32(tb.out)]...)
		}
		res.NodeClass[tb.node] = uint32(class)

		// m.in[f] is the node slot playing class slot f; store the inverse.
		base := res.mappingOffset[tb.node]
		for f, s := range m.in {
			res.mapping[base+uint32(s)] = uint8(f)
		}
		for f, s := range m.out {
			res.mapping[base+uint32(tb.in)+uint32(s)] = uint8(f)
		}
	}
	stats.Classes = len(res.Classes)
	return res, stats
}

// hashTable is invariant under any permutation of rows and columns.
func hashTable(t *table, values []uint8) uint32 {
	rows := make([]uint32, t.in)
	row := make([]uint8, t.out)
	for in := range t.in {
		for out := range t.out {
			row[out] = t.value(values, in, out)
		}
		slices.Sort(row)
		var v uint32
		for _, x := range row {
			v = v*13 ^ uint32(x)
		}
		rows[in] = v
	}
	slices.Sort(rows)
	var v uint32
	for _, h := range rows {
		v = v*1009 ^ h
	}
	return v
}

type matcher struct {
	limit int
	in    []uint8
	out   []uint8
}

func newMatcher(limit int) *matcher {
	return &matcher{limit: limit}
}

func (m *matcher) identity(in, out uint8) {
	m.in = m.in[:0]
	m.out = m.out[:0]
	for i := range in {
		m.in = append(m.in, i)
	}
	for o := range out {
		m.out = append(m.out, o)
	}
}

// match searches permutations with node[m.in[f]][m.out[o]] == class[f][o].
// The prefix of the node is permuted jointly on rows and columns, the rest
// independently. It returns the number of permutations tried.
func (m *matcher) match(node, class *table, values []uint8) (bool, int) {
	m.identity(node.in, node.out)
	if node.in == 0 || node.out == 0 {
		return true, 0
	}
	p := node.prefix
	runs := 0
	for {
		for {
			for {
				runs++
				if runs > m.limit {
					return false, runs
				}
				if m.equal(node, class, values) {
					return true, runs
				}
				if !nextPermutation(m.in[p:]) {
					break
				}
			}
			if !nextPermutation(m.out[p:]) {
				break
			}
		}
		a := nextPermutation(m.in[:p])
		b := nextPermutation(m.out[:p])
		if !a || !b {
			break
		}
	}
	return false, runs
}

func (m *matcher) equal(node, class *table, values []uint8) bool {
	for f := range class.in {
		for o := range class.out {
			if node.value(values, m.in[f], m.out[o]) != class.value(values, f, o) {
				return false
			}
		}
	}
	return true
}

// nextPermutation rearranges s into the next lexicographic permutation. At the
// last permutation it restores ascending order and returns false.
func nextPermutation(s []uint8) bool {
	if len(s) < 2 {
		return false
	}
	i := len(s) - 2
	for i >= 0 && s[i] >= s[i+1] {
		i--
	}
	if i < 0 {
		slices.Reverse(s)
		return false
	}
	j := len(s) - 1
	for s[j] <= s[i] {
		j--
	}
	s[i], s[j] = s[j], s[i]
	slices.Reverse(s[i+1:])
	return true
}
