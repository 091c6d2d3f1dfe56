package ch

import (
	"container/heap"
	"time"

	"go.uber.org/zap"

	"turn_router/pkg/graph"
)

// PlainConfig tunes node contraction without turn penalties.
type PlainConfig struct {
	// MaxSettled and MaxHops bound each witness search. Hitting a bound only
	// adds shortcuts.
	MaxSettled int
	MaxHops    int
	// CoreShortcutLimit stops contraction when a node would need more
	// shortcuts; the remaining nodes form an uncontracted core at the top of
	// the hierarchy. Zero contracts every node.
	CoreShortcutLimit int
}

// DefaultPlainConfig returns the tuning used for road networks.
func DefaultPlainConfig() PlainConfig {
	return PlainConfig{MaxSettled: 500, MaxHops: 5}
}

// adjEntry represents an edge in the mutable adjacency list.
type adjEntry struct {
	to     uint32
	weight uint32
	middle int32 // -1 for original edges, else the contracted node ID
}

// ContractNetwork builds the plain hierarchy over the roads of a network.
// Turn penalties and restrictions are ignored.
func ContractNetwork(n *graph.Network, cfg PlainConfig, logger *zap.Logger) *graph.CHGraph {
	g := graph.BuildGraph(n.NumNodes(), n.Roads)
	chg := Contract(g, cfg, logger)
	chg.Network = *n
	return chg
}

// Contract performs Contraction Hierarchies preprocessing on the given graph.
func Contract(g *graph.Graph, cfg PlainConfig, logger *zap.Logger) *graph.CHGraph {
	log := logger.Sugar()
	n := g.NumNodes
	if n == 0 {
		return buildOverlay(g, nil, nil, nil, 0, logger)
	}

	// Build mutable forward and reverse adjacency lists from the CSR graph.
	outAdj := make([][]adjEntry, n)
	inAdj := make([][]adjEntry, n)

	for u := range n {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			v := g.Head[e]
			if v == u {
				continue // loops never lie on a shortest path
			}
			w := g.Weight[e]
			outAdj[u] = append(outAdj[u], adjEntry{to: v, weight: w, middle: -1})
			inAdj[v] = append(inAdj[v], adjEntry{to: u, weight: w, middle: -1})
		}
	}

	c := &plainContractor{
		cfg:                 cfg,
		outAdj:              outAdj,
		inAdj:               inAdj,
		contracted:          make([]bool, n),
		contractedNeighbors: make([]int, n),
		level:               make([]int, n),
		ws:                  newWitnessState(n),
	}
	rank := make([]uint32, n)

	// Initialize priority queue with all nodes.
	queue := make(priorityQueue, n)
	for i := range n {
		queue[i] = &pqEntry{node: i, priority: c.priority(i), index: int(i)}
	}
	heap.Init(&queue)

	log.Infof("starting contraction of %d nodes", n)
	start := time.Now()

	var totalShortcuts int
	order := uint32(0)

	for queue.Len() > 0 {
		entry := heap.Pop(&queue).(*pqEntry)
		node := entry.node

		// Lazy update: recompute priority and re-insert if it is no longer minimal.
		newPriority := c.priority(node)
		if newPriority > entry.priority && queue.Len() > 0 && newPriority > queue[0].priority {
			entry.priority = newPriority
			heap.Push(&queue, entry)
			continue
		}

		shortcuts := c.findShortcuts(node)
		if cfg.CoreShortcutLimit > 0 && len(shortcuts) > cfg.CoreShortcutLimit {
			log.Infof("stopping contraction: node %d would create %d shortcuts (limit %d), %d nodes remain in core",
				node, len(shortcuts), cfg.CoreShortcutLimit, n-order)
			break
		}

		c.contracted[node] = true
		rank[node] = order
		order++
		totalShortcuts += len(shortcuts)

		for _, sc := range shortcuts {
			outAdj[sc.from] = append(outAdj[sc.from], adjEntry{to: sc.to, weight: sc.weight, middle: int32(node)})
			inAdj[sc.to] = append(inAdj[sc.to], adjEntry{to: sc.from, weight: sc.weight, middle: int32(node)})
		}
		c.updateNeighbors(node)

		if order%logInterval(n-order) == 0 {
			log.Infof("contracted %d/%d nodes, %d shortcuts so far", order, n, totalShortcuts)
		}
	}

	// Assign ranks to remaining uncontracted core nodes in ID order.
	coreStart := order
	coreSize := uint32(0)
	for i := range n {
		if !c.contracted[i] {
			c.contracted[i] = true
			rank[i] = order
			order++
			coreSize++
		}
	}

	log.Infof("contraction complete in %s: %d shortcuts (%.2fx original edges), %d core nodes",
		time.Since(start).Round(time.Millisecond), totalShortcuts,
		float64(totalShortcuts)/float64(max(g.NumEdges, 1)), coreSize)

	return buildOverlay(g, outAdj, inAdj, rank, coreStart, logger)
}

// logInterval logs more often as contraction approaches the end.
func logInterval(remaining uint32) uint32 {
	switch {
	case remaining < 1000:
		return 100
	case remaining < 10000:
		return 1000
	case remaining < 100000:
		return 10000
	default:
		return 50000
	}
}

type plainContractor struct {
	cfg                 PlainConfig
	outAdj, inAdj       [][]adjEntry
	contracted          []bool
	contractedNeighbors []int
	level               []int
	ws                  *witnessState
}

// shortcut represents a shortcut edge to be added.
type shortcut struct {
	from, to uint32
	weight   uint32
}

// findShortcuts determines which shortcuts are needed when contracting a node.
// Uses batch witness search: one Dijkstra per incoming neighbor instead of one
// per (incoming, outgoing) pair.
func (c *plainContractor) findShortcuts(node uint32) []shortcut {
	incoming := c.active(c.inAdj[node])
	outgoing := c.active(c.outAdj[node])
	if len(incoming) == 0 || len(outgoing) == 0 {
		return nil
	}

	var shortcuts []shortcut
	for _, in := range incoming {
		// Find max outgoing weight for upper bound of this batch search.
		var maxOut uint32
		for _, out := range outgoing {
			if out.to != in.to && out.weight > maxOut {
				maxOut = out.weight
			}
		}
		if maxOut == 0 {
			continue // all outgoing go back to in.to
		}

		c.ws.search(c.outAdj, in.to, node, int64(in.weight)+int64(maxOut), c.contracted, c.cfg)

		for _, out := range outgoing {
			if out.to == in.to {
				continue
			}
			w := int64(in.weight) + int64(out.weight)
			if c.ws.distance(out.to) > w {
				shortcuts = append(shortcuts, shortcut{from: in.to, to: out.to, weight: uint32(min(w, maxWeight))})
			}
		}
	}
	return shortcuts
}

// active returns the cheapest edge to every uncontracted neighbor.
func (c *plainContractor) active(adj []adjEntry) []adjEntry {
	var out []adjEntry
	for _, e := range adj {
		if c.contracted[e.to] {
			continue
		}
		dup := false
		for i := range out {
			if out[i].to == e.to {
				out[i].weight = min(out[i].weight, e.weight)
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}

// priority returns the priority for a node (lower = contract first): the
// simulated edge difference plus the contracted neighbour count and level.
func (c *plainContractor) priority(node uint32) int {
	activeIn := len(c.active(c.inAdj[node]))
	activeOut := len(c.active(c.outAdj[node]))
	edgeDifference := len(c.findShortcuts(node)) - (activeIn + activeOut)
	return edgeDifference + 2*c.contractedNeighbors[node] + c.level[node]
}

// updateNeighbors raises the contracted neighbour count and level of every
// neighbour of a just contracted node.
func (c *plainContractor) updateNeighbors(node uint32) {
	for _, adj := range [][]adjEntry{c.outAdj[node], c.inAdj[node]} {
		for _, e := range adj {
			if c.contracted[e.to] {
				continue
			}
			c.contractedNeighbors[e.to]++
			c.level[e.to] = max(c.level[e.to], c.level[node]+1)
		}
	}
}

// buildOverlay creates forward and backward upward CSR graphs from the
// contracted adjacency lists and node ranks. Nodes ranked at or above
// coreStart were never contracted; edges between them are kept in both
// graphs so that both searches can cross the core.
func buildOverlay(orig *graph.Graph, outAdj, inAdj [][]adjEntry, rank []uint32, coreStart uint32, logger *zap.Logger) *graph.CHGraph {
	n := orig.NumNodes
	upward := func(u, v uint32) bool {
		return rank[u] < rank[v] || (rank[u] >= coreStart && rank[v] >= coreStart)
	}

	type csrEdge struct {
		from, to uint32
		weight   uint32
		middle   int32
	}

	var fwdEdges, bwdEdges []csrEdge

	for u := range n {
		for _, e := range outAdj[u] {
			if upward(u, e.to) {
				fwdEdges = append(fwdEdges, csrEdge{from: u, to: e.to, weight: e.weight, middle: e.middle})
			}
		}
		// Backward upward: for edges v->u where rank[u] < rank[v],
		// store as u->v in the backward graph (for backward search from target).
		for _, e := range inAdj[u] {
			if upward(u, e.to) {
				bwdEdges = append(bwdEdges, csrEdge{from: u, to: e.to, weight: e.weight, middle: e.middle})
			}
		}
	}

	logger.Info("overlay built", zap.Int("forward_edges", len(fwdEdges)), zap.Int("backward_edges", len(bwdEdges)))

	buildCSR := func(edges []csrEdge) (firstOut, head, weight []uint32, middle []int32) {
		numEdges := uint32(len(edges))
		firstOut = make([]uint32, n+1)
		head = make([]uint32, numEdges)
		weight = make([]uint32, numEdges)
		middle = make([]int32, numEdges)

		// Count edges per source.
		for _, e := range edges {
			firstOut[e.from+1]++
		}
		for i := uint32(1); i <= n; i++ {
			firstOut[i] += firstOut[i-1]
		}

		// Place edges.
		pos := make([]uint32, n)
		copy(pos, firstOut[:n])
		for _, e := range edges {
			idx := pos[e.from]
			head[idx] = e.to
			weight[idx] = e.weight
			middle[idx] = e.middle
			pos[e.from]++
		}

		return
	}

	fwdFirstOut, fwdHead, fwdWeight, fwdMiddle := buildCSR(fwdEdges)
	bwdFirstOut, bwdHead, bwdWeight, bwdMiddle := buildCSR(bwdEdges)

	origFirstOut := orig.FirstOut
	if origFirstOut == nil {
		origFirstOut = make([]uint32, n+1)
	}
	return &graph.CHGraph{
		NumNodes:     n,
		Rank:         rank,
		FwdFirstOut:  fwdFirstOut,
		FwdHead:      fwdHead,
		FwdWeight:    fwdWeight,
		FwdMiddle:    fwdMiddle,
		BwdFirstOut:  bwdFirstOut,
		BwdHead:      bwdHead,
		BwdWeight:    bwdWeight,
		BwdMiddle:    bwdMiddle,
		OrigFirstOut: origFirstOut,
		OrigHead:     orig.Head,
		OrigWeight:   orig.Weight,
		OrigEdgeID:   orig.EdgeID,
	}
}

// Priority queue implementation for contraction ordering.

type pqEntry struct {
	node     uint32
	priority int
	index    int
}

type priorityQueue []*pqEntry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].node < pq[j].node
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	entry := x.(*pqEntry)
	entry.index = len(*pq)
	*pq = append(*pq, entry)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*pq = old[:n-1]
	return entry
}
