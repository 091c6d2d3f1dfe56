package ch

import (
	"cmp"
	"io"
	"math/rand"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"turn_router/pkg/graph"
	"turn_router/pkg/penalty"
	"turn_router/pkg/pq"
)

// Config tunes turn-aware contraction.
type Config struct {
	Workers int
	// Aggressive runs an exact necessity check before inserting a shortcut.
	Aggressive bool
	// SimulatedMaxSettled and MaxSettled cap the witness search when
	// evaluating priorities and when contracting. Via-path entries are
	// always settled.
	SimulatedMaxSettled  int
	MaxSettled           int
	AggressiveMaxSettled int

	EdgeQuotientFactor     float64
	OriginalQuotientFactor float64
	DepthFactor            float64

	Seed             int64
	PermutationLimit int
	CompressionLevel int
	CollectWitnesses bool
	ShowProgress     bool
}

// DefaultConfig returns the tuning used for road networks.
func DefaultConfig() Config {
	return Config{
		Workers:                runtime.NumCPU(),
		Aggressive:             true,
		SimulatedMaxSettled:    1000,
		MaxSettled:             2000,
		AggressiveMaxSettled:   2000,
		EdgeQuotientFactor:     2,
		OriginalQuotientFactor: 1,
		DepthFactor:            1,
		Seed:                   698176,
		PermutationLimit:       penalty.DefaultPermutationLimit,
		CompressionLevel:       3,
	}
}

// Witness records a shortcut around Middle that was not inserted because a
// path avoiding Middle was at least as short.
type Witness struct {
	Source uint32
	Target uint32
	Middle uint32
}

// Stats summarizes a contraction run.
type Stats struct {
	Iterations     int
	Shortcuts      int
	SavedShortcuts int
	Witnesses      []Witness
}

type nodeData struct {
	priority float64
	depth    int
	bias     uint32
}

type worker struct {
	heap           *pq.Heap[witnessData]
	aggressiveHeap *pq.Heap[witnessData]
	inserted       []graph.TurnEdge
	witnesses      []Witness
	neighbours     []uint32
	deleted        int
	saved          int
}

// TurnContractor contracts a TurnGraph in place into a turn-aware hierarchy.
type TurnContractor struct {
	logger      *zap.Logger
	cfg         Config
	graph       *graph.TurnGraph
	gamma       *gammaTable
	nodes       []nodeData
	contracting []bool
	independent []bool
	workers     []*worker
}

// NewTurnContractor prepares per-worker search state for g.
func NewTurnContractor(g *graph.TurnGraph, cfg Config, logger *zap.Logger) *TurnContractor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	n := g.NumNodes()
	c := &TurnContractor{
		logger:      logger,
		cfg:         cfg,
		graph:       g,
		gamma:       newGammaTable(g),
		nodes:       make([]nodeData, n),
		contracting: make([]bool, n),
		independent: make([]bool, n),
	}
	for range cfg.Workers {
		c.workers = append(c.workers, &worker{
			heap:           pq.New[witnessData](int(g.NumOriginalEdges())),
			aggressiveHeap: pq.New[witnessData](int(g.NumOriginalEdges())),
		})
	}
	return c
}

// Run contracts every junction. Afterwards the graph is the hierarchy: each
// junction keeps the edges it had when it was contracted.
func (c *TurnContractor) Run() Stats {
	g := c.graph
	log := c.logger.Sugar()
	n := g.NumNodes()

	remaining := make([]uint32, n)
	for i := range remaining {
		remaining[i] = uint32(i)
	}
	rng := rand.New(rand.NewSource(c.cfg.Seed))
	rng.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })
	for i, node := range remaining {
		c.nodes[node].bias = uint32(i)
	}

	start := time.Now()
	c.parallel(remaining, func(w *worker, node uint32) {
		c.nodes[node].priority = c.evaluate(w, node)
	})
	log.Infof("initial priorities for %d nodes in %s", n, time.Since(start).Round(time.Millisecond))

	writer := io.Writer(os.Stderr)
	if !c.cfg.ShowProgress {
		writer = io.Discard
	}
	bar := progressbar.NewOptions(int(n),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetWidth(15),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("contracting junctions"),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	var stats Stats
	remainingEdges := int(g.NumEdges())
	var inserted []graph.TurnEdge
	for len(remaining) > 0 {
		stats.Iterations++

		phase := time.Now()
		c.parallel(remaining, func(w *worker, node uint32) {
			c.independent[node] = c.isIndependent(w, node)
		})
		first := len(remaining)
		for i := 0; i < first; {
			if c.independent[remaining[i]] {
				first--
				remaining[i], remaining[first] = remaining[first], remaining[i]
			} else {
				i++
			}
		}
		set := remaining[first:]
		for _, node := range set {
			c.contracting[node] = true
		}
		independentTime := time.Since(phase)

		phase = time.Now()
		c.parallel(set, func(w *worker, node uint32) {
			c.contract(w, node, false)
		})
		contractTime := time.Since(phase)

		phase = time.Now()
		c.parallel(set, func(w *worker, node uint32) {
			w.deleted += int(g.Degree(node)) + c.deleteIncomingEdges(w, node)
		})
		deleteTime := time.Since(phase)

		phase = time.Now()
		inserted = inserted[:0]
		for _, w := range c.workers {
			inserted = append(inserted, w.inserted...)
			remainingEdges -= w.deleted
			w.inserted = w.inserted[:0]
			w.deleted = 0
		}
		slices.SortFunc(inserted, compareTurnEdges)
		for _, e := range inserted {
			g.InsertEdge(e)
		}
		remainingEdges += len(inserted)
		stats.Shortcuts += len(inserted)
		insertTime := time.Since(phase)

		phase = time.Now()
		c.parallel(set, func(w *worker, node uint32) {
			c.updateNeighbours(w, node)
		})
		updateTime := time.Since(phase)

		for _, node := range set {
			c.contracting[node] = false
		}
		_ = bar.Add(len(set))
		remaining = remaining[:first]

		log.Debugf("iteration %d: %d nodes, independent %s, contract %s, delete %s, insert %s, update %s, %d nodes and %d edges remain",
			stats.Iterations, len(set), independentTime, contractTime, deleteTime, insertTime, updateTime, len(remaining), remainingEdges)
	}
	_ = bar.Finish()

	for _, w := range c.workers {
		stats.SavedShortcuts += w.saved
		stats.Witnesses = append(stats.Witnesses, w.witnesses...)
		w.saved = 0
		w.witnesses = nil
	}
	slices.SortFunc(stats.Witnesses, func(a, b Witness) int {
		return cmp.Or(cmp.Compare(a.Source, b.Source), cmp.Compare(a.Target, b.Target), cmp.Compare(a.Middle, b.Middle))
	})

	log.Infof("contraction finished in %s: %d iterations, %d shortcut records, %d shortcuts saved by necessity check, %d edges stored",
		time.Since(start).Round(time.Millisecond), stats.Iterations, stats.Shortcuts, stats.SavedShortcuts, g.NumEdges())
	return stats
}

// parallel runs fn over nodes on every worker. Each worker owns its scratch
// state; fn must only write to data owned by the node it is given.
func (c *TurnContractor) parallel(nodes []uint32, fn func(w *worker, node uint32)) {
	const batch = 64
	if len(c.workers) == 1 || len(nodes) <= batch {
		for _, node := range nodes {
			fn(c.workers[0], node)
		}
		return
	}
	jobs := make(chan []uint32, len(c.workers))
	var wg sync.WaitGroup
	for _, w := range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				for _, node := range job {
					fn(w, node)
				}
			}
		}()
	}
	for i := 0; i < len(nodes); i += batch {
		jobs <- nodes[i:min(i+batch, len(nodes))]
	}
	close(jobs)
	wg.Wait()
}

// precedes orders nodes by priority, ties broken by bias.
func (c *TurnContractor) precedes(a, b uint32) bool {
	pa, pb := c.nodes[a].priority, c.nodes[b].priority
	if pa != pb {
		return pa < pb
	}
	return c.nodes[a].bias < c.nodes[b].bias
}

// isIndependent reports whether node precedes every node within two hops.
func (c *TurnContractor) isIndependent(w *worker, node uint32) bool {
	g := c.graph
	w.neighbours = w.neighbours[:0]
	for e := g.BeginEdges(node); e < g.EndEdges(node); e++ {
		t := g.Target(e)
		if t == node {
			continue
		}
		if c.precedes(t, node) {
			return false
		}
		w.neighbours = append(w.neighbours, t)
	}
	slices.Sort(w.neighbours)
	w.neighbours = slices.Compact(w.neighbours)
	for _, u := range w.neighbours {
		for e := g.BeginEdges(u); e < g.EndEdges(u); e++ {
			t := g.Target(e)
			if t != node && c.precedes(t, node) {
				return false
			}
		}
	}
	return true
}

// deleteIncomingEdges removes the edges of node's neighbours that point to
// node and returns how many were removed.
func (c *TurnContractor) deleteIncomingEdges(w *worker, node uint32) int {
	g := c.graph
	c.collectNeighbours(w, node)
	deleted := 0
	for _, u := range w.neighbours {
		deleted += g.DeleteEdgesTo(u, node)
	}
	return deleted
}

func (c *TurnContractor) updateNeighbours(w *worker, node uint32) {
	c.collectNeighbours(w, node)
	depth := c.nodes[node].depth + 1
	neighbours := slices.Clone(w.neighbours)
	for _, u := range neighbours {
		if c.nodes[u].depth < depth {
			c.nodes[u].depth = depth
		}
		c.nodes[u].priority = c.evaluate(w, u)
	}
}

func (c *TurnContractor) collectNeighbours(w *worker, node uint32) {
	g := c.graph
	w.neighbours = w.neighbours[:0]
	for e := g.BeginEdges(node); e < g.EndEdges(node); e++ {
		if t := g.Target(e); t != node {
			w.neighbours = append(w.neighbours, t)
		}
	}
	slices.Sort(w.neighbours)
	w.neighbours = slices.Compact(w.neighbours)
}

// evaluate computes the contraction priority of node from a simulated
// contraction.
func (c *TurnContractor) evaluate(w *worker, node uint32) float64 {
	st := c.contract(w, node, true)
	depth := float64(c.nodes[node].depth)
	if st.edgesDeleted == 0 || st.originalDeleted == 0 {
		return c.cfg.DepthFactor * depth
	}
	return c.cfg.EdgeQuotientFactor*float64(st.edgesAdded)/float64(st.edgesDeleted) +
		c.cfg.OriginalQuotientFactor*float64(st.originalAdded)/float64(st.originalDeleted) +
		c.cfg.DepthFactor*depth
}

func compareTurnEdges(a, b graph.TurnEdge) int {
	return cmp.Or(
		cmp.Compare(a.Source, b.Source),
		cmp.Compare(a.Target, b.Target),
		cmp.Compare(a.SourceSlot, b.SourceSlot),
		cmp.Compare(a.TargetSlot, b.TargetSlot),
		cmp.Compare(a.Data.Distance, b.Data.Distance),
		cmp.Compare(a.Data.Middle, b.Data.Middle),
		compareBool(a.Data.Forward, b.Data.Forward),
		compareBool(a.Data.Backward, b.Data.Backward),
	)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
