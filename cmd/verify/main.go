// Command verify compares turn queries on a preprocessed hierarchy against an
// exhaustive search on the uncontracted graph rebuilt from the same input.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"turn_router/pkg/ch"
	"turn_router/pkg/config"
	"turn_router/pkg/graph"
	"turn_router/pkg/logger"
	osmparser "turn_router/pkg/osm"
	"turn_router/pkg/routing"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config used for preprocessing")
	input := flag.String("input", "", "Path to the .osm.pbf file the hierarchy was built from")
	graphPath := flag.String("graph", "graph.trn", "Path to preprocessed hierarchy")
	bbox := flag.String("bbox", "", "Bounding box used for preprocessing: minLat,minLng,maxLat,maxLng")
	demands := flag.Int("n", 1000, "Number of random demands")
	seed := flag.Uint64("seed", 1, "Random seed for demands")
	maxReport := flag.Int("report", 10, "Mismatches to log in detail")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: verify --input <file.osm.pbf> --graph <graph.trn> [--config preprocess.yaml] [--bbox ...] [--n 1000] [--seed 1]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	opts := cfg.ParseOptions()
	if *bbox != "" {
		var b osmparser.BBox
		if _, err := fmt.Sscanf(*bbox, "%f,%f,%f,%f", &b.MinLat, &b.MinLng, &b.MaxLat, &b.MaxLng); err != nil {
			log.Fatal("invalid bbox, expected minLat,minLng,maxLat,maxLng", zap.Error(err))
		}
		opts.BBox = b
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mismatches, err := run(ctx, cfg, opts, *input, *graphPath, *demands, *seed, *maxReport, log)
	if err != nil {
		log.Fatal("verify failed", zap.Error(err))
	}
	if mismatches > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg config.Config, opts osmparser.ParseOptions,
	input, graphPath string, n int, seed uint64, maxReport int, log *zap.Logger) (int, error) {
	h, err := graph.ReadTurnBinary(graphPath)
	if err != nil {
		return 0, fmt.Errorf("load hierarchy: %w", err)
	}

	f, err := os.Open(input)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	in, err := osmparser.Parse(ctx, f, opts, log)
	if err != nil {
		return 0, fmt.Errorf("parse osm: %w", err)
	}
	if cfg.Preprocess.LargestComponent {
		in = graph.FilterInput(in, graph.LargestComponent(in))
	}
	ref, err := ch.BuildTurnGraph(in, cfg.Contraction(), log)
	if err != nil {
		return 0, err
	}
	if len(ref.Roads) != len(h.Roads) || ref.NumNodes() != h.NumNodes() {
		return 0, fmt.Errorf("input does not match hierarchy: %d junctions and %d roads, hierarchy has %d and %d",
			ref.NumNodes(), len(ref.Roads), h.NumNodes(), len(h.Roads))
	}

	var live []uint32
	for id, r := range h.Roads {
		if r.Distance > 0 {
			live = append(live, uint32(id))
		}
	}
	if len(live) == 0 {
		return 0, errors.New("hierarchy has no routable roads")
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	fast := routing.NewTurnQuery(h.Graph)
	slow := routing.NewTurnQuery(ref.Graph)
	bar := progressbar.Default(int64(n), "verifying demands")

	var fastTime, slowTime time.Duration
	var mismatches, unreachable int
	for i := range n {
		if err := ctx.Err(); err != nil {
			return mismatches, err
		}
		src := queryEdge(h, live[rng.IntN(len(live))])
		dst := queryEdge(h, live[rng.IntN(len(live))])

		begin := time.Now()
		got, err := fast.Query(src, dst)
		fastTime += time.Since(begin)
		if err != nil {
			return mismatches, fmt.Errorf("demand %d: %w", i, err)
		}
		begin = time.Now()
		want, err := slow.QueryUnidirectional(src, dst)
		slowTime += time.Since(begin)
		if err != nil {
			return mismatches, fmt.Errorf("demand %d reference: %w", i, err)
		}

		if want.Distance == routing.Unreachable {
			unreachable++
		}
		if got.Distance != want.Distance {
			mismatches++
			if mismatches <= maxReport {
				log.Warn("distance mismatch",
					zap.Int("demand", i),
					zap.Uint32("source_road", src.ID),
					zap.Uint32("target_road", dst.ID),
					zap.Uint32("hierarchy", got.Distance),
					zap.Uint32("reference", want.Distance))
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	log.Info("verification finished",
		zap.Int("demands", n),
		zap.Int("mismatches", mismatches),
		zap.Int("unreachable", unreachable),
		zap.Duration("hierarchy_avg", avg(fastTime, n)),
		zap.Duration("reference_avg", avg(slowTime, n)))
	return mismatches, nil
}

func queryEdge(h *graph.TurnHierarchy, id uint32) routing.QueryEdge {
	r := h.Roads[id]
	return routing.QueryEdge{Source: r.Source, Target: r.Target, ID: id}
}

func avg(d time.Duration, n int) time.Duration {
	if n == 0 {
		return 0
	}
	return d / time.Duration(n)
}
