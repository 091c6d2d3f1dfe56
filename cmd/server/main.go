package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"turn_router/pkg/api"
	"turn_router/pkg/config"
	"turn_router/pkg/graph"
	"turn_router/pkg/logger"
	"turn_router/pkg/routing"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	graphPath := flag.String("graph", "graph.trn", "Path to preprocessed hierarchy")
	plain := flag.Bool("plain", false, "Load a turn-unaware hierarchy written with --plain-output")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origin (empty = same-origin)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "cors-origin":
			cfg.Server.CORSOrigin = *corsOrigin
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	start := time.Now()
	router, stats, err := load(*graphPath, *plain, cfg.Engine())
	if err != nil {
		log.Fatal("failed to load hierarchy", zap.String("path", *graphPath), zap.Error(err))
	}
	log.Info("ready",
		zap.String("mode", stats.Mode),
		zap.Uint32("junctions", stats.NumNodes),
		zap.Int("edges", stats.NumEdges),
		zap.Int("roads", stats.NumRoads),
		zap.Duration("took", time.Since(start).Round(time.Millisecond)))

	handlers := api.NewHandlers(router, stats, log)
	srv := api.NewServer(cfg.API(), handlers, log)
	if err := api.ListenAndServe(srv, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func load(path string, plain bool, cfg routing.EngineConfig) (routing.Router, api.StatsResponse, error) {
	if plain {
		chg, err := graph.ReadBinary(path)
		if err != nil {
			return nil, api.StatsResponse{}, err
		}
		stats := networkStats("plain", &chg.Network)
		stats.NumEdges = len(chg.FwdHead) + len(chg.BwdHead)
		return routing.NewCHEngine(chg, cfg), stats, nil
	}

	h, err := graph.ReadTurnBinary(path)
	if err != nil {
		return nil, api.StatsResponse{}, err
	}
	engine, err := routing.NewTurnEngine(h, cfg)
	if err != nil {
		return nil, api.StatsResponse{}, err
	}
	stats := networkStats("turn", &h.Network)
	stats.NumEdges = int(h.Graph.NumEdges())
	return engine, stats, nil
}

func networkStats(mode string, n *graph.Network) api.StatsResponse {
	stats := api.StatsResponse{Mode: mode, NumNodes: n.NumNodes(), NumRoads: len(n.Roads)}
	if n.Geometry != nil {
		stats.NumShapes = len(n.Geometry.Lat)
	}
	return stats
}
