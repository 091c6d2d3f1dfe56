package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"turn_router/pkg/ch"
	"turn_router/pkg/config"
	"turn_router/pkg/graph"
	"turn_router/pkg/logger"
	osmparser "turn_router/pkg/osm"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	input := flag.String("input", "", "Path to .osm.pbf file")
	output := flag.String("output", "graph.trn", "Output turn hierarchy file path")
	plainOutput := flag.String("plain-output", "", "Also write a turn-unaware hierarchy to this path")
	bbox := flag.String("bbox", "", "Bounding box filter: minLat,minLng,maxLat,maxLng (e.g. 1.15,103.6,1.48,104.1)")
	singapore := flag.Bool("singapore", false, "Shortcut for --bbox 1.15,103.6,1.48,104.1 (Singapore bounding box)")
	kl := flag.Bool("kl", false, "Shortcut for --bbox 2.75,101.2,3.5,102.0 (Selangor + Kuala Lumpur bounding box)")
	workers := flag.Int("workers", 0, "Contraction workers (overrides config, 0 = all CPUs)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: preprocess --input <file.osm.pbf> [--config preprocess.yaml] [--output graph.trn] [--plain-output graph.bin] [--singapore | --kl | --bbox minLat,minLng,maxLat,maxLng]")
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
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Preprocess.Workers = *workers
		case "log-level":
			cfg.Log.Level = *logLevel
		case "plain-output":
			cfg.Preprocess.Plain.Enabled = true
		}
	})

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	opts := cfg.ParseOptions()
	switch {
	case *kl:
		opts.BBox = osmparser.BBox{MinLat: 2.75, MaxLat: 3.5, MinLng: 101.2, MaxLng: 102.0}
	case *singapore:
		opts.BBox = osmparser.BBox{MinLat: 1.15, MaxLat: 1.48, MinLng: 103.6, MaxLng: 104.1}
	case *bbox != "":
		var minLat, minLng, maxLat, maxLng float64
		if _, err := fmt.Sscanf(*bbox, "%f,%f,%f,%f", &minLat, &minLng, &maxLat, &maxLng); err != nil {
			log.Fatal("invalid bbox, expected minLat,minLng,maxLat,maxLng", zap.Error(err))
		}
		opts.BBox = osmparser.BBox{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}
	}
	if !opts.BBox.IsZero() {
		log.Info("bounding box filter",
			zap.Float64("min_lat", opts.BBox.MinLat), zap.Float64("max_lat", opts.BBox.MaxLat),
			zap.Float64("min_lng", opts.BBox.MinLng), zap.Float64("max_lng", opts.BBox.MaxLng))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, *input, *output, *plainOutput, log); err != nil {
		log.Fatal("preprocess failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, opts osmparser.ParseOptions, input, output, plainOutput string, log *zap.Logger) error {
	start := time.Now()

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	in, err := osmparser.Parse(ctx, f, opts, log)
	if err != nil {
		return fmt.Errorf("parse osm: %w", err)
	}
	log.Info("parsed", zap.Int("junctions", len(in.Nodes)), zap.Int("edges", len(in.Edges)))

	if cfg.Preprocess.LargestComponent {
		nodes := graph.LargestComponent(in)
		total := len(in.Nodes)
		in = graph.FilterInput(in, nodes)
		log.Info("largest component",
			zap.Int("junctions", len(in.Nodes)),
			zap.Int("edges", len(in.Edges)),
			zap.Float64("share", float64(len(nodes))/float64(max(total, 1))))
	}

	h, err := ch.Preprocess(in, output, cfg.Contraction(), log)
	if err != nil {
		return err
	}

	if cfg.Preprocess.Plain.Enabled {
		if plainOutput == "" {
			plainOutput = output + ".plain"
		}
		chg := ch.ContractNetwork(&h.Network, cfg.PlainContraction(), log)
		if err := graph.WriteBinary(plainOutput, chg, cfg.Preprocess.CompressionLevel); err != nil {
			return fmt.Errorf("write plain hierarchy: %w", err)
		}
		log.Info("plain hierarchy written", zap.String("path", plainOutput))
	}

	info, err := os.Stat(output)
	if err != nil {
		return err
	}
	log.Info("done",
		zap.Duration("took", time.Since(start).Round(time.Second)),
		zap.String("output", output),
		zap.Float64("size_mb", float64(info.Size())/(1024*1024)))
	return nil
}
