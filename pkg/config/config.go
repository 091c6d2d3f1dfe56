// Package config loads the YAML configuration shared by the commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"turn_router/pkg/api"
	"turn_router/pkg/ch"
	"turn_router/pkg/osm"
	"turn_router/pkg/routing"
)

// Config is the top-level configuration file.
type Config struct {
	Log        Log        `yaml:"log"`
	Preprocess Preprocess `yaml:"preprocess"`
	Server     Server     `yaml:"server"`
}

// Log selects the zap logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Preprocess tunes import and contraction.
type Preprocess struct {
	Workers                int     `yaml:"workers"`
	Aggressive             bool    `yaml:"aggressive"`
	SimulatedMaxSettled    int     `yaml:"simulated_max_settled"`
	MaxSettled             int     `yaml:"max_settled"`
	AggressiveMaxSettled   int     `yaml:"aggressive_max_settled"`
	EdgeQuotientFactor     float64 `yaml:"edge_quotient_factor"`
	OriginalQuotientFactor float64 `yaml:"original_quotient_factor"`
	DepthFactor            float64 `yaml:"depth_factor"`
	Seed                   int64   `yaml:"seed"`
	PermutationLimit       int     `yaml:"permutation_limit"`
	CompressionLevel       int     `yaml:"compression_level"`
	ShowProgress           bool    `yaml:"show_progress"`

	LargestComponent bool    `yaml:"largest_component"`
	UTurnPenalty     float64 `yaml:"u_turn_penalty"`
	UTurnAngle       float64 `yaml:"u_turn_angle"`

	Plain Plain `yaml:"plain"`
}

// Plain controls the optional turn-unaware hierarchy.
type Plain struct {
	Enabled           bool `yaml:"enabled"`
	MaxSettled        int  `yaml:"max_settled"`
	MaxHops           int  `yaml:"max_hops"`
	CoreShortcutLimit int  `yaml:"core_shortcut_limit"`
}

// Server configures the HTTP service and its engine.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	CORSOrigin      string        `yaml:"cors_origin"`
	MaxSnapDistance float64       `yaml:"max_snap_distance"`
	UnpackCacheSize int           `yaml:"unpack_cache_size"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c := ch.DefaultConfig()
	p := ch.DefaultPlainConfig()
	o := osm.DefaultParseOptions()
	s := api.DefaultConfig(":8080")
	e := routing.DefaultEngineConfig()
	return Config{
		Log: Log{Level: "info"},
		Preprocess: Preprocess{
			Workers:                c.Workers,
			Aggressive:             c.Aggressive,
			SimulatedMaxSettled:    c.SimulatedMaxSettled,
			MaxSettled:             c.MaxSettled,
			AggressiveMaxSettled:   c.AggressiveMaxSettled,
			EdgeQuotientFactor:     c.EdgeQuotientFactor,
			OriginalQuotientFactor: c.OriginalQuotientFactor,
			DepthFactor:            c.DepthFactor,
			Seed:                   c.Seed,
			PermutationLimit:       c.PermutationLimit,
			CompressionLevel:       c.CompressionLevel,
			ShowProgress:           true,
			LargestComponent:       true,
			UTurnPenalty:           o.UTurnPenalty,
			UTurnAngle:             o.UTurnAngle,
			Plain: Plain{
				MaxSettled:        p.MaxSettled,
				MaxHops:           p.MaxHops,
				CoreShortcutLimit: p.CoreShortcutLimit,
			},
		},
		Server: Server{
			Addr:            s.Addr,
			ReadTimeout:     s.ReadTimeout,
			WriteTimeout:    s.WriteTimeout,
			RequestTimeout:  s.RequestTimeout,
			MaxConcurrent:   s.MaxConcurrent,
			MaxSnapDistance: e.MaxSnapDistance,
			UnpackCacheSize: e.UnpackCacheSize,
		},
	}
}

// Load reads path on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	p := c.Preprocess
	switch {
	case p.Workers < 0:
		return errors.New("preprocess.workers must not be negative")
	case p.SimulatedMaxSettled <= 0, p.MaxSettled <= 0, p.AggressiveMaxSettled <= 0:
		return errors.New("preprocess witness search limits must be positive")
	case p.CompressionLevel < 0 || p.CompressionLevel > 22:
		return fmt.Errorf("preprocess.compression_level %d out of range [0, 22]", p.CompressionLevel)
	case p.PermutationLimit <= 0:
		return errors.New("preprocess.permutation_limit must be positive")
	case p.UTurnAngle < 0 || p.UTurnAngle > 180:
		return fmt.Errorf("preprocess.u_turn_angle %g out of range [0, 180]", p.UTurnAngle)
	case p.Plain.Enabled && (p.Plain.MaxSettled <= 0 || p.Plain.MaxHops <= 0):
		return errors.New("preprocess.plain search limits must be positive")
	}
	s := c.Server
	switch {
	case s.MaxSnapDistance <= 0:
		return errors.New("server.max_snap_distance must be positive")
	case s.MaxConcurrent < 0:
		return errors.New("server.max_concurrent must not be negative")
	case s.ReadTimeout < 0, s.WriteTimeout < 0, s.RequestTimeout < 0:
		return errors.New("server timeouts must not be negative")
	}
	return nil
}

// Contraction returns the turn contractor settings.
func (c Config) Contraction() ch.Config {
	p := c.Preprocess
	workers := p.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return ch.Config{
		Workers:                workers,
		Aggressive:             p.Aggressive,
		SimulatedMaxSettled:    p.SimulatedMaxSettled,
		MaxSettled:             p.MaxSettled,
		AggressiveMaxSettled:   p.AggressiveMaxSettled,
		EdgeQuotientFactor:     p.EdgeQuotientFactor,
		OriginalQuotientFactor: p.OriginalQuotientFactor,
		DepthFactor:            p.DepthFactor,
		Seed:                   p.Seed,
		PermutationLimit:       p.PermutationLimit,
		CompressionLevel:       p.CompressionLevel,
		ShowProgress:           p.ShowProgress,
	}
}

// PlainContraction returns the plain contractor settings.
func (c Config) PlainContraction() ch.PlainConfig {
	p := c.Preprocess.Plain
	return ch.PlainConfig{MaxSettled: p.MaxSettled, MaxHops: p.MaxHops, CoreShortcutLimit: p.CoreShortcutLimit}
}

// ParseOptions returns the OSM import options.
func (c Config) ParseOptions() osm.ParseOptions {
	return osm.ParseOptions{UTurnPenalty: c.Preprocess.UTurnPenalty, UTurnAngle: c.Preprocess.UTurnAngle}
}

// Engine returns the routing engine settings.
func (c Config) Engine() routing.EngineConfig {
	return routing.EngineConfig{MaxSnapDistance: c.Server.MaxSnapDistance, UnpackCacheSize: c.Server.UnpackCacheSize}
}

// API returns the HTTP server settings.
func (c Config) API() api.ServerConfig {
	s := c.Server
	return api.ServerConfig{
		Addr:           s.Addr,
		ReadTimeout:    s.ReadTimeout,
		WriteTimeout:   s.WriteTimeout,
		RequestTimeout: s.RequestTimeout,
		MaxConcurrent:  s.MaxConcurrent,
		CORSOrigin:     s.CORSOrigin,
	}
}
