package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turn_router/pkg/ch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	want := ch.DefaultConfig()
	want.ShowProgress = true
	assert.Equal(t, want, cfg.Contraction())
	assert.Equal(t, ch.DefaultPlainConfig(), cfg.PlainContraction())
	assert.Equal(t, ":8080", cfg.API().Addr)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  development: true
preprocess:
  workers: 3
  aggressive: false
  seed: 42
  u_turn_penalty: -1
  plain:
    enabled: true
    core_shortcut_limit: 12
server:
  addr: ":9000"
  request_timeout: 250ms
  max_concurrent: 4
  max_snap_distance: 200
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Log{Level: "debug", Development: true}, cfg.Log)

	c := cfg.Contraction()
	assert.Equal(t, 3, c.Workers)
	assert.False(t, c.Aggressive)
	assert.Equal(t, int64(42), c.Seed)
	// Keys not in the file keep their defaults.
	assert.Equal(t, ch.DefaultConfig().MaxSettled, c.MaxSettled)

	p := cfg.PlainContraction()
	assert.Equal(t, 12, p.CoreShortcutLimit)
	assert.Equal(t, ch.DefaultPlainConfig().MaxHops, p.MaxHops)
	assert.True(t, cfg.Preprocess.Plain.Enabled)

	assert.Equal(t, -1.0, cfg.ParseOptions().UTurnPenalty)
	assert.Equal(t, 170.0, cfg.ParseOptions().UTurnAngle)

	s := cfg.API()
	assert.Equal(t, ":9000", s.Addr)
	assert.Equal(t, 250*time.Millisecond, s.RequestTimeout)
	assert.Equal(t, 5*time.Second, s.ReadTimeout)
	assert.Equal(t, 4, s.MaxConcurrent)
	assert.Equal(t, 200.0, cfg.Engine().MaxSnapDistance)
	assert.Equal(t, 10_000, cfg.Engine().UnpackCacheSize)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestZeroWorkersUsesAllCPUs(t *testing.T) {
	cfg, err := Load(writeConfig(t, "preprocess:\n  workers: 0\n"))
	require.NoError(t, err)
	assert.Positive(t, cfg.Contraction().Workers)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"unknown key", "server:\n  port: 80\n", "field port not found"},
		{"bad duration", "server:\n  read_timeout: soon\n", "parse config"},
		{"negative workers", "preprocess:\n  workers: -2\n", "workers"},
		{"compression level", "preprocess:\n  compression_level: 30\n", "compression_level"},
		{"u-turn angle", "preprocess:\n  u_turn_angle: 190\n", "u_turn_angle"},
		{"plain limits", "preprocess:\n  plain:\n    enabled: true\n    max_hops: 0\n", "plain"},
		{"snap distance", "server:\n  max_snap_distance: 0\n", "max_snap_distance"},
		{"negative timeout", "server:\n  write_timeout: -1s\n", "timeouts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
