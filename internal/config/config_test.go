package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Board.ChunkSize != 16 {
		t.Fatalf("expected chunk size 16, got %d", cfg.Board.ChunkSize)
	}
	if cfg.Scoring.MineRevealDelay != Duration(3*time.Second) {
		t.Fatalf("expected 3s reveal delay, got %v", cfg.Scoring.MineRevealDelay)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  listen_http: ":9999"
board:
  chunk_size: 32
scoring:
  first_place_points: 10
  lockout_duration: 2s
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.ListenHTTP != ":9999" {
		t.Fatalf("listen_http not applied: %q", cfg.Server.ListenHTTP)
	}
	if cfg.Board.ChunkSize != 32 {
		t.Fatalf("chunk_size not applied: %d", cfg.Board.ChunkSize)
	}
	if cfg.Scoring.FirstPlacePoints != 10 {
		t.Fatalf("first_place_points not applied: %d", cfg.Scoring.FirstPlacePoints)
	}
	if cfg.Scoring.LockoutDuration != Duration(2*time.Second) {
		t.Fatalf("lockout_duration not applied: %v", cfg.Scoring.LockoutDuration)
	}
	// Untouched fields keep their defaults.
	if cfg.Scoring.SecondPlacePoints != 3 {
		t.Fatalf("second_place_points default lost: %d", cfg.Scoring.SecondPlacePoints)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("board:\n  mine_threshold: 1.5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for threshold out of range")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SWEEP_CHUNK_SIZE", "8")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Board.ChunkSize != 8 {
		t.Fatalf("env override not applied: %d", cfg.Board.ChunkSize)
	}
}

func TestPlacePoints(t *testing.T) {
	s := DefaultScoring()
	cases := []struct {
		position int
		want     int
	}{
		{1, 5},
		{2, 3},
		{3, 1},
		{4, 0},
		{9, 0},
	}
	for _, tc := range cases {
		if got := s.PlacePoints(tc.position); got != tc.want {
			t.Fatalf("place %d: expected %d points, got %d", tc.position, tc.want, got)
		}
	}
}
