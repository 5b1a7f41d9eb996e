package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can write "250ms" or
// "5s". Bare numbers are taken as milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Millisecond)))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config captures the tunable parameters needed to bootstrap the server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Board   BoardConfig   `yaml:"board"`
	Scoring ScoringConfig `yaml:"scoring"`
	Persist PersistConfig `yaml:"persist"`
	Network NetworkConfig `yaml:"network"`
}

type ServerConfig struct {
	ListenHTTP       string   `yaml:"listen_http"`       // ":8080"
	TimerTick        Duration `yaml:"timer_tick"`        // granularity of session schedulers
	SnapshotInterval Duration `yaml:"snapshot_interval"` // how often dirty sessions are persisted
	ShutdownGrace    Duration `yaml:"shutdown_grace"`    // drain budget on SIGTERM
}

type BoardConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	MineThreshold float64 `yaml:"mine_threshold"` // noise values below 1 - threshold are mines
	MineCacheCap  int     `yaml:"mine_cache_cap"`
	CountCacheCap int     `yaml:"count_cache_cap"`
}

// ScoringConfig holds the point values applied by the action processor.
// All values are non-negative; MineHitPenalty is subtracted.
type ScoringConfig struct {
	FirstPlacePoints   int      `yaml:"first_place_points"`
	SecondPlacePoints  int      `yaml:"second_place_points"`
	ThirdPlacePoints   int      `yaml:"third_place_points"`
	NumberRevealPoints int      `yaml:"number_reveal_points"`
	MineHitPenalty     int      `yaml:"mine_hit_penalty"`
	LockoutDuration    Duration `yaml:"lockout_duration"`
	MineRevealDelay    Duration `yaml:"mine_reveal_delay"`
	FlagPlacePoints    int      `yaml:"flag_place_points"`
	FlagRemovePoints   int      `yaml:"flag_remove_points"`
}

type PersistConfig struct {
	Path string `yaml:"path"` // LevelDB directory; empty runs in-memory
}

type NetworkConfig struct {
	IntentsPerSecond float64 `yaml:"intents_per_second"` // per-connection rate limit
	IntentBurst      int     `yaml:"intent_burst"`
	WriteQueueSize   int     `yaml:"write_queue_size"` // buffered outbound events per connection
}

// Load reads configuration from a YAML file if provided. An empty path
// returns defaults. Environment variables override in either case.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenHTTP:       ":8080",
			TimerTick:        Duration(time.Second),
			SnapshotInterval: Duration(30 * time.Second),
			ShutdownGrace:    Duration(10 * time.Second),
		},
		Board: BoardConfig{
			ChunkSize:     16,
			MineThreshold: 0.85,
			MineCacheCap:  10_000,
			CountCacheCap: 5_000,
		},
		Scoring: DefaultScoring(),
		Persist: PersistConfig{
			Path: "",
		},
		Network: NetworkConfig{
			IntentsPerSecond: 40,
			IntentBurst:      80,
			WriteQueueSize:   256,
		},
	}
}

func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		FirstPlacePoints:   5,
		SecondPlacePoints:  3,
		ThirdPlacePoints:   1,
		NumberRevealPoints: 1,
		MineHitPenalty:     10,
		LockoutDuration:    Duration(5 * time.Second),
		MineRevealDelay:    Duration(3 * time.Second),
		FlagPlacePoints:    2,
		FlagRemovePoints:   0,
	}
}

// PlacePoints returns the award for the nth correct flag on a mine,
// 1-based. Positions beyond third score nothing.
func (s ScoringConfig) PlacePoints(position int) int {
	switch position {
	case 1:
		return s.FirstPlacePoints
	case 2:
		return s.SecondPlacePoints
	case 3:
		return s.ThirdPlacePoints
	default:
		return 0
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWEEP_LISTEN_HTTP"); v != "" {
		cfg.Server.ListenHTTP = v
	}
	if v := os.Getenv("SWEEP_PERSIST_PATH"); v != "" {
		cfg.Persist.Path = v
	}
	if v := os.Getenv("SWEEP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Board.ChunkSize = n
		}
	}
	if v := os.Getenv("SWEEP_MINE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Board.MineThreshold = f
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.ListenHTTP == "" {
		return errors.New("server.listen_http must be set")
	}
	if c.Server.TimerTick <= 0 {
		return errors.New("server.timer_tick must be positive")
	}
	if c.Board.ChunkSize <= 0 {
		return errors.New("board.chunk_size must be positive")
	}
	if c.Board.MineThreshold <= 0 || c.Board.MineThreshold >= 1 {
		return errors.New("board.mine_threshold must lie in (0, 1)")
	}
	if c.Board.MineCacheCap <= 0 || c.Board.CountCacheCap <= 0 {
		return errors.New("board cache caps must be positive")
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if c.Network.IntentsPerSecond <= 0 {
		return errors.New("network.intents_per_second must be positive")
	}
	if c.Network.WriteQueueSize <= 0 {
		return errors.New("network.write_queue_size must be positive")
	}
	return nil
}

func (s ScoringConfig) Validate() error {
	if s.FirstPlacePoints < 0 || s.SecondPlacePoints < 0 || s.ThirdPlacePoints < 0 {
		return errors.New("scoring place points cannot be negative")
	}
	if s.NumberRevealPoints < 0 || s.MineHitPenalty < 0 {
		return errors.New("scoring.number_reveal_points and mine_hit_penalty cannot be negative")
	}
	if s.FlagPlacePoints < 0 || s.FlagRemovePoints < 0 {
		return errors.New("scoring flag points cannot be negative")
	}
	if s.LockoutDuration < 0 || s.MineRevealDelay < 0 {
		return errors.New("scoring durations cannot be negative")
	}
	return nil
}
