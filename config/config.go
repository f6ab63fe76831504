// Package config loads engine configuration from YAML. All empirical
// constants of the scheduler (hop budget, loop threshold) are configuration,
// not hard invariants.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the engine-wide configuration.
type Config struct {
	// HopBudget bounds scheduler iterations per turn.
	HopBudget int `koanf:"hop_budget"`
	// LoopThreshold is the repeat count tripping the loop guard.
	LoopThreshold int `koanf:"loop_threshold"`
	// PoolSize bounds concurrently executing workers.
	PoolSize int `koanf:"pool_size"`
	// Speculation toggles speculative pre-execution.
	Speculation bool `koanf:"speculation"`

	// SessionTTL is the idle window before a session is evicted.
	SessionTTL time.Duration `koanf:"session_ttl"`
	// TurnTimeout is the overall wall-clock deadline per turn.
	TurnTimeout time.Duration `koanf:"turn_timeout"`

	// ResponseCacheTTL is how long cached turn replies stay valid.
	ResponseCacheTTL time.Duration `koanf:"response_cache_ttl"`
	// ResponseCacheSize bounds the response cache entry count.
	ResponseCacheSize int `koanf:"response_cache_size"`

	// DataPaths are external data sources watched for modification.
	DataPaths []string `koanf:"data_paths"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is json or text.
	LogFormat string `koanf:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HopBudget:         15,
		LoopThreshold:     3,
		PoolSize:          8,
		Speculation:       true,
		SessionTTL:        60 * time.Minute,
		TurnTimeout:       2 * time.Minute,
		ResponseCacheTTL:  5 * time.Minute,
		ResponseCacheSize: 256,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if cfg.HopBudget <= 0 {
		return Config{}, fmt.Errorf("config: hop_budget must be positive, got %d", cfg.HopBudget)
	}
	if cfg.LoopThreshold <= 0 {
		return Config{}, fmt.Errorf("config: loop_threshold must be positive, got %d", cfg.LoopThreshold)
	}

	return cfg, nil
}
