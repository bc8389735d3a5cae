// Package config loads settings from ~/.config/callguard/config.toml with
// CALLGUARD_* environment overrides. Command-line flags win over both; that
// layering happens in main.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultEndpoint      = "http://localhost:3000"
	DefaultChunkDuration = 3 * time.Second
	DefaultBaseDelay     = time.Second
	DefaultMaxAttempts   = 5
	DefaultFormat        = "wav"
)

type Config struct {
	Endpoint      string
	ChunkDuration time.Duration
	BaseDelay     time.Duration // reconnect backoff unit
	MaxAttempts   int           // reconnect attempts before giving up
	Pipelined     bool
	Format        string // batch upload encoding: wav or flac
	Device        string // preferred capture device name
	LogPath       string
}

type fileConfig struct {
	Endpoint    string `toml:"endpoint"`
	ChunkMs     int    `toml:"chunk_ms"`
	BaseDelayMs int    `toml:"reconnect_base_delay_ms"`
	MaxAttempts int    `toml:"reconnect_max_attempts"`
	Pipelined   *bool  `toml:"pipelined"`
	Format      string `toml:"format"`
	Device      string `toml:"device"`
	LogPath     string `toml:"log_path"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Endpoint:      DefaultEndpoint,
		ChunkDuration: DefaultChunkDuration,
		BaseDelay:     DefaultBaseDelay,
		MaxAttempts:   DefaultMaxAttempts,
		Pipelined:     true,
		Format:        DefaultFormat,
	}

	if path := configFilePath(); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, err
		}
		applyFile(cfg, fc)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	if fc.Endpoint != "" {
		cfg.Endpoint = fc.Endpoint
	}
	if fc.ChunkMs > 0 {
		cfg.ChunkDuration = time.Duration(fc.ChunkMs) * time.Millisecond
	}
	if fc.BaseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(fc.BaseDelayMs) * time.Millisecond
	}
	if fc.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.MaxAttempts
	}
	if fc.Pipelined != nil {
		cfg.Pipelined = *fc.Pipelined
	}
	if fc.Format != "" {
		cfg.Format = fc.Format
	}
	if fc.Device != "" {
		cfg.Device = fc.Device
	}
	if fc.LogPath != "" {
		cfg.LogPath = fc.LogPath
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CALLGUARD_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("CALLGUARD_CHUNK_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.ChunkDuration = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CALLGUARD_PIPELINED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pipelined = b
		}
	}
	if v := os.Getenv("CALLGUARD_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("CALLGUARD_DEVICE"); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv("CALLGUARD_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
}

func configFilePath() string {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "callguard")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "callguard")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
