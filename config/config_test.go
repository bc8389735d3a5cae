package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	appDir := filepath.Join(dir, "callguard")
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(appDir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir()) // no config file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.ChunkDuration != DefaultChunkDuration {
		t.Errorf("ChunkDuration = %v", cfg.ChunkDuration)
	}
	if !cfg.Pipelined {
		t.Error("Pipelined default should be true")
	}
	if cfg.Format != "wav" {
		t.Errorf("Format = %q", cfg.Format)
	}
}

func TestLoadFile(t *testing.T) {
	writeConfig(t, `
endpoint = "https://scam-api.example.com"
chunk_ms = 5000
reconnect_base_delay_ms = 250
reconnect_max_attempts = 8
pipelined = false
format = "flac"
device = "USB Microphone"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != "https://scam-api.example.com" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.ChunkDuration != 5*time.Second {
		t.Errorf("ChunkDuration = %v", cfg.ChunkDuration)
	}
	if cfg.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v", cfg.BaseDelay)
	}
	if cfg.MaxAttempts != 8 {
		t.Errorf("MaxAttempts = %d", cfg.MaxAttempts)
	}
	if cfg.Pipelined {
		t.Error("Pipelined should be false")
	}
	if cfg.Format != "flac" {
		t.Errorf("Format = %q", cfg.Format)
	}
	if cfg.Device != "USB Microphone" {
		t.Errorf("Device = %q", cfg.Device)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	writeConfig(t, `endpoint = "http://from-file"`)
	t.Setenv("CALLGUARD_ENDPOINT", "http://from-env")
	t.Setenv("CALLGUARD_CHUNK_MS", "1500")
	t.Setenv("CALLGUARD_PIPELINED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != "http://from-env" {
		t.Errorf("Endpoint = %q, env should win over file", cfg.Endpoint)
	}
	if cfg.ChunkDuration != 1500*time.Millisecond {
		t.Errorf("ChunkDuration = %v", cfg.ChunkDuration)
	}
	if cfg.Pipelined {
		t.Error("Pipelined should be false from env")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	writeConfig(t, `endpoint = [this is not toml`)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}
