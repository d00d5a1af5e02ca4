package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile_Defaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.CycleInterval != time.Second {
		t.Fatalf("cycle interval default = %v", cfg.CycleInterval)
	}
	if cfg.ArbitrationTimeout != 300*time.Millisecond {
		t.Fatalf("arbitration timeout default = %v", cfg.ArbitrationTimeout)
	}
	if cfg.LearningRate != 0.1 {
		t.Fatalf("learning rate default = %v", cfg.LearningRate)
	}
	if cfg.StaleDeltaHorizon != 64 {
		t.Fatalf("stale delta horizon default = %v", cfg.StaleDeltaHorizon)
	}
	if cfg.Feed.Mode != "synthetic" {
		t.Fatalf("feed mode default = %q", cfg.Feed.Mode)
	}
	if cfg.Hive.ListenAddr == "" {
		t.Fatal("listen addr default missing")
	}
}

func TestLoadFromFile_YAMLAndEnvPrecedence(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "gie.yaml")
	yaml := `
cycle_interval_ms: 500
learning_rate: 0.25
hive:
  instance_id: file-clone
  peers:
    - http://peer-1:7531
engines:
  - id: aggressive
    params:
      entry_threshold: 0.2
sensors: [noise, volume]
feed:
  mode: synthetic
  symbol: EURUSD
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// Environment beats the file.
	t.Setenv("GIE_LEARNING_RATE", "0.5")
	t.Setenv("GIE_INSTANCE_ID", "env-clone")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.CycleInterval != 500*time.Millisecond {
		t.Fatalf("cycle interval = %v, want 500ms from file", cfg.CycleInterval)
	}
	if cfg.LearningRate != 0.5 {
		t.Fatalf("learning rate = %v, env must override file", cfg.LearningRate)
	}
	if cfg.Hive.InstanceID != "env-clone" {
		t.Fatalf("instance id = %q, env must override file", cfg.Hive.InstanceID)
	}
	if len(cfg.Hive.Peers) != 1 || cfg.Hive.Peers[0] != "http://peer-1:7531" {
		t.Fatalf("peers = %v", cfg.Hive.Peers)
	}
	if len(cfg.Engines) != 1 || cfg.Engines[0].Params["entry_threshold"] != 0.2 {
		t.Fatalf("engines = %+v", cfg.Engines)
	}
	if len(cfg.Sensors) != 2 {
		t.Fatalf("sensors = %v", cfg.Sensors)
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		return &Config{
			CycleInterval:      time.Second,
			ArbitrationTimeout: 300 * time.Millisecond,
			LearningRate:       0.1,
			SyncInterval:       5 * time.Second,
			StaleDeltaHorizon:  64,
			Feed:               FeedConfig{Mode: "synthetic"},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"learning rate zero", func(c *Config) { c.LearningRate = 0 }},
		{"learning rate one", func(c *Config) { c.LearningRate = 1 }},
		{"cycle interval zero", func(c *Config) { c.CycleInterval = 0 }},
		{"arbitration timeout zero", func(c *Config) { c.ArbitrationTimeout = 0 }},
		{"horizon zero", func(c *Config) { c.StaleDeltaHorizon = 0 }},
		{"duplicate engine", func(c *Config) {
			c.Engines = []EngineConfig{{ID: "a"}, {ID: "a"}}
		}},
		{"empty engine id", func(c *Config) {
			c.Engines = []EngineConfig{{ID: ""}}
		}},
		{"unknown feed mode", func(c *Config) { c.Feed.Mode = "carrier-pigeon" }},
		{"websocket without url", func(c *Config) { c.Feed = FeedConfig{Mode: "websocket"} }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation to fail", tc.name)
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config must validate: %v", err)
	}
}
