package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EngineConfig enables one strategy engine and carries its tuning knobs.
type EngineConfig struct {
	ID     string             `yaml:"id"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// FeedConfig selects the tick source for the sensor layer.
type FeedConfig struct {
	// Mode: "websocket" or "synthetic" (paper ticks, no external feed).
	Mode string `yaml:"mode"`
	// URL of the websocket tick stream (websocket mode).
	URL string `yaml:"url"`
	// Symbol forwarded to the feed subscription.
	Symbol string `yaml:"symbol"`
}

// HiveConfig describes this clone and its peers.
type HiveConfig struct {
	InstanceID string   `yaml:"instance_id"` // generated when empty
	ListenAddr string   `yaml:"listen_addr"` // HTTP surface (deltas, outcomes, stats)
	Peers      []string `yaml:"peers"`       // peer base URLs, e.g. http://10.0.0.2:7531
}

// Config is the full runtime configuration of one gie instance.
type Config struct {
	// Decision core
	CycleInterval      time.Duration // sensing/decision cadence
	ArbitrationTimeout time.Duration // per-cycle engine response deadline

	// Feedback loop
	LearningRate       float64 // EMA step for reward-weighted updates
	MaxResolveRetries  int     // bounded retries on version conflict

	// Synchronization
	SyncInterval      time.Duration // peer reconciliation period
	StaleDeltaHorizon int           // out-of-order delta buffer per engine

	Hive    HiveConfig
	Engines []EngineConfig
	Sensors []string // enabled sensor names; empty means all registered
	Feed    FeedConfig

	// Storage
	DataDir string // badger knowledge store + sqlite decision log live here

	// Observability
	LogLevel    string
	LogFile     string
	MetricsAddr string // expvar/pprof listener; empty disables

	DryRun bool // synthetic feed + no external action emission
}

// ConfigFile mirrors the YAML layout.
type ConfigFile struct {
	CycleIntervalMS      int            `yaml:"cycle_interval_ms"`
	ArbitrationTimeoutMS int            `yaml:"arbitration_timeout_ms"`
	LearningRate         float64        `yaml:"learning_rate"`
	MaxResolveRetries    int            `yaml:"max_resolve_retries"`
	SyncIntervalMS       int            `yaml:"sync_interval_ms"`
	StaleDeltaHorizon    int            `yaml:"stale_delta_horizon"`
	Hive                 HiveConfig     `yaml:"hive"`
	Engines              []EngineConfig `yaml:"engines"`
	Sensors              []string       `yaml:"sensors"`
	Feed                 FeedConfig     `yaml:"feed"`
	DataDir              string         `yaml:"data_dir"`
	LogLevel             string         `yaml:"log_level"`
	LogFile              string         `yaml:"log_file"`
	MetricsAddr          string         `yaml:"metrics_addr"`
	DryRun               bool           `yaml:"dry_run"`
}

var (
	globalConfig   *Config
	configFilePath string
)

// SetConfigPath sets the config file path used by Load.
func SetConfigPath(path string) { configFilePath = path }

// GetConfigPath returns the config file path used by Load.
func GetConfigPath() string { return configFilePath }

// Load loads configuration from the configured file path.
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile loads configuration from a YAML file, then applies
// environment overrides (a .env file next to the process is honored).
// Precedence: environment > file > defaults.
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	// .env is optional; ignore absence.
	_ = godotenv.Load()

	var file *ConfigFile
	if filePath != "" {
		f, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
		file = f
	}
	if file == nil {
		file = &ConfigFile{}
	}

	cfg := &Config{
		CycleInterval:      msOrEnv("GIE_CYCLE_INTERVAL_MS", file.CycleIntervalMS, 1000),
		ArbitrationTimeout: msOrEnv("GIE_ARBITRATION_TIMEOUT_MS", file.ArbitrationTimeoutMS, 300),
		LearningRate:       floatOrEnv("GIE_LEARNING_RATE", file.LearningRate, 0.1),
		MaxResolveRetries:  intOrEnv("GIE_MAX_RESOLVE_RETRIES", file.MaxResolveRetries, 5),
		SyncInterval:       msOrEnv("GIE_SYNC_INTERVAL_MS", file.SyncIntervalMS, 5000),
		StaleDeltaHorizon:  intOrEnv("GIE_STALE_DELTA_HORIZON", file.StaleDeltaHorizon, 64),
		Hive:               file.Hive,
		Engines:            file.Engines,
		Sensors:            file.Sensors,
		Feed:               file.Feed,
		DataDir:            stringOrEnv("GIE_DATA_DIR", file.DataDir, "data"),
		LogLevel:           stringOrEnv("GIE_LOG_LEVEL", file.LogLevel, "info"),
		LogFile:            stringOrEnv("GIE_LOG_FILE", file.LogFile, ""),
		MetricsAddr:        stringOrEnv("GIE_METRICS_ADDR", file.MetricsAddr, ""),
		DryRun:             file.DryRun || boolEnv("GIE_DRY_RUN"),
	}
	if v := os.Getenv("GIE_INSTANCE_ID"); v != "" {
		cfg.Hive.InstanceID = v
	}
	if v := os.Getenv("GIE_LISTEN_ADDR"); v != "" {
		cfg.Hive.ListenAddr = v
	}
	if v := os.Getenv("GIE_PEERS"); v != "" {
		cfg.Hive.Peers = splitNonEmpty(v)
	}
	if cfg.Feed.Mode == "" {
		cfg.Feed.Mode = "synthetic"
	}
	if cfg.Hive.ListenAddr == "" {
		cfg.Hive.ListenAddr = ":7531"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	configFilePath = filePath
	return cfg, nil
}

// Validate rejects structurally broken configuration. These are the only
// fatal errors in the taxonomy: everything later degrades instead of dying.
func (c *Config) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate >= 1 {
		return fmt.Errorf("config: learning_rate must be in (0,1), got %v", c.LearningRate)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("config: cycle_interval must be positive")
	}
	if c.ArbitrationTimeout <= 0 {
		return fmt.Errorf("config: arbitration_timeout must be positive")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: sync_interval must be positive")
	}
	if c.StaleDeltaHorizon <= 0 {
		return fmt.Errorf("config: stale_delta_horizon must be positive")
	}
	seen := make(map[string]bool, len(c.Engines))
	for _, e := range c.Engines {
		if e.ID == "" {
			return fmt.Errorf("config: engine with empty id")
		}
		if seen[e.ID] {
			return fmt.Errorf("config: duplicate engine id %q", e.ID)
		}
		seen[e.ID] = true
	}
	switch c.Feed.Mode {
	case "websocket":
		if c.Feed.URL == "" {
			return fmt.Errorf("config: feed.url required in websocket mode")
		}
	case "synthetic":
	default:
		return fmt.Errorf("config: unknown feed mode %q", c.Feed.Mode)
	}
	return nil
}

func loadConfigFile(path string) (*ConfigFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
	return &cf, nil
}

func stringOrEnv(env, fileVal, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if fileVal != "" {
		return fileVal
	}
	return def
}

func intOrEnv(env string, fileVal, def int) int {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func floatOrEnv(env string, fileVal, def float64) float64 {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func msOrEnv(env string, fileVal, defMS int) time.Duration {
	return time.Duration(intOrEnv(env, fileVal, defMS)) * time.Millisecond
}

func boolEnv(env string) bool {
	v := strings.ToLower(os.Getenv(env))
	return v == "1" || v == "true" || v == "yes"
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Reset clears the cached config (tests only).
func Reset() {
	globalConfig = nil
	configFilePath = ""
}
