// Package config handles rdfproof configuration.
//
// Configuration is assembled in layers, each overriding the previous one:
//
//  1. Default() values
//  2. an optional YAML file (LoadFile)
//  3. RDFPROOF_* environment variables (ApplyEnv)
//  4. command-line flags, applied by the CLI
//
// Call Validate before use. The ruleset is checked against the built-in
// catalogs, so a typo fails here with *rules.UnknownRulesetError rather than
// at Open.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("rdfproof.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.ApplyEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//   - RDFPROOF_DATA_DIR="./data"
//   - RDFPROOF_IN_MEMORY=false
//   - RDFPROOF_SYNC_WRITES=false
//   - RDFPROOF_TERM_CACHE_SIZE=10000
//   - RDFPROOF_RULESET="owl2-rl"
//   - RDFPROOF_RULESET_FILE=""
//   - RDFPROOF_MATERIALIZE_ON_WRITE=true
//   - RDFPROOF_ADDRESS="127.0.0.1"
//   - RDFPROOF_PORT=7480
//   - RDFPROOF_READ_TIMEOUT=30s
//   - RDFPROOF_WRITE_TIMEOUT=60s
//   - RDFPROOF_ENABLE_CORS=false
//   - RDFPROOF_LOG_LEVEL="info"
//   - RDFPROOF_LOG_FORMAT="console"
//   - RDFPROOF_POOL_ENABLED=true
//   - RDFPROOF_POOL_MAX_SIZE=1024
//   - RDFPROOF_MEMORY_LIMIT="0"
//   - RDFPROOF_GC_PERCENT=100
package config

import (
	"fmt"
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/rdfproof/pkg/rules"
)

// Config holds all rdfproof configuration.
//
// Configuration is organized into logical sections:
//   - Storage: where statements live
//   - Reasoning: which entailment regime to materialize and explain with
//   - Server: HTTP listener settings
//   - Logging: zap level and encoding
//   - Pool: object pooling
//   - Memory: Go runtime limits
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Pool      PoolConfig      `yaml:"pool"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// StorageConfig selects and tunes the quad store.
type StorageConfig struct {
	// DataDir is the Badger directory. Ignored when InMemory is set.
	DataDir string `yaml:"data_dir"`
	// InMemory keeps everything in memory; nothing survives Close.
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs every Badger write.
	SyncWrites bool `yaml:"sync_writes"`
	// TermCacheSize is the number of dictionary entries cached per direction.
	TermCacheSize int `yaml:"term_cache_size"`
}

// ReasoningConfig selects the rule catalog.
type ReasoningConfig struct {
	// Ruleset names a built-in regime: owl2-rl, owl-horst, rdfs or empty.
	Ruleset string `yaml:"ruleset"`
	// RulesetFile loads a custom catalog instead of Ruleset when set.
	RulesetFile string `yaml:"ruleset_file"`
	// MaterializeOnWrite recomputes the closure after every write.
	MaterializeOnWrite bool `yaml:"materialize_on_write"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	EnableCORS   bool          `yaml:"enable_cors"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// PoolConfig mirrors pool.PoolConfig.
type PoolConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxSize int  `yaml:"max_size"`
}

// MemoryConfig holds Go runtime memory settings.
type MemoryConfig struct {
	// Limit is a soft memory limit such as "2GB"; "0" or "unlimited" disables it.
	Limit string `yaml:"limit"`
	// GCPercent is passed to debug.SetGCPercent when it differs from 100.
	GCPercent int `yaml:"gc_percent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:       "./data",
			TermCacheSize: 10000,
		},
		Reasoning: ReasoningConfig{
			Ruleset:            "owl2-rl",
			MaterializeOnWrite: true,
		},
		Server: ServerConfig{
			Address:      "127.0.0.1",
			Port:         7480,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Pool: PoolConfig{
			Enabled: true,
			MaxSize: 1024,
		},
		Memory: MemoryConfig{
			Limit:     "0",
			GCPercent: 100,
		},
	}
}

// LoadFile reads a YAML file over Default(). Keys missing from the file keep
// their default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv returns Default() with environment overrides applied.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from RDFPROOF_* variables that are set.
func (c *Config) ApplyEnv() {
	c.Storage.DataDir = getEnv("RDFPROOF_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("RDFPROOF_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("RDFPROOF_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.TermCacheSize = getEnvInt("RDFPROOF_TERM_CACHE_SIZE", c.Storage.TermCacheSize)

	c.Reasoning.Ruleset = getEnv("RDFPROOF_RULESET", c.Reasoning.Ruleset)
	c.Reasoning.RulesetFile = getEnv("RDFPROOF_RULESET_FILE", c.Reasoning.RulesetFile)
	c.Reasoning.MaterializeOnWrite = getEnvBool("RDFPROOF_MATERIALIZE_ON_WRITE", c.Reasoning.MaterializeOnWrite)

	c.Server.Address = getEnv("RDFPROOF_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("RDFPROOF_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("RDFPROOF_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("RDFPROOF_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.EnableCORS = getEnvBool("RDFPROOF_ENABLE_CORS", c.Server.EnableCORS)

	c.Logging.Level = getEnv("RDFPROOF_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("RDFPROOF_LOG_FORMAT", c.Logging.Format)

	c.Pool.Enabled = getEnvBool("RDFPROOF_POOL_ENABLED", c.Pool.Enabled)
	c.Pool.MaxSize = getEnvInt("RDFPROOF_POOL_MAX_SIZE", c.Pool.MaxSize)

	c.Memory.Limit = getEnv("RDFPROOF_MEMORY_LIMIT", c.Memory.Limit)
	c.Memory.GCPercent = getEnvInt("RDFPROOF_GC_PERCENT", c.Memory.GCPercent)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("data dir is required unless storage is in memory")
	}
	if c.Storage.TermCacheSize < 0 {
		return fmt.Errorf("invalid term cache size: %d", c.Storage.TermCacheSize)
	}
	if c.Reasoning.RulesetFile == "" && !rules.Has(c.Reasoning.Ruleset) {
		return &rules.UnknownRulesetError{Name: c.Reasoning.Ruleset, Known: rules.Names()}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if _, err := c.Memory.LimitBytes(); err != nil {
		return err
	}
	return nil
}

// String returns a one-line summary safe to log.
func (c *Config) String() string {
	storage := c.Storage.DataDir
	if c.Storage.InMemory {
		storage = "memory"
	}
	ruleset := c.Reasoning.Ruleset
	if c.Reasoning.RulesetFile != "" {
		ruleset = c.Reasoning.RulesetFile
	}
	return fmt.Sprintf("Config{Storage: %s, Ruleset: %s, HTTP: %s:%d, Log: %s}",
		storage, ruleset, c.Server.Address, c.Server.Port, c.Logging.Level)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Helper functions

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses sizes like "1024", "512MB", "2G" or "1TB".
// "0", "unlimited" and the empty string mean no limit.
func parseMemorySize(in string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(in))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0, nil
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val < 0 || val > math.MaxInt64/multiplier {
		return 0, fmt.Errorf("invalid memory limit: %q", in)
	}
	return val * multiplier, nil
}

// FormatMemorySize renders a byte count for humans.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// LimitBytes returns the parsed memory limit, 0 for none.
func (c *MemoryConfig) LimitBytes() (int64, error) {
	return parseMemorySize(c.Limit)
}

// ApplyRuntimeMemory applies the limit and GC percent to the Go runtime.
// Call it once at startup. An unparsable limit leaves the runtime untouched.
func (c *MemoryConfig) ApplyRuntimeMemory() error {
	limit, err := c.LimitBytes()
	if err != nil {
		return err
	}
	if limit > 0 {
		debug.SetMemoryLimit(limit)
	}
	if c.GCPercent > 0 && c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
	return nil
}

// Template is the commented configuration file written by `rdfproof init`.
const Template = `# rdfproof configuration
#
# Every key can be overridden by an RDFPROOF_* environment variable and by
# command-line flags.

storage:
  data_dir: ./data
  in_memory: false
  sync_writes: false
  # Dictionary entries cached in each direction.
  term_cache_size: 10000

reasoning:
  # owl2-rl, owl-horst, rdfs or empty
  ruleset: owl2-rl
  # A custom YAML catalog; overrides ruleset when set.
  ruleset_file: ""
  materialize_on_write: true

server:
  address: 127.0.0.1
  port: 7480
  read_timeout: 30s
  write_timeout: 60s
  enable_cors: false

logging:
  # debug, info, warn or error
  level: info
  # json or console
  format: console

pool:
  enabled: true
  max_size: 1024

memory:
  limit: "0"
  gc_percent: 100
`
