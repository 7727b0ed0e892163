package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/rdfproof/pkg/rules"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "owl2-rl", cfg.Reasoning.Ruleset)
	assert.True(t, cfg.Reasoning.MaterializeOnWrite)
	assert.Equal(t, 7480, cfg.Server.Port)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.True(t, cfg.Pool.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdfproof.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  in_memory: true
reasoning:
  ruleset: owl-horst
server:
  port: 9000
  read_timeout: 5s
logging:
  level: debug
  format: json
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "owl-horst", cfg.Reasoning.Ruleset)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 10000, cfg.Storage.TermCacheSize)
	assert.True(t, cfg.Reasoning.MaterializeOnWrite)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestTemplateMatchesDefault(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, yaml.Unmarshal([]byte(Template), cfg))
	assert.Equal(t, Default(), cfg)
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	cfg := &Config{}
	require.NoError(t, yaml.Unmarshal(data, cfg))
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RDFPROOF_RULESET", "rdfs")
	t.Setenv("RDFPROOF_IN_MEMORY", "yes")
	t.Setenv("RDFPROOF_PORT", "8081")
	t.Setenv("RDFPROOF_WRITE_TIMEOUT", "90")
	t.Setenv("RDFPROOF_MATERIALIZE_ON_WRITE", "false")
	t.Setenv("RDFPROOF_LOG_LEVEL", "warn")
	t.Setenv("RDFPROOF_POOL_MAX_SIZE", "not-a-number")

	cfg := LoadFromEnv()
	assert.Equal(t, "rdfs", cfg.Reasoning.Ruleset)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
	assert.False(t, cfg.Reasoning.MaterializeOnWrite)
	assert.Equal(t, "warn", cfg.Logging.Level)
	// Unparseable values fall back to the current value.
	assert.Equal(t, 1024, cfg.Pool.MaxSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"no data dir", func(c *Config) { c.Storage.DataDir = " " }},
		{"negative cache", func(c *Config) { c.Storage.TermCacheSize = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative memory limit", func(c *Config) { c.Memory.Limit = "-1GB" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("in memory needs no data dir", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.DataDir = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestValidateUnknownRuleset(t *testing.T) {
	cfg := Default()
	cfg.Reasoning.Ruleset = "owl-full"

	var unknown *rules.UnknownRulesetError
	require.True(t, errors.As(cfg.Validate(), &unknown))
	assert.Equal(t, "owl-full", unknown.Name)

	// A custom catalog file takes over from the name.
	cfg.Reasoning.RulesetFile = "custom.yaml"
	assert.NoError(t, cfg.Validate())
}

func TestString(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.String(), "owl2-rl")
	assert.Contains(t, cfg.String(), "127.0.0.1:7480")

	cfg.Storage.InMemory = true
	assert.Contains(t, cfg.String(), "Storage: memory")
}
