package config

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gib = int64(1) << 30

func TestParseMemorySize(t *testing.T) {
	cases := map[string]int64{
		"1024":      1024,
		"1024b":     1024,
		"1K":        1 << 10,
		"512kb":     512 << 10,
		"256M":      256 << 20,
		"512MB":     512 << 20,
		"2g":        2 * gib,
		"  2GB  ":   2 * gib,
		"1TB":       1024 * gib,
		"":          0,
		"0":         0,
		"unlimited": 0,
		"UNLIMITED": 0,
	}
	for in, want := range cases {
		got, err := parseMemorySize(in)
		require.NoError(t, err, "parseMemorySize(%q)", in)
		assert.Equal(t, want, got, "parseMemorySize(%q)", in)
	}
}

func TestParseMemorySizeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"lots", "abc", "-1GB", "1.5G", "GB", "99999999999T"} {
		_, err := parseMemorySize(in)
		assert.Error(t, err, "parseMemorySize(%q)", in)
	}
}

func TestFormatMemorySize(t *testing.T) {
	for _, tc := range []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.50 KB"},
		{512 << 20, "512.00 MB"},
		{4 * gib, "4.00 GB"},
		{1024 * gib, "1.00 TB"},
	} {
		assert.Equal(t, tc.want, FormatMemorySize(tc.bytes))
	}
}

func TestValidateRejectsInvalidMemoryLimit(t *testing.T) {
	for _, limit := range []string{"-1GB", "abc"} {
		cfg := Default()
		cfg.Memory.Limit = limit
		err := cfg.Validate()
		require.Error(t, err, "limit %q", limit)
		assert.Contains(t, err.Error(), limit)
	}
}

func TestMemoryFromEnv(t *testing.T) {
	t.Setenv("RDFPROOF_MEMORY_LIMIT", "2GB")
	t.Setenv("RDFPROOF_GC_PERCENT", "50")

	cfg := LoadFromEnv()
	limit, err := cfg.Memory.LimitBytes()
	require.NoError(t, err)
	assert.Equal(t, 2*gib, limit)
	assert.Equal(t, 50, cfg.Memory.GCPercent)
}

func TestApplyRuntimeMemory(t *testing.T) {
	prevLimit := debug.SetMemoryLimit(-1)
	prevGC := debug.SetGCPercent(100)
	t.Cleanup(func() {
		debug.SetMemoryLimit(prevLimit)
		debug.SetGCPercent(prevGC)
	})

	// The defaults leave the runtime alone.
	require.NoError(t, (&MemoryConfig{Limit: "0", GCPercent: 100}).ApplyRuntimeMemory())
	assert.Equal(t, prevLimit, debug.SetMemoryLimit(-1))

	require.Error(t, (&MemoryConfig{Limit: "abc", GCPercent: 50}).ApplyRuntimeMemory())
	assert.Equal(t, prevLimit, debug.SetMemoryLimit(-1))
	assert.Equal(t, 100, debug.SetGCPercent(100))

	require.NoError(t, (&MemoryConfig{Limit: "1GB", GCPercent: 50}).ApplyRuntimeMemory())
	assert.Equal(t, gib, debug.SetMemoryLimit(-1))
	assert.Equal(t, 50, debug.SetGCPercent(100))
}
