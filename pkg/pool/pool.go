// Package pool provides object pooling for rdfproof to reduce allocations.
//
// Explain requests and index scans allocate many short-lived slices: a
// binding vector per candidate rule, a statement slice per match, and a key
// buffer per index lookup. Pooling reuses them instead of creating new ones.
//
// Pooled objects:
//   - Binding vectors (rule variable slots)
//   - Statement slices (match results)
//   - Byte buffers (index keys)
//
// Usage:
//
//	bindings := pool.GetBindings(rule.NumVars)
//	defer pool.PutBindings(bindings)
package pool

import (
	"sync"

	"github.com/orneryd/rdfproof/pkg/rdf"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity of objects kept in each pool
	MaxSize int
}

var (
	configMu     sync.RWMutex
	globalConfig = PoolConfig{
		Enabled: true,
		MaxSize: 1024,
	}
)

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	configMu.Lock()
	globalConfig = config
	configMu.Unlock()
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return current().Enabled
}

func current() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// =============================================================================
// Binding Pool (rule variable slots)
// =============================================================================

var bindingPool = sync.Pool{
	New: func() any {
		b := make([]rdf.TermID, 0, 16)
		return &b
	},
}

// GetBindings returns a zeroed binding vector of length n.
// Call PutBindings when done.
func GetBindings(n int) []rdf.TermID {
	if !IsEnabled() {
		return make([]rdf.TermID, n)
	}
	b := *bindingPool.Get().(*[]rdf.TermID)
	if cap(b) < n {
		return make([]rdf.TermID, n)
	}
	b = b[:n]
	clear(b)
	return b
}

// PutBindings returns a binding vector to the pool.
func PutBindings(b []rdf.TermID) {
	cfg := current()
	if !cfg.Enabled || cap(b) > cfg.MaxSize {
		return
	}
	b = b[:0]
	bindingPool.Put(&b)
}

// =============================================================================
// Statement Slice Pool (match results)
// =============================================================================

var statementPool = sync.Pool{
	New: func() any {
		s := make([]rdf.Statement, 0, 64)
		return &s
	},
}

// GetStatementSlice returns an empty statement slice from the pool.
func GetStatementSlice() []rdf.Statement {
	if !IsEnabled() {
		return make([]rdf.Statement, 0, 64)
	}
	return (*statementPool.Get().(*[]rdf.Statement))[:0]
}

// PutStatementSlice returns a statement slice to the pool.
// Oversized slices are dropped.
func PutStatementSlice(s []rdf.Statement) {
	cfg := current()
	if !cfg.Enabled || cap(s) > cfg.MaxSize {
		return
	}
	s = s[:0]
	statementPool.Put(&s)
}

// =============================================================================
// Byte Buffer Pool (index keys)
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 64)
		return &b
	},
}

// GetByteBuffer returns an empty byte buffer from the pool.
func GetByteBuffer() []byte {
	if !IsEnabled() {
		return make([]byte, 0, 64)
	}
	return (*byteBufferPool.Get().(*[]byte))[:0]
}

// PutByteBuffer returns a byte buffer to the pool.
func PutByteBuffer(buf []byte) {
	cfg := current()
	if !cfg.Enabled || cap(buf) > cfg.MaxSize {
		return
	}
	buf = buf[:0]
	byteBufferPool.Put(&buf)
}
