package pool

import (
	"sync"
	"testing"

	"github.com/orneryd/rdfproof/pkg/rdf"
)

// =============================================================================
// Configuration Tests
// =============================================================================

func TestConfigure(t *testing.T) {
	orig := current()
	defer Configure(orig)

	t.Run("enable pooling", func(t *testing.T) {
		Configure(PoolConfig{Enabled: true, MaxSize: 500})

		if !IsEnabled() {
			t.Error("IsEnabled() = false, want true")
		}
		if current().MaxSize != 500 {
			t.Errorf("MaxSize = %d, want 500", current().MaxSize)
		}
	})

	t.Run("disable pooling", func(t *testing.T) {
		Configure(PoolConfig{Enabled: false, MaxSize: 1000})

		if IsEnabled() {
			t.Error("IsEnabled() = true, want false")
		}
	})
}

// =============================================================================
// Binding Pool Tests
// =============================================================================

func TestBindingPool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1024})

	t.Run("get returns zeroed vector", func(t *testing.T) {
		b := GetBindings(4)
		if len(b) != 4 {
			t.Fatalf("len = %d, want 4", len(b))
		}
		b[0], b[3] = 7, 9
		PutBindings(b)

		again := GetBindings(4)
		for i, v := range again {
			if v != rdf.NoTerm {
				t.Errorf("slot %d = %d, want 0", i, v)
			}
		}
		PutBindings(again)
	})

	t.Run("grows beyond pooled capacity", func(t *testing.T) {
		b := GetBindings(100)
		if len(b) != 100 {
			t.Errorf("len = %d, want 100", len(b))
		}
		PutBindings(b)
	})

	t.Run("disabled pooling allocates", func(t *testing.T) {
		Configure(PoolConfig{Enabled: false})
		defer Configure(PoolConfig{Enabled: true, MaxSize: 1024})

		b := GetBindings(3)
		if len(b) != 3 {
			t.Errorf("len = %d, want 3", len(b))
		}
		PutBindings(b)
	})
}

// =============================================================================
// Statement And Buffer Pool Tests
// =============================================================================

func TestStatementSlicePool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1024})

	s := GetStatementSlice()
	if len(s) != 0 || cap(s) == 0 {
		t.Fatalf("len/cap = %d/%d, want 0/>0", len(s), cap(s))
	}
	s = append(s, rdf.Statement{Quad: rdf.NewTriple(1, 2, 3)})
	PutStatementSlice(s)

	if again := GetStatementSlice(); len(again) != 0 {
		t.Errorf("reused slice len = %d, want 0", len(again))
	}

	// Oversized slices are silently dropped.
	PutStatementSlice(make([]rdf.Statement, 0, 4096))
}

func TestByteBufferPool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1024})

	buf := GetByteBuffer()
	buf = append(buf, 0x10, 0x01)
	PutByteBuffer(buf)

	if again := GetByteBuffer(); len(again) != 0 {
		t.Errorf("reused buffer len = %d, want 0", len(again))
	}
}

func TestConcurrentPoolAccess(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1024})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b := GetBindings(6)
				b[i%6] = rdf.TermID(i)
				PutBindings(b)

				buf := GetByteBuffer()
				buf = append(buf, byte(i))
				PutByteBuffer(buf)
			}
		}()
	}
	wg.Wait()
}
