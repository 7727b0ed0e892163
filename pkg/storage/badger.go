package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/rdfproof/pkg/cache"
	"github.com/orneryd/rdfproof/pkg/pool"
	"github.com/orneryd/rdfproof/pkg/rdf"
)

// Key prefixes for BadgerDB storage organization.
// Quad index prefixes (0x10-0x13) are defined in index.go.
const (
	prefixTermToID = byte(0x01) // term:lexical -> id
	prefixIDToTerm = byte(0x02) // id:uint64 -> lexical
	prefixMeta     = byte(0x20) // meta:key -> value
)

var sequenceKey = []byte{0x00, 's', 'e', 'q'}

// writeChunk bounds the number of quads written per transaction.
const writeChunk = 1000

// BadgerEngine provides persistent quad storage using BadgerDB.
//
// Key Structure:
//   - Dictionary: 0x01 + lexical -> id, 0x02 + id -> lexical
//   - Quad indexes: 0x10 SPOC, 0x11 POSC, 0x12 OSPC, 0x13 CSPO,
//     each prefix + four big-endian uint64 ids -> one status byte
//   - Metadata: 0x20 + key -> value
//
// Term ids come from a Badger sequence. Reserved ids are never stored; every
// engine resolves them in code.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/rdfproof")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db  *badger.DB
	seq *badger.Sequence

	dictMu    sync.Mutex // Serializes id assignment
	idCache   *cache.LRU[rdf.TermID, rdf.Term]
	termCache *cache.LRU[rdf.Term, rdf.TermID]

	mu     sync.RWMutex // Protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// TermCacheSize bounds each of the two dictionary caches.
	// 0 uses cache.DefaultMaxSize.
	TermCacheSize int

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is silenced.
	Logger badger.Logger
}

// NewBadgerEngine opens a persistent engine with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory opens an engine that keeps everything in RAM.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions opens an engine with custom configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Status values are a single byte; keep everything in the LSM tree.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &BadgerEngine{
		db:        db,
		seq:       seq,
		idCache:   cache.NewLRU[rdf.TermID, rdf.Term](opts.TermCacheSize, 0),
		termCache: cache.NewLRU[rdf.Term, rdf.TermID](opts.TermCacheSize, 0),
	}, nil
}

func (b *BadgerEngine) ensureOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// =============================================================================
// Dictionary
// =============================================================================

func termKey(term rdf.Term) []byte {
	return append([]byte{prefixTermToID}, term...)
}

func idKey(id rdf.TermID) []byte {
	return binary.BigEndian.AppendUint64([]byte{prefixIDToTerm}, uint64(id))
}

// Encode returns the id for term, assigning one when needed.
func (b *BadgerEngine) Encode(term rdf.Term) (rdf.TermID, error) {
	if term.IsZero() {
		return 0, ErrInvalidQuad
	}
	id, ok, err := b.Lookup(term)
	if err != nil || ok {
		return id, err
	}

	b.dictMu.Lock()
	defer b.dictMu.Unlock()

	err = b.db.Update(func(txn *badger.Txn) error {
		// Another writer may have assigned it while we waited.
		if existing, found, err := readID(txn, term); err != nil || found {
			id = existing
			return err
		}
		next, err := b.seq.Next()
		if err != nil {
			return err
		}
		id = rdf.TermID(next) + rdf.FirstUserID
		if err := txn.Set(termKey(term), binary.BigEndian.AppendUint64(nil, uint64(id))); err != nil {
			return err
		}
		return txn.Set(idKey(id), []byte(term))
	})
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", term, err)
	}
	b.termCache.Put(term, id)
	b.idCache.Put(id, term)
	return id, nil
}

func readID(txn *badger.Txn, term rdf.Term) (rdf.TermID, bool, error) {
	item, err := txn.Get(termKey(term))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id rdf.TermID
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("corrupt dictionary entry for %s", term)
		}
		id = rdf.TermID(binary.BigEndian.Uint64(v))
		return nil
	})
	return id, err == nil, err
}

// Lookup returns the id for term without assigning one.
func (b *BadgerEngine) Lookup(term rdf.Term) (rdf.TermID, bool, error) {
	if id, ok := reservedID(term); ok {
		return id, true, nil
	}
	if err := b.ensureOpen(); err != nil {
		return 0, false, err
	}
	if id, ok := b.termCache.Get(term); ok {
		return id, true, nil
	}

	var (
		id    rdf.TermID
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		id, found, err = readID(txn, term)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	if found {
		b.termCache.Put(term, id)
	}
	return id, found, nil
}

// Decode returns the term for id.
func (b *BadgerEngine) Decode(id rdf.TermID) (rdf.Term, error) {
	if t, ok := rdf.ReservedTerms[id]; ok {
		return t, nil
	}
	if err := b.ensureOpen(); err != nil {
		return "", err
	}
	if t, ok := b.idCache.Get(id); ok {
		return t, nil
	}

	var term rdf.Term
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			term = rdf.Term(v)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	b.idCache.Put(id, term)
	return term, nil
}

// =============================================================================
// Matching
// =============================================================================

// Match streams matching statements in index order. The visitor runs inside
// a read transaction.
func (b *BadgerEngine) Match(ctx context.Context, pattern rdf.Quad, filter ContextFilter, fn StatementVisitor) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	plan := planMatch(pattern, filter)
	prefix := plan.appendPrefix(pool.GetByteBuffer())
	defer pool.PutByteBuffer(prefix)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			q, ok := plan.index.decodeKey(item.Key())
			if !ok || !q.MatchesTriple(pattern) || !filter.Accepts(q.Context) {
				continue
			}
			var status rdf.Status
			if err := item.Value(func(v []byte) error {
				if len(v) > 0 {
					status = rdf.Status(v[0])
				}
				return nil
			}); err != nil {
				return err
			}
			if err := fn(rdf.Statement{Quad: q, Status: status}); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrIterationStopped) {
		return nil
	}
	return err
}

// Flags classifies triple in the contexts filter accepts.
func (b *BadgerEngine) Flags(ctx context.Context, triple rdf.Quad, filter ContextFilter) (rdf.ProvenanceFlags, error) {
	return flagsFromMatch(ctx, b, triple, filter)
}

// =============================================================================
// Writes
// =============================================================================

func setAllIndexes(txn *badger.Txn, q rdf.Quad, status rdf.Status) error {
	for _, ix := range allIndexes {
		if err := txn.Set(ix.appendKey(nil, q), []byte{byte(status)}); err != nil {
			return err
		}
	}
	return nil
}

func deleteAllIndexes(txn *badger.Txn, q rdf.Quad) error {
	for _, ix := range allIndexes {
		if err := txn.Delete(ix.appendKey(nil, q)); err != nil {
			return err
		}
	}
	return nil
}

func exists(txn *badger.Txn, q rdf.Quad) (bool, error) {
	_, err := txn.Get(indexSPOC.appendKey(nil, q))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// AddExplicit asserts quads in chunks of writeChunk per transaction.
func (b *BadgerEngine) AddExplicit(ctx context.Context, quads []rdf.Quad) (int, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	normalized := make([]rdf.Quad, 0, len(quads))
	for _, q := range quads {
		n, err := normalizeExplicit(q)
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, n)
	}

	added := 0
	for start := 0; start < len(normalized); start += writeChunk {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		chunk := normalized[start:min(start+writeChunk, len(normalized))]
		err := b.db.Update(func(txn *badger.Txn) error {
			for _, q := range chunk {
				found, err := exists(txn, q)
				if err != nil {
					return err
				}
				if !found {
					added++
				}
				if err := setAllIndexes(txn, q, rdf.StatusExplicit); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return added, fmt.Errorf("add explicit: %w", err)
		}
	}
	return added, nil
}

// RemoveExplicit retracts quads.
func (b *BadgerEngine) RemoveExplicit(ctx context.Context, quads []rdf.Quad) (int, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	removed := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, q := range quads {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := normalizeExplicit(q)
			if err != nil {
				return err
			}
			found, err := exists(txn, n)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			if err := deleteAllIndexes(txn, n); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove explicit: %w", err)
	}
	return removed, nil
}

// ReplaceInferred drops the implicit graph and writes stmts through a
// WriteBatch, which splits large closures across transactions.
func (b *BadgerEngine) ReplaceInferred(ctx context.Context, stmts []rdf.Statement) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}

	old, err := CollectMatches(ctx, b, rdf.Quad{}, ExactContext(rdf.ImplicitGraph))
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, st := range old {
		for _, ix := range allIndexes {
			if err := wb.Delete(ix.appendKey(nil, st.Quad)); err != nil {
				return err
			}
		}
	}
	for _, st := range stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := st.Quad.InContext(rdf.ImplicitGraph)
		if !q.IsConcrete() {
			return ErrInvalidQuad
		}
		status := []byte{byte(st.Status | rdf.StatusInferred)}
		for _, ix := range allIndexes {
			if err := wb.Set(ix.appendKey(nil, q), status); err != nil {
				return err
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("replace inferred: %w", err)
	}
	return nil
}

// Count returns statement and term counts.
func (b *BadgerEngine) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := b.Match(ctx, rdf.Quad{}, AnyContext(), func(st rdf.Statement) error {
		if st.Status.Has(rdf.StatusExplicit) {
			c.Explicit++
		} else {
			c.Inferred++
		}
		return nil
	})
	if err != nil {
		return c, err
	}

	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixIDToTerm}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			c.Terms++
		}
		return nil
	})
	return c, err
}

// Meta returns a metadata value.
func (b *BadgerEngine) Meta(key string) ([]byte, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append([]byte{prefixMeta}, key...))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

// SetMeta stores a metadata value.
func (b *BadgerEngine) SetMeta(key string, value []byte) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte{prefixMeta}, key...), value)
	})
}

// Close releases the id sequence and closes the database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.seq.Release(); err != nil {
		b.db.Close()
		return err
	}
	return b.db.Close()
}

var _ Store = (*BadgerEngine)(nil)
