// Package rdfproof is the embedded API: a quad store with a forward-chaining
// reasoner and a proof engine that explains every statement it holds.
//
// Open wires the pieces together from a config.Config:
//
//   - storage: Badger on disk, or the in-memory engine
//   - rules: the entailment regime, chosen once and compiled against the dictionary
//   - reasoner: recomputes the implicit graph after writes
//   - proof and explain: answer "why does this statement hold?"
//
// Example:
//
//	cfg := config.Default()
//	cfg.Storage.InMemory = true
//	db, err := rdfproof.Open(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	_, err = db.LoadNQuads(ctx, strings.NewReader(`
//	@prefix ex: <http://example.org/> .
//	ex:Lassie rdf:type ex:Dog .
//	ex:Dog rdfs:subClassOf ex:Mammal .
//	`))
//
//	tuples, err := db.ExplainText(ctx, "ex:Lassie rdf:type ex:Mammal")
//	for _, t := range tuples {
//		fmt.Println(t.Rule, t.Subject, t.Predicate, t.Object, t.Context)
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Writes and materialization
//	hold the write lock; explain requests share the read lock, so an
//	explanation never observes a half-replaced closure.
package rdfproof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/orneryd/rdfproof/pkg/config"
	"github.com/orneryd/rdfproof/pkg/explain"
	"github.com/orneryd/rdfproof/pkg/metrics"
	"github.com/orneryd/rdfproof/pkg/pool"
	"github.com/orneryd/rdfproof/pkg/proof"
	"github.com/orneryd/rdfproof/pkg/rdf"
	"github.com/orneryd/rdfproof/pkg/reasoner"
	"github.com/orneryd/rdfproof/pkg/rules"
	"github.com/orneryd/rdfproof/pkg/storage"
)

// Metadata keys recorded in the store.
const (
	metaRuleset     = "ruleset.name"
	metaFingerprint = "ruleset.fingerprint"
)

// loadBatchSize bounds how many statements LoadNQuads encodes per store write.
const loadBatchSize = 10_000

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("database is closed")

// DB is an open rdfproof database.
type DB struct {
	config *config.Config
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool

	store    storage.Store
	catalog  *rules.Catalog
	compiled *rules.Compiled
	reasoner *reasoner.Materializer
	engine   *proof.Engine
	relation *explain.Relation
	metrics  *metrics.Metrics
	prefixes rdf.Prefixes

	lastRun *reasoner.Stats
}

// Open opens or creates a database.
//
// The rule catalog is selected here and never changes for the life of the
// DB. When the store was last materialized with a different catalog, the
// closure is recomputed before Open returns.
func Open(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool.Configure(pool.PoolConfig{Enabled: cfg.Pool.Enabled, MaxSize: cfg.Pool.MaxSize})

	catalog, err := loadCatalog(cfg.Reasoning)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	compiled, err := catalog.Compile(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	mat, err := reasoner.New(compiled, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := metrics.New()
	engine := proof.New(store, compiled, logger)
	db := &DB{
		config:   cfg,
		log:      logger.With(zap.String("component", "db")),
		store:    store,
		catalog:  catalog,
		compiled: compiled,
		reasoner: mat,
		engine:   engine,
		relation: explain.NewRelation(engine, store, m, logger),
		metrics:  m,
		prefixes: rdf.DefaultPrefixes(),
	}

	stale, err := db.checkFingerprint()
	if err != nil {
		store.Close()
		return nil, err
	}
	if stale {
		db.mu.Lock()
		_, err = db.materializeLocked(context.Background())
		db.mu.Unlock()
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	if err := db.refreshCounts(context.Background()); err != nil {
		store.Close()
		return nil, err
	}

	db.log.Info("database opened",
		zap.String("ruleset", catalog.Name),
		zap.Int("rules", catalog.Len()),
		zap.Bool("in_memory", cfg.Storage.InMemory))
	return db, nil
}

func loadCatalog(cfg config.ReasoningConfig) (*rules.Catalog, error) {
	if cfg.RulesetFile != "" {
		return rules.LoadFile(cfg.RulesetFile)
	}
	return rules.Load(cfg.Ruleset)
}

func openStore(cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	if cfg.InMemory {
		return storage.NewMemoryEngine(), nil
	}
	store, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
		DataDir:       cfg.DataDir,
		SyncWrites:    cfg.SyncWrites,
		TermCacheSize: cfg.TermCacheSize,
		Logger:        newBadgerLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open persistent storage: %w", err)
	}
	return store, nil
}

// checkFingerprint compares the catalog with the one the store was last
// materialized under, recording it when absent.
func (db *DB) checkFingerprint() (bool, error) {
	prev, err := db.store.Meta(metaFingerprint)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false, db.recordCatalog()
	case err != nil:
		return false, fmt.Errorf("read catalog fingerprint: %w", err)
	}
	if string(prev) == db.compiled.Fingerprint {
		return false, nil
	}
	name, _ := db.store.Meta(metaRuleset)
	db.log.Warn("rule catalog changed since last materialization, recomputing closure",
		zap.String("previous", string(name)),
		zap.String("current", db.catalog.Name))
	return true, nil
}

func (db *DB) recordCatalog() error {
	if err := db.store.SetMeta(metaRuleset, []byte(db.catalog.Name)); err != nil {
		return err
	}
	return db.store.SetMeta(metaFingerprint, []byte(db.compiled.Fingerprint))
}

// Close closes the database and its store.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	if err := db.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// =============================================================================
// Writes
// =============================================================================

// WriteResult reports the effect of a write.
type WriteResult struct {
	// Read is the number of statements in the request.
	Read int `json:"read"`
	// Changed is the number of statements added or removed.
	Changed int `json:"changed"`
	// Materialized holds the closure run triggered by the write, if any.
	Materialized *reasoner.Stats `json:"materialized,omitempty"`
}

// Insert asserts statements. With materialize-on-write enabled the
// closure is recomputed when anything was added.
func (db *DB) Insert(ctx context.Context, quads []rdf.TermQuad) (WriteResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return WriteResult{}, ErrClosed
	}

	res := WriteResult{Read: len(quads)}
	added, err := db.insertLocked(ctx, quads)
	res.Changed = added
	if err != nil {
		return res, err
	}
	return db.afterWrite(ctx, res)
}

// LoadNQuads reads an N-Quads document (with @prefix directives and
// prefixed names allowed) and asserts every statement in it.
func (db *DB) LoadNQuads(ctx context.Context, r io.Reader) (WriteResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return WriteResult{}, ErrClosed
	}

	var res WriteResult
	batch := make([]rdf.TermQuad, 0, loadBatchSize)
	flush := func() error {
		added, err := db.insertLocked(ctx, batch)
		res.Changed += added
		batch = batch[:0]
		return err
	}
	err := rdf.ReadQuads(r, db.prefixes, func(q rdf.TermQuad) error {
		res.Read++
		batch = append(batch, q)
		if len(batch) == loadBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil && len(batch) > 0 {
		err = flush()
	}
	if err != nil {
		// Statements already flushed stay asserted; bring the closure up to date.
		if res.Changed > 0 {
			if _, merr := db.afterWrite(ctx, res); merr != nil {
				db.log.Warn("materialize after failed load", zap.Error(merr))
			}
		}
		return res, err
	}
	return db.afterWrite(ctx, res)
}

// Delete retracts statements. Statements with terms the store has never
// seen cannot exist and are skipped.
func (db *DB) Delete(ctx context.Context, quads []rdf.TermQuad) (WriteResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return WriteResult{}, ErrClosed
	}

	res := WriteResult{Read: len(quads)}
	ids := make([]rdf.Quad, 0, len(quads))
	for _, tq := range quads {
		q, ok, err := db.lookupQuad(tq)
		if err != nil {
			return res, err
		}
		if ok {
			ids = append(ids, q)
		}
	}
	removed, err := db.store.RemoveExplicit(ctx, ids)
	res.Changed = removed
	if err != nil {
		return res, err
	}
	return db.afterWrite(ctx, res)
}

// DeleteNQuads retracts every statement of an N-Quads document.
func (db *DB) DeleteNQuads(ctx context.Context, r io.Reader) (WriteResult, error) {
	var quads []rdf.TermQuad
	err := rdf.ReadQuads(r, db.Prefixes(), func(q rdf.TermQuad) error {
		quads = append(quads, q)
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	return db.Delete(ctx, quads)
}

func (db *DB) insertLocked(ctx context.Context, quads []rdf.TermQuad) (int, error) {
	if len(quads) == 0 {
		return 0, nil
	}
	ids := make([]rdf.Quad, len(quads))
	for i, tq := range quads {
		q, err := db.encodeQuad(tq)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", tq, err)
		}
		ids[i] = q
	}
	return db.store.AddExplicit(ctx, ids)
}

func (db *DB) afterWrite(ctx context.Context, res WriteResult) (WriteResult, error) {
	if res.Changed > 0 && db.config.Reasoning.MaterializeOnWrite {
		stats, err := db.materializeLocked(ctx)
		if err != nil {
			return res, err
		}
		res.Materialized = &stats
	}
	return res, db.refreshCounts(ctx)
}

func (db *DB) encodeQuad(tq rdf.TermQuad) (rdf.Quad, error) {
	var q rdf.Quad
	var err error
	if q.Subject, err = db.store.Encode(tq.Subject); err != nil {
		return q, err
	}
	if q.Predicate, err = db.store.Encode(tq.Predicate); err != nil {
		return q, err
	}
	if q.Object, err = db.store.Encode(tq.Object); err != nil {
		return q, err
	}
	if !tq.Graph.IsZero() {
		if q.Context, err = db.store.Encode(tq.Graph); err != nil {
			return q, err
		}
	}
	return q, nil
}

func (db *DB) lookupQuad(tq rdf.TermQuad) (rdf.Quad, bool, error) {
	terms := []rdf.Term{tq.Subject, tq.Predicate, tq.Object}
	if !tq.Graph.IsZero() {
		terms = append(terms, tq.Graph)
	}
	var ids [4]rdf.TermID
	for i, t := range terms {
		id, ok, err := db.store.Lookup(t)
		if err != nil || !ok {
			return rdf.Quad{}, false, err
		}
		ids[i] = id
	}
	return rdf.Quad{Subject: ids[0], Predicate: ids[1], Object: ids[2], Context: ids[3]}, true, nil
}

// =============================================================================
// Reasoning
// =============================================================================

// Materialize recomputes the implicit graph from the asserted statements.
func (db *DB) Materialize(ctx context.Context) (reasoner.Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return reasoner.Stats{}, ErrClosed
	}
	stats, err := db.materializeLocked(ctx)
	if err != nil {
		return stats, err
	}
	return stats, db.refreshCounts(ctx)
}

func (db *DB) materializeLocked(ctx context.Context) (reasoner.Stats, error) {
	stats, err := db.reasoner.Run(ctx, db.store)
	if err != nil {
		return stats, fmt.Errorf("materialize: %w", err)
	}
	db.metrics.ObserveMaterialize(stats.Duration, stats.Inferred)
	db.lastRun = &stats
	return stats, db.recordCatalog()
}

func (db *DB) refreshCounts(ctx context.Context) error {
	counts, err := db.store.Count(ctx)
	if err != nil {
		return err
	}
	db.metrics.SetExplicit(counts.Explicit)
	return nil
}

// =============================================================================
// Explain
// =============================================================================

// Explain streams the justification rows of every statement matching req.
func (db *DB) Explain(ctx context.Context, req explain.Request, fn explain.TupleVisitor) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return db.relation.Explain(ctx, req, fn)
}

// ExplainRequest collects the rows for req.
func (db *DB) ExplainRequest(ctx context.Context, req explain.Request) ([]explain.Tuple, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	return db.relation.Collect(ctx, req)
}

// ExplainText parses "s p o [c]" with the database prefixes and collects
// the rows.
func (db *DB) ExplainText(ctx context.Context, text string) ([]explain.Tuple, error) {
	req, err := explain.ParseRequest(text, db.Prefixes())
	if err != nil {
		return nil, err
	}
	return db.ExplainRequest(ctx, req)
}

// Solutions returns the rows of req bound to a fresh solution designator.
func (db *DB) Solutions(ctx context.Context, req explain.Request) (rdf.Term, []explain.Solution, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return "", nil, ErrClosed
	}
	return db.relation.Solutions(ctx, req)
}

// =============================================================================
// Introspection
// =============================================================================

// Rules returns the catalog the database explains with.
func (db *DB) Rules() *rules.Catalog { return db.catalog }

// Prefixes returns a copy of the prefixes used to parse requests.
func (db *DB) Prefixes() rdf.Prefixes { return db.prefixes.Clone() }

// Metrics returns the database collectors.
func (db *DB) Metrics() *metrics.Metrics { return db.metrics }

// Matcher exposes the read-only store view, including provenance flags.
func (db *DB) Matcher() storage.Matcher { return db.store }

// Stats summarizes the database.
type Stats struct {
	storage.Counts
	Ruleset         string          `json:"ruleset"`
	Fingerprint     string          `json:"fingerprint"`
	Rules           int             `json:"rules"`
	LastMaterialize *reasoner.Stats `json:"last_materialize,omitempty"`
}

// Stats returns statement counts and catalog information.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}, ErrClosed
	}
	counts, err := db.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Counts:          counts,
		Ruleset:         db.catalog.Name,
		Fingerprint:     db.compiled.Fingerprint,
		Rules:           db.catalog.Len(),
		LastMaterialize: db.lastRun,
	}, nil
}
