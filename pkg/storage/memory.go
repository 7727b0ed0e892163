package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/orneryd/rdfproof/pkg/pool"
	"github.com/orneryd/rdfproof/pkg/rdf"
)

type quadSet map[rdf.Quad]struct{}

// MemoryEngine is an in-memory Store.
//
// Statements live in one map keyed by quad, with secondary maps per subject,
// predicate, object and context. Matches are copied out under the read lock
// and then visited without it, so a visitor may call back into the engine.
type MemoryEngine struct {
	mu     sync.RWMutex
	closed bool

	terms map[rdf.Term]rdf.TermID
	ids   map[rdf.TermID]rdf.Term
	next  rdf.TermID

	quads       map[rdf.Quad]rdf.Status
	bySubject   map[rdf.TermID]quadSet
	byPredicate map[rdf.TermID]quadSet
	byObject    map[rdf.TermID]quadSet
	byContext   map[rdf.TermID]quadSet

	meta map[string][]byte
}

// NewMemoryEngine creates an empty in-memory store.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		terms:       make(map[rdf.Term]rdf.TermID),
		ids:         make(map[rdf.TermID]rdf.Term),
		next:        rdf.FirstUserID,
		quads:       make(map[rdf.Quad]rdf.Status),
		bySubject:   make(map[rdf.TermID]quadSet),
		byPredicate: make(map[rdf.TermID]quadSet),
		byObject:    make(map[rdf.TermID]quadSet),
		byContext:   make(map[rdf.TermID]quadSet),
		meta:        make(map[string][]byte),
	}
}

// =============================================================================
// Dictionary
// =============================================================================

// Encode returns the id for term, assigning the next free id when needed.
func (m *MemoryEngine) Encode(term rdf.Term) (rdf.TermID, error) {
	if term.IsZero() {
		return 0, ErrInvalidQuad
	}
	if id, ok := reservedID(term); ok {
		return id, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	if id, ok := m.terms[term]; ok {
		return id, nil
	}
	id := m.next
	m.next++
	m.terms[term] = id
	m.ids[id] = term
	return id, nil
}

// Lookup returns the id for term without assigning one.
func (m *MemoryEngine) Lookup(term rdf.Term) (rdf.TermID, bool, error) {
	if id, ok := reservedID(term); ok {
		return id, true, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, false, ErrStorageClosed
	}
	id, ok := m.terms[term]
	return id, ok, nil
}

// Decode returns the term for id.
func (m *MemoryEngine) Decode(id rdf.TermID) (rdf.Term, error) {
	if t, ok := rdf.ReservedTerms[id]; ok {
		return t, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrStorageClosed
	}
	t, ok := m.ids[id]
	if !ok {
		return "", ErrNotFound
	}
	return t, nil
}

// =============================================================================
// Matching
// =============================================================================

// Match streams matching statements in index order.
func (m *MemoryEngine) Match(ctx context.Context, pattern rdf.Quad, filter ContextFilter, fn StatementVisitor) error {
	plan := planMatch(pattern, filter)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStorageClosed
	}
	matches := pool.GetStatementSlice()
	collect := func(q rdf.Quad, status rdf.Status) {
		if q.MatchesTriple(pattern) && filter.Accepts(q.Context) {
			matches = append(matches, rdf.Statement{Quad: q, Status: status})
		}
	}
	if candidates, ok := m.candidates(plan); ok {
		for q := range candidates {
			collect(q, m.quads[q])
		}
	} else {
		for q, status := range m.quads {
			collect(q, status)
		}
	}
	m.mu.RUnlock()
	defer pool.PutStatementSlice(matches)

	sort.Slice(matches, func(i, j int) bool {
		return plan.index.less(matches[i].Quad, matches[j].Quad)
	})

	for _, st := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(st); err != nil {
			if errors.Is(err, ErrIterationStopped) {
				return nil
			}
			return err
		}
	}
	return nil
}

// candidates returns the secondary index entry for the plan's leading
// component. Caller must hold the lock.
func (m *MemoryEngine) candidates(plan matchPlan) (quadSet, bool) {
	if len(plan.prefix) == 0 {
		return nil, false
	}
	lead := plan.prefix[0]
	switch plan.index {
	case indexPOSC:
		return m.byPredicate[lead], true
	case indexOSPC:
		return m.byObject[lead], true
	case indexCSPO:
		return m.byContext[lead], true
	default:
		return m.bySubject[lead], true
	}
}

// Flags classifies triple in the contexts filter accepts.
func (m *MemoryEngine) Flags(ctx context.Context, triple rdf.Quad, filter ContextFilter) (rdf.ProvenanceFlags, error) {
	return flagsFromMatch(ctx, m, triple, filter)
}

// =============================================================================
// Writes
// =============================================================================

// AddExplicit asserts quads. Asserting an existing quad is a no-op.
func (m *MemoryEngine) AddExplicit(ctx context.Context, quads []rdf.Quad) (int, error) {
	normalized := make([]rdf.Quad, 0, len(quads))
	for _, q := range quads {
		n, err := normalizeExplicit(q)
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	added := 0
	for _, q := range normalized {
		if _, exists := m.quads[q]; !exists {
			added++
		}
		m.put(q, rdf.StatusExplicit)
	}
	return added, ctx.Err()
}

// RemoveExplicit retracts quads. The inferred closure is left untouched
// until the next ReplaceInferred.
func (m *MemoryEngine) RemoveExplicit(ctx context.Context, quads []rdf.Quad) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	removed := 0
	for _, q := range quads {
		n, err := normalizeExplicit(q)
		if err != nil {
			return removed, err
		}
		if _, ok := m.quads[n]; ok {
			m.delete(n)
			removed++
		}
	}
	return removed, ctx.Err()
}

// ReplaceInferred swaps the implicit graph for stmts. Either every
// statement is stored or the previous implicit graph is kept.
func (m *MemoryEngine) ReplaceInferred(ctx context.Context, stmts []rdf.Statement) error {
	for _, st := range stmts {
		if !st.Quad.InContext(rdf.ImplicitGraph).IsConcrete() {
			return ErrInvalidQuad
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	for q := range m.byContext[rdf.ImplicitGraph] {
		m.delete(q)
	}
	for _, st := range stmts {
		m.put(st.Quad.InContext(rdf.ImplicitGraph), st.Status|rdf.StatusInferred)
	}
	return nil
}

// Count returns statement and term counts.
func (m *MemoryEngine) Count(ctx context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Counts{}, ErrStorageClosed
	}
	var c Counts
	for _, status := range m.quads {
		if status.Has(rdf.StatusExplicit) {
			c.Explicit++
		} else {
			c.Inferred++
		}
	}
	c.Terms = int64(len(m.terms))
	return c, ctx.Err()
}

// Meta returns a metadata value.
func (m *MemoryEngine) Meta(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	v, ok := m.meta[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// SetMeta stores a metadata value.
func (m *MemoryEngine) SetMeta(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	m.meta[key] = append([]byte(nil), value...)
	return nil
}

// Close releases the engine. Further calls return ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// put stores q with status. Caller must hold the lock.
func (m *MemoryEngine) put(q rdf.Quad, status rdf.Status) {
	m.quads[q] = status
	addTo(m.bySubject, q.Subject, q)
	addTo(m.byPredicate, q.Predicate, q)
	addTo(m.byObject, q.Object, q)
	addTo(m.byContext, q.Context, q)
}

// delete removes q. Caller must hold the lock.
func (m *MemoryEngine) delete(q rdf.Quad) {
	delete(m.quads, q)
	removeFrom(m.bySubject, q.Subject, q)
	removeFrom(m.byPredicate, q.Predicate, q)
	removeFrom(m.byObject, q.Object, q)
	removeFrom(m.byContext, q.Context, q)
}

func addTo(ix map[rdf.TermID]quadSet, key rdf.TermID, q rdf.Quad) {
	set, ok := ix[key]
	if !ok {
		set = make(quadSet)
		ix[key] = set
	}
	set[q] = struct{}{}
}

func removeFrom(ix map[rdf.TermID]quadSet, key rdf.TermID, q rdf.Quad) {
	if set, ok := ix[key]; ok {
		delete(set, q)
		if len(set) == 0 {
			delete(ix, key)
		}
	}
}

var _ Store = (*MemoryEngine)(nil)
