// Package storage provides the quad store behind rdfproof.
//
// The package exposes two views of a store:
//
//   - Matcher is the read side used by the proof engine: pattern matching
//     with context filters, per-triple provenance flags and term lookup.
//   - Store adds writes: asserting and retracting explicit statements,
//     replacing the inferred closure, and a small metadata keyspace.
//
// Two engines implement Store:
//
//   - MemoryEngine: maps with per-position indexes, for tests and
//     throwaway sessions
//   - BadgerEngine: persistent, four big-endian quad indexes in BadgerDB
//
// Both engines return matches in the same order, so results do not depend on
// which engine is behind a store.
//
// Example:
//
//	store := storage.NewMemoryEngine()
//	defer store.Close()
//
//	lassie, _ := store.Encode(rdf.IRI("http://example.org/Lassie"))
//	// ...
//	err := store.Match(ctx, rdf.NewTriple(lassie, 0, 0), storage.AnyContext(),
//		func(st rdf.Statement) error {
//			fmt.Println(st.Quad, st.Status)
//			return nil
//		})
//
// Thread Safety:
//
//	All engines are safe for concurrent use. Reads run in parallel; writes
//	are serialized by the engine.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/rdfproof/pkg/rdf"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrStorageClosed    = errors.New("storage closed")
	ErrInvalidQuad      = errors.New("invalid quad")
	ErrIterationStopped = errors.New("iteration stopped") // Sentinel to stop streaming early
)

// StatementVisitor is called once per matched statement. Returning
// ErrIterationStopped ends the scan without error; any other error aborts it
// and is returned by Match.
type StatementVisitor func(st rdf.Statement) error

// FilterKind selects how a ContextFilter restricts the context slot.
type FilterKind uint8

const (
	// FilterAny accepts every context.
	FilterAny FilterKind = iota
	// FilterExact accepts one context.
	FilterExact
	// FilterDefaultOnly accepts the default graph only.
	FilterDefaultOnly
)

// ContextFilter restricts which contexts a match may return.
type ContextFilter struct {
	Kind    FilterKind
	Context rdf.TermID
}

// AnyContext accepts statements from every context.
func AnyContext() ContextFilter { return ContextFilter{Kind: FilterAny} }

// ExactContext accepts statements from context c only.
func ExactContext(c rdf.TermID) ContextFilter {
	if c == rdf.DefaultGraph {
		return DefaultOnly()
	}
	return ContextFilter{Kind: FilterExact, Context: c}
}

// DefaultOnly accepts statements from the default graph only.
func DefaultOnly() ContextFilter { return ContextFilter{Kind: FilterDefaultOnly} }

// Accepts reports whether a statement in context c passes the filter.
func (f ContextFilter) Accepts(c rdf.TermID) bool {
	switch f.Kind {
	case FilterExact:
		return c == f.Context
	case FilterDefaultOnly:
		return c == rdf.DefaultGraph
	default:
		return true
	}
}

// bound returns the context a filter pins, if any.
func (f ContextFilter) bound() (rdf.TermID, bool) {
	switch f.Kind {
	case FilterExact:
		return f.Context, true
	case FilterDefaultOnly:
		return rdf.DefaultGraph, true
	default:
		return 0, false
	}
}

func (f ContextFilter) String() string {
	switch f.Kind {
	case FilterExact:
		return fmt.Sprintf("context=%d", f.Context)
	case FilterDefaultOnly:
		return "default"
	default:
		return "any"
	}
}

// Dictionary maps terms to ids and back.
type Dictionary interface {
	// Encode returns the id for term, assigning a new one when needed.
	Encode(term rdf.Term) (rdf.TermID, error)
	// Lookup returns the id for term without assigning one.
	Lookup(term rdf.Term) (rdf.TermID, bool, error)
	// Decode returns the term for id, or ErrNotFound.
	Decode(id rdf.TermID) (rdf.Term, error)
}

// Matcher is the read-only view of a store.
type Matcher interface {
	Dictionary

	// Match streams every statement whose subject, predicate and object
	// satisfy pattern (0 = unbound) and whose context passes filter. The
	// context slot of pattern is ignored.
	Match(ctx context.Context, pattern rdf.Quad, filter ContextFilter, fn StatementVisitor) error

	// Flags classifies the triple in the contexts filter accepts.
	Flags(ctx context.Context, triple rdf.Quad, filter ContextFilter) (rdf.ProvenanceFlags, error)
}

// Counts summarizes store contents.
type Counts struct {
	Explicit int64 `json:"explicit"`
	Inferred int64 `json:"inferred"`
	Terms    int64 `json:"terms"`
}

// Store is a Matcher that also accepts writes.
type Store interface {
	Matcher

	// AddExplicit asserts quads and returns how many were new.
	AddExplicit(ctx context.Context, quads []rdf.Quad) (int, error)
	// RemoveExplicit retracts quads and returns how many existed.
	RemoveExplicit(ctx context.Context, quads []rdf.Quad) (int, error)
	// ReplaceInferred drops the implicit graph and stores stmts in its place.
	ReplaceInferred(ctx context.Context, stmts []rdf.Statement) error
	// Count returns statement and term counts.
	Count(ctx context.Context) (Counts, error)

	// Meta returns a metadata value or ErrNotFound.
	Meta(key string) ([]byte, error)
	// SetMeta stores a metadata value.
	SetMeta(key string, value []byte) error

	Close() error
}

// CollectMatches returns every statement Match yields, in order.
func CollectMatches(ctx context.Context, m Matcher, pattern rdf.Quad, filter ContextFilter) ([]rdf.Statement, error) {
	var out []rdf.Statement
	err := m.Match(ctx, pattern, filter, func(st rdf.Statement) error {
		out = append(out, st)
		return nil
	})
	return out, err
}

// flagsFromMatch implements Matcher.Flags on top of Match.
func flagsFromMatch(ctx context.Context, m Matcher, triple rdf.Quad, filter ContextFilter) (rdf.ProvenanceFlags, error) {
	var flags rdf.ProvenanceFlags
	if !triple.IsConcrete() {
		return flags, fmt.Errorf("%w: flags need a concrete triple, got %v", ErrInvalidQuad, triple)
	}
	err := m.Match(ctx, triple.Triple(), filter, func(st rdf.Statement) error {
		if st.Status.Has(rdf.StatusExplicit) && !flags.Explicit {
			flags.Explicit = true
			flags.ExplicitContext = st.Context
		}
		if st.Status.Has(rdf.StatusIdentityMerge) {
			flags.IdentityMerge = true
		}
		return nil
	})
	return flags, err
}

// normalizeExplicit validates a quad before it is asserted or retracted.
// Asserting into the explicit graph term means the default graph.
func normalizeExplicit(q rdf.Quad) (rdf.Quad, error) {
	if !q.IsConcrete() {
		return q, fmt.Errorf("%w: unbound term in %v", ErrInvalidQuad, q)
	}
	switch q.Context {
	case rdf.ExplicitGraph:
		q.Context = rdf.DefaultGraph
	case rdf.ImplicitGraph:
		return q, fmt.Errorf("%w: cannot assert into the implicit graph", ErrInvalidQuad)
	}
	return q, nil
}

// reservedID resolves the terms every dictionary knows without storage.
func reservedID(term rdf.Term) (rdf.TermID, bool) {
	for id, t := range rdf.ReservedTerms {
		if t == term {
			return id, true
		}
	}
	return 0, false
}
