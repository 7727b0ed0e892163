// Package explain exposes the proof engine as a provenance relation.
//
// A Request names a statement with terms, any of which may be left open.
// Relation.Explain resolves the terms through the dictionary, runs the proof
// engine and streams one Tuple per justification row with every id decoded
// back to a term:
//
//	rel := explain.NewRelation(engine, store, m, logger)
//	req, _ := explain.ParseRequest("ex:Lassie rdf:type ex:Mammal", prefixes)
//	err := rel.Explain(ctx, req, func(t explain.Tuple) error {
//		fmt.Println(t.Rule, t.Subject, t.Predicate, t.Object, t.Context)
//		return nil
//	})
//
// Rows for one target statement are contiguous and follow the antecedent
// order of the winning rule. Targets follow each other in store order.
//
// Solutions offers the same rows in the shape of the pr: property functions:
// each call gets a fresh designator, and each row answers pr:rule,
// pr:subject, pr:predicate, pr:object and pr:context.
package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/rdfproof/pkg/metrics"
	"github.com/orneryd/rdfproof/pkg/proof"
	"github.com/orneryd/rdfproof/pkg/rdf"
	"github.com/orneryd/rdfproof/pkg/storage"
)

// Accessor predicates in the proof namespace.
var (
	PredExplain   = rdf.IRI(rdf.ProofNamespace + "explain")
	PredRule      = rdf.IRI(rdf.ProofNamespace + "rule")
	PredSubject   = rdf.IRI(rdf.ProofNamespace + "subject")
	PredPredicate = rdf.IRI(rdf.ProofNamespace + "predicate")
	PredObject    = rdf.IRI(rdf.ProofNamespace + "object")
	PredContext   = rdf.IRI(rdf.ProofNamespace + "context")
)

// ErrBadRequest reports a request that cannot be parsed.
var ErrBadRequest = errors.New("bad explain request")

// Request is a statement to explain. A zero term leaves the slot open.
// Context restricts the explanation to one graph; the explicit graph term
// means the default graph.
type Request struct {
	Subject   rdf.Term `json:"subject,omitempty"`
	Predicate rdf.Term `json:"predicate,omitempty"`
	Object    rdf.Term `json:"object,omitempty"`
	Context   rdf.Term `json:"context,omitempty"`
}

// ParseRequest reads "s p o [c]", optionally ending in ".". A token
// starting with "?" leaves its slot open.
func ParseRequest(text string, prefixes rdf.Prefixes) (Request, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimSuffix(text, "."))
	tokens, err := rdf.Tokenize(text)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if len(tokens) != 3 && len(tokens) != 4 {
		return Request{}, fmt.Errorf("%w: want 3 or 4 terms, got %d", ErrBadRequest, len(tokens))
	}
	var terms [4]rdf.Term
	for i, tok := range tokens {
		if strings.HasPrefix(tok, "?") {
			continue
		}
		terms[i], err = rdf.ParseTerm(tok, prefixes)
		if err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	return Request{Subject: terms[0], Predicate: terms[1], Object: terms[2], Context: terms[3]}, nil
}

func (r Request) String() string {
	slot := func(t rdf.Term, name string) string {
		if t.IsZero() {
			return "?" + name
		}
		return t.String()
	}
	s := slot(r.Subject, "s") + " " + slot(r.Predicate, "p") + " " + slot(r.Object, "o")
	if !r.Context.IsZero() {
		s += " " + r.Context.String()
	}
	return s
}

// Tuple is one decoded justification row.
type Tuple struct {
	Rule      string   `json:"rule"`
	Subject   rdf.Term `json:"subject"`
	Predicate rdf.Term `json:"predicate"`
	Object    rdf.Term `json:"object"`
	Context   rdf.Term `json:"context"`
	// Target is the concrete statement the row belongs to.
	Target rdf.Quad `json:"-"`
}

// TupleVisitor receives tuples in order. Returning
// storage.ErrIterationStopped ends the request early without error.
type TupleVisitor func(t Tuple) error

// Relation answers explain requests against one engine and dictionary.
type Relation struct {
	engine  *proof.Engine
	dict    storage.Dictionary
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewRelation creates a relation. m and logger may be nil.
func NewRelation(engine *proof.Engine, dict storage.Dictionary, m *metrics.Metrics, logger *zap.Logger) *Relation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relation{
		engine:  engine,
		dict:    dict,
		metrics: m,
		log:     logger.With(zap.String("component", "explain")),
	}
}

// Explain streams the justification of every statement matching req.
// A request naming a term the dictionary has never seen matches nothing.
func (r *Relation) Explain(ctx context.Context, req Request, fn TupleVisitor) (err error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveExplain(time.Since(start), err)
		}
	}()

	target, scope, ok, err := r.resolve(req)
	if err != nil || !ok {
		return err
	}

	dec := newDecoder(r.dict)
	err = r.engine.Targets(ctx, target, scope, func(t rdf.Quad) error {
		rows, outcome, err := r.engine.ExplainTarget(ctx, t, scope)
		if err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.ObserveTarget(outcome.String(), len(rows))
		}
		for _, row := range rows {
			tuple, err := dec.tuple(row)
			if err != nil {
				return err
			}
			if err := fn(tuple); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, storage.ErrIterationStopped) {
		return nil
	}
	if err != nil {
		r.log.Warn("explain failed", zap.Stringer("request", req), zap.Error(err))
	}
	return err
}

// Collect returns every tuple of Explain.
func (r *Relation) Collect(ctx context.Context, req Request) ([]Tuple, error) {
	var out []Tuple
	err := r.Explain(ctx, req, func(t Tuple) error {
		out = append(out, t)
		return nil
	})
	return out, err
}

// resolve turns request terms into a target pattern and scope. ok is false
// when a bound term is unknown.
func (r *Relation) resolve(req Request) (rdf.Quad, proof.Scope, bool, error) {
	var ids [3]rdf.TermID
	for i, term := range []rdf.Term{req.Subject, req.Predicate, req.Object} {
		if term.IsZero() {
			continue
		}
		id, found, err := r.dict.Lookup(term)
		if err != nil || !found {
			return rdf.Quad{}, proof.Scope{}, false, err
		}
		ids[i] = id
	}
	scope := proof.AnyScope()
	if !req.Context.IsZero() {
		c, found, err := r.dict.Lookup(req.Context)
		if err != nil || !found {
			return rdf.Quad{}, proof.Scope{}, false, err
		}
		scope = proof.GraphScope(c)
	}
	return rdf.NewTriple(ids[0], ids[1], ids[2]), scope, true, nil
}

// decoder caches id to term lookups for one request.
type decoder struct {
	dict  storage.Dictionary
	terms map[rdf.TermID]rdf.Term
}

func newDecoder(dict storage.Dictionary) *decoder {
	return &decoder{dict: dict, terms: make(map[rdf.TermID]rdf.Term)}
}

func (d *decoder) term(id rdf.TermID) (rdf.Term, error) {
	if t, ok := d.terms[id]; ok {
		return t, nil
	}
	t, err := d.dict.Decode(id)
	if err != nil {
		return "", fmt.Errorf("decode term %d: %w", id, err)
	}
	d.terms[id] = t
	return t, nil
}

func (d *decoder) tuple(row proof.Row) (Tuple, error) {
	out := Tuple{Rule: row.Rule, Target: row.Target}
	q := row.Antecedent
	var err error
	if out.Subject, err = d.term(q.Subject); err != nil {
		return out, err
	}
	if out.Predicate, err = d.term(q.Predicate); err != nil {
		return out, err
	}
	if out.Object, err = d.term(q.Object); err != nil {
		return out, err
	}
	if out.Context, err = d.term(q.Context); err != nil {
		return out, err
	}
	return out, nil
}

// =============================================================================
// Property function view
// =============================================================================

// Solution is one row bound to the designator of its explain call.
type Solution struct {
	ID string `json:"solution"`
	Tuple
}

// Get answers an accessor predicate. The rule is returned as a literal.
func (s Solution) Get(pred rdf.Term) (rdf.Term, bool) {
	switch pred {
	case PredRule:
		return rdf.Literal(s.Rule), true
	case PredSubject:
		return s.Subject, true
	case PredPredicate:
		return s.Predicate, true
	case PredObject:
		return s.Object, true
	case PredContext:
		return s.Context, true
	}
	return "", false
}

// Solutions runs Explain and binds every row to a fresh designator, a
// blank node unique to this call.
func (r *Relation) Solutions(ctx context.Context, req Request) (rdf.Term, []Solution, error) {
	designator := rdf.Blank("explain-" + uuid.NewString())
	var out []Solution
	err := r.Explain(ctx, req, func(t Tuple) error {
		out = append(out, Solution{ID: designator.String(), Tuple: t})
		return nil
	})
	return designator, out, err
}
