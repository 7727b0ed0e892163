package rdf

import (
	"fmt"
	"strings"
)

// TermID is an opaque dictionary identifier for a term.
//
// The value 0 never names a term. In a subject, predicate or object slot of a
// pattern it means "unbound"; in the context slot it means the default graph.
type TermID uint64

// Reserved identifiers. Every dictionary seeds these at creation.
const (
	NoTerm        TermID = 0
	DefaultGraph  TermID = 0
	ExplicitGraph TermID = 1
	ImplicitGraph TermID = 2

	// FirstUserID is the first identifier handed out for ordinary terms.
	FirstUserID TermID = 3
)

// ReservedTerms lists the terms behind the reserved identifiers, by id.
var ReservedTerms = map[TermID]Term{
	ExplicitGraph: IRI(ExplicitGraphIRI),
	ImplicitGraph: IRI(ImplicitGraphIRI),
}

// ReportedContext maps the default graph to ExplicitGraph so that callers
// always see a real term in the context position.
func ReportedContext(c TermID) TermID {
	if c == DefaultGraph {
		return ExplicitGraph
	}
	return c
}

// Quad is a statement made of dictionary ids. Quads are comparable, so
// equality is structural and they can key maps.
type Quad struct {
	Subject   TermID
	Predicate TermID
	Object    TermID
	Context   TermID
}

// NewTriple returns a quad in the default graph.
func NewTriple(s, p, o TermID) Quad {
	return Quad{Subject: s, Predicate: p, Object: o}
}

// Triple returns q with the context cleared.
func (q Quad) Triple() Quad {
	q.Context = DefaultGraph
	return q
}

// InContext returns q moved to context c.
func (q Quad) InContext(c TermID) Quad {
	q.Context = c
	return q
}

// SameTriple reports whether q and o agree on subject, predicate and object.
func (q Quad) SameTriple(o Quad) bool {
	return q.Subject == o.Subject && q.Predicate == o.Predicate && q.Object == o.Object
}

// IsConcrete reports whether subject, predicate and object are all bound.
func (q Quad) IsConcrete() bool {
	return q.Subject != NoTerm && q.Predicate != NoTerm && q.Object != NoTerm
}

// MatchesTriple reports whether q satisfies pattern in the subject,
// predicate and object positions. Unbound pattern slots match anything.
func (q Quad) MatchesTriple(pattern Quad) bool {
	return (pattern.Subject == NoTerm || pattern.Subject == q.Subject) &&
		(pattern.Predicate == NoTerm || pattern.Predicate == q.Predicate) &&
		(pattern.Object == NoTerm || pattern.Object == q.Object)
}

func (q Quad) String() string {
	return fmt.Sprintf("(%d %d %d %d)", q.Subject, q.Predicate, q.Object, q.Context)
}

// Status is the provenance bit set stored with every quad.
type Status uint8

const (
	// StatusExplicit marks a statement asserted by a client.
	StatusExplicit Status = 1 << iota
	// StatusInferred marks a statement added by the materializer.
	StatusInferred
	// StatusIdentityMerge marks an inferred statement that exists only
	// because terms were merged through owl:sameAs.
	StatusIdentityMerge
)

// Has reports whether every bit in flag is set.
func (s Status) Has(flag Status) bool { return s&flag == flag }

func (s Status) String() string {
	var parts []string
	if s.Has(StatusExplicit) {
		parts = append(parts, "explicit")
	}
	if s.Has(StatusInferred) {
		parts = append(parts, "inferred")
	}
	if s.Has(StatusIdentityMerge) {
		parts = append(parts, "identity-merge")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Statement is a stored quad together with its provenance bits.
type Statement struct {
	Quad
	Status Status
}

// ProvenanceFlags classify a triple as seen from some scope.
type ProvenanceFlags struct {
	// Explicit is set when the triple was asserted in a visible context.
	Explicit bool
	// ExplicitContext is the context of that assertion. Only meaningful
	// when Explicit is set; the default graph is reported as 0.
	ExplicitContext TermID
	// IdentityMerge is set when the triple was inferred only through
	// owl:sameAs replacement.
	IdentityMerge bool
}

// TermQuad is a statement spelled with terms instead of ids, as read from
// a document. A zero Graph means the default graph.
type TermQuad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

func (q TermQuad) String() string {
	parts := []string{q.Subject.String(), q.Predicate.String(), q.Object.String()}
	if !q.Graph.IsZero() {
		parts = append(parts, q.Graph.String())
	}
	return strings.Join(parts, " ") + " ."
}
