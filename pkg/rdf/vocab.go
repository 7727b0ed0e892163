package rdf

import "strings"

// Namespaces.
const (
	RDFNamespace   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNamespace  = "http://www.w3.org/2000/01/rdf-schema#"
	OWLNamespace   = "http://www.w3.org/2002/07/owl#"
	XSDNamespace   = "http://www.w3.org/2001/XMLSchema#"
	ProofNamespace = "http://www.ontotext.com/proof/"
)

// Frequently used IRIs.
const (
	RDFType   = RDFNamespace + "type"
	OWLSameAs = OWLNamespace + "sameAs"

	// ExplicitGraphIRI names the context reported for statements asserted
	// into the default graph.
	ExplicitGraphIRI = "http://www.ontotext.com/explicit"
	// ImplicitGraphIRI names the context that holds inferred statements.
	ImplicitGraphIRI = "http://www.ontotext.com/implicit"
)

// Prefixes maps a prefix label (without the colon) to its namespace IRI.
type Prefixes map[string]string

// DefaultPrefixes returns the prefixes every parser understands.
func DefaultPrefixes() Prefixes {
	return Prefixes{
		"rdf":  RDFNamespace,
		"rdfs": RDFSNamespace,
		"owl":  OWLNamespace,
		"xsd":  XSDNamespace,
		"pr":   ProofNamespace,
	}
}

// Clone returns a copy that can be extended without touching p.
func (p Prefixes) Clone() Prefixes {
	out := make(Prefixes, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Expand resolves a prefixed name such as "owl:sameAs".
func (p Prefixes) Expand(curie string) (string, bool) {
	i := strings.IndexByte(curie, ':')
	if i < 0 {
		return "", false
	}
	ns, ok := p[curie[:i]]
	if !ok {
		return "", false
	}
	return ns + curie[i+1:], true
}
