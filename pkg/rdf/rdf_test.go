package rdf

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Term Tests
// =============================================================================

func TestParseTerm(t *testing.T) {
	prefixes := DefaultPrefixes()
	prefixes["ex"] = "http://example.org/"

	tests := []struct {
		name  string
		token string
		want  Term
	}{
		{"iri", "<http://example.org/Lassie>", IRI("http://example.org/Lassie")},
		{"curie", "ex:Lassie", IRI("http://example.org/Lassie")},
		{"rdf type keyword", "a", IRI(RDFType)},
		{"blank", "_:b1", Blank("b1")},
		{"plain literal", `"hello world"`, Literal("hello world")},
		{"lang literal", `"chien"@FR`, LangLiteral("chien", "fr")},
		{"typed literal iri", `"3"^^<http://www.w3.org/2001/XMLSchema#int>`, TypedLiteral("3", XSDNamespace+"int")},
		{"typed literal curie", `"3"^^xsd:int`, TypedLiteral("3", XSDNamespace+"int")},
		{"escaped quote", `"say \"hi\""`, Literal(`say "hi"`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTerm(tt.token, prefixes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("errors", func(t *testing.T) {
		for _, bad := range []string{"", "<unterminated", "nope:thing", `"open`, `"x"junk`, "_:"} {
			_, err := ParseTerm(bad, prefixes)
			assert.ErrorIs(t, err, ErrInvalidTerm, "token %q", bad)
		}
	})
}

func TestTermValue(t *testing.T) {
	assert.Equal(t, "http://example.org/a", IRI("http://example.org/a").Value())
	assert.Equal(t, `line "one"`, Literal(`line "one"`).Value())
	assert.Equal(t, "bonjour", LangLiteral("bonjour", "fr").Value())
	assert.Equal(t, "_:x", Blank("x").Value())
	assert.True(t, IRI("x").IsIRI())
	assert.True(t, Literal("x").IsLiteral())
	assert.True(t, Blank("x").IsBlank())
	assert.True(t, Term("").IsZero())
}

// =============================================================================
// Quad Tests
// =============================================================================

func TestQuad(t *testing.T) {
	q := Quad{Subject: 10, Predicate: 11, Object: 12, Context: 20}

	assert.Equal(t, NewTriple(10, 11, 12), q.Triple())
	assert.Equal(t, TermID(30), q.InContext(30).Context)
	assert.True(t, q.SameTriple(q.InContext(99)))
	assert.True(t, q.IsConcrete())
	assert.False(t, NewTriple(10, 0, 12).IsConcrete())

	assert.True(t, q.MatchesTriple(NewTriple(10, 0, 0)))
	assert.True(t, q.MatchesTriple(NewTriple(0, 11, 12)))
	assert.False(t, q.MatchesTriple(NewTriple(0, 0, 13)))

	assert.Equal(t, ExplicitGraph, ReportedContext(DefaultGraph))
	assert.Equal(t, TermID(20), ReportedContext(20))
}

func TestStatus(t *testing.T) {
	s := StatusInferred | StatusIdentityMerge
	assert.True(t, s.Has(StatusInferred))
	assert.False(t, s.Has(StatusExplicit))
	assert.Equal(t, "inferred|identity-merge", s.String())
	assert.Equal(t, "none", Status(0).String())
}

// =============================================================================
// N-Quads Tests
// =============================================================================

func TestReadQuads(t *testing.T) {
	doc := `
# family data
@prefix ex: <http://example.org/> .
ex:John ex:childOf ex:Mary ex:family .
<http://example.org/Lassie> a ex:Dog .
ex:Lassie ex:name "Lassie the \"dog\""@en .
_:b1 ex:age "7"^^xsd:int <http://example.org/g> .
`
	var got []TermQuad
	err := ReadQuads(strings.NewReader(doc), nil, func(q TermQuad) error {
		got = append(got, q)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, IRI("http://example.org/family"), got[0].Graph)
	assert.Equal(t, IRI(RDFType), got[1].Predicate)
	assert.True(t, got[1].Graph.IsZero())
	assert.Equal(t, LangLiteral(`Lassie the "dog"`, "en"), got[2].Object)
	assert.Equal(t, TypedLiteral("7", XSDNamespace+"int"), got[3].Object)
	assert.Equal(t, Blank("b1"), got[3].Subject)
}

func TestReadQuadsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing dot", "<a> <b> <c>"},
		{"too few terms", "<a> <b> ."},
		{"literal predicate", `<a> "b" <c> .`},
		{"unknown prefix", "zz:a <b> <c> ."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ReadQuads(strings.NewReader(tt.doc), nil, func(TermQuad) error { return nil })
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, 1, perr.Line)
		})
	}

	t.Run("callback error stops reading", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := ReadQuads(strings.NewReader("<a> <b> <c> .\n<d> <e> <f> .\n"), nil, func(TermQuad) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})
}
