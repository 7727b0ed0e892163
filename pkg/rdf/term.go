// Package rdf defines the term and quad model shared by every rdfproof package.
//
// Terms are kept in their N-Triples encoding so that the encoded string is
// also the dictionary key: two terms are equal exactly when their encodings
// are equal. Quads refer to terms by dictionary id.
//
// Example:
//
//	t := rdf.IRI("http://example.org/Lassie")
//	fmt.Println(t)         // <http://example.org/Lassie>
//	fmt.Println(t.Value()) // http://example.org/Lassie
package rdf

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTerm is returned when a term cannot be parsed.
var ErrInvalidTerm = errors.New("invalid rdf term")

// Term is an RDF term in N-Triples form. The zero value means "no term".
type Term string

// IRI returns the term for an absolute IRI.
func IRI(iri string) Term {
	return Term("<" + iri + ">")
}

// Literal returns a plain string literal.
func Literal(value string) Term {
	return Term(quote(value))
}

// LangLiteral returns a language-tagged literal.
func LangLiteral(value, lang string) Term {
	return Term(quote(value) + "@" + strings.ToLower(lang))
}

// TypedLiteral returns a literal with an explicit datatype IRI.
func TypedLiteral(value, datatype string) Term {
	return Term(quote(value) + "^^<" + datatype + ">")
}

// Blank returns a blank node term.
func Blank(label string) Term {
	return Term("_:" + label)
}

// IsZero reports whether t is the empty term.
func (t Term) IsZero() bool { return t == "" }

// IsIRI reports whether t is an IRI.
func (t Term) IsIRI() bool { return strings.HasPrefix(string(t), "<") }

// IsLiteral reports whether t is a literal.
func (t Term) IsLiteral() bool { return strings.HasPrefix(string(t), "\"") }

// IsBlank reports whether t is a blank node.
func (t Term) IsBlank() bool { return strings.HasPrefix(string(t), "_:") }

// Value returns the display form of the term: the bare IRI, the unescaped
// lexical form of a literal, or the blank node label with its prefix.
func (t Term) Value() string {
	s := string(t)
	switch {
	case t.IsIRI():
		return strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	case t.IsLiteral():
		end := strings.LastIndex(s, "\"")
		if end <= 0 {
			return s
		}
		return unquote(s[1:end])
	default:
		return s
	}
}

func (t Term) String() string { return string(t) }

// ParseTerm parses a single term token. Besides N-Triples syntax it accepts
// prefixed names ("rdf:type") resolved through prefixes, and the bare keyword
// "a" for rdf:type.
func ParseTerm(token string, prefixes Prefixes) (Term, error) {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "", fmt.Errorf("%w: empty token", ErrInvalidTerm)
	case token == "a":
		return IRI(RDFType), nil
	case strings.HasPrefix(token, "<"):
		if !strings.HasSuffix(token, ">") || len(token) < 3 {
			return "", fmt.Errorf("%w: unterminated iri %q", ErrInvalidTerm, token)
		}
		return Term(token), nil
	case strings.HasPrefix(token, "_:"):
		if len(token) == 2 {
			return "", fmt.Errorf("%w: empty blank node label", ErrInvalidTerm)
		}
		return Term(token), nil
	case strings.HasPrefix(token, "\""):
		return parseLiteral(token, prefixes)
	}
	iri, ok := prefixes.Expand(token)
	if !ok {
		return "", fmt.Errorf("%w: unknown prefix in %q", ErrInvalidTerm, token)
	}
	return IRI(iri), nil
}

func parseLiteral(token string, prefixes Prefixes) (Term, error) {
	end := closingQuote(token)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated literal %q", ErrInvalidTerm, token)
	}
	lexical := unquote(token[1:end])
	rest := token[end+1:]
	switch {
	case rest == "":
		return Literal(lexical), nil
	case strings.HasPrefix(rest, "@") && len(rest) > 1:
		return LangLiteral(lexical, rest[1:]), nil
	case strings.HasPrefix(rest, "^^"):
		dt, err := ParseTerm(rest[2:], prefixes)
		if err != nil {
			return "", err
		}
		if !dt.IsIRI() {
			return "", fmt.Errorf("%w: datatype must be an iri in %q", ErrInvalidTerm, token)
		}
		return TypedLiteral(lexical, dt.Value()), nil
	}
	return "", fmt.Errorf("%w: trailing characters in literal %q", ErrInvalidTerm, token)
}

// closingQuote returns the index of the quote that ends the literal starting
// at s[0], skipping escaped quotes.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

var (
	quoter   = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	unquoter = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\n`, "\n", `\r`, "\r", `\t`, "\t")
)

func quote(s string) string   { return "\"" + quoter.Replace(s) + "\"" }
func unquote(s string) string { return unquoter.Replace(s) }
