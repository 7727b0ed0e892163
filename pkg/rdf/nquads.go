package rdf

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseError reports a malformed line in an N-Quads document.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReadQuads parses an N-Quads document and calls fn for every statement.
//
// Two conveniences beyond plain N-Quads are accepted: Turtle style
// "@prefix p: <iri> ." directives, and prefixed names in any term position.
// Returning an error from fn stops the read and returns that error.
func ReadQuads(r io.Reader, prefixes Prefixes, fn func(TermQuad) error) error {
	if prefixes == nil {
		prefixes = DefaultPrefixes()
	} else {
		prefixes = prefixes.Clone()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasSuffix(line, ".") {
			return &ParseError{Line: lineNo, Err: fmt.Errorf("%w: statement must end with '.'", ErrInvalidTerm)}
		}
		tokens, err := Tokenize(strings.TrimSuffix(line, "."))
		if err != nil {
			return &ParseError{Line: lineNo, Err: err}
		}

		if len(tokens) > 0 && tokens[0] == "@prefix" {
			if err := addPrefix(prefixes, tokens); err != nil {
				return &ParseError{Line: lineNo, Err: err}
			}
			continue
		}

		q, err := parseStatement(tokens, prefixes)
		if err != nil {
			return &ParseError{Line: lineNo, Err: err}
		}
		if err := fn(q); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func addPrefix(prefixes Prefixes, tokens []string) error {
	if len(tokens) != 3 || !strings.HasSuffix(tokens[1], ":") {
		return fmt.Errorf("%w: malformed prefix directive", ErrInvalidTerm)
	}
	ns, err := ParseTerm(tokens[2], prefixes)
	if err != nil {
		return err
	}
	if !ns.IsIRI() {
		return fmt.Errorf("%w: prefix namespace must be an iri", ErrInvalidTerm)
	}
	prefixes[strings.TrimSuffix(tokens[1], ":")] = ns.Value()
	return nil
}

func parseStatement(tokens []string, prefixes Prefixes) (TermQuad, error) {
	if len(tokens) != 3 && len(tokens) != 4 {
		return TermQuad{}, fmt.Errorf("%w: expected 3 or 4 terms, got %d", ErrInvalidTerm, len(tokens))
	}
	terms := make([]Term, len(tokens))
	for i, tok := range tokens {
		t, err := ParseTerm(tok, prefixes)
		if err != nil {
			return TermQuad{}, err
		}
		terms[i] = t
	}
	q := TermQuad{Subject: terms[0], Predicate: terms[1], Object: terms[2]}
	if len(terms) == 4 {
		q.Graph = terms[3]
	}
	if q.Subject.IsLiteral() || !q.Predicate.IsIRI() || q.Graph.IsLiteral() {
		return TermQuad{}, fmt.Errorf("%w: literal in subject, predicate or graph position", ErrInvalidTerm)
	}
	return q, nil
}

// Tokenize splits a line into term tokens. Literals keep their quotes and
// any language tag or datatype suffix, so a literal containing spaces stays
// one token.
func Tokenize(line string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(line) {
		switch c := line[i]; {
		case c == ' ' || c == '\t':
			i++
		case c == '<':
			end := strings.IndexByte(line[i:], '>')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated iri", ErrInvalidTerm)
			}
			tokens = append(tokens, line[i:i+end+1])
			i += end + 1
		case c == '"':
			end := closingQuote(line[i:])
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated literal", ErrInvalidTerm)
			}
			j := i + end + 1
			switch {
			case strings.HasPrefix(line[j:], "^^<"):
				gt := strings.IndexByte(line[j:], '>')
				if gt < 0 {
					return nil, fmt.Errorf("%w: unterminated datatype", ErrInvalidTerm)
				}
				j += gt + 1
			case strings.HasPrefix(line[j:], "^^") || strings.HasPrefix(line[j:], "@"):
				for j < len(line) && line[j] != ' ' && line[j] != '\t' {
					j++
				}
			}
			tokens = append(tokens, line[i:j])
			i = j
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' {
				j++
			}
			tokens = append(tokens, line[i:j])
			i = j
		}
	}
	return tokens, nil
}
