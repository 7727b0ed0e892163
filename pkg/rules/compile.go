package rules

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/rdfproof/pkg/rdf"
)

// Encoder assigns dictionary ids to terms. storage.Store satisfies it.
type Encoder interface {
	Encode(term rdf.Term) (rdf.TermID, error)
}

// Unbound marks a slot without a variable index.
const Unbound = -1

// CompiledSlot is a slot resolved against the dictionary: either a variable
// index into a binding vector or a constant id.
type CompiledSlot struct {
	Var   int
	Const rdf.TermID
}

// IsVar reports whether the slot is a variable.
func (s CompiledSlot) IsVar() bool { return s.Var != Unbound }

// CompiledPattern is a triple pattern over compiled slots.
type CompiledPattern [3]CompiledSlot

// Substitute returns the pattern as a quad, filling variables from bindings.
// Unbound variables stay 0, which matchers read as wildcards.
func (p CompiledPattern) Substitute(bindings []rdf.TermID) rdf.Quad {
	var ids [3]rdf.TermID
	for i, s := range p {
		if s.IsVar() {
			ids[i] = bindings[s.Var]
		} else {
			ids[i] = s.Const
		}
	}
	return rdf.NewTriple(ids[0], ids[1], ids[2])
}

// Bind unifies the pattern with a concrete triple, extending bindings.
// It fails on a constant mismatch or when a variable is already bound to a
// different term; bindings may be partially written on failure.
func (p CompiledPattern) Bind(q rdf.Quad, bindings []rdf.TermID) bool {
	ids := [3]rdf.TermID{q.Subject, q.Predicate, q.Object}
	for i, s := range p {
		if !s.IsVar() {
			if s.Const != ids[i] {
				return false
			}
			continue
		}
		switch cur := bindings[s.Var]; {
		case cur == rdf.NoTerm:
			bindings[s.Var] = ids[i]
		case cur != ids[i]:
			return false
		}
	}
	return true
}

// CompiledRule is a rule ready for matching.
type CompiledRule struct {
	ID          string
	Antecedents []CompiledPattern
	Consequents []CompiledPattern
	Identity    bool
	// VarNames maps variable index to name.
	VarNames []string
}

// NumVars returns the size of the binding vector the rule needs.
func (r *CompiledRule) NumVars() int { return len(r.VarNames) }

// Compiled is an immutable, dictionary-resolved catalog shared by every
// request.
type Compiled struct {
	Name        string
	Fingerprint string
	Rules       []CompiledRule
	// Source is the catalog this was compiled from.
	Source *Catalog
}

// Compile resolves every constant through enc and numbers every variable.
func (c *Catalog) Compile(enc Encoder) (*Compiled, error) {
	out := &Compiled{
		Name:        c.Name,
		Fingerprint: c.Fingerprint(),
		Rules:       make([]CompiledRule, 0, len(c.Rules)),
		Source:      c,
	}
	for _, r := range c.Rules {
		cr := CompiledRule{ID: r.ID, Identity: r.Identity}
		vars := make(map[string]int)
		compile := func(p TriplePattern) (CompiledPattern, error) {
			var cp CompiledPattern
			for i, s := range p {
				if s.IsVar() {
					idx, ok := vars[s.Var]
					if !ok {
						idx = len(cr.VarNames)
						vars[s.Var] = idx
						cr.VarNames = append(cr.VarNames, s.Var)
					}
					cp[i] = CompiledSlot{Var: idx}
					continue
				}
				id, err := enc.Encode(s.Term)
				if err != nil {
					return cp, fmt.Errorf("compile %s: encode %s: %w", r.ID, s.Term, err)
				}
				cp[i] = CompiledSlot{Var: Unbound, Const: id}
			}
			return cp, nil
		}
		for _, p := range r.Antecedents {
			cp, err := compile(p)
			if err != nil {
				return nil, err
			}
			cr.Antecedents = append(cr.Antecedents, cp)
		}
		for _, p := range r.Consequents {
			cp, err := compile(p)
			if err != nil {
				return nil, err
			}
			cr.Consequents = append(cr.Consequents, cp)
		}
		out.Rules = append(out.Rules, cr)
	}
	return out, nil
}

// Fingerprint is a blake2b-256 digest of the catalog's canonical text.
// Two catalogs with the same rules in the same order share a fingerprint.
func (c *Catalog) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(c.Name))
	for _, r := range c.Rules {
		h.Write([]byte{'\n'})
		h.Write([]byte(r.String()))
		if r.Identity {
			h.Write([]byte(" [identity]"))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
