// Package rules holds the entailment rule catalogs.
//
// A catalog is data: an ordered list of rules, each with antecedent and
// consequent triple patterns over variables and constants. Catalogs are
// written in YAML; the built-in regimes are embedded in the binary and custom
// ones can be loaded from a file.
//
// Rule order is significant. The proof engine tries rules in catalog order
// and satisfies antecedents left to right, so the first antecedent of a rule
// should bind the variables the later ones depend on.
//
// Example catalog:
//
//	name: tiny
//	rules:
//	  - id: rule_cax_sco
//	    if:
//	      - "?c1 rdfs:subClassOf ?c2"
//	      - "?x rdf:type ?c1"
//	    then:
//	      - "?x rdf:type ?c2"
package rules

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/rdfproof/pkg/rdf"
)

// UnknownRulesetError is returned when a regime name has no catalog.
type UnknownRulesetError struct {
	Name  string
	Known []string
}

func (e *UnknownRulesetError) Error() string {
	return fmt.Sprintf("unknown ruleset %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// MalformedPatternError reports a rule that failed validation.
type MalformedPatternError struct {
	Rule   string
	Reason string
}

func (e *MalformedPatternError) Error() string {
	if e.Rule == "" {
		return "malformed rule pattern: " + e.Reason
	}
	return fmt.Sprintf("malformed rule %s: %s", e.Rule, e.Reason)
}

// Slot is one position of a triple pattern: a variable or a constant term.
type Slot struct {
	Var  string
	Term rdf.Term
}

// IsVar reports whether the slot is a variable.
func (s Slot) IsVar() bool { return s.Var != "" }

func (s Slot) String() string {
	if s.IsVar() {
		return "?" + s.Var
	}
	return s.Term.String()
}

// TriplePattern is a subject, predicate, object triple of slots.
type TriplePattern [3]Slot

func (p TriplePattern) String() string {
	return p[0].String() + " " + p[1].String() + " " + p[2].String()
}

// Rule is a single entailment rule.
type Rule struct {
	ID          string
	Antecedents []TriplePattern
	Consequents []TriplePattern
	// Identity marks owl:sameAs replacement rules. The materializer uses
	// them; the proof engine explains their output as identity merges.
	Identity bool
}

func (r Rule) String() string {
	body := make([]string, len(r.Antecedents))
	for i, p := range r.Antecedents {
		body[i] = "(" + p.String() + ")"
	}
	head := make([]string, len(r.Consequents))
	for i, p := range r.Consequents {
		head[i] = "(" + p.String() + ")"
	}
	return r.ID + ": " + strings.Join(body, ", ") + " => " + strings.Join(head, ", ")
}

// Catalog is a validated, ordered rule set for one regime.
type Catalog struct {
	Name        string
	Description string
	Rules       []Rule
}

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.Rules) }

// Rule returns the rule with the given id.
func (c *Catalog) Rule(id string) (Rule, bool) {
	for _, r := range c.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// document is the YAML shape of a catalog file.
type document struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Prefixes    map[string]string `yaml:"prefixes"`
	Rules       []struct {
		ID       string   `yaml:"id"`
		If       []string `yaml:"if"`
		Then     []string `yaml:"then"`
		Identity bool     `yaml:"identity"`
	} `yaml:"rules"`
}

// LoadFile reads and validates a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Either the whole catalog is
// valid or an error is returned; no partial catalog escapes.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	if doc.Name == "" {
		return nil, &MalformedPatternError{Reason: "ruleset has no name"}
	}

	prefixes := rdf.DefaultPrefixes()
	for k, v := range doc.Prefixes {
		prefixes[k] = v
	}

	cat := &Catalog{Name: doc.Name, Description: doc.Description}
	seen := make(map[string]bool, len(doc.Rules))
	for _, raw := range doc.Rules {
		if raw.ID == "" {
			return nil, &MalformedPatternError{Reason: "rule without id"}
		}
		if seen[raw.ID] {
			return nil, &MalformedPatternError{Rule: raw.ID, Reason: "duplicate rule id"}
		}
		seen[raw.ID] = true

		rule := Rule{ID: raw.ID, Identity: raw.Identity}
		for _, text := range raw.If {
			p, err := parsePattern(text, prefixes)
			if err != nil {
				return nil, &MalformedPatternError{Rule: raw.ID, Reason: err.Error()}
			}
			rule.Antecedents = append(rule.Antecedents, p)
		}
		for _, text := range raw.Then {
			p, err := parsePattern(text, prefixes)
			if err != nil {
				return nil, &MalformedPatternError{Rule: raw.ID, Reason: err.Error()}
			}
			rule.Consequents = append(rule.Consequents, p)
		}
		if err := Validate(rule); err != nil {
			return nil, err
		}
		cat.Rules = append(cat.Rules, rule)
	}
	return cat, nil
}

var varName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func parsePattern(text string, prefixes rdf.Prefixes) (TriplePattern, error) {
	var p TriplePattern
	tokens, err := rdf.Tokenize(strings.TrimSpace(text))
	if err != nil {
		return p, err
	}
	if len(tokens) != 3 {
		return p, fmt.Errorf("pattern %q has %d terms, want 3", text, len(tokens))
	}
	for i, tok := range tokens {
		if strings.HasPrefix(tok, "?") {
			name := tok[1:]
			if !varName.MatchString(name) {
				return p, fmt.Errorf("bad variable name %q", tok)
			}
			p[i] = Slot{Var: name}
			continue
		}
		term, err := rdf.ParseTerm(tok, prefixes)
		if err != nil {
			return p, err
		}
		p[i] = Slot{Term: term}
	}
	return p, nil
}

// Validate checks the structural rules every catalog entry must satisfy:
// at least one antecedent and consequent, and every consequent variable
// bound by some antecedent.
func Validate(r Rule) error {
	if len(r.Antecedents) == 0 {
		return &MalformedPatternError{Rule: r.ID, Reason: "rule has no antecedents"}
	}
	if len(r.Consequents) == 0 {
		return &MalformedPatternError{Rule: r.ID, Reason: "rule has no consequents"}
	}
	bound := make(map[string]bool)
	for _, p := range r.Antecedents {
		for _, s := range p {
			if s.IsVar() {
				bound[s.Var] = true
			} else if s.Term.IsZero() {
				return &MalformedPatternError{Rule: r.ID, Reason: "empty constant in antecedent"}
			}
		}
	}
	for _, p := range r.Consequents {
		for _, s := range p {
			if s.IsVar() && !bound[s.Var] {
				return &MalformedPatternError{Rule: r.ID, Reason: fmt.Sprintf("consequent variable ?%s is not bound by any antecedent", s.Var)}
			}
			if !s.IsVar() && s.Term.IsZero() {
				return &MalformedPatternError{Rule: r.ID, Reason: "empty constant in consequent"}
			}
		}
	}
	return nil
}

// =============================================================================
// Built-in Regimes
// =============================================================================

// Names returns the built-in regime names in sorted order.
func Names() []string {
	entries, err := builtinFS.ReadDir("rulesets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a built-in regime.
func Has(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Load returns the built-in catalog for regime, or *UnknownRulesetError.
//
// The "empty" regime has no rules, so nothing is inferred and no inferred
// statement can be justified. Explicit statements are still explained, each
// by a single row with the rule "explicit".
func Load(regime string) (*Catalog, error) {
	if !Has(regime) {
		return nil, &UnknownRulesetError{Name: regime, Known: Names()}
	}
	data, err := builtinFS.ReadFile("rulesets/" + regime + ".yaml")
	if err != nil {
		return nil, err
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("built-in ruleset %s: %w", regime, err)
	}
	return cat, nil
}
