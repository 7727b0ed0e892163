package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/rdfproof/pkg/rdf"
)

// =============================================================================
// Built-in Catalog Tests
// =============================================================================

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"empty", "owl-horst", "owl2-rl", "rdfs"}, Names())
	assert.True(t, Has("owl2-rl"))
	assert.False(t, Has("owl-dl"))
}

func TestLoadBuiltins(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			cat, err := Load(name)
			require.NoError(t, err)
			assert.Equal(t, name, cat.Name)
			for _, r := range cat.Rules {
				assert.NoError(t, Validate(r), r.ID)
			}
		})
	}
}

func TestLoadUnknown(t *testing.T) {
	cat, err := Load("owl-full")
	assert.Nil(t, cat)

	var unknown *UnknownRulesetError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "owl-full", unknown.Name)
	assert.Contains(t, unknown.Known, "owl2-rl")
	assert.Contains(t, err.Error(), "owl-full")
}

func TestOWL2RLRules(t *testing.T) {
	cat, err := Load("owl2-rl")
	require.NoError(t, err)

	sco, ok := cat.Rule("rule_cax_sco")
	require.True(t, ok)
	require.Len(t, sco.Antecedents, 2)
	require.Len(t, sco.Consequents, 1)
	assert.Equal(t, Slot{Var: "c1"}, sco.Antecedents[0][0])
	assert.Equal(t, Slot{Term: rdf.IRI(rdf.RDFSNamespace + "subClassOf")}, sco.Antecedents[0][1])
	assert.Equal(t, "?x <"+rdf.RDFType+"> ?c2", sco.Consequents[0].String())

	inv, ok := cat.Rule("rule_prp_inv1")
	require.True(t, ok)
	assert.False(t, inv.Identity)

	rep, ok := cat.Rule("rule_eq_rep_s")
	require.True(t, ok)
	assert.True(t, rep.Identity)

	// Catalog order is file order.
	idx := func(id string) int {
		for i, r := range cat.Rules {
			if r.ID == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("rule_prp_inv1"), idx("rule_prp_inv2"))
	assert.Less(t, idx("rule_eq_sym"), idx("rule_cax_sco"))
}

func TestEmptyRuleset(t *testing.T) {
	cat, err := Load("empty")
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unbound consequent variable",
			yaml: `
name: bad
rules:
  - id: r1
    if: ["?x rdf:type ?c"]
    then: ["?y rdf:type ?c"]
`,
		},
		{
			name: "wrong arity",
			yaml: `
name: bad
rules:
  - id: r1
    if: ["?x rdf:type"]
    then: ["?x rdf:type rdfs:Resource"]
`,
		},
		{
			name: "no antecedents",
			yaml: `
name: bad
rules:
  - id: r1
    then: ["?x rdf:type rdfs:Resource"]
`,
		},
		{
			name: "no consequents",
			yaml: `
name: bad
rules:
  - id: r1
    if: ["?x rdf:type ?c"]
`,
		},
		{
			name: "unknown prefix",
			yaml: `
name: bad
rules:
  - id: r1
    if: ["?x foo:bar ?c"]
    then: ["?x rdf:type ?c"]
`,
		},
		{
			name: "duplicate id",
			yaml: `
name: bad
rules:
  - id: r1
    if: ["?x rdf:type ?c"]
    then: ["?x rdf:type ?c"]
  - id: r1
    if: ["?x rdf:type ?c"]
    then: ["?x rdf:type ?c"]
`,
		},
		{
			name: "bad variable",
			yaml: `
name: bad
rules:
  - id: r1
    if: ["?1x rdf:type ?c"]
    then: ["?c rdf:type ?c"]
`,
		},
		{
			name: "missing name",
			yaml: `
rules: []
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, err := Parse([]byte(tt.yaml))
			assert.Nil(t, cat, "no partial catalog")
			var malformed *MalformedPatternError
			assert.True(t, errors.As(err, &malformed), "got %v", err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: family
prefixes:
  fam: http://example.org/family#
rules:
  - id: rule_parent
    if:
      - "?x fam:childOf ?y"
    then:
      - "?y fam:parentOf ?x"
`), 0o644))

	cat, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, cat.Len())
	assert.Equal(t, rdf.IRI("http://example.org/family#parentOf"), cat.Rules[0].Consequents[0][1].Term)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// =============================================================================
// Compilation Tests
// =============================================================================

type mapEncoder struct {
	ids  map[rdf.Term]rdf.TermID
	next rdf.TermID
}

func (e *mapEncoder) Encode(term rdf.Term) (rdf.TermID, error) {
	if id, ok := e.ids[term]; ok {
		return id, nil
	}
	e.next++
	e.ids[term] = e.next
	return e.next, nil
}

func TestCompile(t *testing.T) {
	cat, err := Load("owl2-rl")
	require.NoError(t, err)

	enc := &mapEncoder{ids: map[rdf.Term]rdf.TermID{}, next: 100}
	compiled, err := cat.Compile(enc)
	require.NoError(t, err)
	require.Len(t, compiled.Rules, cat.Len())
	assert.Equal(t, cat.Fingerprint(), compiled.Fingerprint)

	var sco *CompiledRule
	for i := range compiled.Rules {
		if compiled.Rules[i].ID == "rule_cax_sco" {
			sco = &compiled.Rules[i]
		}
	}
	require.NotNil(t, sco)
	assert.Equal(t, []string{"c1", "c2", "x"}, sco.VarNames)

	typ := enc.ids[rdf.IRI(rdf.RDFType)]
	subClassOf := enc.ids[rdf.IRI(rdf.RDFSNamespace+"subClassOf")]

	t.Run("bind and substitute", func(t *testing.T) {
		bindings := make([]rdf.TermID, sco.NumVars())
		// (?x rdf:type ?c2) against (Lassie type Mammal)
		require.True(t, sco.Consequents[0].Bind(rdf.NewTriple(7, typ, 9), bindings))
		assert.Equal(t, rdf.NewTriple(0, subClassOf, 9), sco.Antecedents[0].Substitute(bindings))
		require.True(t, sco.Antecedents[0].Bind(rdf.NewTriple(8, subClassOf, 9), bindings))
		assert.Equal(t, rdf.NewTriple(7, typ, 8), sco.Antecedents[1].Substitute(bindings))
	})

	t.Run("constant mismatch", func(t *testing.T) {
		bindings := make([]rdf.TermID, sco.NumVars())
		assert.False(t, sco.Consequents[0].Bind(rdf.NewTriple(7, subClassOf, 9), bindings))
	})

	t.Run("repeated variable must agree", func(t *testing.T) {
		p := CompiledPattern{{Var: 0}, {Var: Unbound, Const: typ}, {Var: 0}}
		assert.False(t, p.Bind(rdf.NewTriple(1, typ, 2), make([]rdf.TermID, 1)))
		assert.True(t, p.Bind(rdf.NewTriple(3, typ, 3), make([]rdf.TermID, 1)))
	})
}

func TestFingerprint(t *testing.T) {
	a, err := Load("owl2-rl")
	require.NoError(t, err)
	b, err := Load("owl2-rl")
	require.NoError(t, err)
	c, err := Load("owl-horst")
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}
