// Package reasoner computes the inferred closure of a store.
//
// A compiled rule catalog is translated into a Datalog program and evaluated
// to fixpoint with Google Mangle. Every rule contributes a clause to the
// triple relation; ordinary rules also contribute to the derived relation,
// identity replacement rules do not. A closure triple that only identity
// rules produced is stored with rdf.StatusIdentityMerge so that the proof
// engine can explain it as a sameAs copy.
//
// The program for the owl2-rl rule rule_cax_sco, with term ids for the
// constants, reads:
//
//	triple(Vx, 4, Vc2) :- triple(Vc1, 9, Vc2), triple(Vx, 4, Vc1).
//	derived(Vx, 4, Vc2) :- triple(Vc1, 9, Vc2), triple(Vx, 4, Vc1).
//
// Materialization is a full recompute: all explicit triples are read, the
// closure is evaluated, and the implicit graph is replaced in one step.
// Contexts are not part of the evaluation; an explicit triple in any graph
// takes part in inference and inferred triples live in rdf.ImplicitGraph.
package reasoner

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"github.com/orneryd/rdfproof/pkg/rdf"
	"github.com/orneryd/rdfproof/pkg/rules"
	"github.com/orneryd/rdfproof/pkg/storage"
)

// DefaultFactLimit caps the number of facts a single evaluation may create.
const DefaultFactLimit = 5_000_000

const (
	predAsserted = "asserted"
	predTriple   = "triple"
	predDerived  = "derived"
)

// Stats describes one materialization run.
type Stats struct {
	Asserted       int           `json:"asserted"`
	Inferred       int           `json:"inferred"`
	IdentityMerged int           `json:"identity_merged"`
	Strata         int           `json:"strata"`
	Duration       time.Duration `json:"duration"`
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithFactLimit overrides DefaultFactLimit.
func WithFactLimit(n int) Option {
	return func(m *Materializer) { m.factLimit = n }
}

// Materializer evaluates a compiled catalog against a store.
type Materializer struct {
	compiled  *rules.Compiled
	log       *zap.Logger
	factLimit int

	source  string
	program *analysis.ProgramInfo
}

// New translates compiled into a Datalog program and analyzes it.
// Analysis errors indicate a catalog Mangle cannot evaluate.
func New(compiled *rules.Compiled, logger *zap.Logger, opts ...Option) (*Materializer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Materializer{
		compiled:  compiled,
		log:       logger.With(zap.String("component", "reasoner")),
		factLimit: DefaultFactLimit,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.source = Program(compiled)
	unit, err := parse.Unit(strings.NewReader(m.source))
	if err != nil {
		return nil, fmt.Errorf("parse %s program: %w", compiled.Name, err)
	}
	m.program, err = analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze %s program: %w", compiled.Name, err)
	}
	return m, nil
}

// Source returns the generated Datalog program.
func (m *Materializer) Source() string { return m.source }

// Program renders the Datalog program for a compiled catalog.
func Program(compiled *rules.Compiled) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# ruleset %s\n", compiled.Name)
	b.WriteString("Decl asserted(S, P, O).\n")
	b.WriteString("Decl triple(S, P, O).\n")
	b.WriteString("Decl derived(S, P, O).\n\n")
	b.WriteString("triple(S, P, O) :- asserted(S, P, O).\n")

	for i := range compiled.Rules {
		r := &compiled.Rules[i]
		body := make([]string, len(r.Antecedents))
		for j, p := range r.Antecedents {
			body[j] = atom(predTriple, p, r.VarNames)
		}
		tail := " :- " + strings.Join(body, ", ") + ".\n"

		fmt.Fprintf(&b, "\n# %s\n", r.ID)
		for _, head := range r.Consequents {
			b.WriteString(atom(predTriple, head, r.VarNames) + tail)
			if !r.Identity {
				b.WriteString(atom(predDerived, head, r.VarNames) + tail)
			}
		}
	}
	return b.String()
}

func atom(pred string, p rules.CompiledPattern, names []string) string {
	args := make([]string, 3)
	for i, s := range p {
		if s.IsVar() {
			args[i] = "V" + names[s.Var]
		} else {
			args[i] = fmt.Sprint(uint64(s.Const))
		}
	}
	return pred + "(" + strings.Join(args, ", ") + ")"
}

// Run recomputes the closure of store and replaces its implicit graph.
func (m *Materializer) Run(ctx context.Context, store storage.Store) (Stats, error) {
	start := time.Now()
	var stats Stats

	asserted := make(map[rdf.Quad]struct{})
	facts := factstore.NewSimpleInMemoryStore()
	err := store.Match(ctx, rdf.Quad{}, storage.AnyContext(), func(st rdf.Statement) error {
		if !st.Status.Has(rdf.StatusExplicit) {
			return nil
		}
		t := st.Quad.Triple()
		if _, dup := asserted[t]; dup {
			return nil
		}
		asserted[t] = struct{}{}
		facts.Add(ast.NewAtom(predAsserted, number(t.Subject), number(t.Predicate), number(t.Object)))
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("read explicit statements: %w", err)
	}
	stats.Asserted = len(asserted)

	evalStats, err := mengine.EvalProgramWithStats(m.program, facts, mengine.WithCreatedFactLimit(m.factLimit))
	if err != nil {
		return stats, fmt.Errorf("evaluate %s: %w", m.compiled.Name, err)
	}
	stats.Strata = len(evalStats.Strata)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	derived := make(map[rdf.Quad]struct{})
	err = facts.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: predDerived, Arity: 3}), func(a ast.Atom) error {
		t, err := tripleOf(a)
		if err != nil {
			return err
		}
		derived[t] = struct{}{}
		return nil
	})
	if err != nil {
		return stats, err
	}

	var inferred []rdf.Statement
	err = facts.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: predTriple, Arity: 3}), func(a ast.Atom) error {
		t, err := tripleOf(a)
		if err != nil {
			return err
		}
		if _, ok := asserted[t]; ok {
			return nil
		}
		st := rdf.Statement{Quad: t, Status: rdf.StatusInferred}
		if _, ok := derived[t]; !ok {
			st.Status |= rdf.StatusIdentityMerge
			stats.IdentityMerged++
		}
		inferred = append(inferred, st)
		return nil
	})
	if err != nil {
		return stats, err
	}
	slices.SortFunc(inferred, compareStatements)
	stats.Inferred = len(inferred)

	if err := store.ReplaceInferred(ctx, inferred); err != nil {
		return stats, fmt.Errorf("store closure: %w", err)
	}
	stats.Duration = time.Since(start)

	m.log.Info("materialized",
		zap.String("ruleset", m.compiled.Name),
		zap.Int("asserted", stats.Asserted),
		zap.Int("inferred", stats.Inferred),
		zap.Int("identity_merged", stats.IdentityMerged),
		zap.Int("strata", stats.Strata),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func number(id rdf.TermID) ast.Constant {
	return ast.Number(int64(id))
}

func tripleOf(a ast.Atom) (rdf.Quad, error) {
	var ids [3]rdf.TermID
	for i, arg := range a.Args {
		c, ok := arg.(ast.Constant)
		if !ok || c.Type != ast.NumberType || i >= len(ids) {
			return rdf.Quad{}, fmt.Errorf("unexpected fact %v", a)
		}
		ids[i] = rdf.TermID(c.NumValue)
	}
	return rdf.NewTriple(ids[0], ids[1], ids[2]), nil
}

func compareStatements(a, b rdf.Statement) int {
	if c := cmp.Compare(a.Subject, b.Subject); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Predicate, b.Predicate); c != 0 {
		return c
	}
	return cmp.Compare(a.Object, b.Object)
}
