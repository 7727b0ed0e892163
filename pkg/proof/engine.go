// Package proof reconstructs why a statement holds.
//
// Given a target statement, the Engine answers with justification rows:
//
//   - an explicit statement justifies itself with a single "explicit" row
//   - a statement produced only by owl:sameAs replacement is justified by the
//     statement it was copied from, in a single "sameAs" row
//   - an inferred statement is justified by the first catalog rule whose
//     consequent unifies with it and whose antecedents can all be matched,
//     one row per antecedent
//
// Reconstruction goes one level deep. Antecedents that are themselves
// inferred can be explained with a further request.
//
// Matching is greedy: each antecedent takes the first statement the store
// returns in scope order and the engine never backtracks into an earlier
// antecedent. The result is a valid justification, not necessarily the only
// one or the shortest one.
//
// Example:
//
//	engine := proof.New(store, compiled, logger)
//	err := engine.Explain(ctx, rdf.NewTriple(lassie, rdfType, mammal), proof.AnyScope(),
//		func(row proof.Row) error {
//			fmt.Println(row.Rule, row.Antecedent)
//			return nil
//		})
//
// Thread Safety:
//
//	An Engine holds no mutable state. Concurrent Explain calls are safe as
//	long as the underlying matcher supports concurrent reads.
package proof

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/rdfproof/pkg/pool"
	"github.com/orneryd/rdfproof/pkg/rdf"
	"github.com/orneryd/rdfproof/pkg/rules"
	"github.com/orneryd/rdfproof/pkg/storage"
)

// Reserved rule identifiers.
const (
	RuleExplicit = "explicit"
	RuleIdentity = "sameAs"
)

// Row is one justification row for a target statement.
type Row struct {
	// Target is the concrete statement being explained.
	Target rdf.Quad
	// Rule is the catalog rule id, RuleExplicit or RuleIdentity.
	Rule string
	// Antecedent is the statement the row points at, in the context it was
	// found in. The default graph is reported as rdf.ExplicitGraph.
	Antecedent rdf.Quad
}

// RowVisitor receives rows in order. Returning storage.ErrIterationStopped
// ends the explanation early without error.
type RowVisitor func(row Row) error

// Outcome classifies how a single target was explained.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeExplicit
	OutcomeIdentity
	OutcomeRule
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExplicit:
		return "explicit"
	case OutcomeIdentity:
		return "identity"
	case OutcomeRule:
		return "rule"
	default:
		return "none"
	}
}

// Engine reconstructs justifications against a Matcher.
type Engine struct {
	matcher storage.Matcher
	rules   *rules.Compiled
	log     *zap.Logger
}

// New creates an engine over matcher using a compiled catalog. A nil logger
// disables logging.
func New(matcher storage.Matcher, compiled *rules.Compiled, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		matcher: matcher,
		rules:   compiled,
		log:     logger.With(zap.String("component", "proof")),
	}
}

// Ruleset returns the name of the catalog the engine explains with.
func (e *Engine) Ruleset() string { return e.rules.Name }

// Explain streams the justification of target within scope.
//
// Subject, predicate or object of target may be 0 to leave them open; the
// pattern is then expanded to every distinct matching triple visible in the
// scope and the rows of all of them are streamed in turn. The context of
// target is ignored; use scope to restrict contexts. A target nothing can
// justify yields no rows and no error.
func (e *Engine) Explain(ctx context.Context, target rdf.Quad, scope Scope, fn RowVisitor) error {
	err := e.Targets(ctx, target, scope, func(t rdf.Quad) error {
		rows, _, err := e.ExplainTarget(ctx, t, scope)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, storage.ErrIterationStopped) {
		return nil
	}
	return err
}

// ExplainAll collects every row of Explain.
func (e *Engine) ExplainAll(ctx context.Context, target rdf.Quad, scope Scope) ([]Row, error) {
	var rows []Row
	err := e.Explain(ctx, target, scope, func(row Row) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// Targets expands pattern to the concrete triples it denotes in scope.
// A concrete pattern is passed through unchanged, whether or not it is
// stored. Errors returned by fn, including storage.ErrIterationStopped,
// are returned as is.
func (e *Engine) Targets(ctx context.Context, pattern rdf.Quad, scope Scope, fn func(rdf.Quad) error) error {
	pattern = pattern.Triple()
	if pattern.IsConcrete() {
		return fn(pattern)
	}

	seen := make(map[rdf.Quad]struct{})
	var targets []rdf.Quad
	err := scope.visit(ctx, e.matcher, pattern, func(st rdf.Statement) error {
		t := st.Quad.Triple()
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			targets = append(targets, t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// ExplainTarget justifies one concrete triple. The returned rows are
// complete for the target: rules either contribute all of their antecedent
// rows or none.
func (e *Engine) ExplainTarget(ctx context.Context, target rdf.Quad, scope Scope) ([]Row, Outcome, error) {
	target = target.Triple()
	if !target.IsConcrete() {
		return nil, OutcomeNone, fmt.Errorf("%w: explain target must be concrete, got %v", storage.ErrInvalidQuad, target)
	}
	if err := ctx.Err(); err != nil {
		return nil, OutcomeNone, err
	}

	flags, err := scope.flags(ctx, e.matcher, target)
	if err != nil {
		return nil, OutcomeNone, err
	}

	if flags.Explicit {
		return []Row{{
			Target:     target,
			Rule:       RuleExplicit,
			Antecedent: target.InContext(rdf.ReportedContext(flags.ExplicitContext)),
		}}, OutcomeExplicit, nil
	}

	if flags.IdentityMerge {
		pre, ok, err := e.preMerge(ctx, target, scope)
		if err != nil {
			return nil, OutcomeNone, err
		}
		if ok {
			return []Row{{
				Target:     target,
				Rule:       RuleIdentity,
				Antecedent: pre.InContext(rdf.ReportedContext(pre.Context)),
			}}, OutcomeIdentity, nil
		}
	}

	for i := range e.rules.Rules {
		rule := &e.rules.Rules[i]
		if rule.Identity {
			continue
		}
		rows, ok, err := e.tryRule(ctx, rule, target, scope)
		if err != nil {
			return nil, OutcomeNone, err
		}
		if ok {
			e.log.Debug("justified by rule",
				zap.String("rule", rule.ID),
				zap.Stringer("target", target),
				zap.Int("antecedents", len(rows)))
			return rows, OutcomeRule, nil
		}
	}
	return nil, OutcomeNone, nil
}

// tryRule attempts every consequent of rule against target.
func (e *Engine) tryRule(ctx context.Context, rule *rules.CompiledRule, target rdf.Quad, scope Scope) ([]Row, bool, error) {
	bindings := pool.GetBindings(rule.NumVars())
	defer pool.PutBindings(bindings)

	for _, head := range rule.Consequents {
		clear(bindings)
		if !head.Bind(target, bindings) {
			continue
		}
		rows, ok, err := e.satisfy(ctx, rule, bindings, target, scope)
		if err != nil || ok {
			return rows, ok, err
		}
	}
	return nil, false, nil
}

// satisfy matches the antecedents of rule left to right, committing to the
// first acceptable statement for each. A statement is acceptable when it is
// not the target itself and it agrees with the bindings made so far.
func (e *Engine) satisfy(ctx context.Context, rule *rules.CompiledRule, bindings []rdf.TermID, target rdf.Quad, scope Scope) ([]Row, bool, error) {
	trial := pool.GetBindings(len(bindings))
	defer pool.PutBindings(trial)

	rows := make([]Row, 0, len(rule.Antecedents))
	allImplicit := true
	for _, ante := range rule.Antecedents {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		pattern := ante.Substitute(bindings)
		st, found, err := scope.first(ctx, e.matcher, pattern, func(st rdf.Statement) bool {
			if st.SameTriple(target) {
				return false
			}
			copy(trial, bindings)
			return ante.Bind(st.Quad, trial)
		})
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		copy(bindings, trial)

		if st.Context != rdf.ImplicitGraph {
			allImplicit = false
		}
		rows = append(rows, Row{
			Target:     target,
			Rule:       rule.ID,
			Antecedent: st.Quad.InContext(rdf.ReportedContext(st.Context)),
		})
	}
	if allImplicit {
		return nil, false, nil
	}
	return rows, true, nil
}

// preMerge finds the statement an identity-merged target was copied from:
// a statement that differs from the target in one position, where the two
// terms are linked by owl:sameAs. Positions are tried subject, object,
// predicate.
func (e *Engine) preMerge(ctx context.Context, target rdf.Quad, scope Scope) (rdf.Quad, bool, error) {
	sameAs, ok, err := e.matcher.Lookup(rdf.IRI(rdf.OWLSameAs))
	if err != nil || !ok {
		return rdf.Quad{}, false, err
	}

	positions := []struct {
		term    rdf.TermID
		replace func(rdf.Quad, rdf.TermID) rdf.Quad
	}{
		{target.Subject, func(q rdf.Quad, id rdf.TermID) rdf.Quad { q.Subject = id; return q }},
		{target.Object, func(q rdf.Quad, id rdf.TermID) rdf.Quad { q.Object = id; return q }},
		{target.Predicate, func(q rdf.Quad, id rdf.TermID) rdf.Quad { q.Predicate = id; return q }},
	}
	for _, pos := range positions {
		aliases, err := e.aliases(ctx, pos.term, sameAs, scope)
		if err != nil {
			return rdf.Quad{}, false, err
		}
		for _, alias := range aliases {
			candidate := pos.replace(target, alias)
			st, found, err := scope.first(ctx, e.matcher, candidate, func(st rdf.Statement) bool {
				return !st.SameTriple(target)
			})
			if err != nil {
				return rdf.Quad{}, false, err
			}
			if found {
				return st.Quad, true, nil
			}
		}
	}
	return rdf.Quad{}, false, nil
}

// aliases lists the terms linked to term by owl:sameAs in either direction.
func (e *Engine) aliases(ctx context.Context, term, sameAs rdf.TermID, scope Scope) ([]rdf.TermID, error) {
	seen := map[rdf.TermID]bool{term: true}
	var out []rdf.TermID
	add := func(id rdf.TermID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	err := scope.visit(ctx, e.matcher, rdf.NewTriple(term, sameAs, 0), func(st rdf.Statement) error {
		add(st.Object)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = scope.visit(ctx, e.matcher, rdf.NewTriple(0, sameAs, term), func(st rdf.Statement) error {
		add(st.Subject)
		return nil
	})
	return out, err
}
