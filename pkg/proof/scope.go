package proof

import (
	"context"
	"errors"

	"github.com/orneryd/rdfproof/pkg/rdf"
	"github.com/orneryd/rdfproof/pkg/storage"
)

// Scope restricts which contexts a reconstruction may draw statements from.
type Scope struct {
	graph      rdf.TermID
	restricted bool
}

// AnyScope sees every context. Asserted statements are preferred over the
// implicit graph.
func AnyScope() Scope { return Scope{} }

// GraphScope sees graph c, then the default graph, then the implicit graph.
// Other named graphs are never consulted. GraphScope(rdf.ExplicitGraph) and
// GraphScope(rdf.DefaultGraph) both mean the default graph.
func GraphScope(c rdf.TermID) Scope {
	if c == rdf.ExplicitGraph {
		c = rdf.DefaultGraph
	}
	return Scope{graph: c, restricted: true}
}

// Graph returns the scoped graph and whether the scope is restricted.
func (s Scope) Graph() (rdf.TermID, bool) { return s.graph, s.restricted }

// pass is one step of a scope's lookup order.
type pass struct {
	filter       storage.ContextFilter
	skipImplicit bool
}

// passes returns the lookup order for the scope.
func (s Scope) passes() []pass {
	implicit := pass{filter: storage.ExactContext(rdf.ImplicitGraph)}
	if !s.restricted {
		return []pass{{filter: storage.AnyContext(), skipImplicit: true}, implicit}
	}
	if s.graph == rdf.DefaultGraph {
		return []pass{{filter: storage.DefaultOnly()}, implicit}
	}
	return []pass{{filter: storage.ExactContext(s.graph)}, {filter: storage.DefaultOnly()}, implicit}
}

// visit streams statements matching pattern in scope order.
func (s Scope) visit(ctx context.Context, m storage.Matcher, pattern rdf.Quad, fn storage.StatementVisitor) error {
	stopped := false
	for _, p := range s.passes() {
		err := m.Match(ctx, pattern, p.filter, func(st rdf.Statement) error {
			if p.skipImplicit && st.Context == rdf.ImplicitGraph {
				return nil
			}
			err := fn(st)
			if errors.Is(err, storage.ErrIterationStopped) {
				stopped = true
			}
			return err
		})
		if stopped {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// first returns the first statement in scope order that accept approves.
func (s Scope) first(ctx context.Context, m storage.Matcher, pattern rdf.Quad, accept func(rdf.Statement) bool) (rdf.Statement, bool, error) {
	var (
		found rdf.Statement
		ok    bool
	)
	err := s.visit(ctx, m, pattern, func(st rdf.Statement) error {
		if accept(st) {
			found, ok = st, true
			return storage.ErrIterationStopped
		}
		return nil
	})
	return found, ok, err
}

// flags classifies triple as seen from the scope.
func (s Scope) flags(ctx context.Context, m storage.Matcher, triple rdf.Quad) (rdf.ProvenanceFlags, error) {
	var out rdf.ProvenanceFlags
	for _, p := range s.passes() {
		f, err := m.Flags(ctx, triple, p.filter)
		if err != nil {
			return out, err
		}
		if f.Explicit && !out.Explicit {
			out.Explicit = true
			out.ExplicitContext = f.ExplicitContext
		}
		out.IdentityMerge = out.IdentityMerge || f.IdentityMerge
	}
	return out, nil
}
