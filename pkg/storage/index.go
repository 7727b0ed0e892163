package storage

import (
	"encoding/binary"

	"github.com/orneryd/rdfproof/pkg/rdf"
)

// index names one of the four quad orderings. Both engines scan statements
// in the ordering chosen by planMatch, which keeps results engine-independent.
type index byte

// Index key prefixes double as the index identifiers.
const (
	indexSPOC = index(0x10) // spoc:s:p:o:c -> status
	indexPOSC = index(0x11) // posc:p:o:s:c -> status
	indexOSPC = index(0x12) // ospc:o:s:p:c -> status
	indexCSPO = index(0x13) // cspo:c:s:p:o -> status
)

var allIndexes = []index{indexSPOC, indexPOSC, indexOSPC, indexCSPO}

const keyLen = 1 + 4*8

// order returns the quad in this index's component order.
func (ix index) order(q rdf.Quad) [4]rdf.TermID {
	switch ix {
	case indexPOSC:
		return [4]rdf.TermID{q.Predicate, q.Object, q.Subject, q.Context}
	case indexOSPC:
		return [4]rdf.TermID{q.Object, q.Subject, q.Predicate, q.Context}
	case indexCSPO:
		return [4]rdf.TermID{q.Context, q.Subject, q.Predicate, q.Object}
	default:
		return [4]rdf.TermID{q.Subject, q.Predicate, q.Object, q.Context}
	}
}

// quad rebuilds a quad from components in this index's order.
func (ix index) quad(c [4]rdf.TermID) rdf.Quad {
	switch ix {
	case indexPOSC:
		return rdf.Quad{Predicate: c[0], Object: c[1], Subject: c[2], Context: c[3]}
	case indexOSPC:
		return rdf.Quad{Object: c[0], Subject: c[1], Predicate: c[2], Context: c[3]}
	case indexCSPO:
		return rdf.Quad{Context: c[0], Subject: c[1], Predicate: c[2], Object: c[3]}
	default:
		return rdf.Quad{Subject: c[0], Predicate: c[1], Object: c[2], Context: c[3]}
	}
}

// less orders two quads as the index would.
func (ix index) less(a, b rdf.Quad) bool {
	ka, kb := ix.order(a), ix.order(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	return false
}

// appendKey appends the index key for q to buf.
func (ix index) appendKey(buf []byte, q rdf.Quad) []byte {
	buf = append(buf, byte(ix))
	for _, id := range ix.order(q) {
		buf = binary.BigEndian.AppendUint64(buf, uint64(id))
	}
	return buf
}

// decodeKey parses a full index key.
func (ix index) decodeKey(key []byte) (rdf.Quad, bool) {
	if len(key) != keyLen || index(key[0]) != ix {
		return rdf.Quad{}, false
	}
	var c [4]rdf.TermID
	for i := range c {
		c[i] = rdf.TermID(binary.BigEndian.Uint64(key[1+8*i:]))
	}
	return ix.quad(c), true
}

// matchPlan is the index and bound key prefix used to answer a match.
type matchPlan struct {
	index  index
	prefix []rdf.TermID
}

// planMatch picks the index whose leading components are bound by the
// pattern and filter, so the scan touches as few keys as possible.
func planMatch(pattern rdf.Quad, filter ContextFilter) matchPlan {
	s, p, o := pattern.Subject, pattern.Predicate, pattern.Object
	switch {
	case s != rdf.NoTerm && p != rdf.NoTerm && o != rdf.NoTerm:
		return matchPlan{indexSPOC, []rdf.TermID{s, p, o}}
	case s != rdf.NoTerm && p != rdf.NoTerm:
		return matchPlan{indexSPOC, []rdf.TermID{s, p}}
	case s != rdf.NoTerm && o != rdf.NoTerm:
		return matchPlan{indexOSPC, []rdf.TermID{o, s}}
	case s != rdf.NoTerm:
		return matchPlan{indexSPOC, []rdf.TermID{s}}
	case p != rdf.NoTerm && o != rdf.NoTerm:
		return matchPlan{indexPOSC, []rdf.TermID{p, o}}
	case p != rdf.NoTerm:
		return matchPlan{indexPOSC, []rdf.TermID{p}}
	case o != rdf.NoTerm:
		return matchPlan{indexOSPC, []rdf.TermID{o}}
	}
	if c, ok := filter.bound(); ok {
		return matchPlan{indexCSPO, []rdf.TermID{c}}
	}
	return matchPlan{index: indexSPOC}
}

// appendPrefix appends the key prefix of the plan to buf.
func (p matchPlan) appendPrefix(buf []byte) []byte {
	buf = append(buf, byte(p.index))
	for _, id := range p.prefix {
		buf = binary.BigEndian.AppendUint64(buf, uint64(id))
	}
	return buf
}
