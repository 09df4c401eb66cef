package prior

import "fmt"

// #region index-map
// IndexMap binds each table entry to a position in the host's flat parameter
// vector. Position(k) is where the value for t.Entry(k) lives. The vector may
// carry other parameters at positions the map does not reference.
type IndexMap struct {
	table *Table
	names []string
	pos   []int
	max   int
}

// IdentityIndex maps entry k to position k.
func IdentityIndex(t *Table) IndexMap {
	pos := make([]int, t.Len())
	for i := range pos {
		pos[i] = i
	}
	return IndexMap{table: t, names: t.Names(), pos: pos, max: t.Len() - 1}
}

// NewIndexMap builds an IndexMap from a host name→position mapping. Every
// table name must be present, positions must be non-negative, and no two
// table names may share a position. Names unknown to the table are ignored.
func NewIndexMap(t *Table, positions map[string]int) (IndexMap, error) {
	m := IndexMap{table: t, names: t.Names(), pos: make([]int, t.Len()), max: -1}
	owner := make(map[int]string, t.Len())
	for k, name := range m.names {
		p, ok := positions[name]
		if !ok {
			return IndexMap{}, &Error{Kind: MissingParameter, Name: name, Index: k, Detail: "no host position"}
		}
		if p < 0 {
			return IndexMap{}, &Error{Kind: InvalidIndex, Name: name, Index: k, Detail: fmt.Sprintf("negative position %d", p)}
		}
		if other, dup := owner[p]; dup {
			return IndexMap{}, &Error{Kind: InvalidIndex, Name: name, Index: k, Detail: fmt.Sprintf("position %d already bound to %q", p, other)}
		}
		owner[p] = name
		m.pos[k] = p
		if p > m.max {
			m.max = p
		}
	}
	return m, nil
}

// IndexFromNames builds an IndexMap from the host's ordered parameter names,
// as a host would when it exposes its vector layout once at load time.
func IndexFromNames(t *Table, hostNames []string) (IndexMap, error) {
	positions := make(map[string]int, len(hostNames))
	for i, name := range hostNames {
		if _, dup := positions[name]; dup {
			return IndexMap{}, &Error{Kind: InvalidIndex, Name: name, Index: -1, Detail: fmt.Sprintf("host name repeated at %d", i)}
		}
		positions[name] = i
	}
	return NewIndexMap(t, positions)
}

// Len returns the number of bound entries.
func (m IndexMap) Len() int { return len(m.pos) }

// Position returns the vector position of entry k.
func (m IndexMap) Position(k int) int { return m.pos[k] }

// MinVectorLen is the shortest vector the map can read from.
func (m IndexMap) MinVectorLen() int { return m.max + 1 }

// Vector lays ps out as a flat vector according to m. Positions not bound by
// m are zero.
func (m IndexMap) Vector(ps ParameterSet) ([]float64, error) {
	out := make([]float64, m.MinVectorLen())
	for k, name := range m.names {
		v, ok := ps[name]
		if !ok {
			return nil, &Error{Kind: MissingParameter, Name: name, Index: k}
		}
		out[m.pos[k]] = v
	}
	return out, nil
}

// ParameterSet reads the bound entries of p back into named form.
func (m IndexMap) ParameterSet(p []float64) (ParameterSet, error) {
	if len(p) < m.MinVectorLen() {
		return nil, &Error{Kind: InvalidIndex, Index: -1, Detail: fmt.Sprintf("vector length %d, need at least %d", len(p), m.MinVectorLen())}
	}
	ps := make(ParameterSet, len(m.names))
	for k, name := range m.names {
		ps[name] = p[m.pos[k]]
	}
	return ps, nil
}

// #endregion index-map

// #region layout
// Layout derives the IndexMap for a table. Callers whose table can be swapped
// at runtime keep a Layout rather than a fixed IndexMap.
type Layout func(t *Table) (IndexMap, error)

// IdentityLayout binds entry k to position k.
func IdentityLayout(t *Table) (IndexMap, error) {
	return IdentityIndex(t), nil
}

// NamesLayout binds entries through the host's ordered parameter names.
func NamesLayout(hostNames []string) Layout {
	names := append([]string(nil), hostNames...)
	return func(t *Table) (IndexMap, error) {
		return IndexFromNames(t, names)
	}
}

// FixedLayout always returns idx.
func FixedLayout(idx IndexMap) Layout {
	return func(*Table) (IndexMap, error) {
		return idx, nil
	}
}

// #endregion layout
