package prior

import (
	"fmt"
	"math"
)

// #region default-entries
// defaultEntries is the prior for the 37-parameter SEIR model, in host index
// order. Rates and fractions are on the scale the simulator consumes them.
var defaultEntries = append([]Entry{
	{"log_beta_s", -17.0927194398423, 0.2},
	{"trans_e", 2, 0.2},
	{"trans_a", 2, 0.2},
	{"trans_c", 1, 0.2},
	{"trans_h", 10, 0.2},
	{"beta_reduce", 0, 0.2},
	{"log_g_e", 0, 0.2},
	{"log_g_a", 0.133531392624523, 0.2},
	{"log_g_su", -0.405465108108164, 0.2},
	{"log_g_sd", 0.287682072451781, 0.2},
	{"log_g_c", 0.287682072451781, 0.2},
	{"log_g_h", -1.09861228866811, 0.2},
	{"log_diag_speedup", 0.693147180559945, 0.2},
	{"detect_0", 2, 0.2},
	{"detect_1", 0, 0.2},
	{"frac_asym", 1.5, 0.2},
	{"frac_hosp", 3, 0.2},
	{"frac_dead", 1.2, 0.2},
	{"log_theta_cases", 2.30258509299405, 0.2},
	{"log_theta_hosps", 2.30258509299405, 0.2},
	{"log_theta_deaths", 2.30258509299405, 0.2},
}, initialCompartments(
	compartment{"E", 40, 5},
	compartment{"Ia", 22, 4},
	compartment{"Isu", 90, 7},
	compartment{"Isd", 14, 3},
)...)

// compartment describes the initial-condition prior shared by the four
// Erlang stages of one compartment.
type compartment struct {
	prefix   string
	mean, sd float64
}

const erlangStages = 4

// initialCompartments expands each compartment into <prefix>1_0 .. <prefix>4_0.
func initialCompartments(cs ...compartment) []Entry {
	out := make([]Entry, 0, len(cs)*erlangStages)
	for _, c := range cs {
		for stage := 1; stage <= erlangStages; stage++ {
			out = append(out, Entry{
				Name: fmt.Sprintf("%s%d_0", c.prefix, stage),
				Mean: c.mean,
				SD:   c.sd,
			})
		}
	}
	return out
}

var defaultTable = MustTable(defaultEntries)

// #endregion default-entries

// #region table
// Table is a validated, immutable list of independent Normal priors. It is
// safe for concurrent use.
type Table struct {
	entries []Entry
	byName  map[string]int
}

// NewTable validates entries and builds a Table. Every name must be unique and
// non-empty; every mean finite; every SD finite and strictly positive.
func NewTable(entries []Entry) (*Table, error) {
	if len(entries) == 0 {
		return nil, &Error{Kind: InvalidTable, Index: -1, Detail: "no entries"}
	}
	t := &Table{
		entries: make([]Entry, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}
	copy(t.entries, entries)

	for i, e := range t.entries {
		switch {
		case e.Name == "":
			return nil, &Error{Kind: InvalidTable, Index: i, Detail: "empty name"}
		case math.IsNaN(e.Mean) || math.IsInf(e.Mean, 0):
			return nil, &Error{Kind: InvalidTable, Name: e.Name, Index: i, Detail: fmt.Sprintf("mean %v is not finite", e.Mean)}
		case math.IsNaN(e.SD) || math.IsInf(e.SD, 0) || e.SD <= 0:
			return nil, &Error{Kind: InvalidTable, Name: e.Name, Index: i, Detail: fmt.Sprintf("sd %v must be finite and > 0", e.SD)}
		}
		if prev, dup := t.byName[e.Name]; dup {
			return nil, &Error{Kind: InvalidTable, Name: e.Name, Index: i, Detail: fmt.Sprintf("duplicate of entry %d", prev)}
		}
		t.byName[e.Name] = i
	}
	return t, nil
}

// MustTable is like NewTable but panics on an invalid table. Intended for
// package-level tables.
func MustTable(entries []Entry) *Table {
	t, err := NewTable(entries)
	if err != nil {
		panic(fmt.Sprintf("prior: %v", err))
	}
	return t
}

// DefaultTable returns the built-in 37-entry SEIR prior.
func DefaultTable() *Table {
	return defaultTable
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Entry returns the i-th entry in host index order.
func (t *Table) Entry(i int) Entry { return t.entries[i] }

// Entries returns a copy of all entries in host index order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Names returns the parameter names in host index order.
func (t *Table) Names() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Name
	}
	return out
}

// Lookup finds the entry for name.
func (t *Table) Lookup(name string) (Entry, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Position returns the index of name in the table.
func (t *Table) Position(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

// PeakLogDensity is the joint log-density with every parameter at its mean:
// the sum of -log(sd) - log(2*pi)/2 over all entries.
func (t *Table) PeakLogDensity() float64 {
	var sum float64
	for _, e := range t.entries {
		sum += -math.Log(e.SD) - 0.5*math.Log(2*math.Pi)
	}
	return sum
}

// #endregion table
