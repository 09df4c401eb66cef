package prior

import (
	"errors"
	"fmt"
)

// #region entry
// Entry is one independent Normal prior: the parameter Name is distributed
// Normal(Mean, SD).
type Entry struct {
	Name string  `json:"name" yaml:"name"`
	Mean float64 `json:"mean" yaml:"mean"`
	SD   float64 `json:"sd" yaml:"sd"`
}

// #endregion entry

// #region parameter-set
// ParameterSet holds parameter values by name.
type ParameterSet map[string]float64

// Means returns a ParameterSet with every parameter of t at its prior mean.
func Means(t *Table) ParameterSet {
	ps := make(ParameterSet, t.Len())
	for _, e := range t.entries {
		ps[e.Name] = e.Mean
	}
	return ps
}

// Clone returns a copy of ps.
func (ps ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// #endregion parameter-set

// #region term
// Term is the contribution of a single parameter to the joint log-density.
type Term struct {
	Name       string
	Value      float64
	Mean       float64
	SD         float64
	LogDensity float64
}

// #endregion term

// #region policy
// NonFinitePolicy selects how NaN and ±Inf parameter values are handled.
type NonFinitePolicy string

const (
	// PolicyReject fails the evaluation with NonFiniteInput.
	PolicyReject NonFinitePolicy = "reject"
	// PolicyPropagate lets IEEE arithmetic carry NaN/Inf into the result.
	PolicyPropagate NonFinitePolicy = "propagate"
)

// ParsePolicy maps a config string to a NonFinitePolicy. Empty means reject.
func ParsePolicy(s string) (NonFinitePolicy, error) {
	switch NonFinitePolicy(s) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyPropagate:
		return PolicyPropagate, nil
	}
	return "", fmt.Errorf("unknown non-finite policy %q (want %q or %q)", s, PolicyReject, PolicyPropagate)
}

// #endregion policy

// #region kind
// Kind classifies evaluation and construction failures. A Kind is itself an
// error so callers can match with errors.Is(err, prior.MissingParameter).
type Kind string

const (
	MissingParameter Kind = "missing_parameter"
	NonFiniteInput   Kind = "non_finite_input"
	NumericOverflow  Kind = "numeric_overflow"
	InvalidTable     Kind = "invalid_table"
	InvalidIndex     Kind = "invalid_index"
)

func (k Kind) Error() string { return string(k) }

// #endregion kind

// #region error
// Error reports a failure tied to a specific parameter.
type Error struct {
	Kind   Kind
	Name   string
	Index  int // table position, -1 when not applicable
	Value  float64
	Detail string
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Name != "" {
		msg += fmt.Sprintf(" %q", e.Name)
	}
	if e.Index >= 0 {
		msg += fmt.Sprintf(" at %d", e.Index)
	}
	if e.Kind == NonFiniteInput {
		msg += fmt.Sprintf(" (value %v)", e.Value)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes the Kind for errors.Is.
func (e *Error) Unwrap() error { return e.Kind }

// KindOf returns the Kind carried by err, or "" if err has none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// #endregion error
