package prior

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// #region evaluator
// Evaluator computes the joint density of a parameter vector under a Table of
// independent Normal priors. It holds no mutable state and is safe for
// concurrent use.
type Evaluator struct {
	table  *Table
	dists  []distuv.Normal
	policy NonFinitePolicy
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPolicy sets how NaN and ±Inf inputs are handled.
func WithPolicy(p NonFinitePolicy) Option {
	return func(e *Evaluator) { e.policy = p }
}

// NewEvaluator creates an evaluator over t. The default policy is PolicyReject.
func NewEvaluator(t *Table, opts ...Option) *Evaluator {
	e := &Evaluator{
		table:  t,
		dists:  make([]distuv.Normal, t.Len()),
		policy: PolicyReject,
	}
	for i, entry := range t.entries {
		e.dists[i] = distuv.Normal{Mu: entry.Mean, Sigma: entry.SD}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = NewEvaluator(defaultTable)

// Default returns the evaluator over DefaultTable with PolicyReject.
func Default() *Evaluator {
	return defaultEvaluator
}

// Table returns the prior table.
func (e *Evaluator) Table() *Table { return e.table }

// Policy returns the non-finite input policy.
func (e *Evaluator) Policy() NonFinitePolicy { return e.policy }

// #endregion evaluator

// #region evaluate
// Evaluate returns the joint log-density of ps when giveLog is true, and the
// density otherwise. Names in ps that the table does not know are ignored.
// The density may underflow to 0 or overflow to +Inf; that is not an error.
func (e *Evaluator) Evaluate(ps ParameterSet, giveLog bool) (float64, error) {
	lik, err := e.sum(func(k int) (float64, bool) {
		v, ok := ps[e.table.entries[k].Name]
		return v, ok
	})
	if err != nil {
		return 0, err
	}
	return finish(lik, giveLog), nil
}

// EvaluateVector evaluates a flat host vector p laid out according to idx.
func (e *Evaluator) EvaluateVector(p []float64, idx IndexMap, giveLog bool) (float64, error) {
	if idx.table != e.table {
		return 0, &Error{Kind: InvalidIndex, Index: -1, Detail: "index was built for a different table"}
	}
	if len(p) < idx.MinVectorLen() {
		return 0, &Error{Kind: InvalidIndex, Index: -1, Detail: fmt.Sprintf("vector length %d, need at least %d", len(p), idx.MinVectorLen())}
	}
	lik, err := e.sum(func(k int) (float64, bool) {
		return p[idx.pos[k]], true
	})
	if err != nil {
		return 0, err
	}
	return finish(lik, giveLog), nil
}

// Terms returns the per-parameter breakdown of the joint log-density.
func (e *Evaluator) Terms(ps ParameterSet) ([]Term, error) {
	terms := make([]Term, 0, len(e.dists))
	for k, d := range e.dists {
		entry := e.table.entries[k]
		x, err := e.value(k, ps)
		if err != nil {
			return nil, err
		}
		terms = append(terms, Term{
			Name:       entry.Name,
			Value:      x,
			Mean:       entry.Mean,
			SD:         entry.SD,
			LogDensity: d.LogProb(x),
		})
	}
	return terms, nil
}

// #endregion evaluate

// #region helpers
func (e *Evaluator) sum(value func(k int) (float64, bool)) (float64, error) {
	var lik float64
	for k, d := range e.dists {
		x, ok := value(k)
		if !ok {
			return 0, &Error{Kind: MissingParameter, Name: e.table.entries[k].Name, Index: k}
		}
		if err := e.check(k, x); err != nil {
			return 0, err
		}
		lik += d.LogProb(x)
	}
	return lik, nil
}

func (e *Evaluator) value(k int, ps ParameterSet) (float64, error) {
	name := e.table.entries[k].Name
	x, ok := ps[name]
	if !ok {
		return 0, &Error{Kind: MissingParameter, Name: name, Index: k}
	}
	return x, e.check(k, x)
}

func (e *Evaluator) check(k int, x float64) error {
	if e.policy == PolicyPropagate {
		return nil
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return &Error{Kind: NonFiniteInput, Name: e.table.entries[k].Name, Index: k, Value: x}
	}
	return nil
}

func finish(lik float64, giveLog bool) float64 {
	if !giveLog {
		return math.Exp(lik)
	}
	return lik
}

// Saturated reports whether exponentiating a finite log-density lost it to
// 0 or +Inf.
func Saturated(logDensity float64) bool {
	if math.IsNaN(logDensity) || math.IsInf(logDensity, 0) {
		return false
	}
	d := math.Exp(logDensity)
	return d == 0 || math.IsInf(d, 1)
}

// OverflowError describes a saturated density as a NumericOverflow error, for
// callers that surface it as a warning.
func OverflowError(logDensity float64) error {
	return &Error{Kind: NumericOverflow, Index: -1, Value: logDensity, Detail: fmt.Sprintf("exp(%g) is not representable", logDensity)}
}

// #endregion helpers
