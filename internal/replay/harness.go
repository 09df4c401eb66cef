package replay

import (
	"fmt"
	"math"

	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/registry"
)

// DefaultTolerance is the relative tolerance used when a case sets none.
const DefaultTolerance = 1e-9

// #region types
// ReplayResult captures the outcome of replaying one case.
type ReplayResult struct {
	ID     string
	Got    float64
	Err    error
	Pass   bool
	Reason string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total  int
	Passed int
	Failed int
}

// #endregion types

// #region replay
// Replay evaluates every case through the registry entry point, the way a
// host would, and compares against the recorded outcome. Operates entirely
// in-memory.
func Replay(ev *prior.Evaluator, cases []FixtureCase) []ReplayResult {
	reg := registry.Default(registry.Bind(ev))
	idx := prior.IdentityIndex(ev.Table())
	results := make([]ReplayResult, 0, len(cases))

	for _, c := range cases {
		var got float64
		var err error
		switch {
		case c.Named != nil:
			ps := make(prior.ParameterSet, len(c.Named))
			for name, v := range c.Named {
				ps[name] = float64(v)
			}
			got, err = ev.Evaluate(ps, c.GiveLog)
		case c.Layout != nil:
			var hostIdx prior.IndexMap
			if hostIdx, err = prior.IndexFromNames(ev.Table(), c.Layout); err == nil {
				got, err = reg.Call(registry.SymbolDPrior, Floats(c.Params), c.GiveLog, hostIdx)
			}
		default:
			got, err = reg.Call(registry.SymbolDPrior, Floats(c.Params), c.GiveLog, idx)
		}
		results = append(results, judge(c, got, err))
	}
	return results
}

// Summarize counts passes and failures.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{Total: len(results)}
	for _, r := range results {
		if r.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// #endregion replay

// #region judge
func judge(c FixtureCase, got float64, err error) ReplayResult {
	r := ReplayResult{ID: c.ID, Got: got, Err: err}

	if c.ExpectedError != "" {
		kind := prior.KindOf(err)
		switch {
		case err == nil:
			r.Reason = fmt.Sprintf("expected %s, got value %v", c.ExpectedError, got)
		case string(kind) != c.ExpectedError:
			r.Reason = fmt.Sprintf("expected %s, got %v", c.ExpectedError, err)
		default:
			r.Pass = true
			r.Reason = "error matched"
		}
		return r
	}

	if err != nil {
		r.Reason = fmt.Sprintf("unexpected error: %v", err)
		return r
	}
	want := float64(*c.Expected)
	if within(got, want, c.Tolerance) {
		r.Pass = true
		r.Reason = "value matched"
		return r
	}
	r.Reason = fmt.Sprintf("expected %v, got %v", want, got)
	return r
}

// within compares with an absolute tolerance when tol is set and a relative
// one otherwise. NaN matches NaN and infinities match by sign.
func within(got, want, tol float64) bool {
	switch {
	case math.IsNaN(want):
		return math.IsNaN(got)
	case math.IsInf(want, 0):
		return got == want
	}
	if tol <= 0 {
		tol = DefaultTolerance * math.Max(1, math.Abs(want))
	}
	return math.Abs(got-want) <= tol
}

// #endregion judge
