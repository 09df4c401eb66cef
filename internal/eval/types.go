package eval

import "runtime"

// #region eval-config
// EvalConfig controls a batch evaluation run.
type EvalConfig struct {
	Workers int  // max concurrent evaluations; <= 0 means GOMAXPROCS
	GiveLog bool // report log-density instead of density
}

// DefaultEvalConfig returns log-scale output with one worker per CPU.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Workers: runtime.GOMAXPROCS(0),
		GiveLog: true,
	}
}

// #endregion eval-config

// #region row
// Row is the outcome for one parameter vector (one particle).
type Row struct {
	Index      int
	Value      float64 // log-density or density per EvalConfig.GiveLog
	LogDensity float64
	Err        error
	Saturated  bool // density path only: exp(LogDensity) became 0 or +Inf
}

// #endregion row

// #region eval-metric
// EvalMetric captures one aggregate over a run.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a batch run. Rows are in input order.
type EvalResult struct {
	Passed    bool
	Rows      []Row
	Metrics   []EvalMetric
	Failed    int
	Saturated int
	Reason    string
}

// #endregion eval-result
