package logging

import "time"

// #region evaluation-entry
// EvaluationEntry is a single row in the evaluation_log table.
type EvaluationEntry struct {
	RunID           string
	TableVersion    string // empty when the built-in table was used
	NonFinitePolicy string
	Symbol          string
	GiveLog         bool
	Params          []float64
	Layout          []string // host names Params follows; nil means table order
	Result          float64  // NaN is stored as NULL
	ErrorKind       string
	Reason          string
	CreatedAt       time.Time
}

// #endregion evaluation-entry
