package eval

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seirprior/dprior/internal/prior"
)

// #region eval-harness
// EvalHarness evaluates many parameter vectors against one prior, one
// evaluation per vector, with bounded concurrency.
type EvalHarness struct {
	config  EvalConfig
	current func() *prior.Evaluator
	layout  prior.Layout
	logger  *zap.Logger
}

// NewEvalHarness creates a harness over a fixed evaluator.
func NewEvalHarness(config EvalConfig, ev *prior.Evaluator, idx prior.IndexMap, logger *zap.Logger) *EvalHarness {
	return NewEvalHarnessWithSource(config, func() *prior.Evaluator { return ev }, prior.FixedLayout(idx), logger)
}

// NewEvalHarnessWithSource creates a harness whose evaluator and index are
// resolved once per Run, so a hot-reloaded table applies from the next batch.
func NewEvalHarnessWithSource(config EvalConfig, current func() *prior.Evaluator, layout prior.Layout, logger *zap.Logger) *EvalHarness {
	if config.Workers <= 0 {
		config.Workers = DefaultEvalConfig().Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvalHarness{config: config, current: current, layout: layout, logger: logger}
}

// Run evaluates every vector. A failing vector is recorded in its Row and does
// not stop the batch; only context cancellation aborts the run.
func (h *EvalHarness) Run(ctx context.Context, vectors [][]float64) (EvalResult, error) {
	ev := h.current()
	idx, err := h.layout(ev.Table())
	if err != nil {
		return EvalResult{}, fmt.Errorf("bind index: %w", err)
	}
	rows := make([]Row, len(vectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Workers)
	for i := range vectors {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = h.evaluate(ev, idx, i, vectors[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EvalResult{}, fmt.Errorf("batch cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return EvalResult{}, fmt.Errorf("batch cancelled: %w", err)
	}

	result := summarize(rows)
	h.logger.Debug("batch evaluated",
		zap.Int("rows", len(rows)),
		zap.Int("failed", result.Failed),
		zap.Int("saturated", result.Saturated),
		zap.Bool("give_log", h.config.GiveLog),
	)
	return result, nil
}

// #endregion eval-harness

// #region helpers
func (h *EvalHarness) evaluate(ev *prior.Evaluator, idx prior.IndexMap, i int, vec []float64) Row {
	logd, err := ev.EvaluateVector(vec, idx, true)
	if err != nil {
		return Row{Index: i, Value: math.NaN(), LogDensity: math.NaN(), Err: err}
	}
	row := Row{Index: i, Value: logd, LogDensity: logd}
	if !h.config.GiveLog {
		row.Value = math.Exp(logd)
		row.Saturated = prior.Saturated(logd)
	}
	return row
}

// summarize builds the aggregate metrics. Failures fail the run; saturation is
// informational only.
func summarize(rows []Row) EvalResult {
	res := EvalResult{Rows: rows, Passed: true}
	minLog, maxLog, sumLog := math.Inf(1), math.Inf(-1), 0.0
	ok := 0
	var firstErr error

	for _, r := range rows {
		if r.Err != nil {
			res.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("row %d: %w", r.Index, r.Err)
			}
			continue
		}
		if r.Saturated {
			res.Saturated++
		}
		ok++
		sumLog += r.LogDensity
		minLog = math.Min(minLog, r.LogDensity)
		maxLog = math.Max(maxLog, r.LogDensity)
	}

	res.Metrics = append(res.Metrics,
		EvalMetric{Name: "rows", Value: float64(len(rows)), Pass: true},
		EvalMetric{Name: "failed", Value: float64(res.Failed), Pass: res.Failed == 0},
		EvalMetric{Name: "saturated", Value: float64(res.Saturated), Pass: true},
	)
	if ok > 0 {
		res.Metrics = append(res.Metrics,
			EvalMetric{Name: "min_log_density", Value: minLog, Pass: true},
			EvalMetric{Name: "max_log_density", Value: maxLog, Pass: true},
			EvalMetric{Name: "mean_log_density", Value: sumLog / float64(ok), Pass: true},
		)
	}

	res.Reason = "all rows evaluated"
	if res.Failed > 0 {
		res.Passed = false
		res.Reason = fmt.Sprintf("%d of %d rows failed: %v", res.Failed, len(rows), firstErr)
	}
	return res
}

// Metric looks up a metric by name.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion helpers
