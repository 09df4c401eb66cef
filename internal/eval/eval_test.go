package eval

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/seirprior/dprior/internal/prior"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers
func particles(t *testing.T, n int, seed int64) [][]float64 {
	t.Helper()
	tbl := prior.DefaultTable()
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		vec := make([]float64, tbl.Len())
		for k, e := range tbl.Entries() {
			vec[k] = e.Mean + rng.NormFloat64()*e.SD
		}
		out[i] = vec
	}
	return out
}

func newHarness(config EvalConfig) *EvalHarness {
	ev := prior.Default()
	return NewEvalHarness(config, ev, prior.IdentityIndex(ev.Table()), nil)
}

// #endregion helpers

func TestRunMatchesSequentialEvaluation(t *testing.T) {
	vecs := particles(t, 200, 1)
	h := newHarness(EvalConfig{Workers: 8, GiveLog: true})

	res, err := h.Run(context.Background(), vecs)
	require.NoError(t, err)
	require.True(t, res.Passed, res.Reason)
	require.Len(t, res.Rows, len(vecs))

	ev := prior.Default()
	idx := prior.IdentityIndex(ev.Table())
	for i, vec := range vecs {
		want, err := ev.EvaluateVector(vec, idx, true)
		require.NoError(t, err)
		assert.Equal(t, i, res.Rows[i].Index)
		assert.Equal(t, want, res.Rows[i].Value)
	}

	m, ok := res.Metric("rows")
	require.True(t, ok)
	assert.Equal(t, 200.0, m.Value)
	_, ok = res.Metric("mean_log_density")
	assert.True(t, ok)
}

func TestRunDensityAndSaturation(t *testing.T) {
	vecs := particles(t, 3, 2)
	vecs[1][21] = 1e6 // E1_0 far in the tail

	res, err := newHarness(EvalConfig{Workers: 2, GiveLog: false}).Run(context.Background(), vecs)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.Saturated)
	assert.True(t, res.Rows[1].Saturated)
	assert.Equal(t, 0.0, res.Rows[1].Value)
	assert.Equal(t, math.Exp(res.Rows[0].LogDensity), res.Rows[0].Value)
}

func TestRunRecordsRowFailures(t *testing.T) {
	vecs := particles(t, 5, 3)
	vecs[2][0] = math.NaN()
	vecs[4] = vecs[4][:20]

	res, err := newHarness(EvalConfig{Workers: 3, GiveLog: true}).Run(context.Background(), vecs)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 2, res.Failed)
	assert.True(t, errors.Is(res.Rows[2].Err, prior.NonFiniteInput))
	assert.True(t, errors.Is(res.Rows[4].Err, prior.InvalidIndex))
	assert.NoError(t, res.Rows[0].Err)
	assert.Contains(t, res.Reason, "2 of 5 rows failed")

	m, _ := res.Metric("failed")
	assert.False(t, m.Pass)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newHarness(DefaultEvalConfig()).Run(ctx, particles(t, 50, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunLayoutError(t *testing.T) {
	h := NewEvalHarnessWithSource(DefaultEvalConfig(), prior.Default,
		prior.NamesLayout([]string{"log_beta_s"}), nil)
	_, err := h.Run(context.Background(), particles(t, 2, 6))
	require.Error(t, err)
	assert.True(t, errors.Is(err, prior.MissingParameter))
}

func TestRunEmptyBatch(t *testing.T) {
	res, err := newHarness(EvalConfig{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Rows)
	_, ok := res.Metric("min_log_density")
	assert.False(t, ok)
}

func TestHarnessSourceResolvedPerRun(t *testing.T) {
	small := prior.NewEvaluator(prior.MustTable([]prior.Entry{{Name: "x", Mean: 0, SD: 1}}))
	current := small
	h := NewEvalHarnessWithSource(EvalConfig{Workers: 1, GiveLog: true},
		func() *prior.Evaluator { return current }, prior.IdentityLayout, nil)

	res, err := h.Run(context.Background(), [][]float64{{0}})
	require.NoError(t, err)
	assert.InDelta(t, small.Table().PeakLogDensity(), res.Rows[0].Value, 1e-12)

	current = prior.NewEvaluator(prior.MustTable([]prior.Entry{{Name: "x", Mean: 0, SD: 2}}))
	res, err = h.Run(context.Background(), [][]float64{{0}})
	require.NoError(t, err)
	assert.InDelta(t, current.Table().PeakLogDensity(), res.Rows[0].Value, 1e-12)
}
