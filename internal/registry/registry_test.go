package registry

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seirprior/dprior/internal/prior"
)

func meansVector(t *testing.T) []float64 {
	t.Helper()
	vec, err := prior.IdentityIndex(prior.DefaultTable()).Vector(prior.Means(prior.DefaultTable()))
	require.NoError(t, err)
	return vec
}

func TestDefaultRegistersDPrior(t *testing.T) {
	r := Default(Bind(prior.Default()))
	assert.Equal(t, PackageName, r.Package())
	assert.Equal(t, []string{SymbolDPrior}, r.Symbols())

	idx := prior.IdentityIndex(prior.DefaultTable())
	got, err := r.Call(SymbolDPrior, meansVector(t), true, idx)
	require.NoError(t, err)
	assert.InDelta(t, prior.DefaultTable().PeakLogDensity(), got, 1e-9)
}

func TestDensityFuncWritesSlot(t *testing.T) {
	fn := Bind(prior.Default())
	idx := prior.IdentityIndex(prior.DefaultTable())

	lik := -1.0
	require.NoError(t, fn(&lik, meansVector(t), false, idx))
	assert.Greater(t, lik, 0.0)

	before := lik
	err := fn(&lik, meansVector(t)[:10], false, idx)
	assert.True(t, errors.Is(err, prior.InvalidIndex))
	assert.Equal(t, before, lik, "slot must not change on error")
}

func TestRegisterDuplicateAndUnknown(t *testing.T) {
	r := New("test")
	fn := Bind(prior.Default())
	require.NoError(t, r.Register("a", fn))
	assert.Error(t, r.Register("a", fn))
	assert.Error(t, r.Register("", fn))
	assert.Error(t, r.Register("b", nil))

	_, err := r.Lookup("missing")
	assert.True(t, errors.Is(err, ErrUnknownSymbol))

	_, err = r.Call("missing", nil, true, prior.IndexMap{})
	assert.True(t, errors.Is(err, ErrUnknownSymbol))
}

func TestCallWrapsEvaluatorError(t *testing.T) {
	r := Default(Bind(prior.Default()))
	vec := meansVector(t)
	vec[3] = math.NaN()

	_, err := r.Call(SymbolDPrior, vec, true, prior.IdentityIndex(prior.DefaultTable()))
	require.Error(t, err)
	assert.Equal(t, prior.NonFiniteInput, prior.KindOf(err))
}

func TestBindSourceFollowsSwap(t *testing.T) {
	small := prior.NewEvaluator(prior.MustTable([]prior.Entry{{Name: "x", Mean: 0, SD: 1}}))
	current := prior.Default()
	fn := BindSource(func() *prior.Evaluator { return current })

	var lik float64
	require.NoError(t, fn(&lik, meansVector(t), true, prior.IdentityIndex(prior.DefaultTable())))

	current = small
	require.NoError(t, fn(&lik, []float64{0}, true, prior.IdentityIndex(small.Table())))
	assert.InDelta(t, small.Table().PeakLogDensity(), lik, 1e-12)
}

func TestLoadCount(t *testing.T) {
	r := New(PackageName)
	assert.Equal(t, 1, r.Acquire())
	assert.Equal(t, 2, r.Acquire())

	n, err := r.Release()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.Release()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = r.Release()
	assert.True(t, errors.Is(err, ErrNotLoaded))
	assert.Equal(t, 0, r.Loads())
}

func TestLoadCountConcurrent(t *testing.T) {
	r := New(PackageName)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Acquire()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, r.Loads())
}
