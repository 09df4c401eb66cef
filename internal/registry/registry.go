package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/seirprior/dprior/internal/prior"
)

// #region constants
const (
	// PackageName is the library name hosts resolve symbols under.
	PackageName = "dprior"
	// SymbolDPrior is the prior density entry point.
	SymbolDPrior = "dprior"
)

// ErrUnknownSymbol is returned by Lookup and Call for unregistered symbols.
var ErrUnknownSymbol = errors.New("unknown symbol")

// ErrNotLoaded is returned by Release when the load count is already zero.
var ErrNotLoaded = errors.New("release without matching acquire")

// #endregion constants

// #region density-func
// DensityFunc is the host calling convention: read the flat parameter vector p
// through idx and write the (log-)density into lik.
type DensityFunc func(lik *float64, p []float64, giveLog bool, idx prior.IndexMap) error

// Bind adapts a fixed evaluator to the host calling convention.
func Bind(ev *prior.Evaluator) DensityFunc {
	return BindSource(func() *prior.Evaluator { return ev })
}

// BindSource adapts an evaluator supplier, resolved on every call, so the
// evaluator can be swapped without re-registering.
func BindSource(current func() *prior.Evaluator) DensityFunc {
	return func(lik *float64, p []float64, giveLog bool, idx prior.IndexMap) error {
		v, err := current().EvaluateVector(p, idx, giveLog)
		if err != nil {
			return err
		}
		*lik = v
		return nil
	}
}

// #endregion density-func

// #region registry
// Registry maps symbols to density entry points for one package and keeps the
// caller-owned load count.
type Registry struct {
	pkg     string
	mu      sync.RWMutex
	symbols map[string]DensityFunc
	loads   atomic.Int64
}

// New creates an empty registry for pkg.
func New(pkg string) *Registry {
	return &Registry{pkg: pkg, symbols: make(map[string]DensityFunc)}
}

// Default creates the dprior registry with SymbolDPrior bound to fn.
func Default(fn DensityFunc) *Registry {
	r := New(PackageName)
	if err := r.Register(SymbolDPrior, fn); err != nil {
		panic(err)
	}
	return r
}

// Package returns the package name symbols are registered under.
func (r *Registry) Package() string { return r.pkg }

// Register adds symbol. Registering the same symbol twice is an error.
func (r *Registry) Register(symbol string, fn DensityFunc) error {
	if symbol == "" || fn == nil {
		return fmt.Errorf("register %s: empty symbol or nil function", r.pkg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.symbols[symbol]; dup {
		return fmt.Errorf("register %s::%s: already registered", r.pkg, symbol)
	}
	r.symbols[symbol] = fn
	return nil
}

// Lookup resolves symbol.
func (r *Registry) Lookup(symbol string) (DensityFunc, error) {
	r.mu.RLock()
	fn, ok := r.symbols[symbol]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s::%s: %w", r.pkg, symbol, ErrUnknownSymbol)
	}
	return fn, nil
}

// Symbols lists registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Call resolves symbol and evaluates it on p.
func (r *Registry) Call(symbol string, p []float64, giveLog bool, idx prior.IndexMap) (float64, error) {
	fn, err := r.Lookup(symbol)
	if err != nil {
		return 0, err
	}
	var lik float64
	if err := fn(&lik, p, giveLog, idx); err != nil {
		return 0, fmt.Errorf("%s::%s: %w", r.pkg, symbol, err)
	}
	return lik, nil
}

// #endregion registry

// #region load-count
// Acquire records one more holder of the package and returns the new count.
func (r *Registry) Acquire() int {
	return int(r.loads.Add(1))
}

// Release drops one holder and returns the remaining count.
func (r *Registry) Release() (int, error) {
	for {
		cur := r.loads.Load()
		if cur == 0 {
			return 0, ErrNotLoaded
		}
		if r.loads.CompareAndSwap(cur, cur-1) {
			return int(cur - 1), nil
		}
	}
}

// Loads returns the current load count.
func (r *Registry) Loads() int {
	return int(r.loads.Load())
}

// #endregion load-count
