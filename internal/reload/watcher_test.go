package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/seirprior/dprior/internal/prior"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers
const tableV1 = `label: v1
entries:
  - {name: x, mean: 0, sd: 1}
`

const tableV2 = `label: v2
entries:
  - {name: x, mean: 0, sd: 2}
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

// runWatcher starts w.Run and stops it when the test ends.
func runWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, w.Close())
	})
}

// #endregion helpers

func TestNewWatcherLoadsInitialTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prior.yaml")
	writeFile(t, path, tableV1)

	w, err := NewWatcher(path, []prior.Option{prior.WithPolicy(prior.PolicyPropagate)}, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "v1", w.Label())
	assert.Equal(t, prior.PolicyPropagate, w.Current().Policy())
	e, _ := w.Current().Table().Lookup("x")
	assert.Equal(t, 1.0, e.SD)
}

func TestNewWatcherRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prior.yaml")
	writeFile(t, path, "entries: []\n")

	_, err := NewWatcher(path, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, prior.InvalidTable)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil, nil)
	assert.Error(t, err)
}

func TestWatcherSwapsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prior.yaml")
	writeFile(t, path, tableV1)

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	var reloads atomic.Int32
	w.OnReload(func(*prior.Table, string) { reloads.Add(1) })
	old := w.Current()
	runWatcher(t, w)

	// The watch is registered inside Run; keep rewriting until it is seen.
	require.Eventually(t, func() bool {
		writeFile(t, path, tableV2)
		return w.Label() == "v2"
	}, 5*time.Second, 50*time.Millisecond)

	e, _ := w.Current().Table().Lookup("x")
	assert.Equal(t, 2.0, e.SD)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))

	// An evaluator obtained before the swap still sees its own table.
	e, _ = old.Table().Lookup("x")
	assert.Equal(t, 1.0, e.SD)
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prior.yaml")
	writeFile(t, path, tableV1)

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	before := w.Current()
	runWatcher(t, w)

	writeFile(t, path, "entries:\n  - {name: x, mean: 0, sd: -1}\n")
	time.Sleep(4 * debounce)
	assert.Same(t, before, w.Current())
	assert.Equal(t, "v1", w.Label())

	assert.Error(t, w.Reload())
	assert.Same(t, before, w.Current())
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prior.yaml")
	writeFile(t, path, tableV1)

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	var reloads atomic.Int32
	w.OnReload(func(*prior.Table, string) { reloads.Add(1) })
	runWatcher(t, w)

	writeFile(t, filepath.Join(dir, "other.yaml"), tableV2)
	time.Sleep(4 * debounce)
	assert.Equal(t, int32(0), reloads.Load())
	assert.Equal(t, "v1", w.Label())
}
