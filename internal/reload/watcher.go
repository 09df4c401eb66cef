package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/seirprior/dprior/internal/config"
	"github.com/seirprior/dprior/internal/prior"
)

const debounce = 100 * time.Millisecond

// #region watcher
// Watcher keeps an evaluator in sync with a table file. Evaluations already in
// flight finish on the evaluator they started with; a file that fails to parse
// or validate leaves the previous evaluator in place.
type Watcher struct {
	path     string
	opts     []prior.Option
	logger   *zap.Logger
	current  atomic.Pointer[prior.Evaluator]
	label    atomic.Pointer[string]
	onReload func(t *prior.Table, label string)
	fs       *fsnotify.Watcher
}

// NewWatcher loads path and prepares to watch it. The file must be valid at
// startup.
func NewWatcher(path string, opts []prior.Option, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	w := &Watcher{path: abs, opts: opts, logger: logger}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	w.fs = fs
	return w, nil
}

// OnReload registers fn to run after each later successful reload. Call
// before Run.
func (w *Watcher) OnReload(fn func(t *prior.Table, label string)) {
	w.onReload = fn
}

// Current returns the evaluator for the most recent valid table.
func (w *Watcher) Current() *prior.Evaluator {
	return w.current.Load()
}

// Label returns the label of the most recent valid table file.
func (w *Watcher) Label() string {
	if l := w.label.Load(); l != nil {
		return *l
	}
	return ""
}

// Reload reads the file now.
func (w *Watcher) Reload() error {
	t, label, err := config.LoadTable(w.path)
	if err != nil {
		return err
	}
	w.current.Store(prior.NewEvaluator(t, w.opts...))
	w.label.Store(&label)
	w.logger.Info("prior table loaded",
		zap.String("path", w.path),
		zap.String("label", label),
		zap.Int("entries", t.Len()),
	)
	if w.onReload != nil {
		w.onReload(t, label)
	}
	return nil
}

// Run watches the file's directory until ctx is done. Editors often replace
// files by rename, so events are matched on the file name rather than the
// watched inode.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("table file changed", zap.String("op", event.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			if err := w.Reload(); err != nil {
				w.logger.Warn("table reload rejected, keeping previous table", zap.Error(err))
			}
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// #endregion watcher
