package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seirprior/dprior/internal/hostrpc"
	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/registry"
	"github.com/seirprior/dprior/internal/reload"
	"github.com/seirprior/dprior/internal/state"
)

// #region serve-cmd
type serveFlags struct {
	addr  string
	watch bool
	names string
}

func (a *app) newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve dprior.PriorService over gRPC",
		Long: `Serves the registry to remote hosts until interrupted. With --watch the
configured table_file is reloaded on change; each accepted reload is committed
to the database as a new version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "reload table_file on change")
	cmd.Flags().StringVar(&f.names, "names", "", "host parameter names in vector order")
	return cmd
}

func (a *app) runServe(ctx context.Context, f serveFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := a.cfg.Addr
	if f.addr != "" {
		addr = f.addr
	}
	watch := f.watch || a.cfg.Watch
	if watch && a.cfg.TableFile == "" {
		return errors.New("serve: --watch requires table_file in the config")
	}

	var layout prior.Layout = prior.IdentityLayout
	if f.names != "" {
		layout = prior.NamesLayout(strings.Split(f.names, ","))
	}

	g, gctx := errgroup.WithContext(ctx)

	var current func() *prior.Evaluator
	if watch {
		w, err := reload.NewWatcher(a.cfg.TableFile, []prior.Option{prior.WithPolicy(a.cfg.Policy())}, a.logger)
		if err != nil {
			return err
		}
		defer w.Close()

		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		w.OnReload(func(t *prior.Table, label string) { a.commitReload(store, t, label) })

		current = w.Current
		g.Go(func() error { return w.Run(gctx) })
	} else {
		src, err := a.resolve()
		if err != nil {
			return err
		}
		current = func() *prior.Evaluator { return src.ev }
		a.logger.Info("prior table", zap.String("label", src.label), zap.String("version", src.version))
	}

	reg := registry.Default(registry.BindSource(current))
	reg.Acquire()
	defer func() {
		if _, err := reg.Release(); err != nil {
			a.logger.Warn("release registry", zap.Error(err))
		}
	}()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := hostrpc.NewServer(reg, current, layout, a.logger)
	g.Go(func() error { return hostrpc.Serve(gctx, lis, srv) })

	return g.Wait()
}

// commitReload records a reloaded table as a child of the active version.
func (a *app) commitReload(store *state.Store, t *prior.Table, label string) {
	parent := ""
	if rec, err := store.GetCurrent(); err == nil {
		parent = rec.VersionID
	}
	rec := state.NewTableRecord(parent, label, t)
	if err := store.CommitTable(rec); err != nil {
		a.logger.Warn("commit reloaded table", zap.Error(err))
		return
	}
	a.logger.Info("reloaded table committed", zap.String("version", rec.VersionID), zap.String("parent", parent))
}

// #endregion serve-cmd
