package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seirprior/dprior/internal/config"
	"github.com/seirprior/dprior/internal/logging"
	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/state"
)

// #region main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region app
// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dprior",
		Short: "Joint prior density for the SEIR parameter vector",
		Long: `dprior evaluates the product of independent Normal priors over the
37 SEIR model parameters: 21 transmission, progression, detection and
dispersion parameters plus the initial sizes of four compartments.

Tables come from, in order: --config table_file, the active version in the
database, or the built-in table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger, err = logging.NewLogger(cfg.LogLevel, a.verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to dprior.yaml")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.newEvalCmd(),
		a.newBatchCmd(),
		a.newServeCmd(),
		a.newTableCmd(),
		a.newReplayCmd(),
	)
	return root
}

// #endregion app

// #region resolve
// source describes where the evaluator's table came from.
type source struct {
	ev      *prior.Evaluator
	version string // store version id, empty otherwise
	label   string
	file    bool
}

// resolve picks the table: the configured file, then the active stored
// version, then the built-in table.
func (a *app) resolve() (source, error) {
	opts := []prior.Option{prior.WithPolicy(a.cfg.Policy())}

	if a.cfg.TableFile != "" {
		t, label, err := config.LoadTable(a.cfg.TableFile)
		if err != nil {
			return source{}, err
		}
		return source{ev: prior.NewEvaluator(t, opts...), label: label, file: true}, nil
	}

	if _, err := os.Stat(a.cfg.DBPath); err == nil {
		store, err := state.NewStore(a.cfg.DBPath)
		if err != nil {
			return source{}, fmt.Errorf("open db: %w", err)
		}
		defer store.Close()
		rec, err := store.GetCurrent()
		switch {
		case err == nil:
			t, err := rec.Table()
			if err != nil {
				return source{}, fmt.Errorf("active table %s: %w", rec.VersionID, err)
			}
			return source{ev: prior.NewEvaluator(t, opts...), version: rec.VersionID, label: rec.Label}, nil
		case !errors.Is(err, state.ErrNoActiveTable):
			return source{}, err
		}
	}

	return source{ev: prior.NewEvaluator(prior.DefaultTable(), opts...), label: "builtin"}, nil
}

func (a *app) openStore() (*state.Store, error) {
	store, err := state.NewStore(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return store, nil
}

// recordedVersion is the version id logged rows point at. A file table is
// stored first so an exported run replays against the same entries.
func (a *app) recordedVersion(store *state.Store, src source) (string, error) {
	if !src.file {
		return src.version, nil
	}
	rec, err := store.EnsureTable(src.label, src.ev.Table())
	if err != nil {
		return "", fmt.Errorf("store table file: %w", err)
	}
	return rec.VersionID, nil
}

// #endregion resolve
