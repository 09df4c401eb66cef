package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seirprior/dprior/internal/config"
	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/state"
)

// #region table-cmd
func (a *app) newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Manage versioned prior tables in the database",
	}
	cmd.AddCommand(
		a.newTableSeedCmd(),
		a.newTableListCmd(),
		a.newTableShowCmd(),
		a.newTableImportCmd(),
		a.newTableExportCmd(),
		a.newTableRollbackCmd(),
	)
	return cmd
}

func (a *app) newTableSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Store the built-in table as the first version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if cur, err := store.GetCurrent(); err == nil {
				return fmt.Errorf("already seeded: active version %s", cur.VersionID)
			} else if !errors.Is(err, state.ErrNoActiveTable) {
				return err
			}
			rec, err := store.CreateInitialTable("builtin", prior.DefaultTable())
			if err != nil {
				return err
			}
			a.logger.Info("seeded", zap.String("version", rec.VersionID))
			fmt.Fprintln(cmd.OutOrStdout(), rec.VersionID)
			return nil
		},
	}
}

func (a *app) newTableListCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent versions; * marks the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			versions, err := store.ListVersions(last)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no versions found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderVersions(versions))
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent versions")
	return cmd
}

func (a *app) newTableShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [version]",
		Short: "Print a version's entries (default: active)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.lookupVersion(args)
			if err != nil {
				return err
			}
			t, err := rec.Table()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", rec.VersionID)
			if rec.ParentID != "" {
				fmt.Fprintf(out, "Parent:  %s\n", rec.ParentID)
			}
			fmt.Fprintf(out, "Label:   %s\n", rec.Label)
			fmt.Fprintf(out, "Peak:    %s\n", num(t.PeakLogDensity()))
			fmt.Fprintln(out, renderEntries(rec.Entries))
			return nil
		},
	}
}

func (a *app) newTableImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Commit a YAML table file as the new active version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, label, err := config.LoadTable(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			parent := ""
			cur, err := store.GetCurrent()
			switch {
			case err == nil:
				parent = cur.VersionID
			case !errors.Is(err, state.ErrNoActiveTable):
				return err
			}
			rec := state.NewTableRecord(parent, label, t)
			if err := store.CommitTable(rec); err != nil {
				return err
			}
			a.logger.Info("imported", zap.String("version", rec.VersionID), zap.String("parent", parent))
			fmt.Fprintln(cmd.OutOrStdout(), rec.VersionID)
			return nil
		},
	}
}

func (a *app) newTableExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export [version]",
		Short: "Write a version as a YAML table file (default: active)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.lookupVersion(args)
			if err != nil {
				return err
			}
			t, err := rec.Table()
			if err != nil {
				return err
			}
			data, err := config.MarshalTable(rec.Label, t)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default stdout)")
	return cmd
}

func (a *app) newTableRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version>",
		Short: "Make an earlier version active again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Rollback(args[0]); err != nil {
				return err
			}
			a.logger.Info("rolled back", zap.String("version", args[0]))
			return nil
		},
	}
}

// lookupVersion reads args[0], or the active version when no argument is given.
func (a *app) lookupVersion(args []string) (state.TableRecord, error) {
	store, err := a.openStore()
	if err != nil {
		return state.TableRecord{}, err
	}
	defer store.Close()
	if len(args) == 0 {
		return store.GetCurrent()
	}
	return store.GetVersion(args[0])
}

// #endregion table-cmd
