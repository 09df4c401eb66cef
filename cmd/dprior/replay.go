package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seirprior/dprior/internal/replay"
)

// #region replay-cmd
func (a *app) newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <fixture.json>...",
		Short: "Re-evaluate recorded fixtures and compare against their expectations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				f, err := replay.LoadFixture(path)
				if err != nil {
					return err
				}
				ev, err := f.Evaluator()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results := replay.Replay(ev, f.Cases)
				s := replay.Summarize(results)

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", path, f.Description)
				fmt.Fprintln(out, renderReplay(results))
				fmt.Fprintf(out, "%d/%d passed\n", s.Passed, s.Total)

				a.logger.Debug("fixture replayed",
					zap.String("path", path),
					zap.Int("passed", s.Passed),
					zap.Int("failed", s.Failed),
				)
				failed += s.Failed
			}
			if failed > 0 {
				return fmt.Errorf("%d case(s) failed", failed)
			}
			return nil
		},
	}
}

// #endregion replay-cmd
