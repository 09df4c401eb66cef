package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seirprior/dprior/internal/eval"
	"github.com/seirprior/dprior/internal/logging"
	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/registry"
	"github.com/seirprior/dprior/internal/replay"
)

// #region batch-cmd
type batchFlags struct {
	inputPath string
	names     string
	density   bool
	workers   int
	record    bool
}

func (a *app) newBatchCmd() *cobra.Command {
	var f batchFlags
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluate many host vectors, one JSON array per line",
		Long: `Reads one JSON array per line from --input ("-" or empty reads stdin) and
prints one result per line in input order. With --names the vectors follow
the host's layout (comma-separated names) instead of table order. A failing
line prints NaN and the error; the command fails if any line did.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.inputPath, "input", "-", "JSON lines file, - for stdin")
	cmd.Flags().StringVar(&f.names, "names", "", "host parameter names in vector order")
	cmd.Flags().BoolVar(&f.density, "density", false, "print densities instead of log-densities")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent evaluations (default from config)")
	cmd.Flags().BoolVar(&f.record, "record", false, "append every row to the database log as one run")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, f batchFlags) error {
	src, err := a.resolve()
	if err != nil {
		return err
	}
	vectors, err := readVectors(cmd.InOrStdin(), f.inputPath)
	if err != nil {
		return err
	}

	var layout prior.Layout = prior.IdentityLayout
	var hostNames []string
	if f.names != "" {
		hostNames = strings.Split(f.names, ",")
		layout = prior.NamesLayout(hostNames)
	}
	workers := f.workers
	if workers <= 0 {
		workers = a.cfg.Workers
	}

	h := eval.NewEvalHarnessWithSource(
		eval.EvalConfig{Workers: workers, GiveLog: !f.density},
		func() *prior.Evaluator { return src.ev },
		layout,
		a.logger,
	)
	res, err := h.Run(cmd.Context(), vectors)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range res.Rows {
		if r.Err != nil {
			fmt.Fprintf(out, "NaN\t%v\n", r.Err)
			continue
		}
		fmt.Fprintln(out, strconv.FormatFloat(r.Value, 'g', -1, 64))
	}

	if f.record {
		if err := a.recordBatch(src, hostNames, vectors, res, !f.density); err != nil {
			return err
		}
	}

	a.logger.Info("batch done",
		zap.Int("rows", len(res.Rows)),
		zap.Int("failed", res.Failed),
		zap.Int("saturated", res.Saturated),
		zap.String("table", src.label),
	)
	if !res.Passed {
		return errors.New(res.Reason)
	}
	return nil
}

// recordBatch logs every row as the host sent it. hostNames, when set, travel
// with each row so a replay reads the vector through the same layout.
func (a *app) recordBatch(src source, hostNames []string, vectors [][]float64, res eval.EvalResult, giveLog bool) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := a.recordedVersion(store, src)
	if err != nil {
		return err
	}
	runID := uuid.New().String()
	for i, r := range res.Rows {
		entry := logging.EvaluationEntry{
			RunID:           runID,
			TableVersion:    version,
			NonFinitePolicy: string(src.ev.Policy()),
			Symbol:          registry.SymbolDPrior,
			GiveLog:         giveLog,
			Params:          vectors[i],
			Layout:          hostNames,
			Result:          r.Value,
		}
		if r.Err != nil {
			entry.ErrorKind = string(prior.KindOf(r.Err))
			entry.Reason = r.Err.Error()
		}
		if err := logging.LogEvaluation(store.DB(), entry); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	a.logger.Info("batch recorded", zap.String("run_id", runID), zap.Int("rows", len(res.Rows)))
	return nil
}

// #endregion batch-cmd

// #region input
func readVectors(stdin io.Reader, path string) ([][]float64, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer file.Close()
		r = file
	}

	var out [][]float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var vec []replay.Value
		if err := json.Unmarshal(text, &vec); err != nil {
			return nil, fmt.Errorf("input line %d: %w", line, err)
		}
		out = append(out, replay.Floats(vec))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return out, nil
}

// #endregion input
