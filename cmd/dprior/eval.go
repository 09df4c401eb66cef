package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seirprior/dprior/internal/logging"
	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/registry"
	"github.com/seirprior/dprior/internal/replay"
)

// #region eval-cmd
type evalFlags struct {
	paramsPath string
	atMean     bool
	density    bool
	terms      bool
	record     bool
}

func (a *app) newEvalCmd() *cobra.Command {
	var f evalFlags
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the prior at one parameter vector",
		Long: `Reads parameters from --params (a JSON array in table order, or a JSON
object keyed by name; "-" reads stdin) and prints the log-density, or the
density with --density. null reads as NaN; "inf" and "-inf" are accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEval(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.paramsPath, "params", "", "parameter file, - for stdin")
	cmd.Flags().BoolVar(&f.atMean, "at-mean", false, "evaluate with every parameter at its prior mean")
	cmd.Flags().BoolVar(&f.density, "density", false, "print the density instead of the log-density")
	cmd.Flags().BoolVar(&f.terms, "terms", false, "print the per-parameter breakdown")
	cmd.Flags().BoolVar(&f.record, "record", false, "append the evaluation to the database log")
	cmd.MarkFlagsMutuallyExclusive("params", "at-mean")
	cmd.MarkFlagsOneRequired("params", "at-mean")
	return cmd
}

func (a *app) runEval(cmd *cobra.Command, f evalFlags) error {
	src, err := a.resolve()
	if err != nil {
		return err
	}
	t := src.ev.Table()

	var ps prior.ParameterSet
	switch {
	case f.atMean:
		ps = prior.Means(t)
	default:
		vec, named, err := readParams(cmd.InOrStdin(), f.paramsPath)
		if err != nil {
			return err
		}
		if named == nil {
			if named, err = prior.IdentityIndex(t).ParameterSet(vec); err != nil {
				return err
			}
		}
		ps = named
	}

	giveLog := !f.density
	logd, evalErr := src.ev.Evaluate(ps, true)
	value := logd
	if !giveLog {
		value = math.Exp(logd)
	}

	if f.record {
		if err := a.record(src, ps, giveLog, value, evalErr); err != nil {
			return err
		}
	}
	if evalErr != nil {
		return evalErr
	}
	if !giveLog && prior.Saturated(logd) {
		a.logger.Warn("density saturated", zap.Error(prior.OverflowError(logd)))
	}

	out := cmd.OutOrStdout()
	if f.terms {
		terms, err := src.ev.Terms(ps)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderTerms(terms))
	}
	fmt.Fprintln(out, strconv.FormatFloat(value, 'g', -1, 64))
	return nil
}

// record appends one evaluation as its own run. Parameters the table does not
// know are dropped; missing ones are logged as NaN.
func (a *app) record(src source, ps prior.ParameterSet, giveLog bool, value float64, evalErr error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := a.recordedVersion(store, src)
	if err != nil {
		return err
	}
	t := src.ev.Table()
	vec := make([]float64, t.Len())
	for k, name := range t.Names() {
		vec[k] = math.NaN()
		if v, ok := ps[name]; ok {
			vec[k] = v
		}
	}
	entry := logging.EvaluationEntry{
		RunID:           uuid.New().String(),
		TableVersion:    version,
		NonFinitePolicy: string(src.ev.Policy()),
		Symbol:          registry.SymbolDPrior,
		GiveLog:         giveLog,
		Params:          vec,
		Result:          value,
	}
	if evalErr != nil {
		entry.Result = math.NaN()
		entry.ErrorKind = string(prior.KindOf(evalErr))
		entry.Reason = evalErr.Error()
	}
	if err := logging.LogEvaluation(store.DB(), entry); err != nil {
		return err
	}
	a.logger.Debug("evaluation recorded", zap.String("run_id", entry.RunID))
	return nil
}

// #endregion eval-cmd

// #region params
// readParams decodes a JSON array (flat vector) or object (named parameters).
func readParams(stdin io.Reader, path string) ([]float64, prior.ParameterSet, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read params: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var named map[string]replay.Value
		if err := json.Unmarshal(data, &named); err != nil {
			return nil, nil, fmt.Errorf("parse params: %w", err)
		}
		ps := make(prior.ParameterSet, len(named))
		for k, v := range named {
			ps[k] = float64(v)
		}
		return nil, ps, nil
	}

	var vec []replay.Value
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, nil, fmt.Errorf("parse params: %w", err)
	}
	return replay.Floats(vec), nil, nil
}

// #endregion params
