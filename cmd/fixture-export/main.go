package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/seirprior/dprior/internal/logging"
	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/replay"
	"github.com/seirprior/dprior/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to dprior.db")
	runID := flag.String("run", "", "run to export (default: most recent)")
	policy := flag.String("policy", "", "override the logged non-finite policy (reject|propagate)")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/dprior.db --out path/to/fixture.json [--run id] [--policy reject|propagate]")
		os.Exit(2)
	}

	if err := run(*dbPath, *runID, *policy, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

// run exports one logged run. An empty policy uses the one logged with the
// run; rows written before policies were logged read as reject.
func run(dbPath, runID, policy, outPath string) error {
	if _, err := prior.ParsePolicy(policy); err != nil {
		return err
	}

	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	entries, err := logging.ReadEvaluations(store.DB(), runID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no evaluations found for run %q", runID)
	}

	var table []prior.Entry
	if v := entries[0].TableVersion; v != "" {
		rec, err := store.GetVersion(v)
		if err != nil {
			return fmt.Errorf("table version %s: %w", v, err)
		}
		table = rec.Entries
	}

	if policy == "" {
		policy = entries[0].NonFinitePolicy
	}
	if policy == "" {
		policy = string(prior.PolicyReject)
	}

	fmt.Printf("Found %d evaluations in run %s\n", len(entries), entries[0].RunID)

	fixture := buildFixture(entries, table, policy)
	if err := replay.WriteFixture(outPath, fixture); err != nil {
		return err
	}
	fmt.Printf("Wrote fixture to %s (%d cases)\n", outPath, len(fixture.Cases))
	return nil
}

// #endregion extract

// #region output

// buildFixture turns logged rows into replay cases. Rows that failed expect
// their error kind; the rest expect the logged value.
func buildFixture(entries []logging.EvaluationEntry, table []prior.Entry, policy string) *replay.Fixture {
	cases := make([]replay.FixtureCase, len(entries))
	for i, e := range entries {
		c := replay.FixtureCase{
			ID:      e.RunID[:min(8, len(e.RunID))] + "-" + strconv.Itoa(i),
			Params:  replay.Values(e.Params),
			Layout:  e.Layout,
			GiveLog: e.GiveLog,
		}
		if e.ErrorKind != "" {
			c.ExpectedError = e.ErrorKind
		} else {
			v := replay.Value(e.Result)
			c.Expected = &v
			if !e.GiveLog && e.Result != 0 && !math.IsInf(e.Result, 0) {
				c.Tolerance = math.Abs(e.Result) * replay.DefaultTolerance
			}
		}
		cases[i] = c
	}

	return &replay.Fixture{
		Description:     fmt.Sprintf("Exported run %s: %d evaluations", entries[0].RunID, len(entries)),
		Table:           table,
		NonFinitePolicy: policy,
		Cases:           cases,
	}
}

// #endregion output
