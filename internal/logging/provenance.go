package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/seirprior/dprior/internal/replay"
)

// #region log-evaluation
// LogEvaluation writes an evaluation to the evaluation_log table.
func LogEvaluation(db *sql.DB, entry EvaluationEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	params, err := json.Marshal(replay.Values(entry.Params))
	if err != nil {
		return fmt.Errorf("log evaluation: %w", err)
	}
	var layout interface{}
	if entry.Layout != nil {
		data, err := json.Marshal(entry.Layout)
		if err != nil {
			return fmt.Errorf("log evaluation: %w", err)
		}
		layout = string(data)
	}

	_, err = db.Exec(
		`INSERT INTO evaluation_log (run_id, table_version, non_finite_policy, symbol, give_log, params_json, layout_json, result, error_kind, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		nullIfEmpty(entry.TableVersion),
		nullIfEmpty(entry.NonFinitePolicy),
		entry.Symbol,
		entry.GiveLog,
		string(params),
		layout,
		nullIfNaN(entry.Result),
		nullIfEmpty(entry.ErrorKind),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log evaluation: %w", err)
	}
	return nil
}

// #endregion log-evaluation

// #region read-evaluations
// ReadEvaluations returns the rows of one run in insertion order. An empty
// runID selects the most recent run.
func ReadEvaluations(db *sql.DB, runID string) ([]EvaluationEntry, error) {
	if runID == "" {
		err := db.QueryRow(`SELECT run_id FROM evaluation_log ORDER BY id DESC LIMIT 1`).Scan(&runID)
		if err != nil {
			return nil, fmt.Errorf("latest run: %w", err)
		}
	}

	rows, err := db.Query(
		`SELECT run_id, table_version, non_finite_policy, symbol, give_log, params_json, layout_json, result, error_kind, reason, created_at
		 FROM evaluation_log WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("read evaluations: %w", err)
	}
	defer rows.Close()

	var out []EvaluationEntry
	for rows.Next() {
		var e EvaluationEntry
		var tableVersion, policy, layout, errorKind, reason sql.NullString
		var result sql.NullFloat64
		var params, created string
		if err := rows.Scan(&e.RunID, &tableVersion, &policy, &e.Symbol, &e.GiveLog, &params, &layout, &result, &errorKind, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		var vals []replay.Value
		if err := json.Unmarshal([]byte(params), &vals); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		e.Params = replay.Floats(vals)
		if layout.Valid {
			if err := json.Unmarshal([]byte(layout.String), &e.Layout); err != nil {
				return nil, fmt.Errorf("decode layout: %w", err)
			}
		}
		e.TableVersion = tableVersion.String
		e.NonFinitePolicy = policy.String
		e.ErrorKind = errorKind.String
		e.Reason = reason.String
		e.Result = math.NaN()
		if result.Valid {
			e.Result = result.Float64
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion read-evaluations

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNaN(f float64) interface{} {
	if math.IsNaN(f) {
		return nil
	}
	return f
}

// #endregion helpers
