package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/seirprior/dprior/internal/prior"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string        `json:"description"`
	Table           []prior.Entry `json:"table,omitempty"` // empty: built-in table
	NonFinitePolicy string        `json:"non_finite_policy,omitempty"`
	Cases           []FixtureCase `json:"cases"`
}

// FixtureCase is one recorded evaluation. Exactly one of Params and Named is
// set; Layout names the host positions of Params and defaults to table order.
// A case expects either a value or an error kind.
type FixtureCase struct {
	ID            string           `json:"id"`
	Params        []Value          `json:"params,omitempty"`
	Layout        []string         `json:"layout,omitempty"`
	Named         map[string]Value `json:"named,omitempty"`
	GiveLog       bool             `json:"give_log"`
	Expected      *Value           `json:"expected,omitempty"`
	ExpectedError string           `json:"expected_error,omitempty"`
	Tolerance     float64          `json:"tolerance,omitempty"`
}

// Value is a float64 whose JSON form can carry non-finite values: null reads
// as NaN and the strings "inf", "-inf" and "nan" are accepted.
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte("null"), nil
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(s) {
		case "inf", "+inf":
			*v = Value(math.Inf(1))
		case "-inf":
			*v = Value(math.Inf(-1))
		case "nan":
			*v = Value(math.NaN())
		default:
			return fmt.Errorf("invalid number %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

// Floats converts a Value slice.
func Floats(vs []Value) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = float64(v)
	}
	return out
}

// Values converts a float64 slice.
func Values(fs []float64) []Value {
	out := make([]Value, len(fs))
	for i, f := range fs {
		out[i] = Value(f)
	}
	return out
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	for i, c := range f.Cases {
		if (c.Params == nil) == (c.Named == nil) {
			return nil, fmt.Errorf("fixture %s: case %d (%s): exactly one of params or named is required", path, i, c.ID)
		}
		if c.Layout != nil && c.Params == nil {
			return nil, fmt.Errorf("fixture %s: case %d (%s): layout requires params", path, i, c.ID)
		}
		if (c.Expected == nil) == (c.ExpectedError == "") {
			return nil, fmt.Errorf("fixture %s: case %d (%s): exactly one of expected or expected_error is required", path, i, c.ID)
		}
	}
	return &f, nil
}

// WriteFixture encodes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Evaluator builds the evaluator the fixture was recorded against.
func (f *Fixture) Evaluator() (*prior.Evaluator, error) {
	policy, err := prior.ParsePolicy(f.NonFinitePolicy)
	if err != nil {
		return nil, err
	}
	t := prior.DefaultTable()
	if len(f.Table) > 0 {
		if t, err = prior.NewTable(f.Table); err != nil {
			return nil, fmt.Errorf("fixture table: %w", err)
		}
	}
	return prior.NewEvaluator(t, prior.WithPolicy(policy)), nil
}

// #endregion fixture-loader
