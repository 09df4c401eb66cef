package replay

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestValueJSON(t *testing.T) {
	in := []Value{1.5, Value(math.NaN()), Value(math.Inf(1)), Value(math.Inf(-1))}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[1.5,null,"inf","-inf"]` {
		t.Errorf("marshal = %s", data)
	}

	var out []Value
	if err := json.Unmarshal([]byte(`[1.5,null,"inf","-inf","NaN"]`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out[0] != 1.5 || !math.IsNaN(float64(out[1])) || !math.IsInf(float64(out[2]), 1) ||
		!math.IsInf(float64(out[3]), -1) || !math.IsNaN(float64(out[4])) {
		t.Errorf("unmarshal = %v", out)
	}

	if err := json.Unmarshal([]byte(`["lots"]`), &out); err == nil {
		t.Error("expected error for non-numeric string")
	}
}

func TestLoadFixture_Validation(t *testing.T) {
	dir := t.TempDir()
	bad := map[string]string{
		"both.json":      `{"cases":[{"id":"a","params":[1],"named":{"x":1},"expected":0}]}`,
		"neither.json":   `{"cases":[{"id":"a","expected":0}]}`,
		"noexpect.json":  `{"cases":[{"id":"a","params":[1]}]}`,
		"twoexpect.json": `{"cases":[{"id":"a","params":[1],"expected":0,"expected_error":"invalid_index"}]}`,
		"broken.json":    `{"cases":`,
	}
	for name, body := range bad {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFixture(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadFixture(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteFixture_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	f := &Fixture{
		Description: "round trip",
		Cases: []FixtureCase{
			{ID: "a", Params: []Value{1, Value(math.NaN())}, GiveLog: true, ExpectedError: "non_finite_input"},
			{ID: "b", Named: map[string]Value{"x": 2}, Expected: expect(math.Inf(1))},
		},
	}
	if err := WriteFixture(path, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Cases) != 2 || got.Description != "round trip" {
		t.Fatalf("loaded = %+v", got)
	}
	if !math.IsNaN(float64(got.Cases[0].Params[1])) {
		t.Error("NaN param lost")
	}
	if !math.IsInf(float64(*got.Cases[1].Expected), 1) {
		t.Error("Inf expectation lost")
	}
}
