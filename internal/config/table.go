package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seirprior/dprior/internal/prior"
)

// #region table-file
// TableFile is the on-disk form of a prior table:
//
//	label: baseline-2020-04
//	entries:
//	  - {name: log_beta_s, mean: -17.0927194398423, sd: 0.2}
type TableFile struct {
	Label   string        `yaml:"label"`
	Entries []prior.Entry `yaml:"entries"`
}

// ParseTable decodes and validates a table file.
func ParseTable(data []byte) (*prior.Table, string, error) {
	var tf TableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, "", fmt.Errorf("parse table: %w", err)
	}
	t, err := prior.NewTable(tf.Entries)
	if err != nil {
		return nil, "", fmt.Errorf("parse table: %w", err)
	}
	return t, tf.Label, nil
}

// LoadTable reads and validates a table file.
func LoadTable(path string) (*prior.Table, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read table %s: %w", path, err)
	}
	t, label, err := ParseTable(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return t, label, nil
}

// MarshalTable encodes t as a table file.
func MarshalTable(label string, t *prior.Table) ([]byte, error) {
	data, err := yaml.Marshal(TableFile{Label: label, Entries: t.Entries()})
	if err != nil {
		return nil, fmt.Errorf("marshal table: %w", err)
	}
	return data, nil
}

// #endregion table-file
