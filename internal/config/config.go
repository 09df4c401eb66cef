package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/seirprior/dprior/internal/prior"
)

// #region config
// Config is the dprior.yaml file.
type Config struct {
	DBPath          string `yaml:"db_path"`
	Addr            string `yaml:"addr"`
	TableFile       string `yaml:"table_file"`        // empty: active table in DB, else built-in
	NonFinitePolicy string `yaml:"non_finite_policy"` // "reject" | "propagate"
	Workers         int    `yaml:"workers"`
	LogLevel        string `yaml:"log_level"`
	Watch           bool   `yaml:"watch"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath:          "dprior.db",
		Addr:            "localhost:50061",
		NonFinitePolicy: string(prior.PolicyReject),
		Workers:         runtime.GOMAXPROCS(0),
		LogLevel:        "info",
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if _, err := prior.ParsePolicy(c.NonFinitePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	if c.Watch && c.TableFile == "" {
		return errors.New("config: watch requires table_file")
	}
	return nil
}

// Policy returns the parsed non-finite policy.
func (c Config) Policy() prior.NonFinitePolicy {
	p, _ := prior.ParsePolicy(c.NonFinitePolicy)
	return p
}

// #endregion config

// #region env
func (c *Config) applyEnv() {
	c.DBPath = envOr("DPRIOR_DB", c.DBPath)
	c.Addr = envOr("DPRIOR_ADDR", c.Addr)
	c.TableFile = envOr("DPRIOR_TABLE", c.TableFile)
	c.NonFinitePolicy = envOr("DPRIOR_NONFINITE", c.NonFinitePolicy)
	c.LogLevel = envOr("DPRIOR_LOG_LEVEL", c.LogLevel)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion env
