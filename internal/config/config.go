// Package config loads the TOML configuration shared by the recallx commands.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/recallx"
)

// Ground-truth sources.
const (
	GroundTruthRemote = "remote"
	GroundTruthCorpus = "corpus"
)

// Report stores.
const (
	StoreNone     = "none"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
)

type Config struct {
	LogLevel string         `toml:"log_level"`
	Search   SearchConfig   `toml:"search"`
	PGVector PGVectorConfig `toml:"pgvector"`
	Report   ReportConfig   `toml:"report"`
}

type SearchConfig struct {
	Index            string             `toml:"index"`
	Measure          string             `toml:"measure"`
	K                int                `toml:"k"`
	EFSearch         int                `toml:"ef_search"`
	Concurrency      int                `toml:"concurrency"`
	QueriesPerSecond float64            `toml:"queries_per_second"`
	GroundTruth      string             `toml:"ground_truth"`
	Corpus           string             `toml:"corpus"`
	Queries          string             `toml:"queries"`
	Timeout          Duration           `toml:"timeout"`
	Restricts        []recallx.Restrict `toml:"restricts"`
}

type PGVectorConfig struct {
	// DSN takes precedence over the secret settings.
	DSN       string `toml:"dsn"`
	SecretARN string `toml:"secret_arn"`
	// Env selects the "{env}/pgvector" secret.
	Env            string `toml:"env"`
	Dimensions     int    `toml:"dimensions"`
	M              int    `toml:"m"`
	EFConstruction int    `toml:"ef_construction"`
}

type ReportConfig struct {
	Store      string `toml:"store"`
	SQLitePath string `toml:"sqlite_path"`
	TableName  string `toml:"table_name"`
}

// Duration decodes TOML strings such as "90s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Search: SearchConfig{
			Measure:     recallx.SquaredL2.String(),
			K:           10,
			GroundTruth: GroundTruthRemote,
			Timeout:     Duration{5 * time.Minute},
		},
		PGVector: PGVectorConfig{
			M:              16,
			EFConstruction: 64,
		},
		Report: ReportConfig{
			Store:      StoreSQLite,
			SQLitePath: "data/recallx.db",
		},
	}
}

// Load reads path on top of the defaults. Unknown keys are an error so that
// typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// DistanceMeasure parses Search.Measure.
func (c *Config) DistanceMeasure() (recallx.DistanceMeasure, error) {
	return recallx.ParseDistanceMeasure(c.Search.Measure)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := c.DistanceMeasure(); err != nil {
		return err
	}
	if c.Search.K <= 0 {
		return errors.Wrapf(recallx.ErrInvalidK, "search.k = %d", c.Search.K)
	}
	if c.Search.EFSearch < 0 || c.Search.Concurrency < 0 || c.Search.QueriesPerSecond < 0 {
		return errors.Wrap(recallx.ErrInvalidOption, "search: ef_search, concurrency and queries_per_second must not be negative")
	}
	for _, r := range c.Search.Restricts {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	switch c.Search.GroundTruth {
	case GroundTruthRemote:
	case GroundTruthCorpus:
		if c.Search.Corpus == "" {
			return errors.Wrap(recallx.ErrInvalidOption, "search.corpus is required when ground_truth = \"corpus\"")
		}
	default:
		return errors.Wrapf(recallx.ErrInvalidOption, "search.ground_truth must be %q or %q, got %q", GroundTruthRemote, GroundTruthCorpus, c.Search.GroundTruth)
	}

	switch c.Report.Store {
	case StoreNone, "":
	case StoreSQLite:
		if c.Report.SQLitePath == "" {
			return errors.Wrap(recallx.ErrInvalidOption, "report.sqlite_path is required for the sqlite store")
		}
	case StoreDynamoDB:
		if c.Report.TableName == "" {
			return errors.Wrap(recallx.ErrInvalidOption, "report.table_name is required for the dynamodb store")
		}
	default:
		return errors.Wrapf(recallx.ErrInvalidOption, "unknown report.store %q", c.Report.Store)
	}
	return nil
}
