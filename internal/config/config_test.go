package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/recallx"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recallx.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[search]
index = "glove_100"
measure = "cosine"
k = 100
ef_search = 200
ground_truth = "corpus"
corpus = "corpus.jsonl.zst"
timeout = "90s"

[[search.restricts]]
namespace = "class"
allow = ["cat", "dog"]

[[search.restricts]]
namespace = "color"
deny = ["red"]

[pgvector]
env = "staging"
dimensions = 100

[report]
store = "dynamodb"
table_name = "recallx-reports"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Search.Index != "glove_100" || cfg.Search.K != 100 || cfg.Search.EFSearch != 200 {
		t.Errorf("Unexpected search config %+v", cfg.Search)
	}
	if cfg.Search.Timeout.Duration != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %v", cfg.Search.Timeout)
	}
	if m, _ := cfg.DistanceMeasure(); m != recallx.Cosine {
		t.Errorf("Expected cosine, got %v", m)
	}
	if len(cfg.Search.Restricts) != 2 || cfg.Search.Restricts[0].Allow[1] != "dog" || cfg.Search.Restricts[1].Deny[0] != "red" {
		t.Errorf("Unexpected restricts %+v", cfg.Search.Restricts)
	}

	// Unset keys keep their defaults.
	if cfg.PGVector.M != 16 || cfg.PGVector.EFConstruction != 64 || cfg.PGVector.Env != "staging" {
		t.Errorf("Unexpected pgvector config %+v", cfg.PGVector)
	}
	if cfg.Report.Store != StoreDynamoDB || cfg.Report.SQLitePath != "data/recallx.db" {
		t.Errorf("Unexpected report config %+v", cfg.Report)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := writeConfig(t, "[search]\nkk = 10\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "search.kk") {
		t.Errorf("Expected unknown key error, got %v", err)
	}

	path = writeConfig(t, "[search]\ntimeout = \"soon\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad measure", mutate: func(c *Config) { c.Search.Measure = "hamming" }, wantErr: recallx.ErrInvalidOption},
		{name: "zero k", mutate: func(c *Config) { c.Search.K = 0 }, wantErr: recallx.ErrInvalidK},
		{name: "negative ef", mutate: func(c *Config) { c.Search.EFSearch = -1 }, wantErr: recallx.ErrInvalidOption},
		{
			name:    "bad restrict",
			mutate:  func(c *Config) { c.Search.Restricts = []recallx.Restrict{{Namespace: "class"}} },
			wantErr: recallx.ErrInvalidRestrict,
		},
		{name: "corpus without path", mutate: func(c *Config) { c.Search.GroundTruth = GroundTruthCorpus }, wantErr: recallx.ErrInvalidOption},
		{name: "unknown ground truth", mutate: func(c *Config) { c.Search.GroundTruth = "oracle" }, wantErr: recallx.ErrInvalidOption},
		{name: "dynamodb without table", mutate: func(c *Config) { c.Report.Store = StoreDynamoDB }, wantErr: recallx.ErrInvalidOption},
		{name: "no store", mutate: func(c *Config) { c.Report.Store = StoreNone }},
		{name: "unknown store", mutate: func(c *Config) { c.Report.Store = "s3" }, wantErr: recallx.ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
