package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/recallx/corpus"
	"github.com/letmevibethatforyou/recallx/internal/cmdutil"
	"github.com/letmevibethatforyou/recallx/internal/config"
	"github.com/letmevibethatforyou/recallx/internal/logging"
	"github.com/letmevibethatforyou/recallx/pgvector"
)

const defaultBatchSize = 500

// indexAPI is the subset of the pgvector client used by the commands.
type indexAPI interface {
	CreateIndex(ctx context.Context, spec pgvector.IndexSpec) error
	DropIndex(ctx context.Context, name string) error
	UpsertDocuments(ctx context.Context, index string, records []corpus.Record) error
	Count(ctx context.Context, index string) (int64, error)
}

func main() {
	app := &cli.App{
		Name:  "index",
		Usage: "Manage pgvector indexes used for recall evaluation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration file; flags override its values",
				EnvVars: []string{"RECALLX_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "PostgreSQL connection string",
				EnvVars: []string{"PGVECTOR_DSN"},
			},
			&cli.StringFlag{
				Name:    "secret-arn",
				Usage:   "ARN of AWS Secrets Manager secret containing database credentials",
				EnvVars: []string{"PGVECTOR_SECRET_ARN"},
			},
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Environment name; reads the {env}/pgvector secret",
				EnvVars: []string{"ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "pgvector index (table) name",
				EnvVars: []string{"RECALLX_INDEX"},
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create the table and HNSW index",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "measure",
						Usage: "Distance measure: squared_l2, cosine or dot_product",
					},
					&cli.IntFlag{
						Name:    "dimensions",
						Aliases: []string{"d"},
						Usage:   "Embedding dimensionality",
					},
					&cli.IntFlag{
						Name:  "m",
						Usage: "HNSW m",
					},
					&cli.IntFlag{
						Name:  "ef-construction",
						Usage: "HNSW ef_construction",
					},
				},
				Action: withClient(createAction),
			},
			{
				Name:   "drop",
				Usage:  "Drop the table and its indexes",
				Action: withClient(dropAction),
			},
			{
				Name:      "load",
				Usage:     "Upsert a corpus JSONL file into the index",
				ArgsUsage: "<corpus.jsonl>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Records per upsert transaction",
						Value: defaultBatchSize,
					},
				},
				Action: withClient(loadAction),
			},
			{
				Name:   "count",
				Usage:  "Print the number of stored records",
				Action: withClient(countAction),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, if any, and applies explicitly set flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	for flag, dst := range map[string]*string{
		"dsn":        &cfg.PGVector.DSN,
		"secret-arn": &cfg.PGVector.SecretARN,
		"env":        &cfg.PGVector.Env,
		"index":      &cfg.Search.Index,
		"measure":    &cfg.Search.Measure,
	} {
		if c.IsSet(flag) {
			*dst = strings.TrimSpace(c.String(flag))
		}
	}
	for flag, dst := range map[string]*int{
		"dimensions":      &cfg.PGVector.Dimensions,
		"m":               &cfg.PGVector.M,
		"ef-construction": &cfg.PGVector.EFConstruction,
	} {
		if c.IsSet(flag) {
			*dst = c.Int(flag)
		}
	}

	if cfg.Search.Index == "" {
		return nil, fmt.Errorf("an index is required (--index or search.index)")
	}
	return cfg, nil
}

func withClient(action func(*cli.Context, *config.Config, indexAPI) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		fetchSecrets, err := cmdutil.FetchSecrets(c.Context, cfg.PGVector)
		if err != nil {
			return err
		}
		client := pgvector.NewClient(fetchSecrets)
		defer client.Close()

		return action(c, cfg, client)
	}
}

func createAction(c *cli.Context, cfg *config.Config, client indexAPI) error {
	measure, err := cfg.DistanceMeasure()
	if err != nil {
		return err
	}
	spec := pgvector.IndexSpec{
		Name:           cfg.Search.Index,
		Dimensions:     cfg.PGVector.Dimensions,
		Measure:        measure,
		M:              cfg.PGVector.M,
		EFConstruction: cfg.PGVector.EFConstruction,
	}

	slog.InfoContext(c.Context, "Creating index",
		"index", spec.Name,
		"dimensions", spec.Dimensions,
		"measure", measure,
		"m", spec.M,
		"ef_construction", spec.EFConstruction,
	)
	return client.CreateIndex(c.Context, spec)
}

func dropAction(c *cli.Context, cfg *config.Config, client indexAPI) error {
	slog.InfoContext(c.Context, "Dropping index", "index", cfg.Search.Index)
	return client.DropIndex(c.Context, cfg.Search.Index)
}

func loadAction(c *cli.Context, cfg *config.Config, client indexAPI) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("a corpus file is required")
	}
	total, err := loadCorpus(c.Context, client, cfg.Search.Index, path, c.Int("batch-size"))
	if err != nil {
		return err
	}
	slog.InfoContext(c.Context, "Corpus loaded", "index", cfg.Search.Index, "records", total)
	return nil
}

func countAction(c *cli.Context, cfg *config.Config, client indexAPI) error {
	n, err := client.Count(c.Context, cfg.Search.Index)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, n)
	return nil
}

// loadCorpus streams the file and upserts it in batches, returning the
// number of records written.
func loadCorpus(ctx context.Context, client indexAPI, index, path string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	total := 0
	batch := make([]corpus.Record, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := client.UpsertDocuments(ctx, index, batch); err != nil {
			return fmt.Errorf("failed to upsert records %d-%d: %w", total+1, total+len(batch), err)
		}
		total += len(batch)
		slog.DebugContext(ctx, "Upserted batch", "index", index, "total", total)
		batch = batch[:0]
		return nil
	}

	err := corpus.ForEach(path, func(rec corpus.Record) error {
		batch = append(batch, rec)
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
