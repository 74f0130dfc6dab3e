package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/recallx"
	"github.com/letmevibethatforyou/recallx/corpus"
	"github.com/letmevibethatforyou/recallx/inmemory"
	"github.com/letmevibethatforyou/recallx/internal/cmdutil"
	"github.com/letmevibethatforyou/recallx/internal/config"
	"github.com/letmevibethatforyou/recallx/internal/logging"
	"github.com/letmevibethatforyou/recallx/pgvector"
	"github.com/letmevibethatforyou/recallx/report"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "evaluate",
		Usage: "Measure recall@k of a pgvector index against exact ground truth",
		// Restrict values carry comma-separated tokens.
		DisableSliceFlagSeparator: true,
		Flags:                     evaluateFlags(),
		Before:                    setupLogging,
		Action:                    runAction,
		Commands: []*cli.Command{
			{
				Name:  "history",
				Usage: "List stored evaluation reports, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of reports to list; 0 lists all",
						Value:   20,
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Show a single report",
					},
				},
				Action: historyAction,
			},
		},
	}
}

func evaluateFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:    "index",
			Aliases: []string{"i"},
			Usage:   "pgvector index (table) name",
			EnvVars: []string{"RECALLX_INDEX"},
		},
		&cli.StringFlag{
			Name:    "queries",
			Aliases: []string{"q"},
			Usage:   "JSONL file of queries ({id, embedding}); .gz and .zst are decompressed",
		},
		&cli.IntFlag{
			Name:  "k",
			Usage: "Number of neighbors to retrieve per query",
		},
		&cli.StringFlag{
			Name:  "measure",
			Usage: "Distance measure: squared_l2, cosine or dot_product",
		},
		&cli.IntFlag{
			Name:  "ef-search",
			Usage: "HNSW ef_search for the candidate search; 0 keeps the server default",
		},
		&cli.StringFlag{
			Name:  "ground-truth",
			Usage: "Ground-truth source: remote (exact scan on the same index) or corpus (in-memory brute force)",
		},
		&cli.StringFlag{
			Name:  "corpus",
			Usage: "Corpus JSONL used when --ground-truth=corpus",
		},
		&cli.StringSliceFlag{
			Name:  "restrict",
			Usage: "Allow restrict in namespace=token[,token] format; repeatable",
		},
		&cli.StringSliceFlag{
			Name:  "deny",
			Usage: "Deny restrict in namespace=token[,token] format; repeatable",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum concurrent queries against the database",
		},
		&cli.Float64Flag{
			Name:  "qps",
			Usage: "Maximum queries per second sent to the database; 0 disables throttling",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Timeout for the whole evaluation",
		},
		&cli.BoolFlag{
			Name:  "per-query",
			Usage: "Include per-query recall in the output",
		},
		&cli.BoolFlag{
			Name:  "no-save",
			Usage: "Do not persist the report",
		},
	)
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
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
			Name:  "report-store",
			Usage: "Where to keep reports: sqlite, dynamodb or none",
		},
		&cli.StringFlag{
			Name:  "sqlite-path",
			Usage: "SQLite database for reports",
		},
		&cli.StringFlag{
			Name:    "table-name",
			Aliases: []string{"t"},
			Usage:   "DynamoDB table for reports",
			EnvVars: []string{"TABLE_NAME"},
		},
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

	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = strings.TrimSpace(c.String(flag))
		}
	}
	setInt := func(flag string, dst *int) {
		if c.IsSet(flag) {
			*dst = c.Int(flag)
		}
	}

	setString("log-level", &cfg.LogLevel)
	setString("dsn", &cfg.PGVector.DSN)
	setString("secret-arn", &cfg.PGVector.SecretARN)
	setString("env", &cfg.PGVector.Env)
	setString("report-store", &cfg.Report.Store)
	setString("sqlite-path", &cfg.Report.SQLitePath)
	setString("table-name", &cfg.Report.TableName)

	setString("index", &cfg.Search.Index)
	setString("queries", &cfg.Search.Queries)
	setString("measure", &cfg.Search.Measure)
	setString("ground-truth", &cfg.Search.GroundTruth)
	setString("corpus", &cfg.Search.Corpus)
	setInt("k", &cfg.Search.K)
	setInt("ef-search", &cfg.Search.EFSearch)
	setInt("concurrency", &cfg.Search.Concurrency)
	if c.IsSet("qps") {
		cfg.Search.QueriesPerSecond = c.Float64("qps")
	}
	if c.IsSet("timeout") {
		cfg.Search.Timeout = config.Duration{Duration: c.Duration("timeout")}
	}

	if c.IsSet("restrict") || c.IsSet("deny") {
		restricts, err := cmdutil.ParseRestricts(c.StringSlice("restrict"), c.StringSlice("deny"))
		if err != nil {
			return nil, err
		}
		cfg.Search.Restricts = restricts
	}

	return cfg, nil
}

func setupLogging(c *cli.Context) error {
	level := c.String("log-level")
	if level == "" && c.String("config") != "" {
		if cfg, err := config.Load(c.String("config")); err == nil {
			level = cfg.LogLevel
		}
	}
	logging.Setup(level)
	return nil
}

func runAction(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Search.Index == "" {
		return fmt.Errorf("an index is required (--index or search.index)")
	}
	if cfg.Search.Queries == "" {
		return fmt.Errorf("a query file is required (--queries or search.queries)")
	}
	measure, _ := cfg.DistanceMeasure()

	queries, err := corpus.ReadQueries(cfg.Search.Queries)
	if err != nil {
		return fmt.Errorf("failed to read queries: %w", err)
	}

	fetchSecrets, err := cmdutil.FetchSecrets(ctx, cfg.PGVector)
	if err != nil {
		return err
	}
	client := pgvector.NewClient(fetchSecrets)
	defer client.Close()

	candidate := pgvector.NewSearcher(client, cfg.Search.Index, measure,
		pgvector.WithConcurrency(cfg.Search.Concurrency),
		pgvector.WithQueriesPerSecond(cfg.Search.QueriesPerSecond),
	)

	evaluator, err := newEvaluator(ctx, cfg, measure, candidate)
	if err != nil {
		return err
	}

	opts := make([]recallx.SearchOption, 0, len(cfg.Search.Restricts)+1)
	for _, r := range cfg.Search.Restricts {
		opts = append(opts, r)
	}
	if cfg.Search.EFSearch > 0 {
		opts = append(opts, recallx.WithEFSearch(cfg.Search.EFSearch))
	}

	if cfg.Search.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Search.Timeout.Duration)
		defer cancel()
	}

	slog.InfoContext(ctx, "Starting evaluation",
		"index", cfg.Search.Index,
		"ground_truth", cfg.Search.GroundTruth,
		"measure", measure,
		"k", cfg.Search.K,
		"query_count", len(queries),
		"restrict_count", len(cfg.Search.Restricts),
	)

	evaluation, err := evaluator.Evaluate(ctx, queries, cfg.Search.K, opts...)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	rep, err := report.FromEvaluation(report.Metadata{
		Index:       cfg.Search.Index,
		GroundTruth: cfg.Search.GroundTruth,
		Measure:     measure,
		Restricts:   cfg.Search.Restricts,
	}, evaluation)
	if err != nil {
		return err
	}

	if !c.Bool("no-save") {
		if err := saveReport(c.Context, cfg.Report, rep); err != nil {
			return err
		}
	}

	var perQuery []queryRecall
	if c.Bool("per-query") {
		perQuery = perQueryRecall(queries, evaluation.Breakdown)
	}
	return printJSON(os.Stdout, output{Report: rep, Queries: perQuery})
}

func newEvaluator(ctx context.Context, cfg *config.Config, measure recallx.DistanceMeasure, candidate recallx.Searcher) (*recallx.Evaluator, error) {
	if cfg.Search.GroundTruth == config.GroundTruthCorpus {
		slog.InfoContext(ctx, "Loading corpus for exact ground truth", "corpus", cfg.Search.Corpus)
		groundTruth, err := inmemory.LoadCorpus(cfg.Search.Corpus, measure)
		if err != nil {
			return nil, fmt.Errorf("failed to load corpus: %w", err)
		}
		slog.InfoContext(ctx, "Corpus loaded", "documents", groundTruth.Size(), "dimensions", groundTruth.Dimensions())
		return recallx.NewEvaluator(candidate, groundTruth), nil
	}

	// The same index answers both sides; the ground-truth side disables the
	// index scan.
	return recallx.NewEvaluator(candidate, candidate, recallx.WithGroundTruthOptions(recallx.WithExact())), nil
}

func saveReport(ctx context.Context, cfg config.ReportConfig, rep report.Report) error {
	store, closer, err := cmdutil.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	defer closer.Close()

	if store == nil {
		return nil
	}
	if err := store.Save(ctx, rep); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	slog.InfoContext(ctx, "Report saved", "id", rep.ID, "store", cfg.Store)
	return nil
}

func historyAction(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, closer, err := cmdutil.OpenStore(ctx, cfg.Report)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	defer closer.Close()
	if store == nil {
		return fmt.Errorf("report store is disabled")
	}

	if id := c.String("id"); id != "" {
		rep, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, rep)
	}

	reports, err := store.List(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, reports)
}

type queryRecall struct {
	ID      string  `json:"id"`
	Matched int     `json:"matched"`
	Total   int     `json:"total"`
	Recall  float64 `json:"recall"`
}

type output struct {
	Report  report.Report `json:"report"`
	Queries []queryRecall `json:"queries,omitempty"`
}

func perQueryRecall(queries []recallx.Query, b *recallx.RecallBreakdown) []queryRecall {
	out := make([]queryRecall, len(b.Queries))
	for i, q := range b.Queries {
		out[i] = queryRecall{
			ID:      queries[i].ID,
			Matched: q.Matched,
			Total:   q.Total,
			Recall:  q.Recall(),
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
