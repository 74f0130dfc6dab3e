package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/recallx"
	"github.com/letmevibethatforyou/recallx/corpus"
	"github.com/letmevibethatforyou/recallx/internal/ddb"
	"github.com/letmevibethatforyou/recallx/internal/logging"
)

var (
	classes = []string{"cat", "dog", "bird", "fish", "horse", "rabbit", "snake", "turtle"}
	colors  = []string{"red", "blue", "black", "white", "green", "yellow"}
)

// generator produces clustered random records so that nearest neighbors are
// meaningful rather than uniformly spread.
type generator struct {
	rng       *rand.Rand
	dim       int
	normalize bool
	centroids [][]float32
}

func newGenerator(seed uint64, dim, clusters int, normalize bool) *generator {
	if clusters < 1 {
		clusters = 1
	}
	g := &generator{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		dim:       dim,
		normalize: normalize,
	}
	g.centroids = make([][]float32, clusters)
	for i := range g.centroids {
		c := make([]float32, dim)
		for j := range c {
			c[j] = float32(g.rng.NormFloat64())
		}
		g.centroids[i] = c
	}
	return g
}

func (g *generator) vector() []float32 {
	centroid := g.centroids[g.rng.IntN(len(g.centroids))]
	v := make([]float32, g.dim)
	for i := range v {
		v[i] = centroid[i] + float32(g.rng.NormFloat64()*0.3)
	}
	if g.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if n := math.Sqrt(sum); n > 0 {
			for i := range v {
				v[i] = float32(float64(v[i]) / n)
			}
		}
	}
	return v
}

func (g *generator) record() corpus.Record {
	restricts := []recallx.Restrict{
		recallx.Allow("class", classes[g.rng.IntN(len(classes))]),
		recallx.Allow("color", colors[g.rng.IntN(len(colors))]),
	}
	// A few items opt out of some queries.
	if g.rng.IntN(10) == 0 {
		restricts = append(restricts, recallx.Deny("class", classes[g.rng.IntN(len(classes))]))
	}
	return corpus.Record{
		ID:        ksuid.New().String(),
		Embedding: g.vector(),
		Restricts: restricts,
	}
}

func (g *generator) query() corpus.Record {
	return corpus.Record{
		ID:        ksuid.New().String(),
		Embedding: g.vector(),
	}
}

func writeFile(ctx context.Context, path string, count int, next func() corpus.Record) error {
	w, err := corpus.Create(path)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		if err := w.Write(next()); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to write record %d: %w", i+1, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	slog.InfoContext(ctx, "Wrote records", "path", path, "count", count)
	return nil
}

type putItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

func insertRecord(ctx context.Context, client putItemAPI, tableName, indexName string, rec corpus.Record) error {
	item, err := ddb.MarshalRecord(ddb.NewRecord(indexName, rec))
	if err != nil {
		return fmt.Errorf("failed to marshal corpus record: %w", err)
	}

	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}

	slog.DebugContext(ctx, "Inserted corpus record", "id", rec.ID, "index", indexName)
	return nil
}

func runAction(c *cli.Context) error {
	ctx := c.Context
	count := c.Int("count")
	dim := c.Int("dimensions")
	tableName := c.String("table-name")

	if count <= 0 || dim <= 0 {
		return fmt.Errorf("count and dimensions must be positive")
	}

	seed := c.Uint64("seed")
	if !c.IsSet("seed") {
		seed = rand.Uint64()
	}
	g := newGenerator(seed, dim, c.Int("clusters"), c.Bool("normalize"))

	slog.InfoContext(ctx, "Starting corpus generator",
		"count", count,
		"dimensions", dim,
		"seed", seed,
		"table", tableName,
	)

	if out := c.String("output"); out != "" {
		if err := writeFile(ctx, out, count, g.record); err != nil {
			return err
		}
	}

	if tableName != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(cfg)
		indexName := c.String("index")

		for i := 0; i < count; i++ {
			if err := insertRecord(ctx, client, tableName, indexName, g.record()); err != nil {
				return fmt.Errorf("failed to insert record %d: %w", i+1, err)
			}
		}
		slog.InfoContext(ctx, "Successfully inserted all corpus records", "count", count, "table", tableName)
	}

	if out := c.String("queries-output"); out != "" {
		if err := writeFile(ctx, out, c.Int("query-count"), g.query); err != nil {
			return err
		}
	}

	return nil
}

func main() {
	app := &cli.App{
		Name:  "generator",
		Usage: "Generate a random clustered vector corpus and query set",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "Number of corpus records to generate",
				Value:   1000,
			},
			&cli.IntFlag{
				Name:    "dimensions",
				Aliases: []string{"d"},
				Usage:   "Embedding dimensionality",
				Value:   64,
			},
			&cli.IntFlag{
				Name:  "clusters",
				Usage: "Number of clusters the vectors are drawn around",
				Value: 16,
			},
			&cli.BoolFlag{
				Name:  "normalize",
				Usage: "Normalize vectors to unit length",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Random seed; random when unset",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Corpus JSONL output file (.gz or .zst to compress)",
			},
			&cli.StringFlag{
				Name:  "queries-output",
				Usage: "Query JSONL output file",
			},
			&cli.IntFlag{
				Name:  "query-count",
				Usage: "Number of queries to generate",
				Value: 100,
			},
			&cli.StringFlag{
				Name:    "table-name",
				Aliases: []string{"t"},
				Usage:   "DynamoDB table to put corpus records into",
				EnvVars: []string{"TABLE_NAME"},
			},
			&cli.StringFlag{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "Index name stored in the sort key of DynamoDB records",
				EnvVars: []string{"RECALLX_INDEX"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.String("log-level"))
			return nil
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}
