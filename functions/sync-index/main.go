package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/recallx/corpus"
	"github.com/letmevibethatforyou/recallx/internal/cmdutil"
	"github.com/letmevibethatforyou/recallx/internal/config"
	"github.com/letmevibethatforyou/recallx/internal/ddb"
	"github.com/letmevibethatforyou/recallx/internal/logging"
	"github.com/letmevibethatforyou/recallx/pgvector"
	"github.com/letmevibethatforyou/recallx/report"
)

// documentWriter is the part of the pgvector client the handler needs.
type documentWriter interface {
	UpsertDocuments(ctx context.Context, index string, records []corpus.Record) error
	DeleteDocuments(ctx context.Context, index string, ids []string) error
}

type Handler struct {
	tableName string
	index     documentWriter
}

func NewHandler(tableName string, index documentWriter) *Handler {
	return &Handler{
		tableName: tableName,
		index:     index,
	}
}

func (h *Handler) HandleDynamoDBEvent(ctx context.Context, e ddb.DynamoDBEvent) error {
	slog.InfoContext(ctx, "Processing DynamoDB stream records", "record_count", len(e.Records), "table", h.tableName)

	for _, record := range e.Records {
		if err := h.processRecord(ctx, record); err != nil {
			slog.ErrorContext(ctx, "Error processing record", "event_id", record.EventID, "error", err)
			return err
		}
	}

	return nil
}

func (h *Handler) processRecord(ctx context.Context, record ddb.DynamoDBEventRecord) error {
	switch ddb.DynamoDBOperationType(record.EventName) {
	case ddb.DynamoDBOperationTypeInsert, ddb.DynamoDBOperationTypeModify:
		if record.Change.NewImage == nil {
			slog.WarnContext(ctx, "No new image for insert/modify operation, skipping record")
			return nil
		}

		parsed, err := ddb.UnmarshalRecord(record.Change.NewImage)
		if err != nil {
			slog.WarnContext(ctx, "Failed to unmarshal record, skipping", "error", err)
			return nil
		}
		if isReport(parsed.ID) {
			return nil
		}

		// Malformed rows are skipped; returning an error would make the
		// stream retry them forever.
		rec, err := parsed.CorpusRecord()
		if err != nil {
			slog.WarnContext(ctx, "Invalid corpus record, skipping", "error", err)
			return nil
		}

		slog.InfoContext(ctx, "Upserting record", "id", rec.ID, "index", parsed.IndexName)
		return h.index.UpsertDocuments(ctx, parsed.IndexName, []corpus.Record{rec})

	case ddb.DynamoDBOperationTypeRemove:
		parsed, err := ddb.UnmarshalRecord(record.Change.Keys)
		if err != nil {
			slog.WarnContext(ctx, "Failed to unmarshal keys for delete operation, skipping", "error", err)
			return nil
		}
		if isReport(parsed.ID) {
			return nil
		}
		if parsed.ID == "" || parsed.IndexName == "" {
			slog.WarnContext(ctx, "Missing ID or IndexName in delete record, skipping record")
			return nil
		}

		slog.InfoContext(ctx, "Deleting record", "id", parsed.ID, "index", parsed.IndexName)
		return h.index.DeleteDocuments(ctx, parsed.IndexName, []string{parsed.ID})

	default:
		slog.InfoContext(ctx, "Ignoring event type", "event_type", record.EventName)
		return nil
	}
}

// isReport reports whether pk belongs to a stored evaluation report rather
// than a corpus row.
func isReport(pk string) bool {
	return strings.HasPrefix(pk, report.KeyPrefix)
}

func main() {
	app := &cli.App{
		Name:  "sync-index",
		Usage: "Sync DynamoDB corpus stream events into pgvector",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "table-name",
				Usage:    "DynamoDB table name to sync from",
				EnvVars:  []string{"TABLE_NAME"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name; reads the {env}/pgvector secret",
				EnvVars: []string{"ENV", "ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "secret-arn",
				Usage:   "ARN of AWS Secrets Manager secret containing database credentials",
				EnvVars: []string{"PGVECTOR_SECRET_ARN"},
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "PostgreSQL connection string",
				EnvVars: []string{"PGVECTOR_DSN"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn or error",
				EnvVars: []string{"LOG_LEVEL"},
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

func runAction(c *cli.Context) error {
	ctx := c.Context
	tableName := c.String("table-name")

	slog.InfoContext(ctx, "Starting DynamoDB to pgvector sync", "table", tableName, "environment", c.String("env"))

	fetchSecrets, err := cmdutil.FetchSecrets(ctx, config.PGVectorConfig{
		DSN:       c.String("dsn"),
		SecretARN: c.String("secret-arn"),
		Env:       c.String("env"),
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to configure database credentials", "error", err)
		return err
	}

	client := pgvector.NewClient(fetchSecrets)
	defer client.Close()

	handler := NewHandler(tableName, client)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		slog.InfoContext(ctx, "Running in Lambda environment")
		lambda.Start(handler.HandleDynamoDBEvent)
	} else {
		slog.InfoContext(ctx, "Function cannot run outside of AWS Lambda environment")
	}

	return nil
}
