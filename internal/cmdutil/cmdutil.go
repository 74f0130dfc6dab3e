// Package cmdutil holds the wiring shared by the recallx commands: credential
// selection, restrict flags and report stores.
package cmdutil

import (
	"context"
	"io"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/recallx"
	"github.com/letmevibethatforyou/recallx/internal/config"
	"github.com/letmevibethatforyou/recallx/pgvector"
	"github.com/letmevibethatforyou/recallx/report"
)

// FetchSecrets picks the credential strategy for the pgvector client, in
// order of precedence: an explicit DSN, a secret ARN, an environment secret
// path, and finally PGVECTOR_DSN.
func FetchSecrets(ctx context.Context, cfg config.PGVectorConfig) (pgvector.FetchSecrets, error) {
	switch {
	case cfg.DSN != "":
		slog.InfoContext(ctx, "Using static database credentials")
		return pgvector.StaticSecrets(cfg.DSN), nil
	case cfg.SecretARN != "":
		slog.InfoContext(ctx, "Using AWS Secrets Manager for database credentials", "secret_arn", cfg.SecretARN)
		client, err := secretsClient(ctx)
		if err != nil {
			return nil, err
		}
		return pgvector.AWSSecretsFromARN(ctx, client, cfg.SecretARN), nil
	case cfg.Env != "":
		slog.InfoContext(ctx, "Using AWS Secrets Manager for database credentials", "environment", cfg.Env)
		client, err := secretsClient(ctx)
		if err != nil {
			return nil, err
		}
		return pgvector.AWSSecrets(ctx, client, cfg.Env), nil
	default:
		slog.InfoContext(ctx, "Using environment variables for database credentials")
		return pgvector.EnvSecrets(), nil
	}
}

func secretsClient(ctx context.Context) (*secretsmanager.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// ParseRestricts turns "namespace=token1,token2" flag values into restricts.
// A namespace given more than once is kept as separate restricts.
func ParseRestricts(allow, deny []string) ([]recallx.Restrict, error) {
	var restricts []recallx.Restrict
	for _, raw := range allow {
		ns, tokens, err := parseRestrict(raw)
		if err != nil {
			return nil, err
		}
		restricts = append(restricts, recallx.Allow(ns, tokens...))
	}
	for _, raw := range deny {
		ns, tokens, err := parseRestrict(raw)
		if err != nil {
			return nil, err
		}
		restricts = append(restricts, recallx.Deny(ns, tokens...))
	}
	return restricts, nil
}

func parseRestrict(raw string) (string, []string, error) {
	ns, list, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return "", nil, errors.Wrapf(recallx.ErrInvalidRestrict, "restrict must be in namespace=token[,token] format: %q", raw)
	}
	ns = strings.TrimSpace(ns)

	var tokens []string
	for _, tok := range strings.Split(list, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}

	r := recallx.Restrict{Namespace: ns, Allow: tokens}
	if err := r.Validate(); err != nil {
		return "", nil, errors.Wrapf(err, "restrict %q", raw)
	}
	return ns, tokens, nil
}

// OpenStore opens the configured report store. It returns a nil Store and a
// no-op closer when reports are disabled.
func OpenStore(ctx context.Context, cfg config.ReportConfig) (report.Store, io.Closer, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := report.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case config.StoreDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to load AWS config")
		}
		return report.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.TableName), nopCloser{}, nil
	default:
		return nil, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
