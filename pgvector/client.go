// Package pgvector provides a lazy-loading PostgreSQL/pgvector client with
// configurable secret management, index management and a recallx.Searcher
// that runs nearest-neighbor queries against an HNSW index.
package pgvector

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/recallx"
	"github.com/letmevibethatforyou/recallx/corpus"
)

// Secrets holds the database connection credentials. Either DSN is set, or
// the discrete fields of an RDS-managed secret are.
type Secrets struct {
	// DSN is a full PostgreSQL connection string.
	DSN string `json:"dsn"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// ConnString returns the DSN, building one from the discrete fields when DSN
// is empty.
func (s Secrets) ConnString() (string, error) {
	if s.DSN != "" {
		return s.DSN, nil
	}
	if s.Host == "" {
		return "", errors.New("DSN and host are both empty")
	}

	port := s.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(port)),
		Path:   "/" + s.DBName,
	}
	if s.Username != "" {
		u.User = url.UserPassword(s.Username, s.Password)
	}
	if s.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {s.SSLMode}}.Encode()
	}
	return u.String(), nil
}

// FetchSecrets is a function type that retrieves database credentials.
// It allows for different secret retrieval strategies (static, environment variables, etc.).
type FetchSecrets func() (Secrets, error)

// StaticSecrets returns a FetchSecrets function that provides a fixed DSN.
func StaticSecrets(dsn string) FetchSecrets {
	return func() (Secrets, error) {
		return Secrets{DSN: dsn}, nil
	}
}

// EnvSecrets reads the DSN from PGVECTOR_DSN.
func EnvSecrets() FetchSecrets {
	return func() (Secrets, error) {
		dsn := os.Getenv("PGVECTOR_DSN")
		if dsn == "" {
			return Secrets{}, errors.New("PGVECTOR_DSN environment variable is not set")
		}
		return Secrets{DSN: dsn}, nil
	}
}

// ErrClosed is returned by every operation on a Client after Close.
var ErrClosed = errors.New("pgvector: client is closed")

// Client holds a lazily opened connection pool. The pool is opened and pinged
// on first use; a failure is remembered for the client's lifetime. A Client
// cannot be reused after Close.
type Client struct {
	getDB  func() (*sql.DB, error)
	tracer trace.Tracer

	mu     sync.Mutex
	opened *sql.DB
	closed bool
}

func NewClient(fetchSecrets FetchSecrets) *Client {
	c := &Client{tracer: otel.Tracer("recallx-pgvector")}

	c.getDB = sync.OnceValues(func() (*sql.DB, error) {
		secrets, err := fetchSecrets()
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch secrets")
		}

		dsn, err := secrets.ConnString()
		if err != nil {
			return nil, err
		}

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open database")
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "ping database")
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			_ = db.Close()
			return nil, ErrClosed
		}
		c.opened = db
		return db, nil
	})

	return c
}

// db returns the pool, opening it on first use.
func (c *Client) db() (*sql.DB, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return c.getDB()
}

// Close closes the connection pool if it was opened. Later calls on the
// client fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.opened == nil {
		return nil
	}
	err := c.opened.Close()
	c.opened = nil
	return err
}

// IndexSpec describes a vector table and its HNSW index.
type IndexSpec struct {
	// Name is the table name. Letters, digits and underscores only.
	Name string
	// Dimensions is the embedding dimensionality.
	Dimensions int
	// Measure selects the HNSW operator class.
	Measure recallx.DistanceMeasure
	// M is the maximum number of connections per HNSW node. Defaults to 16.
	M int
	// EFConstruction is the build-time candidate list size. Defaults to 64.
	EFConstruction int
}

func (s IndexSpec) withDefaults() IndexSpec {
	if s.M == 0 {
		s.M = 16
	}
	if s.EFConstruction == 0 {
		s.EFConstruction = 64
	}
	return s
}

// Validate checks that s can be turned into DDL.
func (s IndexSpec) Validate() error {
	if err := validateIdentifier(s.Name); err != nil {
		return err
	}
	if s.Dimensions <= 0 {
		return errors.Wrapf(recallx.ErrInvalidOption, "index %q: dimensions must be positive, got %d", s.Name, s.Dimensions)
	}
	if !s.Measure.Valid() {
		return errors.Wrapf(recallx.ErrInvalidOption, "index %q: unknown distance measure %q", s.Name, s.Measure)
	}
	if s.M < 0 || s.EFConstruction < 0 {
		return errors.Wrapf(recallx.ErrInvalidOption, "index %q: negative HNSW parameters", s.Name)
	}
	return nil
}

// CreateIndex creates the vector extension, the table and its HNSW index if
// they do not exist yet.
func (c *Client) CreateIndex(ctx context.Context, spec IndexSpec) error {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "pgvector.create_index",
		trace.WithAttributes(
			attribute.String("pgvector.index_name", spec.Name),
			attribute.Int("pgvector.dimensions", spec.Dimensions),
			attribute.String("pgvector.measure", spec.Measure.String()),
		),
	)
	defer span.End()

	db, err := c.db()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database")
		return backendError(err, "failed to get database")
	}

	for _, stmt := range createIndexStatements(spec) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create index "+spec.Name)
			return backendError(err, "create index %s", spec.Name)
		}
	}

	span.SetStatus(codes.Ok, "index created")
	return nil
}

// DropIndex drops the table and its index.
func (c *Client) DropIndex(ctx context.Context, name string) error {
	if err := validateIdentifier(name); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "pgvector.drop_index",
		trace.WithAttributes(attribute.String("pgvector.index_name", name)),
	)
	defer span.End()

	db, err := c.db()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database")
		return backendError(err, "failed to get database")
	}

	if _, err := db.ExecContext(ctx, dropIndexStatement(name)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to drop index "+name)
		return backendError(err, "drop index %s", name)
	}

	span.SetStatus(codes.Ok, "index dropped")
	return nil
}

// UpsertDocuments inserts or replaces records in one transaction.
func (c *Client) UpsertDocuments(ctx context.Context, index string, records []corpus.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateIdentifier(index); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "pgvector.upsert_documents",
		trace.WithAttributes(
			attribute.String("pgvector.index_name", index),
			attribute.Int("pgvector.document_count", len(records)),
		),
	)
	defer span.End()

	err := c.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertStatement(index))
		if err != nil {
			return errors.Wrap(err, "prepare upsert")
		}
		defer stmt.Close()

		for _, rec := range records {
			restricts, err := encodeRestricts(rec.Restricts)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, rec.ID, formatEmbedding(rec.Embedding), restricts, rec.CrowdingTag); err != nil {
				return errors.Wrapf(err, "upsert document %q", rec.ID)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert documents")
		return backendError(err, "upsert %d documents into %s", len(records), index)
	}

	span.SetStatus(codes.Ok, "documents upserted")
	return nil
}

// DeleteDocuments removes records by ID. Missing IDs are ignored.
func (c *Client) DeleteDocuments(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := validateIdentifier(index); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "pgvector.delete_documents",
		trace.WithAttributes(
			attribute.String("pgvector.index_name", index),
			attribute.Int("pgvector.document_count", len(ids)),
		),
	)
	defer span.End()

	db, err := c.db()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database")
		return backendError(err, "failed to get database")
	}

	if _, err := db.ExecContext(ctx, deleteStatement(index), ids); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete documents")
		return backendError(err, "delete %d documents from %s", len(ids), index)
	}

	span.SetStatus(codes.Ok, "documents deleted")
	return nil
}

// Count returns the number of rows in an index.
func (c *Client) Count(ctx context.Context, index string) (int64, error) {
	if err := validateIdentifier(index); err != nil {
		return 0, err
	}

	db, err := c.db()
	if err != nil {
		return 0, backendError(err, "failed to get database")
	}

	var n int64
	if err := db.QueryRowContext(ctx, countStatement(index)).Scan(&n); err != nil {
		return 0, backendError(err, "count %s", index)
	}
	return n, nil
}

func (c *Client) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	db, err := c.db()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		return errors.CombineErrors(err, tx.Rollback())
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// backendError maps driver and context errors onto the recallx sentinels.
func backendError(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, ErrClosed):
		return errors.Wrapf(err, format, args...)
	case errors.Is(err, context.DeadlineExceeded):
		return recallx.ErrTimeout
	case errors.Is(err, context.Canceled):
		return recallx.ErrCanceled
	default:
		return errors.WithSecondaryError(
			recallx.ErrBackendUnavailable,
			errors.Wrapf(err, format, args...),
		)
	}
}
