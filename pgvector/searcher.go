package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/letmevibethatforyou/recallx"
)

// Searcher implements the recallx.Searcher interface on top of a pgvector table.
// Each query in a batch is one SQL statement; statements run concurrently up
// to the configured limit.
type Searcher struct {
	client      *Client
	indexName   string
	measure     recallx.DistanceMeasure
	concurrency int
	limiter     *rate.Limiter
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithConcurrency bounds the number of in-flight statements. Values <= 0 use
// GOMAXPROCS.
func WithConcurrency(n int) SearcherOption {
	return func(s *Searcher) {
		s.concurrency = n
	}
}

// WithQueriesPerSecond throttles statements sent to the database. Zero or a
// negative rate disables throttling.
func WithQueriesPerSecond(qps float64) SearcherOption {
	return func(s *Searcher) {
		if qps <= 0 {
			s.limiter = nil
			return
		}
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// NewSearcher creates a new pgvector searcher for the specified index.
// measure must match the operator class the index was created with.
func NewSearcher(client *Client, indexName string, measure recallx.DistanceMeasure, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		client:    client,
		indexName: indexName,
		measure:   measure,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = runtime.GOMAXPROCS(0)
	}
	return s
}

// Search implements the recallx.Searcher interface.
func (s *Searcher) Search(ctx context.Context, queries []recallx.Query, k int, opts ...recallx.SearchOption) (recallx.ResultBatch, error) {
	startTime := time.Now()

	// Check context
	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	default:
	}

	if k <= 0 {
		return nil, errors.Wrapf(recallx.ErrInvalidK, "got %d", k)
	}
	if err := validateIdentifier(s.indexName); err != nil {
		return nil, err
	}
	if !s.measure.Valid() {
		return nil, errors.Wrapf(recallx.ErrInvalidOption, "unknown distance measure %q", s.measure)
	}

	cfg := recallx.NewSearchConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if _, err := recallx.ValidateQueries(queries); err != nil {
		return nil, err
	}

	ctx, span := s.client.tracer.Start(ctx, "pgvector.search",
		trace.WithAttributes(
			attribute.String("pgvector.index_name", s.indexName),
			attribute.Int("pgvector.query_count", len(queries)),
			attribute.Int("pgvector.k", k),
			attribute.Bool("pgvector.exact", cfg.Exact),
		),
	)
	defer span.End()

	db, err := s.client.db()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database")
		return nil, backendError(err, "failed to get database")
	}

	batch := make(recallx.ResultBatch, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(gctx); err != nil {
					return errors.Wrap(err, "rate limit")
				}
			}
			list, err := s.searchOne(gctx, db, q, k, cfg)
			if err != nil {
				return errors.Wrapf(err, "query %q", q.ID)
			}
			batch[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		// errgroup cancels gctx on the first failure; report the caller's
		// context state if it ended, otherwise the first failure.
		if ctx.Err() != nil {
			return nil, contextError(ctx.Err())
		}
		return nil, backendError(err, "pgvector search on %s", s.indexName)
	}

	span.SetAttributes(attribute.Int64("pgvector.took_ms", time.Since(startTime).Milliseconds()))
	span.SetStatus(codes.Ok, "search completed")
	return batch, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Searcher) searchOne(ctx context.Context, db *sql.DB, q recallx.Query, k int, cfg *recallx.SearchConfig) (recallx.NeighborList, error) {
	query := buildSearchQuery(s.indexName, s.measure, q.Embedding, k, cfg.Restricts)

	settings := sessionSettings(cfg)
	if len(settings) == 0 {
		return scanNeighbors(ctx, db, query, k)
	}

	// SET LOCAL only lasts for the transaction, so the pooled connection is
	// returned with default planner settings.
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range settings {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrapf(err, "apply %q", stmt)
		}
	}
	return scanNeighbors(ctx, tx, query, k)
}

// sessionSettings returns the SET LOCAL statements a search config needs.
// Exact search disables index scans so the planner falls back to a
// sequential scan over every row.
func sessionSettings(cfg *recallx.SearchConfig) []string {
	var stmts []string
	if cfg.Exact {
		stmts = append(stmts, "SET LOCAL enable_indexscan = off")
	} else if cfg.EFSearch > 0 {
		stmts = append(stmts, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", cfg.EFSearch))
	}
	return stmts
}

func scanNeighbors(ctx context.Context, q querier, query searchQuery, k int) (recallx.NeighborList, error) {
	rows, err := q.QueryContext(ctx, query.sql, query.args...)
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	defer rows.Close()

	list := make(recallx.NeighborList, 0, k)
	for rows.Next() {
		var n recallx.Neighbor
		if err := rows.Scan(&n.ID, &n.Distance); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return list, nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return recallx.ErrTimeout
	}
	return recallx.ErrCanceled
}
