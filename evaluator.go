package recallx

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Evaluator measures a candidate Searcher against a ground-truth Searcher
// over the same query batch.
type Evaluator struct {
	candidate   Searcher
	groundTruth Searcher
	tracer      trace.Tracer

	// groundTruthOpts are appended to the caller's options for the
	// ground-truth search only.
	groundTruthOpts []SearchOption
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithGroundTruthOptions adds options applied only to the ground-truth
// search, e.g. WithExact when both sides are the same backend.
func WithGroundTruthOptions(opts ...SearchOption) EvaluatorOption {
	return func(e *Evaluator) {
		e.groundTruthOpts = append(e.groundTruthOpts, opts...)
	}
}

// NewEvaluator creates an Evaluator comparing candidate to groundTruth.
func NewEvaluator(candidate, groundTruth Searcher, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		candidate:   candidate,
		groundTruth: groundTruth,
		tracer:      otel.Tracer("recallx"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluation is the outcome of one Evaluate call.
type Evaluation struct {
	// K is the requested neighbor count.
	K int `json:"k"`
	// QueryCount is the number of queries evaluated.
	QueryCount int `json:"query_count"`
	// Dimensions is the query dimensionality.
	Dimensions int `json:"dimensions"`

	// Breakdown holds the aggregate recall and per-query statistics.
	Breakdown *RecallBreakdown `json:"breakdown"`

	// CandidateLatency and GroundTruthLatency are the wall-clock durations of
	// the two batch searches.
	CandidateLatency   time.Duration `json:"candidate_latency"`
	GroundTruthLatency time.Duration `json:"ground_truth_latency"`

	// Candidate and GroundTruth are the raw result batches.
	Candidate   ResultBatch `json:"-"`
	GroundTruth ResultBatch `json:"-"`
}

// Recall returns the aggregate recall@k.
func (e *Evaluation) Recall() float64 {
	if e == nil || e.Breakdown == nil {
		return 0
	}
	return e.Breakdown.Recall
}

// Evaluate runs queries against both searchers concurrently and computes
// recall@k of the candidate results against the ground truth.
func (e *Evaluator) Evaluate(ctx context.Context, queries []Query, k int, opts ...SearchOption) (*Evaluation, error) {
	ctx, span := e.tracer.Start(ctx, "recallx.evaluate",
		trace.WithAttributes(
			attribute.Int("recallx.k", k),
			attribute.Int("recallx.query_count", len(queries)),
		),
	)
	defer span.End()

	eval, err := e.evaluate(ctx, queries, k, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		slog.ErrorContext(ctx, "evaluation failed", "k", k, "query_count", len(queries), "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Float64("recallx.recall", eval.Recall()))
	span.SetStatus(codes.Ok, "evaluation completed")
	slog.InfoContext(ctx, "evaluation completed",
		"k", k,
		"query_count", eval.QueryCount,
		"recall", eval.Recall(),
		"candidate_latency", eval.CandidateLatency,
		"ground_truth_latency", eval.GroundTruthLatency,
	)
	return eval, nil
}

func (e *Evaluator) evaluate(ctx context.Context, queries []Query, k int, opts []SearchOption) (*Evaluation, error) {
	if k <= 0 {
		return nil, errors.Wrapf(ErrInvalidK, "got %d", k)
	}
	dim, err := ValidateQueries(queries)
	if err != nil {
		return nil, err
	}
	if err := NewSearchConfig(opts...).Validate(); err != nil {
		return nil, err
	}

	eval := &Evaluation{
		K:          k,
		QueryCount: len(queries),
		Dimensions: dim,
	}

	gtOpts := append(append([]SearchOption(nil), opts...), e.groundTruthOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		batch, err := e.candidate.Search(gctx, queries, k, opts...)
		eval.CandidateLatency = time.Since(start)
		if err != nil {
			return errors.Wrap(err, "candidate search")
		}
		eval.Candidate = batch
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		batch, err := e.groundTruth.Search(gctx, queries, k, gtOpts...)
		eval.GroundTruthLatency = time.Since(start)
		if err != nil {
			return errors.Wrap(err, "ground-truth search")
		}
		eval.GroundTruth = batch
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if eval.Candidate.Len() != len(queries) {
		return nil, errors.Wrapf(ErrMismatchedBatch, "candidate answered %d of %d queries", eval.Candidate.Len(), len(queries))
	}

	breakdown, err := Breakdown(eval.Candidate, eval.GroundTruth)
	if err != nil {
		return nil, err
	}
	eval.Breakdown = breakdown
	return eval, nil
}
