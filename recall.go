package recallx

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// ComputeRecall returns the aggregate recall of candidate against
// groundTruth: the number of ground-truth identifiers recovered by the
// candidate, summed over all queries, divided by the number of ground-truth
// identifiers.
//
// Both batches must answer the same queries in the same order. Lists are
// compared as identifier sets, so order, distances and duplicate entries do
// not affect the result.
//
// It fails with ErrMismatchedBatch when the batches differ in length and
// with ErrDegenerateInput when every ground-truth list is empty.
func ComputeRecall(candidate, groundTruth ResultBatch) (float64, error) {
	if err := checkAligned(candidate, groundTruth); err != nil {
		return 0, err
	}

	var matched, total int
	for i := range groundTruth {
		m, t := QueryRecall(candidate[i], groundTruth[i])
		matched += m
		total += t
	}
	return ratio(matched, total)
}

// QueryRecall returns, for a single query, how many distinct ground-truth
// identifiers the candidate list contains and how many distinct ground-truth
// identifiers there are.
func QueryRecall(candidate, groundTruth NeighborList) (matched, total int) {
	truth := groundTruth.idSet()
	seen := make(map[string]struct{}, len(candidate))
	for _, n := range candidate {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		if _, ok := truth[n.ID]; ok {
			matched++
		}
	}
	return matched, len(truth)
}

// ComputeRecallConcurrent computes the same value as ComputeRecall, splitting
// the queries across up to workers goroutines. A non-positive workers uses
// GOMAXPROCS.
func ComputeRecallConcurrent(ctx context.Context, candidate, groundTruth ResultBatch, workers int) (float64, error) {
	if err := checkAligned(candidate, groundTruth); err != nil {
		return 0, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	n := len(groundTruth)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		return ComputeRecall(candidate, groundTruth)
	}

	matched := make([]int, workers)
	total := make([]int, workers)
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, t := QueryRecall(candidate[i], groundTruth[i])
				matched[w] += m
				total[w] += t
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, ErrTimeout
		}
		return 0, ErrCanceled
	}

	var m, t int
	for w := range matched {
		m += matched[w]
		t += total[w]
	}
	return ratio(m, t)
}

// QueryResult is the recall of a single query.
type QueryResult struct {
	// Matched is the number of ground-truth identifiers the candidate recovered.
	Matched int `json:"matched"`
	// Total is the number of distinct ground-truth identifiers.
	Total int `json:"total"`
}

// Recall returns Matched/Total, or 0 when the ground truth is empty.
func (q QueryResult) Recall() float64 {
	if q.Total == 0 {
		return 0
	}
	return float64(q.Matched) / float64(q.Total)
}

// RecallBreakdown details an aggregate recall computation.
type RecallBreakdown struct {
	// Recall is the aggregate recall, identical to ComputeRecall.
	Recall float64 `json:"recall"`
	// Matched and Total are the aggregate counts behind Recall.
	Matched int `json:"matched"`
	Total   int `json:"total"`

	// MeanQueryRecall averages per-query recall over queries with a
	// non-empty ground truth.
	MeanQueryRecall float64 `json:"mean_query_recall"`
	// MinQueryRecall and MaxQueryRecall bound per-query recall over the
	// same queries.
	MinQueryRecall float64 `json:"min_query_recall"`
	MaxQueryRecall float64 `json:"max_query_recall"`

	// ZeroRecallQueries counts queries that recovered nothing.
	ZeroRecallQueries int `json:"zero_recall_queries"`
	// EmptyGroundTruthQueries counts queries whose ground truth was empty.
	EmptyGroundTruthQueries int `json:"empty_ground_truth_queries"`

	// Queries holds the per-query counts, index-aligned with the batches.
	Queries []QueryResult `json:"queries,omitempty"`
}

// Breakdown computes the aggregate recall along with per-query statistics.
// It fails under the same conditions as ComputeRecall.
func Breakdown(candidate, groundTruth ResultBatch) (*RecallBreakdown, error) {
	if err := checkAligned(candidate, groundTruth); err != nil {
		return nil, err
	}

	b := &RecallBreakdown{
		Queries:        make([]QueryResult, len(groundTruth)),
		MinQueryRecall: 1,
	}

	var sum float64
	var counted int
	for i := range groundTruth {
		m, t := QueryRecall(candidate[i], groundTruth[i])
		q := QueryResult{Matched: m, Total: t}
		b.Queries[i] = q
		b.Matched += m
		b.Total += t

		if t == 0 {
			b.EmptyGroundTruthQueries++
			continue
		}
		r := q.Recall()
		if m == 0 {
			b.ZeroRecallQueries++
		}
		sum += r
		counted++
		b.MinQueryRecall = min(b.MinQueryRecall, r)
		b.MaxQueryRecall = max(b.MaxQueryRecall, r)
	}

	recall, err := ratio(b.Matched, b.Total)
	if err != nil {
		return nil, err
	}
	b.Recall = recall
	b.MeanQueryRecall = sum / float64(counted)
	return b, nil
}

func checkAligned(candidate, groundTruth ResultBatch) error {
	if len(candidate) != len(groundTruth) {
		return errors.Wrapf(ErrMismatchedBatch, "candidate has %d lists, ground truth has %d", len(candidate), len(groundTruth))
	}
	return nil
}

func ratio(matched, total int) (float64, error) {
	if total == 0 {
		return 0, errors.Wrap(ErrDegenerateInput, "every ground-truth list is empty")
	}
	return float64(matched) / float64(total), nil
}
