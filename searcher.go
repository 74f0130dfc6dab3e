package recallx

import "context"

// Searcher is the batch nearest-neighbor capability of a vector index.
// Approximate and exact (brute-force) backends share this contract, which is
// what lets one be measured against the other.
type Searcher interface {
	// Search returns one NeighborList per query, in query order, each holding
	// at most k neighbors ordered closest first.
	Search(ctx context.Context, queries []Query, k int, opts ...SearchOption) (ResultBatch, error)
}

// SearcherFunc is a function type that implements the Searcher interface.
// This allows using a function as a Searcher, similar to http.HandlerFunc.
type SearcherFunc func(context.Context, []Query, int, ...SearchOption) (ResultBatch, error)

// Search implements the Searcher interface for SearcherFunc.
func (f SearcherFunc) Search(ctx context.Context, queries []Query, k int, opts ...SearchOption) (ResultBatch, error) {
	return f(ctx, queries, k, opts...)
}
