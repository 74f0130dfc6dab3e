package inmemory

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recallx"
)

func randomVectors(r *rand.Rand, n, dim int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()*2 - 1
		}
		vectors[i] = v
	}
	return vectors
}

func TestDistanceMeasures(t *testing.T) {
	tests := []struct {
		name     string
		measure  recallx.DistanceMeasure
		query    []float32
		doc      []float32
		expected float64
	}{
		{name: "squared l2", measure: recallx.SquaredL2, query: []float32{1, 2}, doc: []float32{4, 6}, expected: 25},
		{name: "dot product", measure: recallx.DotProduct, query: []float32{1, 2}, doc: []float32{3, 4}, expected: -11},
		{name: "cosine same direction", measure: recallx.Cosine, query: []float32{1, 1}, doc: []float32{2, 2}, expected: 0},
		{name: "cosine orthogonal", measure: recallx.Cosine, query: []float32{1, 0}, doc: []float32{0, 1}, expected: 1},
		{name: "cosine opposite", measure: recallx.Cosine, query: []float32{1, 0}, doc: []float32{-1, 0}, expected: 2},
		{name: "cosine zero vector", measure: recallx.Cosine, query: []float32{0, 0}, doc: []float32{1, 0}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.measure)
			doc := Document{ID: "d", Embedding: tt.doc, norm: norm(tt.doc)}
			got := s.distance(tt.query, norm(tt.query), doc)
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// referenceTopK is an independent exact top-k used to check the searcher.
func referenceTopK(vectors [][]float32, query []float32, k int) []string {
	type idDist struct {
		id   string
		dist float64
	}
	dists := make([]idDist, len(vectors))
	for i, v := range vectors {
		var d float64
		for j := range v {
			diff := float64(query[j]) - float64(v[j])
			d += diff * diff
		}
		dists[i] = idDist{id: fmt.Sprintf("doc%d", i), dist: d}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })
	if k > len(dists) {
		k = len(dists)
	}
	ids := make([]string, k)
	for i := range ids {
		ids[i] = dists[i].id
	}
	return ids
}

func TestSearchMatchesReference(t *testing.T) {
	r := rand.New(rand.NewPCG(4711, 1))
	vectors := randomVectors(r, 500, 16)

	searcher := New(recallx.SquaredL2)
	for i, v := range vectors {
		if err := searcher.AddDocument(Document{ID: fmt.Sprintf("doc%d", i), Embedding: v}); err != nil {
			t.Fatalf("AddDocument failed: %v", err)
		}
	}

	queryVectors := randomVectors(r, 20, 16)
	queries := make([]recallx.Query, len(queryVectors))
	truth := make(recallx.ResultBatch, len(queryVectors))
	for i, v := range queryVectors {
		queries[i] = recallx.Query{ID: fmt.Sprintf("q%d", i), Embedding: v}
		for _, id := range referenceTopK(vectors, v, 10) {
			truth[i] = append(truth[i], recallx.Neighbor{ID: id})
		}
	}

	results, err := searcher.Search(context.Background(), queries, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	recall, err := recallx.ComputeRecall(results, truth)
	if err != nil {
		t.Fatalf("ComputeRecall failed: %v", err)
	}
	if recall != 1 {
		t.Errorf("Expected exact search to reach recall 1, got %v", recall)
	}

	for i, l := range results {
		for j := 1; j < len(l); j++ {
			if l[j-1].Distance > l[j].Distance {
				t.Fatalf("query %d: results not ordered by distance: %+v", i, l)
			}
		}
	}
}

func TestSearchTieBreak(t *testing.T) {
	searcher := New(recallx.SquaredL2)
	for _, id := range []string{"c", "a", "b"} {
		if err := searcher.AddDocument(Document{ID: id, Embedding: []float32{1, 1}}); err != nil {
			t.Fatalf("AddDocument failed: %v", err)
		}
	}

	results, err := searcher.Search(context.Background(), []recallx.Query{{ID: "q", Embedding: []float32{0, 0}}}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := results[0].IDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Expected [a b], got %v", got)
	}
}

func TestSearchValidation(t *testing.T) {
	searcher := New(recallx.SquaredL2)
	if err := searcher.AddDocument(Document{ID: "a", Embedding: []float32{1, 2, 3}}); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		queries []recallx.Query
		k       int
		opts    []recallx.SearchOption
		wantErr error
	}{
		{
			name:    "non-positive k",
			queries: []recallx.Query{{ID: "q", Embedding: []float32{1, 2, 3}}},
			k:       0,
			wantErr: recallx.ErrInvalidK,
		},
		{
			name:    "no queries",
			queries: nil,
			k:       1,
			wantErr: recallx.ErrInvalidQuery,
		},
		{
			name:    "dimension mismatch",
			queries: []recallx.Query{{ID: "q", Embedding: []float32{1, 2}}},
			k:       1,
			wantErr: recallx.ErrDimensionMismatch,
		},
		{
			name:    "invalid restrict",
			queries: []recallx.Query{{ID: "q", Embedding: []float32{1, 2, 3}}},
			k:       1,
			opts:    []recallx.SearchOption{recallx.Allow("color")},
			wantErr: recallx.ErrInvalidRestrict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := searcher.Search(ctx, tt.queries, tt.k, tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSearchUnknownMeasure(t *testing.T) {
	searcher := New(recallx.DistanceMeasure("manhattan"))
	if err := searcher.AddDocument(Document{ID: "a", Embedding: []float32{1, 2}}); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	_, err := searcher.Search(context.Background(), []recallx.Query{{ID: "q", Embedding: []float32{1, 2}}}, 1)
	if !errors.Is(err, recallx.ErrInvalidOption) {
		t.Errorf("Expected ErrInvalidOption, got %v", err)
	}
}

func TestEmptySearcher(t *testing.T) {
	searcher := New(recallx.Cosine)

	results, err := searcher.Search(context.Background(), []recallx.Query{{ID: "q", Embedding: []float32{1, 0}}}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 1 || len(results[0]) != 0 {
		t.Errorf("Expected one empty neighbor list, got %+v", results)
	}
}

func TestSearchContextCancellation(t *testing.T) {
	searcher := New(recallx.SquaredL2)

	// Add many documents to make search slower
	r := rand.New(rand.NewPCG(1, 2))
	for i, v := range randomVectors(r, 1000, 8) {
		if err := searcher.AddDocument(Document{ID: fmt.Sprintf("%d", i), Embedding: v}); err != nil {
			t.Fatalf("AddDocument failed: %v", err)
		}
	}
	queries := []recallx.Query{{ID: "q", Embedding: make([]float32, 8)}}

	tests := map[string]struct {
		setupContext func() (context.Context, context.CancelFunc)
		expectError  error
	}{
		"immediate_cancellation": {
			setupContext: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel() // Cancel immediately
				return ctx, cancel
			},
			expectError: recallx.ErrCanceled,
		},
		"timeout_context": {
			setupContext: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
				time.Sleep(10 * time.Millisecond) // Ensure timeout
				return ctx, cancel
			},
			expectError: recallx.ErrCanceled,
		},
		"normal_context": {
			setupContext: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 1*time.Second)
			},
			expectError: nil,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := tc.setupContext()
			defer cancel()

			_, err := searcher.Search(ctx, queries, 10)

			if tc.expectError != nil {
				if !errors.Is(err, tc.expectError) {
					t.Errorf("Expected error %v, got %v", tc.expectError, err)
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
			}
		})
	}
}

func TestConcurrentOperations(t *testing.T) {
	searcher := New(recallx.SquaredL2)
	ctx := context.Background()
	queries := []recallx.Query{{ID: "q", Embedding: []float32{0.5, 0.5}}}

	// Test concurrent adds and searches
	done := make(chan bool)

	// Writer goroutine
	go func() {
		for i := 0; i < 100; i++ {
			_ = searcher.AddDocument(Document{ID: fmt.Sprintf("doc%d", i), Embedding: []float32{float32(i), 0}})
		}
		done <- true
	}()

	// Reader goroutine
	go func() {
		for i := 0; i < 100; i++ {
			_, err := searcher.Search(ctx, queries, 5)
			if err != nil {
				t.Errorf("Search failed: %v", err)
			}
		}
		done <- true
	}()

	// Updater goroutine
	go func() {
		for i := 0; i < 50; i++ {
			_ = searcher.AddDocument(Document{ID: fmt.Sprintf("doc%d", i), Embedding: []float32{0, float32(i)}})
		}
		done <- true
	}()

	// Deleter goroutine
	go func() {
		for i := 0; i < 25; i++ {
			searcher.RemoveDocument(fmt.Sprintf("doc%d", i))
		}
		done <- true
	}()

	// Wait for all goroutines
	for i := 0; i < 4; i++ {
		<-done
	}

	// Verify data integrity
	size := searcher.Size()
	if size < 0 || size > 100 {
		t.Errorf("Unexpected size after concurrent operations: %d", size)
	}
}

func BenchmarkSearch(b *testing.B) {
	searcher := New(recallx.Cosine)
	r := rand.New(rand.NewPCG(3, 4))

	// Add 1000 documents
	for i, v := range randomVectors(r, 1000, 64) {
		_ = searcher.AddDocument(Document{
			ID:        fmt.Sprintf("%d", i),
			Embedding: v,
			Restricts: []recallx.Restrict{recallx.Allow("bucket", []string{"a", "b", "c"}[i%3])},
		})
	}

	queries := make([]recallx.Query, 10)
	for i, v := range randomVectors(r, len(queries), 64) {
		queries[i] = recallx.Query{ID: fmt.Sprintf("q%d", i), Embedding: v}
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = searcher.Search(ctx, queries, 10, recallx.Allow("bucket", "a", "b"))
	}
}
