package inmemory

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recallx"
)

func TestInMemorySearcher(t *testing.T) {
	searcher := New(recallx.SquaredL2)

	// Add test documents
	docs := []string{
		`{"id": "1", "embedding": [0, 0], "restricts": [{"namespace": "color", "allow": ["red"]}]}`,
		`{"id": "2", "embedding": [1, 0], "restricts": [{"namespace": "color", "allow": ["blue"]}]}`,
		`{"id": "3", "embedding": [0, 2], "restricts": [{"namespace": "color", "allow": ["red", "blue"]}]}`,
		`{"id": "4", "embedding": [3, 3], "restricts": [{"namespace": "color", "allow": ["green"]}, {"namespace": "shape", "allow": ["square"]}]}`,
		`{"id": "5", "embedding": [-1, -1]}`,
	}

	for _, doc := range docs {
		if err := searcher.AddJSON([]byte(doc)); err != nil {
			t.Fatalf("Failed to add document %s: %v", doc, err)
		}
	}

	ctx := context.Background()
	origin := []recallx.Query{{ID: "q", Embedding: []float32{0, 0}}}

	t.Run("BasicSearch", func(t *testing.T) {
		results, err := searcher.Search(ctx, origin, 3)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}

		if len(results) != 1 {
			t.Fatalf("Expected 1 neighbor list, got %d", len(results))
		}
		got := results[0].IDs()
		want := []string{"1", "2", "5"}
		if len(got) != len(want) {
			t.Fatalf("Expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Expected %v, got %v", want, got)
				break
			}
		}
		if results[0][0].Distance != 0 || results[0][1].Distance != 1 || results[0][2].Distance != 2 {
			t.Errorf("Unexpected distances: %+v", results[0])
		}
	})

	t.Run("KLargerThanCorpus", func(t *testing.T) {
		results, err := searcher.Search(ctx, origin, 100)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}

		if len(results[0]) != 5 {
			t.Errorf("Expected 5 results, got %d", len(results[0]))
		}
	})

	t.Run("AllowRestrict", func(t *testing.T) {
		results, err := searcher.Search(ctx, origin, 10, recallx.Allow("color", "red"))
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}

		if len(results[0]) != 2 {
			t.Errorf("Expected 2 red results, got %v", results[0].IDs())
		}
	})

	t.Run("DenyRestrict", func(t *testing.T) {
		results, err := searcher.Search(ctx, origin, 10, recallx.Deny("color", "blue"))
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}

		// Documents 1, 4 and 5 (no color namespace) remain.
		if len(results[0]) != 3 {
			t.Errorf("Expected 3 results, got %v", results[0].IDs())
		}
	})

	t.Run("CombinedRestricts", func(t *testing.T) {
		results, err := searcher.Search(ctx, origin, 10,
			recallx.Allow("color", "green", "red"),
			recallx.Allow("shape", "square"),
		)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}

		if len(results[0]) != 1 || results[0][0].ID != "4" {
			t.Errorf("Expected only document 4, got %v", results[0].IDs())
		}
	})

	t.Run("ExactOptionIgnored", func(t *testing.T) {
		approx, err := searcher.Search(ctx, origin, 3)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		exact, err := searcher.Search(ctx, origin, 3, recallx.WithExact(), recallx.WithEFSearch(10))
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}

		recall, err := recallx.ComputeRecall(approx, exact)
		if err != nil {
			t.Fatalf("ComputeRecall failed: %v", err)
		}
		if recall != 1 {
			t.Errorf("Expected recall 1, got %v", recall)
		}
	})
}

func TestDocumentOperations(t *testing.T) {
	searcher := New(recallx.SquaredL2)

	// Test adding documents
	doc1 := Document{ID: "test1", Embedding: []float32{1, 2, 3}}
	if err := searcher.AddDocument(doc1); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	if searcher.Size() != 1 {
		t.Errorf("Expected size 1, got %d", searcher.Size())
	}
	if searcher.Dimensions() != 3 {
		t.Errorf("Expected 3 dimensions, got %d", searcher.Dimensions())
	}

	// Test updating document
	doc1Updated := Document{ID: "test1", Embedding: []float32{9, 9, 9}}
	if err := searcher.AddDocument(doc1Updated); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	if searcher.Size() != 1 {
		t.Errorf("Expected size 1 after update, got %d", searcher.Size())
	}

	// Verify update
	ctx := context.Background()
	results, err := searcher.Search(ctx, []recallx.Query{{ID: "q", Embedding: []float32{9, 9, 9}}}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results[0]) != 1 || results[0][0].Distance != 0 {
		t.Error("Updated document not found")
	}

	// Test dimension mismatch
	err = searcher.AddDocument(Document{ID: "test2", Embedding: []float32{1}})
	if !errors.Is(err, recallx.ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}

	// Test removing document
	removed := searcher.RemoveDocument("test1")
	if !removed {
		t.Error("Failed to remove document")
	}

	if searcher.Size() != 0 {
		t.Errorf("Expected size 0 after removal, got %d", searcher.Size())
	}
	if searcher.Dimensions() != 0 {
		t.Errorf("Expected dimensions to reset, got %d", searcher.Dimensions())
	}

	// Test removing non-existent document
	removed = searcher.RemoveDocument("nonexistent")
	if removed {
		t.Error("Should not remove non-existent document")
	}

	// Test Clear
	if err := searcher.AddDocument(doc1); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	err = searcher.AddJSON([]byte(`{"id": "test2", "embedding": [4, 5, 6]}`))
	if err != nil {
		t.Fatalf("Failed to add JSON document: %v", err)
	}
	searcher.Clear()

	if searcher.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", searcher.Size())
	}
}

func TestAddDocumentValidation(t *testing.T) {
	searcher := New(recallx.Cosine)

	tests := []struct {
		name    string
		doc     Document
		wantErr error
	}{
		{name: "missing id", doc: Document{Embedding: []float32{1}}, wantErr: recallx.ErrInvalidQuery},
		{name: "missing embedding", doc: Document{ID: "a"}, wantErr: recallx.ErrInvalidQuery},
		{
			name:    "restrict without namespace",
			doc:     Document{ID: "a", Embedding: []float32{1}, Restricts: []recallx.Restrict{{Allow: []string{"x"}}}},
			wantErr: recallx.ErrInvalidRestrict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := searcher.AddDocument(tt.doc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := searcher.AddJSON([]byte(`{not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestSearcherFunc(t *testing.T) {
	// Create a custom searcher using SearcherFunc
	var customSearcher recallx.SearcherFunc = func(ctx context.Context, queries []recallx.Query, k int, opts ...recallx.SearchOption) (recallx.ResultBatch, error) {
		batch := make(recallx.ResultBatch, len(queries))
		for i := range batch {
			batch[i] = recallx.NeighborList{{ID: "custom1", Distance: 0}}
		}
		return batch, nil
	}

	ctx := context.Background()
	results, err := customSearcher.Search(ctx, []recallx.Query{{ID: "q", Embedding: []float32{1}}}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 1 || results[0][0].ID != "custom1" {
		t.Errorf("Unexpected results %+v", results)
	}
}
