package pgvector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/letmevibethatforyou/recallx"
	"github.com/letmevibethatforyou/recallx/corpus"
	"github.com/letmevibethatforyou/recallx/inmemory"
)

// TestExactSearchMatchesInMemory runs against a live pgvector database named
// by PGVECTOR_DSN and checks that exact search returns the same neighbors as
// the in-memory brute force, with and without restricts.
func TestExactSearchMatchesInMemory(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := NewClient(StaticSecrets(dsn))
	defer client.Close()

	index := fmt.Sprintf("recallx_test_%d", time.Now().UnixNano())
	spec := IndexSpec{Name: index, Dimensions: 8, Measure: recallx.SquaredL2}
	if err := client.CreateIndex(ctx, spec); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	defer func() {
		if err := client.DropIndex(context.Background(), index); err != nil {
			t.Errorf("DropIndex failed: %v", err)
		}
	}()

	r := rand.New(rand.NewPCG(99, 7))
	classes := []string{"cat", "dog", "bird"}
	colors := []string{"red", "blue", "green"}
	vector := func() []float32 {
		v := make([]float32, spec.Dimensions)
		for i := range v {
			v[i] = r.Float32()*2 - 1
		}
		return v
	}

	records := make([]corpus.Record, 300)
	reference := inmemory.New(recallx.SquaredL2)
	for i := range records {
		rec := corpus.Record{
			ID:        fmt.Sprintf("doc%03d", i),
			Embedding: vector(),
			Restricts: []recallx.Restrict{
				recallx.Allow("class", classes[r.IntN(len(classes))]),
				recallx.Allow("color", colors[r.IntN(len(colors))]),
			},
		}
		if i%7 == 0 {
			rec.Restricts = append(rec.Restricts, recallx.Deny("color", colors[r.IntN(len(colors))]))
		}
		records[i] = rec
		if err := reference.AddRecord(rec); err != nil {
			t.Fatalf("AddRecord failed: %v", err)
		}
	}
	if err := client.UpsertDocuments(ctx, index, records); err != nil {
		t.Fatalf("UpsertDocuments failed: %v", err)
	}

	queries := make([]recallx.Query, 10)
	for i := range queries {
		queries[i] = recallx.Query{ID: fmt.Sprintf("q%d", i), Embedding: vector()}
	}

	searcher := NewSearcher(client, index, recallx.SquaredL2)

	tests := []struct {
		name      string
		restricts []recallx.Restrict
	}{
		{name: "no restricts"},
		{name: "allow", restricts: []recallx.Restrict{recallx.Allow("color", "red", "blue")}},
		{name: "deny", restricts: []recallx.Restrict{recallx.Deny("class", "dog")}},
		{name: "allow and deny", restricts: []recallx.Restrict{
			recallx.Allow("class", "cat", "bird"),
			recallx.Deny("color", "green"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := make([]recallx.SearchOption, 0, len(tt.restricts)+1)
			for _, restrict := range tt.restricts {
				opts = append(opts, restrict)
			}

			want, err := reference.Search(ctx, queries, 10, opts...)
			if err != nil {
				t.Fatalf("in-memory Search failed: %v", err)
			}
			got, err := searcher.Search(ctx, queries, 10, append(opts, recallx.WithExact())...)
			if err != nil {
				t.Fatalf("pgvector Search failed: %v", err)
			}

			for i := range queries {
				if len(got[i]) != len(want[i]) {
					t.Fatalf("query %d: expected %d neighbors, got %d", i, len(want[i]), len(got[i]))
				}
			}
			recall, err := recallx.ComputeRecall(got, want)
			if err != nil {
				t.Fatalf("ComputeRecall failed: %v", err)
			}
			if recall != 1 {
				t.Errorf("Expected exact pgvector search to match in-memory search, recall %v", recall)
			}
		})
	}
}
