package inmemory

import (
	"context"
	"encoding/json"
	"runtime"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recallx"
	"golang.org/x/sync/errgroup"
)

// Document is a corpus item held by the in-memory store.
type Document struct {
	// ID is the unique identifier for the document.
	ID string `json:"id"`
	// Embedding is the document vector.
	Embedding []float32 `json:"embedding"`
	// Restricts lists the namespaced tokens the document carries.
	Restricts []recallx.Restrict `json:"restricts,omitempty"`

	norm float64
}

// Searcher implements recallx.Searcher with an exact brute-force scan over
// an in-memory corpus. It is the reference ground truth: every search is
// exact, so recallx.WithExact and recallx.WithEFSearch have no effect.
type Searcher struct {
	mu        sync.RWMutex
	measure   recallx.DistanceMeasure
	dim       int
	documents []Document
	idIndex   map[string]int // maps document ID to index in documents slice
}

var _ recallx.Searcher = (*Searcher)(nil)

// New creates a new in-memory searcher comparing embeddings with measure.
// The searcher is ready to use and is safe for concurrent operations.
func New(measure recallx.DistanceMeasure) *Searcher {
	return &Searcher{
		measure:   measure,
		documents: make([]Document, 0),
		idIndex:   make(map[string]int),
	}
}

// Measure returns the distance measure used by the searcher.
func (s *Searcher) Measure() recallx.DistanceMeasure {
	return s.measure
}

// Dimensions returns the corpus dimensionality, or 0 while the store is empty.
func (s *Searcher) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// AddDocument adds a document to the in-memory store.
// If a document with the same ID already exists, it will be updated.
// The first document fixes the dimensionality of the store.
// This method is safe for concurrent use.
func (s *Searcher) AddDocument(doc Document) error {
	if doc.ID == "" {
		return errors.Wrap(recallx.ErrInvalidQuery, "document has no id")
	}
	if len(doc.Embedding) == 0 {
		return errors.Wrapf(recallx.ErrInvalidQuery, "document %q has no embedding", doc.ID)
	}
	for _, r := range doc.Restricts {
		if r.Namespace == "" {
			return errors.Wrapf(recallx.ErrInvalidRestrict, "document %q has a restrict without namespace", doc.ID)
		}
	}

	doc.norm = norm(doc.Embedding)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.documents) == 0 {
		s.dim = len(doc.Embedding)
	} else if len(doc.Embedding) != s.dim {
		return errors.Wrapf(recallx.ErrDimensionMismatch, "document %q has %d dimensions, expected %d", doc.ID, len(doc.Embedding), s.dim)
	}

	if idx, exists := s.idIndex[doc.ID]; exists {
		// Update existing document
		s.documents[idx] = doc
	} else {
		// Add new document
		s.idIndex[doc.ID] = len(s.documents)
		s.documents = append(s.documents, doc)
	}
	return nil
}

// AddJSON adds a document encoded as a single corpus JSON record
// ({"id", "embedding", "restricts"}).
// If a document with the same ID already exists, it will be updated.
// This method is safe for concurrent use.
func (s *Searcher) AddJSON(jsonData []byte) error {
	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return errors.Wrap(err, "failed to unmarshal JSON")
	}
	return s.AddDocument(doc)
}

// RemoveDocument removes a document by ID from the in-memory store.
// Returns true if the document was found and removed, false if the document was not found.
// This method is safe for concurrent use.
func (s *Searcher) RemoveDocument(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.idIndex[id]
	if !exists {
		return false
	}

	// Remove from slice
	s.documents = append(s.documents[:idx], s.documents[idx+1:]...)

	// Rebuild index
	delete(s.idIndex, id)
	for i := idx; i < len(s.documents); i++ {
		s.idIndex[s.documents[i].ID] = i
	}
	if len(s.documents) == 0 {
		s.dim = 0
	}

	return true
}

// Clear removes all documents from the store.
// This method is safe for concurrent use.
func (s *Searcher) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = make([]Document, 0)
	s.idIndex = make(map[string]int)
	s.dim = 0
}

// Size returns the number of documents currently stored in the in-memory store.
// This method is safe for concurrent use.
func (s *Searcher) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// Search implements the recallx.Searcher interface.
func (s *Searcher) Search(ctx context.Context, queries []recallx.Query, k int, opts ...recallx.SearchOption) (recallx.ResultBatch, error) {
	// Check context
	select {
	case <-ctx.Done():
		return nil, recallx.ErrCanceled
	default:
	}

	if k <= 0 {
		return nil, errors.Wrapf(recallx.ErrInvalidK, "got %d", k)
	}
	if !s.measure.Valid() {
		return nil, errors.Wrapf(recallx.ErrInvalidOption, "unknown distance measure %q", s.measure)
	}

	cfg := recallx.NewSearchConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dim, err := recallx.ValidateQueries(queries)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.documents) > 0 && dim != s.dim {
		return nil, errors.Wrapf(recallx.ErrDimensionMismatch, "queries have %d dimensions, corpus has %d", dim, s.dim)
	}

	batch := make(recallx.ResultBatch, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, q := range queries {
		g.Go(func() error {
			list, err := s.searchOne(gctx, q, k, cfg.Restricts)
			if err != nil {
				return err
			}
			batch[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return batch, nil
}

type scoredDocument struct {
	id       string
	distance float64
}

// searchOne scans the corpus for a single query. The caller holds the read lock.
func (s *Searcher) searchOne(ctx context.Context, q recallx.Query, k int, restricts []recallx.Restrict) (recallx.NeighborList, error) {
	var qnorm float64
	if s.measure == recallx.Cosine {
		qnorm = norm(q.Embedding)
	}

	matches := make([]scoredDocument, 0, len(s.documents))
	for i, doc := range s.documents {
		// Check context periodically
		if i%1024 == 0 {
			select {
			case <-ctx.Done():
				return nil, recallx.ErrCanceled
			default:
			}
		}

		// Apply filters
		if !recallx.MatchRestricts(doc.Restricts, restricts) {
			continue
		}

		matches = append(matches, scoredDocument{
			id:       doc.ID,
			distance: s.distance(q.Embedding, qnorm, doc),
		})
	}

	sortMatches(matches)

	if len(matches) > k {
		matches = matches[:k]
	}
	list := make(recallx.NeighborList, len(matches))
	for i, m := range matches {
		list[i] = recallx.Neighbor{ID: m.id, Distance: m.distance}
	}
	return list, nil
}

// sortMatches orders matches closest first. Ties are broken by ID so that
// the ground truth is deterministic.
func sortMatches(matches []scoredDocument) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].id < matches[j].id
	})
}
