package inmemory

import (
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recallx"
	"github.com/letmevibethatforyou/recallx/corpus"
)

// AddRecord adds a corpus record as a document.
func (s *Searcher) AddRecord(rec corpus.Record) error {
	return s.AddDocument(Document{
		ID:        rec.ID,
		Embedding: rec.Embedding,
		Restricts: rec.Restricts,
	})
}

// LoadCorpus builds a searcher from a JSONL corpus file, compressed or not.
func LoadCorpus(path string, measure recallx.DistanceMeasure) (*Searcher, error) {
	s := New(measure)
	err := corpus.ForEach(path, func(rec corpus.Record) error {
		if err := s.AddRecord(rec); err != nil {
			return errors.Wrapf(err, "add record %q", rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
