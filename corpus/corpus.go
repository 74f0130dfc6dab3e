// Package corpus reads and writes the newline-delimited JSON format used to
// load corpus items into a vector index and to describe query batches.
//
// Each line is one record:
//
//	{"id": "42", "embedding": [0.1, 0.2], "restricts": [{"namespace": "color", "allow": ["red"]}]}
//
// Files ending in .gz or .zst are transparently (de)compressed.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/letmevibethatforyou/recallx"
)

// maxLineSize bounds a single JSON record. High-dimensional embeddings are
// long lines; 64 MiB leaves ample room.
const maxLineSize = 64 << 20

// ErrInvalidRecord is returned when a line is not a valid record.
var ErrInvalidRecord = errors.New("corpus: invalid record")

// Record is a single corpus item.
type Record struct {
	// ID identifies the item.
	ID string `json:"id"`
	// Embedding is the item vector.
	Embedding []float32 `json:"embedding"`
	// Restricts lists the namespaced tokens the item carries.
	Restricts []recallx.Restrict `json:"restricts,omitempty"`
	// CrowdingTag groups items that should not dominate a result list.
	// It is passed through unchanged.
	CrowdingTag string `json:"crowding_tag,omitempty"`
}

// Query converts the record into a query, dropping restricts.
func (r Record) Query() recallx.Query {
	return recallx.Query{ID: r.ID, Embedding: r.Embedding}
}

// Compression names the codec applied to a file.
type Compression int

const (
	// None reads and writes plain JSONL.
	None Compression = iota
	// Gzip wraps the stream in gzip.
	Gzip
	// Zstd wraps the stream in zstandard.
	Zstd
)

// CompressionFor picks the codec from a file extension.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return Gzip
	case ".zst", ".zstd":
		return Zstd
	default:
		return None
	}
}

// Reader decodes records one line at a time.
// It checks that every record has an ID, a non-empty embedding and the same
// dimensionality as the first record.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	dim     int
	closers []func() error
}

// NewReader returns a Reader decoding uncompressed JSONL from r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Open opens a JSONL file, decompressing by extension.
// The caller must Close the returned Reader.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	var (
		src     io.Reader = f
		closers []func() error
	)
	switch CompressionFor(path) {
	case Gzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "open gzip stream %s", path)
		}
		src = gz
		closers = append(closers, gz.Close)
	case Zstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "open zstd stream %s", path)
		}
		src = zr
		closers = append(closers, func() error { zr.Close(); return nil })
	}
	closers = append(closers, f.Close)

	r := NewReader(src)
	r.closers = closers
	return r, nil
}

// Next returns the next record, or io.EOF once the input is exhausted.
// Blank lines are skipped.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return Record{}, errors.Wrapf(ErrInvalidRecord, "line %d: %v", r.line, err)
		}
		if err := r.validate(rec); err != nil {
			return Record{}, err
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, errors.Wrapf(err, "read line %d", r.line+1)
	}
	return Record{}, io.EOF
}

func (r *Reader) validate(rec Record) error {
	if rec.ID == "" {
		return errors.Wrapf(ErrInvalidRecord, "line %d: missing id", r.line)
	}
	if len(rec.Embedding) == 0 {
		return errors.Wrapf(ErrInvalidRecord, "line %d: record %q has no embedding", r.line, rec.ID)
	}
	if r.dim == 0 {
		r.dim = len(rec.Embedding)
	} else if len(rec.Embedding) != r.dim {
		return errors.Wrapf(recallx.ErrDimensionMismatch, "line %d: record %q has %d dimensions, expected %d", r.line, rec.ID, len(rec.Embedding), r.dim)
	}
	for _, restrict := range rec.Restricts {
		if restrict.Namespace == "" {
			return errors.Wrapf(ErrInvalidRecord, "line %d: record %q has a restrict without namespace", r.line, rec.ID)
		}
	}
	return nil
}

// Dimensions returns the dimensionality fixed by the first record read, or 0.
func (r *Reader) Dimensions() int {
	return r.dim
}

// Close releases the underlying file and decompressor, if any.
func (r *Reader) Close() error {
	var errs error
	for _, c := range r.closers {
		errs = errors.CombineErrors(errs, c())
	}
	r.closers = nil
	return errs
}

// ReadAll decodes every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var records []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// ForEach calls fn for every record in the file at path, stopping at the
// first error.
func ForEach(path string, fn func(Record) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// ReadQueries loads a query batch from a JSONL file. Restricts in the file
// are ignored; query restricts are given as search options instead.
func ReadQueries(path string) ([]recallx.Query, error) {
	var queries []recallx.Query
	err := ForEach(path, func(rec Record) error {
		queries = append(queries, rec.Query())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, errors.Wrapf(recallx.ErrInvalidQuery, "%s contains no queries", path)
	}
	return queries, nil
}
