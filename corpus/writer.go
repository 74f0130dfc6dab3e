package corpus

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Writer encodes records as JSONL.
type Writer struct {
	buf     *bufio.Writer
	enc     *json.Encoder
	count   int
	closers []func() error
}

// NewWriter returns a Writer emitting uncompressed JSONL to w.
// Close flushes buffered output but does not close w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{buf: buf, enc: json.NewEncoder(buf)}
}

// Create creates (or truncates) path and returns a Writer compressing by
// extension. The caller must Close the Writer to flush the stream.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}

	var (
		dst     io.Writer = f
		closers []func() error
	)
	switch CompressionFor(path) {
	case Gzip:
		gz := gzip.NewWriter(f)
		dst = gz
		closers = append(closers, gz.Close)
	case Zstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "create zstd stream %s", path)
		}
		dst = zw
		closers = append(closers, zw.Close)
	}
	closers = append(closers, f.Close)

	w := NewWriter(dst)
	w.closers = closers
	return w, nil
}

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	if rec.ID == "" {
		return errors.Wrap(ErrInvalidRecord, "missing id")
	}
	if err := w.enc.Encode(rec); err != nil {
		return errors.Wrapf(err, "encode record %q", rec.ID)
	}
	w.count++
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes buffered records and closes the compressor and file, if any.
func (w *Writer) Close() error {
	err := w.buf.Flush()
	for _, c := range w.closers {
		err = errors.CombineErrors(err, c())
	}
	w.closers = nil
	return err
}
