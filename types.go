package recallx

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Query is a single nearest-neighbor request: an identifier plus the
// embedding to search with.
type Query struct {
	// ID identifies the query within its batch.
	ID string `json:"id"`
	// Embedding is the query vector. Its length must match the index dimensionality.
	Embedding []float32 `json:"embedding"`
}

// DistanceMeasure selects how two embeddings are compared.
// Every measure is expressed as a distance: smaller means closer.
type DistanceMeasure string

const (
	// SquaredL2 is the squared Euclidean distance.
	SquaredL2 DistanceMeasure = "squared_l2"
	// Cosine is one minus the cosine similarity.
	Cosine DistanceMeasure = "cosine"
	// DotProduct is the negated inner product.
	DotProduct DistanceMeasure = "dot_product"
)

// String implements fmt.Stringer.
func (m DistanceMeasure) String() string {
	return string(m)
}

// Valid reports whether m is one of the supported measures.
func (m DistanceMeasure) Valid() bool {
	switch m {
	case SquaredL2, Cosine, DotProduct:
		return true
	default:
		return false
	}
}

// ParseDistanceMeasure parses a measure name. It accepts the canonical names
// as well as the upper-case *_DISTANCE spellings used by managed services.
func ParseDistanceMeasure(s string) (DistanceMeasure, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "_distance")
	switch name {
	case "squared_l2", "l2":
		return SquaredL2, nil
	case "cosine":
		return Cosine, nil
	case "dot_product", "dot", "ip":
		return DotProduct, nil
	default:
		return "", errors.Wrapf(ErrInvalidOption, "unknown distance measure %q", s)
	}
}

// ErrorCode represents specific error codes for evaluation and search operations.
type ErrorCode int

const (
	// ErrCodeMismatchedBatch is returned when candidate and ground-truth batches differ in length.
	ErrCodeMismatchedBatch ErrorCode = iota + 1000

	// ErrCodeDegenerateInput is returned when every ground-truth list is empty.
	ErrCodeDegenerateInput

	// ErrCodeInvalidK is returned when the requested neighbor count is not positive.
	ErrCodeInvalidK

	// ErrCodeInvalidQuery is returned when a query batch is empty or a query is malformed.
	ErrCodeInvalidQuery

	// ErrCodeDimensionMismatch is returned when embeddings disagree on dimensionality.
	ErrCodeDimensionMismatch

	// ErrCodeInvalidOption is returned when an invalid option is provided.
	ErrCodeInvalidOption

	// ErrCodeInvalidRestrict is returned when a restrict is malformed.
	ErrCodeInvalidRestrict

	// ErrCodeTimeout is returned when a search operation times out.
	ErrCodeTimeout

	// ErrCodeCanceled is returned when a search operation is canceled.
	ErrCodeCanceled

	// ErrCodeNotImplemented is returned when a feature is not implemented.
	ErrCodeNotImplemented

	// ErrCodeBackendUnavailable is returned when the search backend is unavailable.
	ErrCodeBackendUnavailable
)

// String returns the human-readable string representation of the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeMismatchedBatch:
		return "mismatched batch"
	case ErrCodeDegenerateInput:
		return "degenerate input"
	case ErrCodeInvalidK:
		return "invalid k"
	case ErrCodeInvalidQuery:
		return "invalid query"
	case ErrCodeDimensionMismatch:
		return "dimension mismatch"
	case ErrCodeInvalidOption:
		return "invalid option"
	case ErrCodeInvalidRestrict:
		return "invalid restrict"
	case ErrCodeTimeout:
		return "operation timed out"
	case ErrCodeCanceled:
		return "operation canceled"
	case ErrCodeNotImplemented:
		return "not implemented"
	case ErrCodeBackendUnavailable:
		return "backend unavailable"
	default:
		return "unknown error"
	}
}

// newErrorWithCode creates a new error with a code and message.
func newErrorWithCode(code ErrorCode, msg string) error {
	err := errors.New(msg)
	return errors.WithSecondaryError(err, errors.Newf("code: %d", int(code)))
}

// Common errors returned by evaluation and search operations.
var (
	// ErrMismatchedBatch is returned when candidate and ground-truth batches differ in length.
	ErrMismatchedBatch = newErrorWithCode(ErrCodeMismatchedBatch, "recallx: mismatched batch")

	// ErrDegenerateInput is returned when every ground-truth neighbor list is empty.
	ErrDegenerateInput = newErrorWithCode(ErrCodeDegenerateInput, "recallx: degenerate input")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = newErrorWithCode(ErrCodeInvalidK, "recallx: k must be positive")

	// ErrInvalidQuery is returned when a query batch is empty or a query is malformed.
	ErrInvalidQuery = newErrorWithCode(ErrCodeInvalidQuery, "recallx: invalid query")

	// ErrDimensionMismatch is returned when embeddings disagree on dimensionality.
	ErrDimensionMismatch = newErrorWithCode(ErrCodeDimensionMismatch, "recallx: dimension mismatch")

	// ErrInvalidOption is returned when an invalid option is provided.
	ErrInvalidOption = newErrorWithCode(ErrCodeInvalidOption, "recallx: invalid option")

	// ErrInvalidRestrict is returned when a restrict is malformed.
	ErrInvalidRestrict = newErrorWithCode(ErrCodeInvalidRestrict, "recallx: invalid restrict")

	// ErrTimeout is returned when a search operation times out.
	ErrTimeout = newErrorWithCode(ErrCodeTimeout, "recallx: operation timed out")

	// ErrCanceled is returned when a search operation is canceled.
	ErrCanceled = newErrorWithCode(ErrCodeCanceled, "recallx: operation canceled")

	// ErrNotImplemented is returned when a feature is not implemented.
	ErrNotImplemented = newErrorWithCode(ErrCodeNotImplemented, "recallx: not implemented")

	// ErrBackendUnavailable is returned when the search backend is unavailable.
	ErrBackendUnavailable = newErrorWithCode(ErrCodeBackendUnavailable, "recallx: backend unavailable")
)

// ValidateQueries checks that a query batch is non-empty, that every query
// carries an ID and an embedding, and that all embeddings share one
// dimensionality. It returns that dimensionality.
func ValidateQueries(queries []Query) (int, error) {
	if len(queries) == 0 {
		return 0, errors.Wrap(ErrInvalidQuery, "empty query batch")
	}

	dim := len(queries[0].Embedding)
	for i, q := range queries {
		if q.ID == "" {
			return 0, errors.Wrapf(ErrInvalidQuery, "query %d has no id", i)
		}
		if len(q.Embedding) == 0 {
			return 0, errors.Wrapf(ErrInvalidQuery, "query %q has no embedding", q.ID)
		}
		if len(q.Embedding) != dim {
			return 0, errors.Wrapf(ErrDimensionMismatch, "query %q has %d dimensions, expected %d", q.ID, len(q.Embedding), dim)
		}
	}
	return dim, nil
}
