// Package report persists recall evaluation runs so that index
// configurations can be compared over time.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"

	"github.com/letmevibethatforyou/recallx"
)

// ErrNotFound is returned by Store.Get for an unknown report ID.
var ErrNotFound = errors.New("report: not found")

// Report is the persisted summary of one evaluation run.
type Report struct {
	// ID is a KSUID, so IDs sort by creation time.
	ID        string    `json:"id" dynamodbav:"id"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`

	// Index names the candidate index that was evaluated.
	Index string `json:"index" dynamodbav:"index"`
	// GroundTruth describes where the reference neighbors came from.
	GroundTruth string `json:"ground_truth" dynamodbav:"ground_truth"`
	Measure     string `json:"measure" dynamodbav:"measure"`

	K          int                `json:"k" dynamodbav:"k"`
	QueryCount int                `json:"query_count" dynamodbav:"query_count"`
	Dimensions int                `json:"dimensions" dynamodbav:"dimensions"`
	Restricts  []recallx.Restrict `json:"restricts,omitempty" dynamodbav:"restricts,omitempty"`

	Recall                  float64 `json:"recall" dynamodbav:"recall"`
	MeanQueryRecall         float64 `json:"mean_query_recall" dynamodbav:"mean_query_recall"`
	MinQueryRecall          float64 `json:"min_query_recall" dynamodbav:"min_query_recall"`
	MaxQueryRecall          float64 `json:"max_query_recall" dynamodbav:"max_query_recall"`
	ZeroRecallQueries       int     `json:"zero_recall_queries" dynamodbav:"zero_recall_queries"`
	EmptyGroundTruthQueries int     `json:"empty_ground_truth_queries" dynamodbav:"empty_ground_truth_queries"`

	CandidateLatencyMs   int64 `json:"candidate_latency_ms" dynamodbav:"candidate_latency_ms"`
	GroundTruthLatencyMs int64 `json:"ground_truth_latency_ms" dynamodbav:"ground_truth_latency_ms"`
}

// Metadata describes the run context that an Evaluation does not carry.
type Metadata struct {
	Index       string
	GroundTruth string
	Measure     recallx.DistanceMeasure
	Restricts   []recallx.Restrict
}

// FromEvaluation builds a Report with a fresh ID.
func FromEvaluation(meta Metadata, e *recallx.Evaluation) (Report, error) {
	if e == nil || e.Breakdown == nil {
		return Report{}, errors.New("report: evaluation has no breakdown")
	}

	id := ksuid.New()
	b := e.Breakdown
	return Report{
		ID:                      id.String(),
		CreatedAt:               id.Time().UTC(),
		Index:                   meta.Index,
		GroundTruth:             meta.GroundTruth,
		Measure:                 meta.Measure.String(),
		K:                       e.K,
		QueryCount:              e.QueryCount,
		Dimensions:              e.Dimensions,
		Restricts:               meta.Restricts,
		Recall:                  b.Recall,
		MeanQueryRecall:         b.MeanQueryRecall,
		MinQueryRecall:          b.MinQueryRecall,
		MaxQueryRecall:          b.MaxQueryRecall,
		ZeroRecallQueries:       b.ZeroRecallQueries,
		EmptyGroundTruthQueries: b.EmptyGroundTruthQueries,
		CandidateLatencyMs:      e.CandidateLatency.Milliseconds(),
		GroundTruthLatencyMs:    e.GroundTruthLatency.Milliseconds(),
	}, nil
}

// Store saves and retrieves reports.
type Store interface {
	Save(ctx context.Context, r Report) error
	Get(ctx context.Context, id string) (Report, error)
	// List returns up to limit reports, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Report, error)
}

// sortNewestFirst orders reports by descending ID, which for KSUIDs is
// descending creation time.
func sortNewestFirst(reports []Report) {
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ID > reports[j].ID
	})
}
