package inmemory

import (
	"math"

	"github.com/hupe1980/vecgo/distance"

	"github.com/letmevibethatforyou/recallx"
)

// distance computes the distance between a query and a document under the
// searcher's measure. Smaller is closer for every measure.
func (s *Searcher) distance(query []float32, queryNorm float64, doc Document) float64 {
	switch s.measure {
	case recallx.Cosine:
		if queryNorm == 0 || doc.norm == 0 {
			return 1
		}
		return 1 - float64(distance.Dot(query, doc.Embedding))/(queryNorm*doc.norm)
	case recallx.DotProduct:
		return -float64(distance.Dot(query, doc.Embedding))
	default:
		return float64(distance.SquaredL2(query, doc.Embedding))
	}
}

func norm(v []float32) float64 { return math.Sqrt(float64(distance.Dot(v, v))) }
