package recallx

// Neighbor is a single nearest-neighbor hit for one query.
type Neighbor struct {
	// ID identifies the corpus item.
	ID string `json:"id"`

	// Distance is the distance between the query and the item under the
	// index's distance measure. Smaller is closer.
	Distance float64 `json:"distance"`
}

// NeighborList is the ordered result for one query, closest first.
// It holds at most k entries.
type NeighborList []Neighbor

// IDs returns the identifiers in list order, duplicates included.
func (l NeighborList) IDs() []string {
	ids := make([]string, len(l))
	for i, n := range l {
		ids[i] = n.ID
	}
	return ids
}

// idSet returns the deduplicated identifier set of the list.
func (l NeighborList) idSet() map[string]struct{} {
	set := make(map[string]struct{}, len(l))
	for _, n := range l {
		set[n.ID] = struct{}{}
	}
	return set
}

// ResultBatch holds one NeighborList per query, index-aligned with the
// query batch that produced it.
type ResultBatch []NeighborList

// Len returns the number of queries the batch answers.
func (b ResultBatch) Len() int {
	return len(b)
}
