package mesh

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultSeenCapacity bounds the per-node dedup memory.
const DefaultSeenCapacity = 4096

// SeenSet remembers processed packet ids with insertion-order eviction once
// capacity is reached. A capacity of zero disables eviction. It is owned by a
// single node loop and is not safe for concurrent use.
type SeenSet struct {
	ids *simplelru.LRU[string, struct{}]
}

// NewSeenSet creates a set holding at most capacity ids.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = math.MaxInt
	}
	ids, err := simplelru.NewLRU[string, struct{}](capacity, nil)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &SeenSet{ids: ids}
}

// Contains reports whether id has been recorded and not yet evicted.
func (s *SeenSet) Contains(id string) bool { return s.ids.Contains(id) }

// Add records id, evicting the oldest entry when full. It reports whether id was new.
func (s *SeenSet) Add(id string) bool {
	// Contains does not touch recency, so eviction stays in insertion order
	if s.ids.Contains(id) {
		return false
	}
	s.ids.Add(id, struct{}{})
	return true
}

// Len returns the number of remembered ids.
func (s *SeenSet) Len() int { return s.ids.Len() }
