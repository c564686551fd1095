package cache

import "sync/atomic"

// Statistics tracks cache effectiveness. All counters are updated atomically
// so statistics reads never contend with the cache's own lock.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
}

// NewStatistics creates a zeroed statistics collector
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Hit records a cache hit
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records a store operation
func (s *Statistics) Set() { s.sets.Add(1) }

// Delete records a delete operation
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records an evicted entry
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the current entry count
func (s *Statistics) UpdateSize(n int64) { s.size.Store(n) }

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	Evictions int64   `json:"evictions"`
	Size      int64   `json:"size"`
	HitRatio  float64 `json:"hit_ratio"`
}

// Snapshot returns a consistent-enough copy of the current counters
func (s *Statistics) Snapshot() Snapshot {
	hits := s.hits.Load()
	misses := s.misses.Load()

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	return Snapshot{
		Hits:      hits,
		Misses:    misses,
		Sets:      s.sets.Load(),
		Deletes:   s.deletes.Load(),
		Evictions: s.evictions.Load(),
		Size:      s.size.Load(),
		HitRatio:  ratio,
	}
}
