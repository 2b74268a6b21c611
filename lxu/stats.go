package lxu

import (
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// LocalStats are the per-call lookup statistics, folded into the
// cumulative Stats at the end of each gathering lookup.
type LocalStats struct {
	Requested            int64
	Unique               int64
	UniqueMisses         int64
	ConflictUniqueMisses int64
	ConflictMisses       int64
}

// Stats are the cumulative lookup statistics. Conflict misses are
// misses on rows that were resident before and lost their slot to set
// contention; the remainder are cold misses.
type Stats struct {
	Calls                atomic.Int64
	Requested            atomic.Int64
	Unique               atomic.Int64
	UniqueMisses         atomic.Int64
	ConflictUniqueMisses atomic.Int64
	ConflictMisses       atomic.Int64
}

func (s *Stats) accumulate(l LocalStats) {
	s.Calls.Add(1)
	s.Requested.Add(l.Requested)
	s.Unique.Add(l.Unique)
	s.UniqueMisses.Add(l.UniqueMisses)
	s.ConflictUniqueMisses.Add(l.ConflictUniqueMisses)
	s.ConflictMisses.Add(l.ConflictMisses)
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.Calls.Store(0)
	s.Requested.Store(0)
	s.Unique.Store(0)
	s.UniqueMisses.Store(0)
	s.ConflictUniqueMisses.Store(0)
	s.ConflictMisses.Store(0)
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() LocalStats {
	return LocalStats{
		Requested:            s.Requested.Load(),
		Unique:               s.Unique.Load(),
		UniqueMisses:         s.UniqueMisses.Load(),
		ConflictUniqueMisses: s.ConflictUniqueMisses.Load(),
		ConflictMisses:       s.ConflictMisses.Load(),
	}
}

// MissCounter is the lightweight miss summary kept alongside the full
// Stats: how many lookups observed at least one miss and how many
// distinct rows missed in total.
type MissCounter struct {
	ForwardsWithMiss int64
	UniqueMisses     int64
}

// RecordMisses folds one lookup's locations into the miss counter.
// Misses deduplicate per call; the always-miss sentinel does not count.
func (c *Cache) RecordMisses(linear []int64, locations []int32) {
	missed := roaring64.New()
	for i, loc := range locations {
		if loc == Miss && c.valid(linear[i]) {
			missed.Add(uint64(linear[i]))
		}
	}
	if n := int64(missed.GetCardinality()); n > 0 {
		c.missForwards++
		c.uniqueMisses += n
	}
}

// MissCounter returns the cumulative miss summary.
func (c *Cache) MissCounter() MissCounter {
	return MissCounter{
		ForwardsWithMiss: c.missForwards,
		UniqueMisses:     c.uniqueMisses,
	}
}

// RecordTableMisses folds one lookup's misses into the per-feature
// breakdown. The batch segmentation mirrors Linearize: offsets carries
// batch boundaries per feature, and misses deduplicate within each
// feature's segment.
func (c *Cache) RecordTableMisses(linear []int64, locations []int32, offsets []int64) {
	features := c.state.NumFeatures()
	if features == 0 || len(offsets) < 2 {
		return
	}
	batch := (len(offsets) - 1) / features

	for f := 0; f < features; f++ {
		start := offsets[f*batch]
		end := offsets[(f+1)*batch]

		missed := roaring64.New()
		for i := start; i < end; i++ {
			if locations[i] == Miss && c.valid(linear[i]) {
				missed.Add(uint64(linear[i]))
			}
		}
		c.tableMiss[f] += int64(missed.GetCardinality())
	}
}

// TableMisses returns the cumulative unique miss count per feature.
func (c *Cache) TableMisses() []int64 {
	out := make([]int64, len(c.tableMiss))
	copy(out, c.tableMiss)
	return out
}
