// Package lxu implements the set-associative software cache that serves
// managed-memory embedding tables from fast memory.
//
// Rows of every cacheable table are folded into one flat, linear row-id
// space; a row's set is its linear id modulo the number of sets, and it
// may occupy any way within that set. Replacement is LRU or LFU ("LxU").
// Population is driven exclusively by prefetch calls; lookups are pure
// reads.
package lxu

import (
	"github.com/hupe1980/splitembed/placement"
)

const (
	// EmptySlot marks an unoccupied cache cell.
	EmptySlot int64 = -1

	// Miss is the lookup result for a row that is not resident.
	Miss int32 = -1
)

// CacheState is the construction-time description of the linear row-id
// space shared by all cacheable tables. Immutable after construction.
type CacheState struct {
	// TotalHashSize is the number of rows across all cacheable tables;
	// it doubles as the always-miss sentinel for linearized indices of
	// non-cacheable tables.
	TotalHashSize int64

	// HashSizeCumsum holds one entry per logical feature plus a trailing
	// total: the base linear id of the feature's table, or -1 when the
	// table is not cacheable.
	HashSizeCumsum []int64

	// IndexTableMap maps a linear row id to its physical table.
	IndexTableMap []int32

	// tableBase is the base linear id per physical table (-1 when not
	// cacheable); used to translate a linear id back to a table-local
	// row for backing-store copies.
	tableBase []int64
}

// ConstructCacheState folds the cacheable tables' row spaces into one
// linear id space.
//
// rows and locations describe the physical tables; featureTableMap maps
// each logical feature to its physical table (several features may share
// one table).
func ConstructCacheState(rows []int64, locations []placement.Location, featureTableMap []int) CacheState {
	base := make([]int64, len(rows))
	var total int64
	for t := range rows {
		if locations[t] == placement.ManagedCaching {
			base[t] = total
			total += rows[t]
		} else {
			base[t] = -1
		}
	}

	cumsum := make([]int64, 0, len(featureTableMap)+1)
	for _, t := range featureTableMap {
		cumsum = append(cumsum, base[t])
	}
	cumsum = append(cumsum, total)

	indexTableMap := make([]int32, total)
	for t := range rows {
		if base[t] < 0 {
			continue
		}
		for i := int64(0); i < rows[t]; i++ {
			indexTableMap[base[t]+i] = int32(t)
		}
	}

	return CacheState{
		TotalHashSize:  total,
		HashSizeCumsum: cumsum,
		IndexTableMap:  indexTableMap,
		tableBase:      base,
	}
}

// TableBase returns the base linear id of a physical table, -1 when the
// table is not cacheable.
func (s CacheState) TableBase(table int32) int64 {
	return s.tableBase[table]
}

// NumFeatures returns the number of logical features covered by the
// state.
func (s CacheState) NumFeatures() int {
	return len(s.HashSizeCumsum) - 1
}

// Linearize maps a batch of (feature, local row) lookups into the linear
// cache id space.
//
// indices holds the batch's row ids, segmented per feature by offsets
// (len(offsets) = numFeatures x batchSize + 1, as produced by the host's
// batch assembly). Rows of non-cacheable tables map to TotalHashSize,
// which every cache operation treats as an always-miss no-op.
func (s CacheState) Linearize(indices, offsets []int64) []int64 {
	linear := make([]int64, len(indices))
	features := s.NumFeatures()
	if features == 0 {
		for i := range linear {
			linear[i] = s.TotalHashSize
		}
		return linear
	}

	batch := (len(offsets) - 1) / features
	for f := 0; f < features; f++ {
		start := offsets[f*batch]
		end := offsets[(f+1)*batch]
		base := s.HashSizeCumsum[f]
		for i := start; i < end; i++ {
			if base >= 0 {
				linear[i] = base + indices[i]
			} else {
				linear[i] = s.TotalHashSize
			}
		}
	}
	return linear
}
