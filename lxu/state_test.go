package lxu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/splitembed/placement"
)

func TestConstructCacheState(t *testing.T) {
	state := ConstructCacheState(
		[]int64{100, 200, 50},
		[]placement.Location{placement.ManagedCaching, placement.Managed, placement.ManagedCaching},
		[]int{0, 1, 2},
	)

	assert.Equal(t, int64(150), state.TotalHashSize)
	assert.Equal(t, []int64{0, -1, 100, 150}, state.HashSizeCumsum)
	assert.Equal(t, 3, state.NumFeatures())

	assert.Equal(t, int64(0), state.TableBase(0))
	assert.Equal(t, int64(-1), state.TableBase(1))
	assert.Equal(t, int64(100), state.TableBase(2))

	require.Len(t, state.IndexTableMap, 150)
	assert.Equal(t, int32(0), state.IndexTableMap[0])
	assert.Equal(t, int32(0), state.IndexTableMap[99])
	assert.Equal(t, int32(2), state.IndexTableMap[100])
	assert.Equal(t, int32(2), state.IndexTableMap[149])
}

func TestConstructCacheStateSharedTable(t *testing.T) {
	state := ConstructCacheState(
		[]int64{40},
		[]placement.Location{placement.ManagedCaching},
		[]int{0, 0},
	)

	assert.Equal(t, int64(40), state.TotalHashSize)
	assert.Equal(t, []int64{0, 0, 40}, state.HashSizeCumsum)
	assert.Equal(t, 2, state.NumFeatures())
}

func TestLinearize(t *testing.T) {
	state := ConstructCacheState(
		[]int64{100, 200, 50},
		[]placement.Location{placement.ManagedCaching, placement.Managed, placement.ManagedCaching},
		[]int{0, 1, 2},
	)

	// Batch size 2, two lookups per feature per sample.
	indices := []int64{3, 7, 9, 11, 5, 2, 8, 1, 4, 6, 0, 49}
	offsets := []int64{0, 2, 4, 6, 8, 10, 12}

	linear := state.Linearize(indices, offsets)

	// Feature 0: base 0.
	assert.Equal(t, []int64{3, 7, 9, 11}, linear[0:4])
	// Feature 1: not cacheable, always-miss sentinel.
	assert.Equal(t, []int64{150, 150, 150, 150}, linear[4:8])
	// Feature 2: base 100.
	assert.Equal(t, []int64{104, 106, 100, 149}, linear[8:12])
}

func TestLinearizeNoCacheableTables(t *testing.T) {
	state := ConstructCacheState(
		[]int64{100},
		[]placement.Location{placement.Managed},
		[]int{0},
	)

	// With no cacheable rows the sentinel is 0, still out of range.
	linear := state.Linearize([]int64{1, 2, 3}, []int64{0, 3})
	assert.Equal(t, []int64{0, 0, 0}, linear)
}
