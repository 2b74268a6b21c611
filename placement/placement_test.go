package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructRoutesTiers(t *testing.T) {
	specs := []TableSpec{
		{Rows: 100, Dim: 16, Location: Host, Device: CPU},
		{Rows: 200, Dim: 32, Location: Device, Device: Accelerator},
		{Rows: 50, Dim: 16, Location: ManagedCaching, Device: Accelerator},
		{Rows: 25, Dim: 16, Location: Managed, Device: Accelerator},
	}

	split, err := Construct(specs, false, true)
	require.NoError(t, err)

	assert.Equal(t, []Location{Host, Device, ManagedCaching, Managed}, split.Placements)
	assert.Equal(t, int64(100*16), split.HostSize)
	assert.Equal(t, int64(200*32), split.DevSize)
	assert.Equal(t, int64(50*16+25*16), split.UVMSize)
	assert.Equal(t, []int64{0, 0, 0, 50 * 16}, split.Offsets)
}

func TestConstructRowwise(t *testing.T) {
	specs := []TableSpec{
		{Rows: 100, Dim: 16, Location: ManagedCaching},
		{Rows: 200, Dim: 64, Location: Device},
	}

	// Rowwise state goes to device even for managed tables.
	split, err := Construct(specs, true, false)
	require.NoError(t, err)

	assert.Equal(t, []Location{Device, Device}, split.Placements)
	assert.Equal(t, int64(300), split.DevSize)
	assert.Zero(t, split.UVMSize)
	assert.Equal(t, []int64{0, 100}, split.Offsets)
}

func TestConstructCachingDisallowed(t *testing.T) {
	specs := []TableSpec{
		{Rows: 10, Dim: 8, Location: ManagedCaching},
	}

	split, err := Construct(specs, false, false)
	require.NoError(t, err)

	// Not cacheable: degrades to plain managed, still in the uvm budget.
	assert.Equal(t, []Location{Managed}, split.Placements)
	assert.Equal(t, int64(80), split.UVMSize)
}

func TestConstructOverride(t *testing.T) {
	loc := Managed
	specs := []TableSpec{
		{Rows: 10, Dim: 8, Location: Device},
	}

	split, err := Construct(specs, false, false, func(o *Options) {
		o.Override = &loc
	})
	require.NoError(t, err)
	assert.Equal(t, []Location{Managed}, split.Placements)
	assert.Equal(t, int64(80), split.UVMSize)
	assert.Zero(t, split.DevSize)
}

func TestConstructInt8RowDimOffset(t *testing.T) {
	specs := []TableSpec{
		{Rows: 10, Dim: 8, Location: Device},
	}

	split, err := Construct(specs, false, false, func(o *Options) {
		o.Precision = INT8
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10*(8+Int8RowDimOffset)), split.DevSize)
}

func TestConstructDimAlignment(t *testing.T) {
	specs := []TableSpec{
		{Rows: 10, Dim: 8, Location: Device},
		{Rows: 10, Dim: 6, Location: Device},
	}

	_, err := Construct(specs, false, false)
	var misaligned *ErrDimNotAligned
	require.ErrorAs(t, err, &misaligned)
	assert.Equal(t, 1, misaligned.Table)
	assert.Equal(t, int64(6), misaligned.Dim)
}

func TestConstructEmptyTiersRepresentable(t *testing.T) {
	split, err := Construct(nil, false, true)
	require.NoError(t, err)
	assert.Zero(t, split.DevSize)
	assert.Zero(t, split.HostSize)
	assert.Zero(t, split.UVMSize)
	assert.Empty(t, split.Placements)
	assert.Empty(t, split.Offsets)
}

func TestTierFootprintsDisjointAndComplete(t *testing.T) {
	specs := []TableSpec{
		{Rows: 3, Dim: 4, Location: Host},
		{Rows: 5, Dim: 8, Location: Device},
		{Rows: 7, Dim: 4, Location: ManagedCaching},
		{Rows: 11, Dim: 4, Location: Host},
		{Rows: 13, Dim: 4, Location: Managed},
	}

	split, err := Construct(specs, false, true)
	require.NoError(t, err)

	var dev, host, uvm int64
	for t_, spec := range specs {
		size := spec.Rows * spec.Dim
		switch split.Placements[t_] {
		case Device:
			dev += size
		case Host:
			host += size
		default:
			uvm += size
		}
	}
	assert.Equal(t, dev, split.DevSize)
	assert.Equal(t, host, split.HostSize)
	assert.Equal(t, uvm, split.UVMSize)
}
