package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/splitembed/placement"
)

func TestMaterializeTableSlices(t *testing.T) {
	specs := []placement.TableSpec{
		{Rows: 10, Dim: 4, Location: placement.Device},
		{Rows: 20, Dim: 4, Location: placement.Host},
		{Rows: 30, Dim: 4, Location: placement.ManagedCaching},
	}
	plan, err := placement.Construct(specs, false, true)
	require.NoError(t, err)

	buf, err := Materialize(plan)
	require.NoError(t, err)
	defer buf.Close()

	assert.Len(t, buf.Dev, 40)
	assert.Len(t, buf.Host, 80)
	assert.Len(t, buf.UVM(), 120)

	dev := buf.TableSlice(0, 40)
	dev[0] = 1
	assert.Equal(t, float32(1), buf.Dev[0])

	host := buf.TableSlice(1, 80)
	host[79] = 2
	assert.Equal(t, float32(2), buf.Host[79])

	uvm := buf.TableSlice(2, 120)
	uvm[5] = 3
	assert.Equal(t, float32(3), buf.UVM()[5])
}

func TestMaterializeEnforceHBM(t *testing.T) {
	specs := []placement.TableSpec{
		{Rows: 10, Dim: 4, Location: placement.Device},
		{Rows: 30, Dim: 4, Location: placement.ManagedCaching},
	}
	plan, err := placement.Construct(specs, false, true)
	require.NoError(t, err)

	buf, err := Materialize(plan, func(o *Options) {
		o.EnforceHBM = true
	})
	require.NoError(t, err)

	assert.Len(t, buf.UVM(), 120)

	managed := buf.TableSlice(1, 120)
	managed[7] = 3
	assert.Equal(t, float32(3), buf.UVM()[7])

	assert.NoError(t, buf.Close())
	assert.Empty(t, buf.UVM())
}

func TestMaterializeEmptyTiers(t *testing.T) {
	specs := []placement.TableSpec{
		{Rows: 10, Dim: 4, Location: placement.Device},
	}
	plan, err := placement.Construct(specs, false, false)
	require.NoError(t, err)

	buf, err := Materialize(plan)
	require.NoError(t, err)

	assert.Empty(t, buf.Host)
	assert.Empty(t, buf.UVM())
	assert.NoError(t, buf.Close())
	assert.NoError(t, buf.Close())
}
