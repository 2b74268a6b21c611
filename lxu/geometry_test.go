package lxu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeGeometry(t *testing.T) {
	t.Run("derives sets from load factor", func(t *testing.T) {
		g, err := SizeGeometry(350, 0.5, 4, 16, LRU)
		require.NoError(t, err)

		assert.Equal(t, int64(6), g.Sets)
		assert.Equal(t, int64(DefaultAssociativity), g.Associativity)
		assert.Equal(t, int64(192), g.CapacityRows())
		assert.InDelta(t, 192.0/350.0, g.LoadFactor, 1e-9)
	})

	t.Run("floors to one set", func(t *testing.T) {
		g, err := SizeGeometry(10, 0.01, 4, 16, LRU)
		require.NoError(t, err)

		assert.Equal(t, int64(1), g.Sets)
	})

	t.Run("shrinks to the memory budget", func(t *testing.T) {
		// One set costs 32 ways x 16 elements x 4 bytes = 2048 bytes.
		g, err := SizeGeometry(10000, 1.0, 4, 16, LRU, func(o *SizeOptions) {
			o.FreeBytes = 5000
		})
		require.NoError(t, err)

		assert.Equal(t, int64(2), g.Sets)
		assert.InDelta(t, 64.0/10000.0, g.LoadFactor, 1e-9)
	})

	t.Run("budget below one set", func(t *testing.T) {
		_, err := SizeGeometry(10000, 1.0, 4, 16, LRU, func(o *SizeOptions) {
			o.FreeBytes = 100
		})
		require.ErrorIs(t, err, ErrCacheCapacity)
	})

	t.Run("explicit sets bypass derivation", func(t *testing.T) {
		g, err := SizeGeometry(10000, 0.1, 4, 16, LRU, func(o *SizeOptions) {
			o.ExplicitSets = 7
			o.Associativity = 8
		})
		require.NoError(t, err)

		assert.Equal(t, int64(7), g.Sets)
		assert.Equal(t, int64(8), g.Associativity)
		assert.Equal(t, int64(56), g.CapacityRows())
	})

	t.Run("lfu set bound", func(t *testing.T) {
		_, err := SizeGeometry(1<<40, 1.0, 4, 16, LFU, func(o *SizeOptions) {
			o.ExplicitSets = 1 << 24
		})

		var tooMany *ErrTooManySets
		require.ErrorAs(t, err, &tooMany)
		assert.Equal(t, int64(1<<24), tooMany.Sets)
	})

	t.Run("rejects non-positive load factor", func(t *testing.T) {
		_, err := SizeGeometry(100, 0, 4, 16, LRU)
		require.Error(t, err)
	})
}

func TestGeometryBytes(t *testing.T) {
	g := Geometry{Sets: 6, Associativity: 32, MaxCachedDim: 16}
	assert.Equal(t, int64(6*32*16*4), g.Bytes(4))
}
