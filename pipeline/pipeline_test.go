package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingFIFOOrder(t *testing.T) {
	r := New(3)

	for ts := int64(1); ts <= 3; ts++ {
		require.NoError(t, r.Push(Batch{Timestep: ts}))
	}
	assert.Equal(t, 3, r.Len())

	for ts := int64(1); ts <= 3; ts++ {
		b, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, ts, b.Timestep)
	}

	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestRingSaturation(t *testing.T) {
	r := New(2)

	require.NoError(t, r.Push(Batch{Timestep: 1}))
	require.NoError(t, r.Push(Batch{Timestep: 2}))

	err := r.Push(Batch{Timestep: 3})
	var misuse *MisuseError
	require.ErrorAs(t, err, &misuse)
	assert.Equal(t, 2, misuse.Depth)

	// The failed push left the queue intact.
	b, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(1), b.Timestep)
}

func TestRingWrapAround(t *testing.T) {
	r := New(2)

	require.NoError(t, r.Push(Batch{Timestep: 1}))
	b, _ := r.Pop()
	assert.Equal(t, int64(1), b.Timestep)

	require.NoError(t, r.Push(Batch{Timestep: 2}))
	require.NoError(t, r.Push(Batch{Timestep: 3}))

	b, _ = r.Pop()
	assert.Equal(t, int64(2), b.Timestep)
	b, _ = r.Pop()
	assert.Equal(t, int64(3), b.Timestep)
}

func TestRingDefaultDepth(t *testing.T) {
	r := New(0)
	assert.Equal(t, DefaultDepth, r.Depth())
}

func TestRingReset(t *testing.T) {
	r := New(2)
	require.NoError(t, r.Push(Batch{Timestep: 1}))

	r.Reset()

	assert.Equal(t, 0, r.Len())
	_, ok := r.Pop()
	assert.False(t, ok)
}
