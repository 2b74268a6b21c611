package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/splitembed/placement"
)

func testSpecs() []placement.TableSpec {
	return []placement.TableSpec{
		{Rows: 10, Dim: 8, Location: placement.Device, Device: placement.Accelerator},
		{Rows: 20, Dim: 4, Location: placement.ManagedCaching, Device: placement.Accelerator},
	}
}

func TestNewBufferSetPerKind(t *testing.T) {
	tests := []struct {
		kind      Kind
		momentum1 bool
		m1Rowwise bool
		momentum2 bool
		m2Rowwise bool
	}{
		{kind: SGD},
		{kind: LARSSGD, momentum1: true},
		{kind: Adagrad, momentum1: true},
		{kind: RowwiseAdagrad, momentum1: true, m1Rowwise: true},
		{kind: RowwiseWeightedAdagrad, momentum1: true, m1Rowwise: true},
		{kind: Adam, momentum1: true, momentum2: true},
		{kind: PartialRowwiseAdam, momentum1: true, momentum2: true, m2Rowwise: true},
		{kind: LAMB, momentum1: true, momentum2: true},
		{kind: PartialRowwiseLAMB, momentum1: true, momentum2: true, m2Rowwise: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			s, err := New(testSpecs(), Config{Kind: tt.kind, Device: placement.Accelerator})
			require.NoError(t, err)
			defer s.Close()

			m1, ok := s.TryGetBuffer(Momentum1)
			assert.Equal(t, tt.momentum1, ok)
			if ok {
				assert.Equal(t, tt.m1Rowwise, m1.Rowwise)
			}

			m2, ok := s.TryGetBuffer(Momentum2)
			assert.Equal(t, tt.momentum2, ok)
			if ok {
				assert.Equal(t, tt.m2Rowwise, m2.Rowwise)
			}

			_, ok = s.TryGetBuffer(PrevIter)
			assert.False(t, ok)
			_, ok = s.TryGetBuffer(RowCounter)
			assert.False(t, ok)
		})
	}
}

func TestNewCounterBuffers(t *testing.T) {
	reg := DefaultCounterRegularization()
	reg.CounterWeightDecayMode = CounterWeightDecayDecoupled

	s, err := New(testSpecs(), Config{
		Kind:            RowwiseAdagrad,
		Device:          placement.Accelerator,
		WeightDecayMode: WeightDecayCounter,
		CounterReg:      &reg,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.UsesCounter())

	pi, ok := s.TryGetBuffer(PrevIter)
	require.True(t, ok)
	assert.True(t, pi.Rowwise)

	rc, ok := s.TryGetBuffer(RowCounter)
	require.True(t, ok)
	assert.True(t, rc.Rowwise)

	// The kernels see the counter flavor, not the outer counter mode.
	assert.Equal(t, WeightDecayMode(CounterWeightDecayDecoupled), s.Args().WeightDecayMode)
}

func TestNewRejectsBadConfigs(t *testing.T) {
	t.Run("counter mode without definition", func(t *testing.T) {
		_, err := New(testSpecs(), Config{
			Kind:            RowwiseAdagrad,
			Device:          placement.Accelerator,
			WeightDecayMode: WeightDecayCounter,
		})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("definition without counter mode", func(t *testing.T) {
		reg := DefaultCounterRegularization()
		_, err := New(testSpecs(), Config{
			Kind:            RowwiseAdagrad,
			Device:          placement.Accelerator,
			WeightDecayMode: WeightDecayL2,
			CounterReg:      &reg,
		})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("adam on cpu", func(t *testing.T) {
		_, err := New(testSpecs(), Config{Kind: Adam, Device: placement.CPU})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestAdvanceStep(t *testing.T) {
	t.Run("tracked", func(t *testing.T) {
		s, err := New(testSpecs(), Config{Kind: Adam, Device: placement.Accelerator})
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, int64(1), s.AdvanceStep())
		assert.Equal(t, int64(2), s.AdvanceStep())

		s.SetStep(100)
		assert.Equal(t, int64(101), s.AdvanceStep())
	})

	t.Run("untracked", func(t *testing.T) {
		s, err := New(testSpecs(), Config{Kind: SGD, Device: placement.Accelerator})
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, int64(0), s.AdvanceStep())
		assert.Equal(t, int64(0), s.Step())
	})
}

func TestMaxCounterRefresh(t *testing.T) {
	reg := DefaultCounterRegularization()
	reg.MaxCounterUpdateFreq = 10

	s, err := New(testSpecs(), Config{
		Kind:            RowwiseAdagrad,
		Device:          placement.Accelerator,
		WeightDecayMode: WeightDecayCounter,
		CounterReg:      &reg,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, float64(1), s.MaxCounter())

	rc, _ := s.TryGetBuffer(RowCounter)
	rc.Data.Dev[7] = 41

	// Off-cycle steps leave the scalar alone.
	s.MaybeRefreshMaxCounter(9)
	assert.Equal(t, float64(1), s.MaxCounter())

	s.MaybeRefreshMaxCounter(10)
	assert.Equal(t, float64(42), s.MaxCounter())
}

func TestSplitStates(t *testing.T) {
	s, err := New(testSpecs(), Config{Kind: PartialRowwiseAdam, Device: placement.Accelerator})
	require.NoError(t, err)
	defer s.Close()

	split := s.SplitStates()
	require.Len(t, split, 2)

	// Table 0: 10 rows, dim 8; momentum2 is rowwise.
	require.Len(t, split[0], 2)
	assert.Equal(t, int64(8), split[0][0].Dim)
	assert.Len(t, split[0][0].Data, 80)
	assert.Equal(t, int64(1), split[0][1].Dim)
	assert.Len(t, split[0][1].Data, 10)

	// Writes through a view land in the owning buffer.
	split[1][0].Data[0] = 7
	m1, _ := s.TryGetBuffer(Momentum1)
	assert.Equal(t, float32(7), m1.Data.TableSlice(1, 80)[0])
}

func TestStateDict(t *testing.T) {
	t.Run("adagrad", func(t *testing.T) {
		s, err := New(testSpecs(), Config{Kind: RowwiseAdagrad, Device: placement.Accelerator})
		require.NoError(t, err)
		defer s.Close()

		dict, err := s.StateDict()
		require.NoError(t, err)
		require.Len(t, dict, 2)
		assert.Contains(t, dict[0], "sum")
	})

	t.Run("adam", func(t *testing.T) {
		s, err := New(testSpecs(), Config{Kind: Adam, Device: placement.Accelerator})
		require.NoError(t, err)
		defer s.Close()

		dict, err := s.StateDict()
		require.NoError(t, err)
		assert.Contains(t, dict[0], "exp_avg")
		assert.Contains(t, dict[0], "exp_avg_sq")
	})

	t.Run("lars has no conventional surface", func(t *testing.T) {
		s, err := New(testSpecs(), Config{Kind: LARSSGD, Device: placement.Accelerator})
		require.NoError(t, err)
		defer s.Close()

		_, err = s.StateDict()
		require.ErrorIs(t, err, ErrNoSuchState)
	})
}
