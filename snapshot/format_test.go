package snapshot

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/splitembed/optim"
	"github.com/hupe1980/splitembed/placement"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Step:          42,
		Timestep:      7,
		OptimizerKind: optim.RowwiseAdagrad,
		Tables: []TableInfo{
			{Rows: 100, Dim: 16, Location: placement.Device},
			{Rows: 50, Dim: 8, Location: placement.ManagedCaching},
		},
		Dev:     []float32{1, 2, 3, 4},
		Host:    nil,
		Managed: []float32{5, 6, 7},
		OptimizerBuffers: []OptimizerBuffer{
			{Role: optim.Momentum1, Rowwise: true, Dev: []float32{0.5, 0.25}, Managed: []float32{0.125}},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compressionName(compression), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, testSnapshot(), compression))

			got, err := Read(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)

			want := testSnapshot()
			assert.Equal(t, want.Step, got.Step)
			assert.Equal(t, want.Timestep, got.Timestep)
			assert.Equal(t, want.OptimizerKind, got.OptimizerKind)
			assert.Equal(t, want.Tables, got.Tables)
			assert.Equal(t, want.Dev, got.Dev)
			assert.Empty(t, got.Host)
			assert.Equal(t, want.Managed, got.Managed)

			require.Len(t, got.OptimizerBuffers, 1)
			assert.Equal(t, optim.Momentum1, got.OptimizerBuffers[0].Role)
			assert.True(t, got.OptimizerBuffers[0].Rowwise)
			assert.Equal(t, []float32{0.5, 0.25}, got.OptimizerBuffers[0].Dev)
			assert.Equal(t, []float32{0.125}, got.OptimizerBuffers[0].Managed)
		})
	}
}

func compressionName(c Compression) string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	snap := testSnapshot()
	snap.Managed = make([]float32, 64*1024) // all zeros, highly compressible

	var raw, lz4Buf bytes.Buffer
	require.NoError(t, Write(&raw, snap, CompressionNone))
	require.NoError(t, Write(&lz4Buf, snap, CompressionLZ4))
	assert.Less(t, lz4Buf.Len(), raw.Len())

	got, err := Read(bytes.NewReader(lz4Buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, snap.Managed, got.Managed)
}

func TestReadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testSnapshot(), CompressionNone))

	data := buf.Bytes()
	data[0] ^= 0xFF
	fixTrailer(data)

	_, err := Read(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestReadRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testSnapshot(), CompressionNone))

	data := buf.Bytes()
	data[4] ^= 0xFF
	fixTrailer(data)

	_, err := Read(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestReadDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testSnapshot(), CompressionNone))

	data := buf.Bytes()
	data[len(data)/2] ^= 0xFF

	_, err := Read(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrChecksum)
}

func TestReadRejectsTruncated(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("SEB")))
	require.ErrorIs(t, err, ErrCorrupt)
}

// fixTrailer recomputes the CRC so structural checks are reached.
func fixTrailer(data []byte) {
	body := data[:len(data)-4]
	sum := crc32.ChecksumIEEE(body)
	data[len(data)-4] = byte(sum)
	data[len(data)-3] = byte(sum >> 8)
	data[len(data)-2] = byte(sum >> 16)
	data[len(data)-1] = byte(sum >> 24)
}
