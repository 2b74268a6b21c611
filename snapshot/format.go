// Package snapshot serializes the full state of an embedding engine
// (table specs, tier buffers, optimizer buffers) into a single
// checksummed blob, and manages checkpoint blobs in a blobstore.
//
// # File Format
//
// A snapshot is a little-endian binary file:
//
//	magic "SEB1" | version | compression | section count
//	per section: kind | payload length | payload block
//	trailer: CRC32 (IEEE) of everything before it
//
// Each section payload is an independently compressed block, so readers
// can skip sections they do not need. CRC32 detects accidental
// corruption; it is not tamper-proof.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"unsafe"

	"github.com/hupe1980/splitembed/optim"
	"github.com/hupe1980/splitembed/placement"
)

const (
	// Magic identifies snapshot files (ASCII "SEB1").
	Magic = 0x53454231
	// Version is the current format version.
	Version = 0x00010000
)

var (
	// ErrInvalidMagic is returned when the blob is not a snapshot.
	ErrInvalidMagic = errors.New("invalid snapshot magic")
	// ErrInvalidVersion is returned for snapshots written by an
	// incompatible format version.
	ErrInvalidVersion = errors.New("unsupported snapshot version")
	// ErrChecksum is returned when the trailer CRC32 does not match.
	ErrChecksum = errors.New("snapshot checksum mismatch")
	// ErrCorrupt is returned for structurally invalid snapshots.
	ErrCorrupt = errors.New("corrupt snapshot")
)

// Section kinds.
const (
	sectionManifest  uint8 = 1
	sectionDev       uint8 = 2
	sectionHost      uint8 = 3
	sectionManaged   uint8 = 4
	sectionOptBuffer uint8 = 5
)

// TableInfo describes one table for compatibility checks on restore.
type TableInfo struct {
	Rows     int64
	Dim      int64
	Location placement.Location
}

// OptimizerBuffer is one optimizer state buffer split by tier.
type OptimizerBuffer struct {
	Role    optim.Role
	Rowwise bool
	Dev     []float32
	Host    []float32
	Managed []float32
}

// Snapshot is the in-memory form of a serialized engine state.
type Snapshot struct {
	Step          int64
	Timestep      int64
	OptimizerKind optim.Kind
	Tables        []TableInfo

	// Weight tiers, in placement plan layout.
	Dev     []float32
	Host    []float32
	Managed []float32

	OptimizerBuffers []OptimizerBuffer
}

// Write serializes the snapshot to w with the given compression.
func Write(w io.Writer, snap *Snapshot, compression Compression) error {
	var body bytes.Buffer

	type section struct {
		kind    uint8
		payload []byte
	}
	sections := []section{
		{sectionManifest, encodeManifest(snap)},
		{sectionDev, floatsToBytes(snap.Dev)},
		{sectionHost, floatsToBytes(snap.Host)},
		{sectionManaged, floatsToBytes(snap.Managed)},
	}
	for i := range snap.OptimizerBuffers {
		sections = append(sections, section{sectionOptBuffer, encodeOptBuffer(&snap.OptimizerBuffers[i])})
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:], Magic)
	binary.LittleEndian.PutUint32(header[4:], Version)
	header[8] = byte(compression)
	binary.LittleEndian.PutUint32(header[9:], uint32(len(sections)))
	body.Write(header)

	for _, s := range sections {
		block, err := compressBlock(s.payload, compression)
		if err != nil {
			return fmt.Errorf("compress section %d: %w", s.kind, err)
		}

		secHeader := make([]byte, 9)
		secHeader[0] = s.kind
		binary.LittleEndian.PutUint64(secHeader[1:], uint64(len(block)))
		body.Write(secHeader)
		body.Write(block)
	}

	sum := crc32.ChecksumIEEE(body.Bytes())
	trailer := make([]byte, 4)
	binary.LittleEndian.PutUint32(trailer, sum)

	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(trailer)
	return err
}

// Read parses a serialized snapshot, verifying the checksum first.
func Read(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < 20 {
		return nil, ErrCorrupt
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, ErrChecksum
	}

	if binary.LittleEndian.Uint32(body[0:]) != Magic {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(body[4:]) != Version {
		return nil, ErrInvalidVersion
	}
	compression := Compression(body[8])
	sectionCount := binary.LittleEndian.Uint32(body[9:])

	snap := &Snapshot{}
	off := 16
	for i := uint32(0); i < sectionCount; i++ {
		if off+9 > len(body) {
			return nil, ErrCorrupt
		}
		kind := body[off]
		blockLen := int(binary.LittleEndian.Uint64(body[off+1:]))
		off += 9
		if off+blockLen > len(body) {
			return nil, ErrCorrupt
		}

		payload, err := decompressBlock(body[off:off+blockLen], compression)
		if err != nil {
			return nil, fmt.Errorf("%w: section %d: %v", ErrCorrupt, kind, err)
		}
		off += blockLen

		switch kind {
		case sectionManifest:
			if err := decodeManifest(payload, snap); err != nil {
				return nil, err
			}
		case sectionDev:
			snap.Dev = bytesToFloats(payload)
		case sectionHost:
			snap.Host = bytesToFloats(payload)
		case sectionManaged:
			snap.Managed = bytesToFloats(payload)
		case sectionOptBuffer:
			buf, err := decodeOptBuffer(payload)
			if err != nil {
				return nil, err
			}
			snap.OptimizerBuffers = append(snap.OptimizerBuffers, buf)
		default:
			// Unknown sections from newer minor revisions are skipped.
		}
	}

	return snap, nil
}

func encodeManifest(snap *Snapshot) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	var scratch [8]byte
	putI64 := func(v int64) {
		le.PutUint64(scratch[:], uint64(v))
		buf.Write(scratch[:])
	}
	putU32 := func(v uint32) {
		le.PutUint32(scratch[:4], v)
		buf.Write(scratch[:4])
	}

	putI64(snap.Step)
	putI64(snap.Timestep)
	putU32(uint32(snap.OptimizerKind))
	putU32(uint32(len(snap.Tables)))
	for _, tbl := range snap.Tables {
		putI64(tbl.Rows)
		putI64(tbl.Dim)
		putU32(uint32(tbl.Location))
	}
	putU32(uint32(len(snap.OptimizerBuffers)))
	for _, ob := range snap.OptimizerBuffers {
		rowwise := byte(0)
		if ob.Rowwise {
			rowwise = 1
		}
		buf.Write([]byte{byte(ob.Role), rowwise})
	}
	return buf.Bytes()
}

func decodeManifest(data []byte, snap *Snapshot) error {
	le := binary.LittleEndian
	off := 0

	getI64 := func() (int64, bool) {
		if off+8 > len(data) {
			return 0, false
		}
		v := int64(le.Uint64(data[off:]))
		off += 8
		return v, true
	}
	getU32 := func() (uint32, bool) {
		if off+4 > len(data) {
			return 0, false
		}
		v := le.Uint32(data[off:])
		off += 4
		return v, true
	}

	var ok bool
	if snap.Step, ok = getI64(); !ok {
		return ErrCorrupt
	}
	if snap.Timestep, ok = getI64(); !ok {
		return ErrCorrupt
	}
	kind, ok := getU32()
	if !ok {
		return ErrCorrupt
	}
	snap.OptimizerKind = optim.Kind(kind)

	numTables, ok := getU32()
	if !ok {
		return ErrCorrupt
	}
	snap.Tables = make([]TableInfo, numTables)
	for i := range snap.Tables {
		if snap.Tables[i].Rows, ok = getI64(); !ok {
			return ErrCorrupt
		}
		if snap.Tables[i].Dim, ok = getI64(); !ok {
			return ErrCorrupt
		}
		loc, ok := getU32()
		if !ok {
			return ErrCorrupt
		}
		snap.Tables[i].Location = placement.Location(loc)
	}

	numBuffers, ok := getU32()
	if !ok {
		return ErrCorrupt
	}
	// The per-buffer role and rowwise flags are repeated in each
	// sectionOptBuffer payload; the manifest copy only pins the count.
	if off+int(numBuffers)*2 > len(data) {
		return ErrCorrupt
	}

	return nil
}

func encodeOptBuffer(ob *OptimizerBuffer) []byte {
	devBytes := floatsToBytes(ob.Dev)
	hostBytes := floatsToBytes(ob.Host)
	managedBytes := floatsToBytes(ob.Managed)

	out := make([]byte, 2+24+len(devBytes)+len(hostBytes)+len(managedBytes))
	out[0] = byte(ob.Role)
	if ob.Rowwise {
		out[1] = 1
	}
	le := binary.LittleEndian
	le.PutUint64(out[2:], uint64(len(devBytes)))
	le.PutUint64(out[10:], uint64(len(hostBytes)))
	le.PutUint64(out[18:], uint64(len(managedBytes)))

	off := 26
	off += copy(out[off:], devBytes)
	off += copy(out[off:], hostBytes)
	copy(out[off:], managedBytes)
	return out
}

func decodeOptBuffer(data []byte) (OptimizerBuffer, error) {
	if len(data) < 26 {
		return OptimizerBuffer{}, ErrCorrupt
	}
	le := binary.LittleEndian

	ob := OptimizerBuffer{
		Role:    optim.Role(data[0]),
		Rowwise: data[1] == 1,
	}
	devLen := int(le.Uint64(data[2:]))
	hostLen := int(le.Uint64(data[10:]))
	managedLen := int(le.Uint64(data[18:]))

	if 26+devLen+hostLen+managedLen > len(data) {
		return OptimizerBuffer{}, ErrCorrupt
	}

	off := 26
	ob.Dev = bytesToFloats(data[off : off+devLen])
	off += devLen
	ob.Host = bytesToFloats(data[off : off+hostLen])
	off += hostLen
	ob.Managed = bytesToFloats(data[off : off+managedLen])
	return ob, nil
}

// floatsToBytes reinterprets a float32 slice as raw little-endian bytes.
// Safe on all supported platforms; snapshots are not portable across
// byte orders.
func floatsToBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

// bytesToFloats copies raw bytes into a fresh float32 slice.
func bytesToFloats(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), len(out)*4), b)
	return out
}
