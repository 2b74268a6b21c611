// Package placement partitions embedding tables across memory tiers.
//
// Each table is routed to one of three tiers: device (fast resident
// memory), host, or managed (unified, paged) memory. Tables placed in
// managed memory may additionally be served through the set-associative
// cache; such tables carry the ManagedCaching location. The planner is
// pure arithmetic over table specs, so it can be unit tested without any
// device present. Buffer materialization happens separately, in the
// engine.
package placement

import (
	"fmt"
)

// Location identifies the memory tier an embedding table lives in.
type Location int32

const (
	// Device places rows in fast resident memory.
	Device Location = iota
	// ManagedCaching places rows in managed memory, served through the
	// set-associative cache.
	ManagedCaching
	// Managed places rows in managed (unified, paged) memory without
	// caching.
	Managed
	// Host places rows in host memory.
	Host
)

// String implements fmt.Stringer.
func (l Location) String() string {
	switch l {
	case Device:
		return "device"
	case ManagedCaching:
		return "managed_caching"
	case Managed:
		return "managed"
	case Host:
		return "host"
	default:
		return fmt.Sprintf("location(%d)", int32(l))
	}
}

// ComputeDevice identifies where lookup kernels for a table run.
type ComputeDevice int32

const (
	// CPU runs kernels on the host.
	CPU ComputeDevice = iota
	// Accelerator runs kernels on the accelerator owning the device tier.
	Accelerator
)

// Precision is the storage element type of a buffer.
type Precision int32

const (
	// FP32 stores 4-byte floats.
	FP32 Precision = iota
	// FP16 stores 2-byte floats.
	FP16
	// INT8 stores 1-byte quantized values; each row carries an extra
	// fixed dimension offset for quantization metadata.
	INT8
)

// ElementSize returns the per-element byte size.
func (p Precision) ElementSize() int64 {
	switch p {
	case FP16:
		return 2
	case INT8:
		return 1
	default:
		return 4
	}
}

// String implements fmt.Stringer.
func (p Precision) String() string {
	switch p {
	case FP32:
		return "fp32"
	case FP16:
		return "fp16"
	case INT8:
		return "int8"
	default:
		return fmt.Sprintf("precision(%d)", int32(p))
	}
}

// Int8RowDimOffset is the fixed number of extra elements per INT8 row
// holding scale/bias quantization metadata.
const Int8RowDimOffset = 8

// TableSpec describes one embedding table.
type TableSpec struct {
	// Rows is the number of embedding rows.
	Rows int64
	// Dim is the embedding dimension. Must be a multiple of 4; downstream
	// kernels rely on 16-byte row alignment.
	Dim int64
	// Location is the requested tier.
	Location Location
	// Device is where compute for this table runs.
	Device ComputeDevice
}

// ErrDimNotAligned reports an embedding dimension that is not a multiple
// of 4.
type ErrDimNotAligned struct {
	Table int
	Dim   int64
}

func (e *ErrDimNotAligned) Error() string {
	return fmt.Sprintf("embedding dim must be a multiple of 4, table %d has dim %d", e.Table, e.Dim)
}

// SplitState is the result of partitioning tables across tiers: total
// element counts per tier plus, per table, its tier and its offset within
// that tier's buffer. Built once at construction and never mutated.
type SplitState struct {
	DevSize  int64
	HostSize int64
	UVMSize  int64

	Placements []Location
	Offsets    []int64
}

// Options tunes Construct.
type Options struct {
	// Precision selects the stored element type. INT8 widens each row by
	// Int8RowDimOffset elements.
	Precision Precision
	// RowDimOffset overrides the INT8 metadata width. Zero means
	// Int8RowDimOffset.
	RowDimOffset int64
	// Override forces every table into the given tier regardless of its
	// spec, used e.g. to push non-rowwise momentum into managed memory.
	Override *Location
}

// Construct partitions specs into a SplitState.
//
// rowwise allocates one element per row instead of one per row-dimension
// pair (used for rowwise optimizer state). cacheable marks the allocation
// as eligible for the caching tier: only then does a ManagedCaching spec
// keep its caching location; otherwise it degrades to plain Managed.
// Both managed flavors consume the uvm budget identically.
func Construct(specs []TableSpec, rowwise, cacheable bool, optFns ...func(o *Options)) (SplitState, error) {
	opts := Options{Precision: FP32}
	for _, fn := range optFns {
		fn(&opts)
	}

	rowDimOffset := opts.RowDimOffset
	if rowDimOffset == 0 {
		rowDimOffset = Int8RowDimOffset
	}

	split := SplitState{
		Placements: make([]Location, 0, len(specs)),
		Offsets:    make([]int64, 0, len(specs)),
	}

	for t, spec := range specs {
		if spec.Dim%4 != 0 {
			return SplitState{}, &ErrDimNotAligned{Table: t, Dim: spec.Dim}
		}

		dim := spec.Dim
		if opts.Precision == INT8 {
			dim += rowDimOffset
		}

		size := spec.Rows * dim
		if rowwise {
			size = spec.Rows
		}

		loc := spec.Location
		if opts.Override != nil {
			loc = *opts.Override
		}

		switch {
		case loc == Host:
			split.Placements = append(split.Placements, Host)
			split.Offsets = append(split.Offsets, split.HostSize)
			split.HostSize += size
		case loc == Device || rowwise:
			// Rowwise state for a managed table stays on device: it is one
			// scalar per row and always hot.
			split.Placements = append(split.Placements, Device)
			split.Offsets = append(split.Offsets, split.DevSize)
			split.DevSize += size
		default:
			if cacheable && loc == ManagedCaching {
				split.Placements = append(split.Placements, ManagedCaching)
			} else {
				split.Placements = append(split.Placements, Managed)
			}
			split.Offsets = append(split.Offsets, split.UVMSize)
			split.UVMSize += size
		}
	}

	return split, nil
}

// EffectiveDim returns the stored row width of a table under the given
// precision.
func EffectiveDim(dim int64, precision Precision) int64 {
	if precision == INT8 {
		return dim + Int8RowDimOffset
	}
	return dim
}
