// Package storage materializes placement plans into tier-backed float32
// buffers: device memory is allocated cache-line aligned, host memory
// from the regular heap, and the managed tier from anonymous mappings
// the OS can page on demand.
package storage

import (
	"fmt"

	"github.com/hupe1980/splitembed/internal/mem"
	"github.com/hupe1980/splitembed/internal/uvm"
	"github.com/hupe1980/splitembed/placement"
)

// TableView is one table's span of a tiered buffer. Dim is 1 for
// rowwise buffers. Data aliases the owning buffer; writes are visible
// both ways.
type TableView struct {
	Rows int64
	Dim  int64
	Data []float32
}

// Tiered is one logical buffer split across the three memory tiers
// according to its placement plan.
type Tiered struct {
	// Plan is the placement the buffer was materialized from.
	Plan placement.SplitState

	// Dev is the device-tier slice.
	Dev []float32
	// Host is the host-tier slice.
	Host []float32

	slab   *uvm.Slab
	pinned []float32 // managed tier pinned in fast memory
}

// Options configures tier materialization.
type Options struct {
	// EnforceHBM places the managed tier in fast memory instead of a
	// pageable mapping. Rows are then never paged, at the cost of the
	// full managed footprint counting against device capacity.
	EnforceHBM bool
}

// Materialize allocates the tier buffers for a placement plan. Empty
// tiers yield zero-length slices.
func Materialize(plan placement.SplitState, optFns ...func(o *Options)) (*Tiered, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	t := &Tiered{
		Plan: plan,
		Dev:  mem.AllocAlignedFloat32(int(plan.DevSize)),
		Host: make([]float32, plan.HostSize),
	}

	if opts.EnforceHBM {
		t.pinned = mem.AllocAlignedFloat32(int(plan.UVMSize))
		return t, nil
	}

	slab, err := uvm.Alloc(plan.UVMSize)
	if err != nil {
		return nil, fmt.Errorf("materialize managed tier: %w", err)
	}
	t.slab = slab

	return t, nil
}

// UVM is the managed-tier slice.
func (t *Tiered) UVM() []float32 {
	if t.slab == nil {
		return t.pinned
	}
	return t.slab.Float32()
}

// TableSlice returns table's span within its tier, elems elements long.
func (t *Tiered) TableSlice(table int, elems int64) []float32 {
	off := t.Plan.Offsets[table]
	switch t.Plan.Placements[table] {
	case placement.Device:
		return t.Dev[off : off+elems]
	case placement.Host:
		return t.Host[off : off+elems]
	default:
		return t.UVM()[off : off+elems]
	}
}

// Close releases the managed-tier mapping. The device, host, and
// pinned slices are garbage collected.
func (t *Tiered) Close() error {
	if t == nil {
		return nil
	}
	t.pinned = nil
	if t.slab == nil {
		return nil
	}
	err := t.slab.Close()
	t.slab = nil
	return err
}
