// Package uvm allocates managed-tier buffers.
//
// The managed tier models unified, paged memory: rows live there
// permanently and are paged in on demand, either directly or through the
// set-associative cache. On unix the backing storage is an anonymous
// private mapping, so untouched tables cost no physical memory; elsewhere
// it degrades to a regular heap allocation.
package uvm

import (
	"unsafe"
)

// Slab is a managed-tier buffer of float32 elements.
type Slab struct {
	f32 []float32
	raw []byte // non-nil when memory mapped
}

// Alloc allocates a managed slab of the given element count. A zero count
// yields an empty, closeable slab.
func Alloc(elems int64) (*Slab, error) {
	if elems <= 0 {
		return &Slab{}, nil
	}
	return alloc(elems)
}

// Float32 returns the slab's elements. Valid until Close.
func (s *Slab) Float32() []float32 {
	return s.f32
}

// Len returns the element count.
func (s *Slab) Len() int64 {
	return int64(len(s.f32))
}

// Close releases the mapping, if any. The slab must not be used
// afterwards.
func (s *Slab) Close() error {
	if s.raw == nil {
		s.f32 = nil
		return nil
	}
	raw := s.raw
	s.raw = nil
	s.f32 = nil
	return release(raw)
}

func castFloat32(raw []byte, elems int64) []float32 {
	ptr := unsafe.Pointer(&raw[0])              //nolint:gosec // mapping is page aligned
	return unsafe.Slice((*float32)(ptr), elems) //nolint:gosec // mapping is page aligned
}
