// Package mem provides 64-byte aligned allocation for tier and cache
// buffers handed to lookup kernels.
package mem

import (
	"unsafe"
)

// Alignment is the byte alignment of every buffer handed to lookup
// kernels (64 bytes, one cache line / AVX-512 lane).
const Alignment = 64

// AllocAligned allocates a byte slice of the given size whose first byte
// sits at an address divisible by Alignment.
//
// Slightly more memory than requested is allocated so an aligned offset
// always exists; the underlying array stays alive through the returned
// slice.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}

	buf := make([]byte, size+Alignment)

	ptr := unsafe.Pointer(&buf[0]) //nolint:gosec // required for alignment arithmetic
	addr := uintptr(ptr)
	offset := (Alignment - (addr & (Alignment - 1))) & (Alignment - 1)

	return buf[offset : offset+uintptr(size)]
}

// AllocAlignedFloat32 allocates an aligned float32 slice.
func AllocAlignedFloat32(size int) []float32 {
	if size <= 0 {
		return nil
	}

	byteSlice := AllocAligned(size * 4)
	ptr := unsafe.Pointer(&byteSlice[0])       //nolint:gosec // required for alignment arithmetic
	return unsafe.Slice((*float32)(ptr), size) //nolint:gosec // required for alignment arithmetic
}

// AllocAlignedInt64 allocates an aligned int64 slice. The cache slot and
// recency tables are scanned one full set (one cache line) at a time, so
// they get the same treatment as weight buffers.
func AllocAlignedInt64(size int) []int64 {
	if size <= 0 {
		return nil
	}

	byteSlice := AllocAligned(size * 8)
	ptr := unsafe.Pointer(&byteSlice[0])     //nolint:gosec // required for alignment arithmetic
	return unsafe.Slice((*int64)(ptr), size) //nolint:gosec // required for alignment arithmetic
}
