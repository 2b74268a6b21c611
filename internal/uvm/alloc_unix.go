//go:build !windows

package uvm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func alloc(elems int64) (*Slab, error) {
	size := int(elems * 4)
	raw, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("uvm: mmap %d bytes: %w", size, err)
	}
	return &Slab{f32: castFloat32(raw, elems), raw: raw}, nil
}

func release(raw []byte) error {
	return unix.Munmap(raw)
}
