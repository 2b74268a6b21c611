// Package pipeline holds the bounded FIFO of prefetched batches that
// decouples prefetch calls from the forward passes consuming them.
package pipeline

import "fmt"

// DefaultDepth is the number of batches that may be prefetched ahead of
// their forward passes.
const DefaultDepth = 4

// MisuseError reports a push into a full pipeline: prefetch calls have
// outpaced forward passes beyond the configured depth.
type MisuseError struct {
	Depth int
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("prefetch pipeline misuse: more than %d prefetches queued ahead of forward passes", e.Depth)
}

// Batch is one prefetched lookup batch, carrying the linearized ids and
// the cache locations resolved for them at prefetch time.
type Batch struct {
	Indices   []int64
	Offsets   []int64
	Linear    []int64
	Locations []int32
	Timestep  int64
}

// Ring is a fixed-capacity FIFO of prefetched batches. Value-based ring
// buffer, no allocation after construction. Not safe for concurrent
// use; prefetch and forward are issued from one logical stream.
type Ring struct {
	items []Batch
	head  int
	size  int
}

// New builds a ring holding up to depth batches. Non-positive depth
// falls back to DefaultDepth.
func New(depth int) *Ring {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Ring{items: make([]Batch, depth)}
}

// Depth returns the ring's capacity.
func (r *Ring) Depth() int {
	return len(r.items)
}

// Len returns the number of queued batches.
func (r *Ring) Len() int {
	return r.size
}

// Push appends a batch, oldest-first order preserved. A full ring
// returns MisuseError and leaves the queue unchanged.
func (r *Ring) Push(b Batch) error {
	if r.size == len(r.items) {
		return &MisuseError{Depth: len(r.items)}
	}
	r.items[(r.head+r.size)%len(r.items)] = b
	r.size++
	return nil
}

// Pop removes and returns the oldest batch. ok is false when the ring
// is empty.
func (r *Ring) Pop() (Batch, bool) {
	if r.size == 0 {
		return Batch{}, false
	}
	b := r.items[r.head]
	r.items[r.head] = Batch{} // Zero out for GC
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return b, true
}

// Reset drops all queued batches.
func (r *Ring) Reset() {
	for i := range r.items {
		r.items[i] = Batch{}
	}
	r.head = 0
	r.size = 0
}
