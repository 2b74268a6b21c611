// Package testutil provides testing utilities: a seeded, thread-safe
// random number generator and lookup batch generators.
//
// This package is intended for use in tests and benchmarks only.
//
//	rng := testutil.NewRNG(seed)
//	indices, offsets := rng.Batch([]int64{100, 200}, 8, 4)
package testutil

import (
	"math/rand"
	"sync"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63n returns a non-negative pseudo-random int64 in [0,n).
func (r *RNG) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
func (r *RNG) FillUniformRange(dst []float32, minVal, maxVal float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float32()*span
	}
}

// Indices returns n random row indices in [0, rows).
func (r *RNG) Indices(n int, rows int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, n)
	for i := range out {
		out[i] = r.rand.Int63n(rows)
	}
	return out
}

// Batch builds a random lookup batch over the given per-feature row
// counts. Each of the batch samples of each feature gets a bag of
// between 0 and maxBag indices. Offsets use the flattened
// [feature*batch + sample] layout with a trailing total.
func (r *RNG) Batch(featureRows []int64, batch, maxBag int) (indices, offsets []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	offsets = make([]int64, 0, len(featureRows)*batch+1)
	offsets = append(offsets, 0)
	for _, rows := range featureRows {
		for b := 0; b < batch; b++ {
			bag := r.rand.Intn(maxBag + 1)
			for i := 0; i < bag; i++ {
				indices = append(indices, r.rand.Int63n(rows))
			}
			offsets = append(offsets, int64(len(indices)))
		}
	}
	return indices, offsets
}
