package lxu

import (
	"errors"
	"fmt"
)

// DefaultAssociativity is the number of ways per set. One set spans a
// fixed number of cache lines, so lookups scan a bounded, constant range
// regardless of cache size.
const DefaultAssociativity = 32

// maxLFUSets bounds the set count for the frequency policy: the
// frequency-table encoding packs the set index into 24 bits.
const maxLFUSets = 1<<24 - 1

// Algorithm selects the cache replacement policy.
type Algorithm int32

const (
	// LRU evicts the least recently used way of a set.
	LRU Algorithm = iota
	// LFU evicts the least frequently used way of a set.
	LFU
)

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	switch a {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	default:
		return fmt.Sprintf("algorithm(%d)", int32(a))
	}
}

// ErrCacheCapacity is returned when the cache cannot fit even one set
// within the memory budget.
var ErrCacheCapacity = errors.New("cache cannot fit a single set within the memory budget")

// ErrTooManySets is returned when the LFU policy's set bound is
// exceeded.
type ErrTooManySets struct {
	Sets int64
}

func (e *ErrTooManySets) Error() string {
	return fmt.Sprintf("lfu policy supports at most %d sets, sized %d", int64(maxLFUSets), e.Sets)
}

// Geometry is the sized shape of the cache.
type Geometry struct {
	// Sets is the number of associative sets.
	Sets int64
	// Associativity is the number of ways per set.
	Associativity int64
	// LoadFactor is the effective fraction of cacheable rows covered by
	// the sized cache, recomputed after any budget adjustment.
	LoadFactor float64
	// MaxCachedDim is the row width the cache buffer is sized for (the
	// widest cacheable table).
	MaxCachedDim int64
}

// CapacityRows returns the number of rows the cache can hold.
func (g Geometry) CapacityRows() int64 {
	return g.Sets * g.Associativity
}

// Bytes returns the cache weight buffer footprint.
func (g Geometry) Bytes(elementSize int64) int64 {
	return g.Sets * g.Associativity * elementSize * g.MaxCachedDim
}

// SizeOptions tunes SizeGeometry.
type SizeOptions struct {
	// ExplicitSets skips derivation from the load factor when positive.
	ExplicitSets int64
	// FreeBytes is the fast-memory budget available to the cache weight
	// buffer (total minus reservations minus the safety margin). Zero
	// means unconstrained.
	FreeBytes int64
	// Associativity overrides DefaultAssociativity when positive.
	Associativity int64
}

// SizeGeometry derives a feasible cache geometry for the given cacheable
// row population.
//
// Without an explicit set count, sets = ceil(rows x loadFactor / assoc).
// If the resulting weight buffer exceeds the budget, the set count
// shrinks to what fits. The effective load factor is recomputed for
// reporting either way.
func SizeGeometry(totalHashSize int64, loadFactor float64, elementSize, maxCachedDim int64, algorithm Algorithm, optFns ...func(o *SizeOptions)) (Geometry, error) {
	opts := SizeOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	assoc := opts.Associativity
	if assoc <= 0 {
		assoc = DefaultAssociativity
	}

	sets := opts.ExplicitSets
	if sets <= 0 {
		if loadFactor <= 0 {
			return Geometry{}, fmt.Errorf("cache load factor must be positive, got %g", loadFactor)
		}
		sets = (int64(float64(totalHashSize)*loadFactor) + assoc - 1) / assoc
		if sets == 0 {
			sets = 1
		}
		if opts.FreeBytes > 0 {
			size := sets * assoc * elementSize * maxCachedDim
			if size > opts.FreeBytes {
				sets = opts.FreeBytes / (maxCachedDim * elementSize) / assoc
			}
		}
	}

	if sets <= 0 {
		return Geometry{}, ErrCacheCapacity
	}
	if algorithm == LFU && sets >= maxLFUSets {
		return Geometry{}, &ErrTooManySets{Sets: sets}
	}

	effective := 0.0
	if totalHashSize > 0 {
		effective = float64(sets*assoc) / float64(totalHashSize)
	}

	return Geometry{
		Sets:          sets,
		Associativity: assoc,
		LoadFactor:    effective,
		MaxCachedDim:  maxCachedDim,
	}, nil
}
