// Package kernel defines the contracts between the embedding core and
// the lookup/update compute kernels, plus a host reference
// implementation of the pooled gather used for CPU execution and tests.
//
// The numeric optimizer update formulas live behind the Invoker
// interface and are not part of this package's scope; it owns the
// argument marshalling, bounds checking, and the strategy table mapping
// each optimizer kind to the auxiliary state its fused update consumes.
package kernel

import (
	"fmt"
	"log/slog"

	"github.com/hupe1980/splitembed/optim"
	"github.com/hupe1980/splitembed/storage"
)

// PoolingMode selects how rows of one feature pool into the output.
type PoolingMode int32

const (
	// PoolingSum sums the gathered rows.
	PoolingSum PoolingMode = iota
	// PoolingMean averages the gathered rows.
	PoolingMean
	// PoolingNone emits one output row per index, no reduction. All
	// feature dims must match.
	PoolingNone
)

// BoundsCheckMode selects how invalid batch indices are handled.
type BoundsCheckMode int32

const (
	// BoundsCheckNone skips validation.
	BoundsCheckNone BoundsCheckMode = iota
	// BoundsCheckWarning logs the first violation of a call, clamps the
	// offending index to zero, and continues.
	BoundsCheckWarning
	// BoundsCheckFatal fails the call on the first violation.
	BoundsCheckFatal
)

// BoundsError reports a batch index outside its table's row space.
type BoundsError struct {
	Feature  int
	Position int64
	Index    int64
	Rows     int64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("index %d at position %d of feature %d out of bounds [0, %d)", e.Index, e.Position, e.Feature, e.Rows)
}

// BoundsCheck validates the batch's indices against per-feature row
// counts. In warning mode invalid indices are clamped to zero in place
// and only the first violation is logged.
func BoundsCheck(rows []int64, indices, offsets []int64, mode BoundsCheckMode, warn *slog.Logger) error {
	if mode == BoundsCheckNone || len(rows) == 0 {
		return nil
	}

	batch := (len(offsets) - 1) / len(rows)
	warned := false

	for f := range rows {
		start := offsets[f*batch]
		end := offsets[(f+1)*batch]
		for i := start; i < end; i++ {
			idx := indices[i]
			if idx >= 0 && idx < rows[f] {
				continue
			}
			if mode == BoundsCheckFatal {
				return &BoundsError{Feature: f, Position: i, Index: idx, Rows: rows[f]}
			}
			if !warned && warn != nil {
				warn.Warn("embedding index out of bounds, clamping to 0",
					"feature", f,
					"position", i,
					"index", idx,
					"rows", rows[f],
				)
				warned = true
			}
			indices[i] = 0
		}
	}
	return nil
}

// CommonArgs is the argument bundle shared by every fused
// lookup-and-update entry point.
type CommonArgs struct {
	// Weights is the tiered weight storage.
	Weights *storage.Tiered
	// CacheWeights is the set-associative cache buffer, nil when no
	// table is cached.
	CacheWeights []float32
	// CacheLocations holds one cache slot (or miss) per batch index,
	// resolved at prefetch time.
	CacheLocations []int32
	// MaxCachedDim is the cache buffer's row stride.
	MaxCachedDim int64

	// Rows and Dims describe the physical tables.
	Rows []int64
	Dims []int64
	// FeatureTableMap maps each logical feature to its physical table.
	FeatureTableMap []int
	// Cached reports per physical table whether it is served through the
	// cache.
	Cached []bool

	Indices []int64
	Offsets []int64
	// PerSampleWeights scales each gathered row, nil for unweighted
	// pooling.
	PerSampleWeights []float32

	Pooling PoolingMode
}

// Invoker is one fused lookup-and-update entry point. step is the
// host-resident iteration counter value for this call.
type Invoker interface {
	Invoke(args CommonArgs, state *optim.State, step int64) ([]float32, error)
}

// updateStates maps each optimizer kind to the auxiliary buffer roles
// its fused update consumes, built once instead of re-dispatching per
// call.
var updateStates = map[optim.Kind][]optim.Role{
	optim.SGD:                    {},
	optim.LARSSGD:                {optim.Momentum1},
	optim.Adagrad:                {optim.Momentum1},
	optim.RowwiseAdagrad:         {optim.Momentum1},
	optim.RowwiseWeightedAdagrad: {optim.Momentum1},
	optim.Adam:                   {optim.Momentum1, optim.Momentum2},
	optim.PartialRowwiseAdam:     {optim.Momentum1, optim.Momentum2},
	optim.LAMB:                   {optim.Momentum1, optim.Momentum2},
	optim.PartialRowwiseLAMB:     {optim.Momentum1, optim.Momentum2},
}

// StatesFor returns the auxiliary buffer roles the kind's fused update
// consumes. ok is false for unknown kinds.
func StatesFor(kind optim.Kind) ([]optim.Role, bool) {
	roles, ok := updateStates[kind]
	return roles, ok
}
