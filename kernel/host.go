package kernel

import (
	"errors"

	"github.com/hupe1980/splitembed/optim"
)

// ErrRaggedPooling is returned for PoolingNone over features of
// differing dims.
var ErrRaggedPooling = errors.New("pooling mode none requires uniform feature dims")

// HostInvoker is the reference gather implementation. It resolves each
// row through the cache when a slot was prefetched and from its tier
// buffer otherwise, then pools per feature. The optimizer state is left
// untouched; updates happen in the fused device kernels this stands in
// for.
type HostInvoker struct{}

// Invoke implements Invoker.
func (HostInvoker) Invoke(args CommonArgs, state *optim.State, step int64) ([]float32, error) {
	features := len(args.FeatureTableMap)
	if features == 0 {
		return nil, nil
	}
	batch := (len(args.Offsets) - 1) / features

	if args.Pooling == PoolingNone {
		return gatherUnpooled(args, features)
	}

	// Output layout: batch x totalD, feature spans concatenated.
	var totalD int64
	featD := make([]int64, features)
	for f, t := range args.FeatureTableMap {
		featD[f] = args.Dims[t]
		totalD += args.Dims[t]
	}

	out := make([]float32, int64(batch)*totalD)
	var dOffset int64
	for f := 0; f < features; f++ {
		t := args.FeatureTableMap[f]
		dim := featD[f]
		for b := 0; b < batch; b++ {
			start := args.Offsets[f*batch+b]
			end := args.Offsets[f*batch+b+1]
			dst := out[int64(b)*totalD+dOffset:][:dim]
			for i := start; i < end; i++ {
				row, err := resolveRow(args, t, i)
				if err != nil {
					return nil, err
				}
				scale := float32(1)
				if args.PerSampleWeights != nil {
					scale = args.PerSampleWeights[i]
				}
				for j := int64(0); j < dim; j++ {
					dst[j] += scale * row[j]
				}
			}
			if args.Pooling == PoolingMean && end > start {
				n := float32(end - start)
				for j := int64(0); j < dim; j++ {
					dst[j] /= n
				}
			}
		}
		dOffset += dim
	}
	return out, nil
}

func gatherUnpooled(args CommonArgs, features int) ([]float32, error) {
	dim := args.Dims[args.FeatureTableMap[0]]
	for _, t := range args.FeatureTableMap {
		if args.Dims[t] != dim {
			return nil, ErrRaggedPooling
		}
	}

	batch := (len(args.Offsets) - 1) / features
	out := make([]float32, int64(len(args.Indices))*dim)
	for f := 0; f < features; f++ {
		t := args.FeatureTableMap[f]
		start := args.Offsets[f*batch]
		end := args.Offsets[(f+1)*batch]
		for i := start; i < end; i++ {
			row, err := resolveRow(args, t, i)
			if err != nil {
				return nil, err
			}
			copy(out[i*dim:][:dim], row)
		}
	}
	return out, nil
}

// resolveRow returns the storage backing batch position i of table t:
// the cache slot when one was prefetched, the table's tier buffer
// otherwise.
func resolveRow(args CommonArgs, t int, i int64) ([]float32, error) {
	dim := args.Dims[t]
	idx := args.Indices[i]
	if idx < 0 || idx >= args.Rows[t] {
		return nil, &BoundsError{Position: i, Index: idx, Rows: args.Rows[t]}
	}

	if args.Cached != nil && args.Cached[t] && args.CacheLocations != nil {
		if slot := args.CacheLocations[i]; slot >= 0 {
			return args.CacheWeights[int64(slot)*args.MaxCachedDim:][:dim], nil
		}
	}

	table := args.Weights.TableSlice(t, args.Rows[t]*dim)
	return table[idx*dim:][:dim], nil
}

// Compile time check to ensure HostInvoker satisfies the Invoker interface.
var _ Invoker = HostInvoker{}
