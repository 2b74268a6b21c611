package splitembed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hupe1980/splitembed/kernel"
	"github.com/hupe1980/splitembed/lxu"
	"github.com/hupe1980/splitembed/optim"
	"github.com/hupe1980/splitembed/pipeline"
	"github.com/hupe1980/splitembed/placement"
	"github.com/hupe1980/splitembed/storage"
)

// Engine manages tiered storage and caching for a set of embedding
// tables: the placement plan, the materialized tier buffers, the
// set-associative cache over the managed-caching tier, the prefetch
// pipeline, and the optimizer state layout.
//
// All cache-touching operations (Prefetch, Forward, Flush, reset) are
// issued from one logical stream; issuance order defines execution
// order and no locking happens on that path. The resource controller
// and metrics collector are safe for concurrent use.
type Engine struct {
	opts  options
	specs []placement.TableSpec

	featureTableMap []int
	rows            []int64 // per physical table
	dims            []int64 // per physical table, precision-effective
	featureRows     []int64 // per logical feature
	cached          []bool

	plan    placement.SplitState
	weights *storage.Tiered

	cacheState lxu.CacheState
	cache      *lxu.Cache
	geom       lxu.Geometry
	cacheBytes int64
	uvmBytes   int64

	ring     *pipeline.Ring
	timestep int64
	// forwards counts forward passes independently of the optimizer
	// iteration counter, which only advances for iteration-using
	// variants.
	forwards int64

	opt *optim.State
}

// New builds an engine for the given table specs.
func New(specs []placement.TableSpec, optFns ...Option) (*Engine, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no embedding tables", ErrConfiguration)
	}

	ftm := opts.featureTableMap
	if ftm == nil {
		ftm = make([]int, len(specs))
		for i := range ftm {
			ftm[i] = i
		}
	}
	for _, t := range ftm {
		if t < 0 || t >= len(specs) {
			return nil, fmt.Errorf("%w: feature table map entry %d out of range", ErrConfiguration, t)
		}
	}

	plan, err := placement.Construct(specs, false, true, func(o *placement.Options) {
		o.Precision = opts.weightsPrecision
	})
	if err != nil {
		return nil, translateError(err)
	}

	weights, err := storage.Materialize(plan, func(o *storage.Options) {
		o.EnforceHBM = opts.enforceHBM
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:            opts,
		specs:           specs,
		featureTableMap: ftm,
		rows:            make([]int64, len(specs)),
		dims:            make([]int64, len(specs)),
		featureRows:     make([]int64, len(ftm)),
		cached:          make([]bool, len(specs)),
		plan:            plan,
		weights:         weights,
		ring:            pipeline.New(opts.pipelineDepth),
		timestep:        1,
	}

	if opts.enforceHBM && opts.resources != nil {
		bytes := plan.UVMSize * 4
		if bytes > 0 && !opts.resources.TryReserve(bytes) {
			weights.Close()
			return nil, fmt.Errorf("%w: cannot pin %d managed bytes in fast memory", ErrCapacity, bytes)
		}
		e.uvmBytes = bytes
	}
	for t, spec := range specs {
		e.rows[t] = spec.Rows
		e.dims[t] = placement.EffectiveDim(spec.Dim, opts.weightsPrecision)
		e.cached[t] = plan.Placements[t] == placement.ManagedCaching
	}
	for f, t := range ftm {
		e.featureRows[f] = specs[t].Rows
	}

	e.cacheState = lxu.ConstructCacheState(e.rows, plan.Placements, ftm)
	if e.cacheState.TotalHashSize > 0 {
		if err := e.buildCache(); err != nil {
			e.Close()
			return nil, err
		}
	}

	optCfg := opts.optimizer
	optCfg.EnforceHBM = opts.enforceHBM
	e.opt, err = optim.New(specs, optCfg)
	if err != nil {
		e.Close()
		return nil, translateError(err)
	}

	e.opts.logger.Info("engine constructed",
		"tables", len(specs),
		"features", len(ftm),
		"dev_size", plan.DevSize,
		"host_size", plan.HostSize,
		"uvm_size", plan.UVMSize,
		"cache_sets", e.geom.Sets,
		"cache_load_factor", e.geom.LoadFactor,
		"cache_algorithm", e.opts.cacheAlgorithm.String(),
		"optimizer", e.opt.Kind().String(),
	)

	return e, nil
}

func (e *Engine) buildCache() error {
	if e.opts.cachePrecision == placement.INT8 {
		return fmt.Errorf("%w: int8 cache precision is not supported", ErrConfiguration)
	}
	elem := e.opts.cachePrecision.ElementSize()

	var maxDim int64
	for t, dim := range e.dims {
		if e.cached[t] && dim > maxDim {
			maxDim = dim
		}
	}

	var freeBytes int64
	if e.opts.resources != nil {
		freeBytes = e.opts.resources.Free() - e.opts.cacheReservedBytes
		if freeBytes <= 0 {
			return fmt.Errorf("%w: reserved memory exhausts the device budget", ErrCapacity)
		}
	}

	geom, err := lxu.SizeGeometry(
		e.cacheState.TotalHashSize,
		e.opts.cacheLoadFactor,
		elem,
		maxDim,
		e.opts.cacheAlgorithm,
		func(o *lxu.SizeOptions) {
			o.ExplicitSets = e.opts.cacheSets
			o.FreeBytes = freeBytes
			o.Associativity = e.opts.associativity
		},
	)
	if err != nil {
		return translateError(err)
	}

	if e.opts.resources != nil {
		bytes := geom.Bytes(elem)
		if !e.opts.resources.TryReserve(bytes) {
			return fmt.Errorf("%w: cannot reserve %d cache bytes", ErrCapacity, bytes)
		}
		e.cacheBytes = bytes
	}

	e.geom = geom
	e.cache = lxu.NewCache(lxu.Config{
		State:          e.cacheState,
		Geometry:       geom,
		Algorithm:      e.opts.cacheAlgorithm,
		Backing:        e.weights.UVM(),
		BackingOffsets: e.plan.Offsets,
		Dims:           e.dims,
		GatherStats:    e.opts.gatherCacheStats,
	})
	return nil
}

// Prefetch pages the batch's rows into the cache ahead of the forward
// pass that will consume them, and queues the resolved cache locations.
// No-op when no table is served through the cache.
func (e *Engine) Prefetch(ctx context.Context, indices, offsets []int64) error {
	start := time.Now()
	err := e.prefetch(ctx, indices, offsets)
	e.opts.metricsCollector.RecordPrefetch(e.lastUniqueMisses(), time.Since(start), err)
	e.opts.logger.LogPrefetch(ctx, e.timestep, len(indices), err)
	return err
}

func (e *Engine) prefetch(ctx context.Context, indices, offsets []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.timestep++
	if e.cache == nil {
		return nil
	}

	linear := e.cacheState.Linearize(indices, offsets)

	if e.opts.recordCacheMissCounter || e.opts.recordTablewiseMiss {
		locations := e.cache.Lookup(linear)
		if e.opts.recordCacheMissCounter {
			e.cache.RecordMisses(linear, locations)
		}
		if e.opts.recordTablewiseMiss {
			e.cache.RecordTableMisses(linear, locations, offsets)
		}
	}

	switch e.opts.cacheAlgorithm {
	case lxu.LRU:
		e.cache.PopulateLRU(linear, e.timestep)
	case lxu.LFU:
		e.cache.PopulateLFU(linear)
	default:
		return fmt.Errorf("%w: unknown cache algorithm %d", ErrConfiguration, e.opts.cacheAlgorithm)
	}

	batch := pipeline.Batch{
		Indices:   indices,
		Offsets:   offsets,
		Linear:    linear,
		Locations: e.cache.Lookup(linear),
		Timestep:  e.timestep,
	}
	if err := e.ring.Push(batch); err != nil {
		return translateError(err)
	}
	return nil
}

// lastUniqueMisses reports the cumulative unique-miss counter for
// metrics; zero when stats gathering is off.
func (e *Engine) lastUniqueMisses() int64 {
	if e.cache == nil {
		return 0
	}
	return e.cache.Stats().UniqueMisses.Load()
}

// Forward runs one lookup step: bounds check, consume the pipelined
// cache locations (prefetching synchronously when none are pending),
// and dispatch the fused lookup-and-update kernel. Returns the pooled
// output, one row per sample laid out feature-major.
func (e *Engine) Forward(ctx context.Context, indices, offsets []int64, perSampleWeights []float32) ([]float32, error) {
	start := time.Now()
	e.forwards++
	out, err := e.forward(ctx, indices, offsets, perSampleWeights)
	e.opts.metricsCollector.RecordForward(len(indices), time.Since(start), err)
	e.opts.logger.LogForward(ctx, e.forwards, len(indices), err)
	return out, err
}

func (e *Engine) forward(ctx context.Context, indices, offsets []int64, perSampleWeights []float32) ([]float32, error) {
	if err := kernel.BoundsCheck(e.featureRows, indices, offsets, e.opts.boundsCheckMode, e.opts.logger.Logger); err != nil {
		return nil, err
	}

	var locations []int32
	if e.cache != nil {
		batch, ok := e.ring.Pop()
		if !ok {
			// Nothing pending: prefetch synchronously so there is
			// always something to consume.
			if err := e.prefetch(ctx, indices, offsets); err != nil {
				return nil, err
			}
			batch, _ = e.ring.Pop()
		}
		locations = batch.Locations
	}

	step := e.opt.AdvanceStep()
	e.opt.MaybeRefreshMaxCounter(step)

	args := kernel.CommonArgs{
		Weights:          e.weights,
		CacheLocations:   locations,
		MaxCachedDim:     e.geom.MaxCachedDim,
		Rows:             e.rows,
		Dims:             e.dims,
		FeatureTableMap:  e.featureTableMap,
		Cached:           e.cached,
		Indices:          indices,
		Offsets:          offsets,
		PerSampleWeights: perSampleWeights,
		Pooling:          e.opts.pooling,
	}
	if e.cache != nil {
		args.CacheWeights = e.cache.Weights()
	}

	return e.opts.invoker.Invoke(args, e.opt, step)
}

// Flush writes every cached row back to managed memory. Call before
// reading weights externally or before destructive state changes.
// No-op when no table is cached.
func (e *Engine) Flush() {
	start := time.Now()
	if e.cache != nil {
		e.cache.Flush()
	}
	e.opts.metricsCollector.RecordFlush(time.Since(start), nil)
	e.opts.logger.LogFlush(context.Background(), nil)
}

// Forwards returns the number of forward passes issued. Unlike the
// optimizer step it advances for every variant.
func (e *Engine) Forwards() int64 {
	return e.forwards
}

// ResetCacheStates invalidates all cache residency and replacement
// state and drops pending prefetches. Cached-but-unflushed rows are
// discarded; Flush first to keep them.
func (e *Engine) ResetCacheStates() {
	if e.cache == nil {
		return
	}
	e.cache.Reset()
	e.ring.Reset()
	e.timestep = 1
}

// SplitWeights returns one view per table over the weight storage.
// Rows resident in the cache are not reflected until Flush.
func (e *Engine) SplitWeights() []storage.TableView {
	out := make([]storage.TableView, len(e.specs))
	for t, spec := range e.specs {
		out[t] = storage.TableView{
			Rows: spec.Rows,
			Dim:  e.dims[t],
			Data: e.weights.TableSlice(t, spec.Rows*e.dims[t]),
		}
	}
	return out
}

// SplitOptimizerStates returns, per table, the optimizer's auxiliary
// buffers.
func (e *Engine) SplitOptimizerStates() [][]storage.TableView {
	return e.opt.SplitStates()
}

// OptimizerStateDict returns the per-table optimizer states under their
// conventional names. Unsupported variants return ErrUnsupported.
func (e *Engine) OptimizerStateDict() ([]map[string]storage.TableView, error) {
	dict, err := e.opt.StateDict()
	return dict, translateError(err)
}

// CacheMissCounter returns the lightweight miss summary. Requires
// WithRecordCacheMetrics; zero-valued otherwise.
func (e *Engine) CacheMissCounter() lxu.MissCounter {
	if e.cache == nil {
		return lxu.MissCounter{}
	}
	return e.cache.MissCounter()
}

// TableWiseMiss returns the cumulative unique miss count per feature.
func (e *Engine) TableWiseMiss() []int64 {
	if e.cache == nil {
		return nil
	}
	return e.cache.TableMisses()
}

// CacheStats returns a snapshot of the six-counter lookup statistics.
// Requires WithGatherCacheStats; zero-valued otherwise.
func (e *Engine) CacheStats() lxu.LocalStats {
	if e.cache == nil {
		return lxu.LocalStats{}
	}
	return e.cache.Stats().Snapshot()
}

// ResetCacheStats zeroes the lookup statistics.
func (e *Engine) ResetCacheStats() {
	if e.cache != nil {
		e.cache.Stats().Reset()
	}
}

// Geometry returns the sized cache shape; zero-valued when no table is
// cached.
func (e *Engine) Geometry() lxu.Geometry {
	return e.geom
}

// SetLearningRate sets the learning rate for subsequent updates.
func (e *Engine) SetLearningRate(lr float64) {
	e.opt.SetLearningRate(lr)
}

// SetOptimizerStep overrides the iteration counter, e.g. when resuming
// from a checkpoint.
func (e *Engine) SetOptimizerStep(step int64) {
	e.opt.SetStep(step)
}

// Optimizer exposes the optimizer state layout.
func (e *Engine) Optimizer() *optim.State {
	return e.opt
}

// InitWeightsUniform fills every table's weights with uniform random
// values in [min, max).
func (e *Engine) InitWeightsUniform(rng *rand.Rand, min, max float64) {
	e.Flush()
	e.ResetCacheStates()
	span := float32(max - min)
	lo := float32(min)
	for _, view := range e.SplitWeights() {
		for i := range view.Data {
			view.Data[i] = lo + span*rng.Float32()
		}
	}
}

// Close releases the tier buffers, optimizer state, and any reserved
// cache memory. The engine must not be used afterwards.
func (e *Engine) Close() error {
	var firstErr error
	if e.weights != nil {
		if err := e.weights.Close(); err != nil {
			firstErr = err
		}
		e.weights = nil
	}
	if e.opt != nil {
		if err := e.opt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.opt = nil
	}
	if e.cacheBytes > 0 && e.opts.resources != nil {
		e.opts.resources.Release(e.cacheBytes)
		e.cacheBytes = 0
	}
	if e.uvmBytes > 0 && e.opts.resources != nil {
		e.opts.resources.Release(e.uvmBytes)
		e.uvmBytes = 0
	}
	e.cache = nil
	return firstErr
}
