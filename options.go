package splitembed

import (
	"github.com/hupe1980/splitembed/kernel"
	"github.com/hupe1980/splitembed/lxu"
	"github.com/hupe1980/splitembed/optim"
	"github.com/hupe1980/splitembed/pipeline"
	"github.com/hupe1980/splitembed/placement"
	"github.com/hupe1980/splitembed/resource"
)

type options struct {
	featureTableMap []int

	cacheAlgorithm     lxu.Algorithm
	cacheLoadFactor    float64
	cacheSets          int64
	cacheReservedBytes int64
	cachePrecision     placement.Precision
	associativity      int64

	weightsPrecision placement.Precision
	enforceHBM       bool

	optimizer optim.Config

	boundsCheckMode        kernel.BoundsCheckMode
	pooling                kernel.PoolingMode
	invoker                kernel.Invoker
	recordCacheMissCounter bool
	recordTablewiseMiss    bool
	gatherCacheStats       bool

	pipelineDepth int

	logger           *Logger
	metricsCollector MetricsCollector
	resources        *resource.Controller
}

func defaultOptions() options {
	return options{
		cacheAlgorithm:   lxu.LRU,
		cacheLoadFactor:  0.2,
		cachePrecision:   placement.FP32,
		weightsPrecision: placement.FP32,
		optimizer: optim.Config{
			Kind:   optim.SGD,
			Device: placement.Accelerator,
			Args:   optim.Args{LearningRate: 0.01, Eps: 1.0e-8, Beta1: 0.9, Beta2: 0.999, AdjustmentUB: 1.0},
		},
		boundsCheckMode:  kernel.BoundsCheckWarning,
		pooling:          kernel.PoolingSum,
		invoker:          kernel.HostInvoker{},
		pipelineDepth:    pipeline.DefaultDepth,
		logger:           NewLogger(nil),
		metricsCollector: NoopMetricsCollector{},
	}
}

// Option configures Engine construction.
type Option func(*options)

// WithFeatureTableMap maps logical features onto physical tables so
// several features can share one embedding table. Defaults to the
// identity mapping.
func WithFeatureTableMap(m []int) Option {
	return func(o *options) {
		o.featureTableMap = m
	}
}

// WithCacheAlgorithm selects the replacement policy for the caching
// tier. LRU favors temporal locality, LFU favors globally hot rows.
func WithCacheAlgorithm(a lxu.Algorithm) Option {
	return func(o *options) {
		o.cacheAlgorithm = a
	}
}

// WithCacheLoadFactor sets the fraction of cacheable rows the cache is
// sized to cover, cacheLoadFactor: 0.2. Ignored when an explicit set
// count is given.
func WithCacheLoadFactor(f float64) Option {
	return func(o *options) {
		o.cacheLoadFactor = f
	}
}

// WithCacheSets fixes the number of associative sets, bypassing the
// load-factor derivation.
func WithCacheSets(sets int64) Option {
	return func(o *options) {
		o.cacheSets = sets
	}
}

// WithCacheReservedMemory excludes bytes from the cache sizing budget,
// e.g. memory reserved for activations.
func WithCacheReservedMemory(bytes int64) Option {
	return func(o *options) {
		o.cacheReservedBytes = bytes
	}
}

// WithCachePrecision sets the element width used for cache sizing.
// INT8 is not supported for the cache buffer.
func WithCachePrecision(p placement.Precision) Option {
	return func(o *options) {
		o.cachePrecision = p
	}
}

// WithAssociativity overrides the number of ways per cache set.
func WithAssociativity(ways int64) Option {
	return func(o *options) {
		o.associativity = ways
	}
}

// WithWeightsPrecision sets the stored weight precision. INT8 adds the
// per-row quantization metadata span to every row.
func WithWeightsPrecision(p placement.Precision) Option {
	return func(o *options) {
		o.weightsPrecision = p
	}
}

// WithEnforceHBM pins the managed tier (weights and optimizer
// auxiliary buffers) in fast memory instead of pageable mappings. The
// full managed footprint then counts against the resource controller's
// device budget.
func WithEnforceHBM() Option {
	return func(o *options) {
		o.enforceHBM = true
	}
}

// WithOptimizer selects the optimizer variant and hyperparameters.
// cfg.Device restricts the variants available; the zero value is CPU
// mode.
func WithOptimizer(cfg optim.Config) Option {
	return func(o *options) {
		o.optimizer = cfg
	}
}

// WithBoundsCheckMode selects how invalid batch indices are handled,
// boundsCheckMode: Warning.
func WithBoundsCheckMode(m kernel.BoundsCheckMode) Option {
	return func(o *options) {
		o.boundsCheckMode = m
	}
}

// WithPooling selects the output pooling mode.
func WithPooling(m kernel.PoolingMode) Option {
	return func(o *options) {
		o.pooling = m
	}
}

// WithInvoker replaces the fused lookup-and-update kernel. The default
// is the host reference gather.
func WithInvoker(inv kernel.Invoker) Option {
	return func(o *options) {
		if inv == nil {
			inv = kernel.HostInvoker{}
		}
		o.invoker = inv
	}
}

// WithRecordCacheMetrics enables the lightweight miss counter and/or
// the per-table miss breakdown, updated on every prefetch.
func WithRecordCacheMetrics(missCounter, tablewise bool) Option {
	return func(o *options) {
		o.recordCacheMissCounter = missCounter
		o.recordTablewiseMiss = tablewise
	}
}

// WithGatherCacheStats enables the full six-counter lookup statistics.
func WithGatherCacheStats(enabled bool) Option {
	return func(o *options) {
		o.gatherCacheStats = enabled
	}
}

// WithPipelineDepth overrides the prefetch look-ahead bound,
// pipelineDepth: 4.
func WithPipelineDepth(depth int) Option {
	return func(o *options) {
		o.pipelineDepth = depth
	}
}

// WithLogger configures structured logging. Pass NoopLogger() to
// disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metricsCollector = collector
	}
}

// WithResourceController attaches a device memory budget. The cache
// sizing consults its free bytes and reserves the cache footprint.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}
