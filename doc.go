// Package splitembed manages physical storage placement and caching for
// very large embedding tables that exceed fast-memory capacity.
//
// Logical feature tables are partitioned across three memory tiers: fast
// device-resident memory, host memory, and managed (unified, paged)
// memory. Tables placed in the managed-caching tier are served through a
// set-associative cache resident in fast memory with an LRU or LFU
// replacement policy, and cache population is pipelined so it overlaps
// with unrelated computation.
//
// # Quick Start
//
//	specs := []placement.TableSpec{
//	    {Rows: 1 << 24, Dim: 128, Location: placement.ManagedCaching, Device: placement.Accelerator},
//	    {Rows: 1 << 16, Dim: 64, Location: placement.Device, Device: placement.Accelerator},
//	}
//
//	eng, _ := splitembed.New(specs,
//	    splitembed.WithCacheLoadFactor(0.2),
//	    splitembed.WithOptimizer(optim.Config{
//	        Kind:   optim.RowwiseAdagrad,
//	        Device: placement.Accelerator,
//	        Args:   optim.Args{LearningRate: 0.05, Eps: 1e-8},
//	    }),
//	)
//	defer eng.Close()
//
//	// Overlap cache population with other work, then consume.
//	eng.Prefetch(ctx, nextIndices, nextOffsets)
//	out, _ := eng.Forward(ctx, indices, offsets, nil)
//
// Forward consumes prefetched cache locations in strict FIFO order and
// prefetches synchronously when none are pending, so it is always safe
// to call without a preceding Prefetch.
//
// # Key Features
//
//   - Three-tier placement planner with per-table offsets
//   - Set-associative software cache (LRU/LFU), sized by load factor or
//     memory budget
//   - Bounded-depth prefetch pipeline with strict FIFO consumption
//   - Per-optimizer auxiliary state layout (momentum, counters) on the
//     same tiering scheme
//   - Miss accounting: global, unique-deduplicated, and per-table
//   - Snapshot checkpointing to local files or object stores
package splitembed
