package lxu

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/splitembed/internal/mem"
)

// Config describes the cache engine's immutable wiring.
type Config struct {
	// State is the linear row-id space of the cacheable tables.
	State CacheState
	// Geometry is the sized shape of the cache.
	Geometry Geometry
	// Algorithm selects LRU or LFU replacement.
	Algorithm Algorithm

	// Backing is the managed-tier weight buffer rows are paged from and
	// written back to.
	Backing []float32
	// BackingOffsets is the element offset of each physical table within
	// Backing. Only entries of cacheable tables are consulted.
	BackingOffsets []int64
	// Dims is the stored row width of each physical table.
	Dims []int64

	// GatherStats enables per-call lookup statistics.
	GatherStats bool
}

// Cache is the set-associative cache engine.
//
// All mutation happens through the populate calls; Lookup is a pure
// read. The engine is issued from a single logical stream and is not
// safe for concurrent mutation (see the concurrency notes on the engine
// type).
type Cache struct {
	state CacheState
	geom  Geometry
	algo  Algorithm

	backing        []float32
	backingOffsets []int64
	dims           []int64

	// slots holds one linear row id (or EmptySlot) per way,
	// sets x associativity, row-major by set.
	slots []int64
	// lruState holds per-way last-access timesteps (LRU only).
	lruState []int64
	// freq holds per-linear-row-id access counts (LFU only), with one
	// extra entry absorbing the always-miss sentinel.
	freq []int64
	// weights holds the cached rows, one MaxCachedDim-wide row per way.
	weights []float32

	gatherStats bool
	stats       Stats

	// everInserted remembers ids that were resident at least once, to
	// split conflict misses (evicted by set contention) from cold
	// misses.
	everInserted *roaring64.Bitmap

	missForwards int64
	uniqueMisses int64
	tableMiss    []int64
}

// NewCache builds the cache engine and allocates its slot, state, and
// weight buffers.
func NewCache(cfg Config) *Cache {
	capacity := cfg.Geometry.CapacityRows()

	c := &Cache{
		state:          cfg.State,
		geom:           cfg.Geometry,
		algo:           cfg.Algorithm,
		backing:        cfg.Backing,
		backingOffsets: cfg.BackingOffsets,
		dims:           cfg.Dims,
		slots:          mem.AllocAlignedInt64(int(capacity)),
		weights:        mem.AllocAlignedFloat32(int(capacity * cfg.Geometry.MaxCachedDim)),
		gatherStats:    cfg.GatherStats,
		everInserted:   roaring64.New(),
		tableMiss:      make([]int64, cfg.State.NumFeatures()),
	}

	for i := range c.slots {
		c.slots[i] = EmptySlot
	}

	if cfg.Algorithm == LFU {
		c.freq = make([]int64, cfg.State.TotalHashSize+1)
	} else {
		c.lruState = mem.AllocAlignedInt64(int(capacity))
	}

	return c
}

// Geometry returns the sized cache shape.
func (c *Cache) Geometry() Geometry {
	return c.geom
}

// Weights exposes the cache weight buffer for kernels resolving hit
// slots.
func (c *Cache) Weights() []float32 {
	return c.weights
}

// Stats returns the cumulative lookup statistics.
func (c *Cache) Stats() *Stats {
	return &c.stats
}

func (c *Cache) valid(id int64) bool {
	return id >= 0 && id < c.state.TotalHashSize
}

// find returns the slot of id within its set, -1 when absent.
func (c *Cache) find(id int64) int64 {
	set := id % c.geom.Sets
	base := set * c.geom.Associativity
	for w := int64(0); w < c.geom.Associativity; w++ {
		if c.slots[base+w] == id {
			return base + w
		}
	}
	return -1
}

// Lookup resolves each linear row id to its cache slot, Miss when not
// resident. Pure read. When stats gathering is enabled, per-call
// statistics accumulate into Stats.
func (c *Cache) Lookup(linear []int64) []int32 {
	locations := make([]int32, len(linear))

	var local LocalStats
	var unique, uniqueMissed *roaring64.Bitmap
	if c.gatherStats {
		unique = roaring64.New()
		uniqueMissed = roaring64.New()
	}

	for i, id := range linear {
		if !c.valid(id) {
			locations[i] = Miss
			continue
		}

		slot := c.find(id)
		if slot >= 0 {
			locations[i] = int32(slot)
		} else {
			locations[i] = Miss
		}

		if c.gatherStats {
			local.Requested++
			unique.Add(uint64(id))
			if slot < 0 {
				uniqueMissed.Add(uint64(id))
				if c.everInserted.Contains(uint64(id)) {
					local.ConflictMisses++
				}
			}
		}
	}

	if c.gatherStats {
		local.Unique = int64(unique.GetCardinality())
		local.UniqueMisses = int64(uniqueMissed.GetCardinality())
		local.ConflictUniqueMisses = int64(roaring64.And(uniqueMissed, c.everInserted).GetCardinality())
		c.stats.accumulate(local)
	}

	return locations
}

// PopulateLRU admits every missed row, evicting the least recently used
// way of its set. Resident rows refresh their timestamp. timestep is the
// logical clock advanced once per prefetch call; rows admitted by the
// same call share it, and eviction ties break on the lowest way index.
func (c *Cache) PopulateLRU(linear []int64, timestep int64) {
	for _, id := range linear {
		if !c.valid(id) {
			continue
		}

		if slot := c.find(id); slot >= 0 {
			c.lruState[slot] = timestep
			continue
		}

		set := id % c.geom.Sets
		base := set * c.geom.Associativity
		victim := base
		for w := int64(0); w < c.geom.Associativity; w++ {
			if c.slots[base+w] == EmptySlot {
				victim = base + w
				break
			}
			if c.lruState[base+w] < c.lruState[victim] {
				victim = base + w
			}
		}

		c.insert(id, victim)
		c.lruState[victim] = timestep
	}
}

// PopulateLFU admits every missed row, evicting the way whose occupant
// has the smallest access frequency, ties broken by the lowest way
// index. Frequencies accumulate per linear row id across calls,
// independent of residency.
func (c *Cache) PopulateLFU(linear []int64) {
	for _, id := range linear {
		if id < 0 {
			continue
		}
		if id >= c.state.TotalHashSize {
			// Sentinel hits the spare trailing counter; harmless.
			c.freq[c.state.TotalHashSize]++
			continue
		}
		c.freq[id]++
	}

	for _, id := range linear {
		if !c.valid(id) {
			continue
		}
		if c.find(id) >= 0 {
			continue
		}

		set := id % c.geom.Sets
		base := set * c.geom.Associativity
		victim := base
		for w := int64(0); w < c.geom.Associativity; w++ {
			occ := c.slots[base+w]
			if occ == EmptySlot {
				victim = base + w
				break
			}
			if c.freq[occ] < c.freq[c.slots[victim]] {
				victim = base + w
			}
		}

		c.insert(id, victim)
	}
}

// insert evicts the current occupant of slot (writing its row back to
// managed memory) and pages in id's row.
func (c *Cache) insert(id, slot int64) {
	if victim := c.slots[slot]; victim != EmptySlot {
		c.writeBack(victim, slot)
	}
	c.slots[slot] = id
	c.everInserted.Add(uint64(id))

	t := c.state.IndexTableMap[id]
	dim := c.dims[t]
	local := id - c.state.TableBase(t)
	src := c.backing[c.backingOffsets[t]+local*dim:]
	dst := c.weights[slot*c.geom.MaxCachedDim:]
	copy(dst[:dim], src[:dim])
}

// writeBack copies a resident row's data to its managed-memory backing
// location.
func (c *Cache) writeBack(id, slot int64) {
	t := c.state.IndexTableMap[id]
	dim := c.dims[t]
	local := id - c.state.TableBase(t)
	dst := c.backing[c.backingOffsets[t]+local*dim:]
	src := c.weights[slot*c.geom.MaxCachedDim:]
	copy(dst[:dim], src[:dim])
}

// Flush writes every resident row back to managed memory. Residency and
// replacement state are untouched; use Reset to drop them.
func (c *Cache) Flush() {
	for slot, id := range c.slots {
		if id != EmptySlot {
			c.writeBack(id, int64(slot))
		}
	}
}

// Reset invalidates all residency and replacement state. The next
// populate repopulates from backing.
func (c *Cache) Reset() {
	for i := range c.slots {
		c.slots[i] = EmptySlot
	}
	for i := range c.lruState {
		c.lruState[i] = 0
	}
	for i := range c.freq {
		c.freq[i] = 0
	}
}
