package splitembed

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordPrefetch is called after each prefetch. uniqueMisses is the
	// number of distinct rows paged in, duration the total time taken,
	// err is nil if successful.
	RecordPrefetch(uniqueMisses int64, duration time.Duration, err error)

	// RecordForward is called after each forward pass.
	RecordForward(indices int, duration time.Duration, err error)

	// RecordFlush is called after each cache flush.
	RecordFlush(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPrefetch(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordForward(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PrefetchCount        atomic.Int64
	PrefetchErrors       atomic.Int64
	PrefetchUniqueMisses atomic.Int64
	PrefetchTotalNanos   atomic.Int64
	ForwardCount         atomic.Int64
	ForwardErrors        atomic.Int64
	ForwardIndices       atomic.Int64
	ForwardTotalNanos    atomic.Int64
	FlushCount           atomic.Int64
	FlushErrors          atomic.Int64
}

// RecordPrefetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPrefetch(uniqueMisses int64, duration time.Duration, err error) {
	b.PrefetchCount.Add(1)
	b.PrefetchUniqueMisses.Add(uniqueMisses)
	b.PrefetchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PrefetchErrors.Add(1)
	}
}

// RecordForward implements MetricsCollector.
func (b *BasicMetricsCollector) RecordForward(indices int, duration time.Duration, err error) {
	b.ForwardCount.Add(1)
	b.ForwardIndices.Add(int64(indices))
	b.ForwardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ForwardErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		PrefetchCount:        b.PrefetchCount.Load(),
		PrefetchErrors:       b.PrefetchErrors.Load(),
		PrefetchUniqueMisses: b.PrefetchUniqueMisses.Load(),
		PrefetchAvgNanos:     avgNanos(&b.PrefetchTotalNanos, &b.PrefetchCount),
		ForwardCount:         b.ForwardCount.Load(),
		ForwardErrors:        b.ForwardErrors.Load(),
		ForwardIndices:       b.ForwardIndices.Load(),
		ForwardAvgNanos:      avgNanos(&b.ForwardTotalNanos, &b.ForwardCount),
		FlushCount:           b.FlushCount.Load(),
		FlushErrors:          b.FlushErrors.Load(),
	}
}

func avgNanos(total, count *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PrefetchCount        int64
	PrefetchErrors       int64
	PrefetchUniqueMisses int64
	PrefetchAvgNanos     int64
	ForwardCount         int64
	ForwardErrors        int64
	ForwardIndices       int64
	ForwardAvgNanos      int64
	FlushCount           int64
	FlushErrors          int64
}
