// Package resource tracks the fast-memory budget shared by the device
// tier, the cache, and background copy work.
//
// Cache sizing consults the controller to decide how many sets fit after
// tier buffers and user reservations are accounted for. Reservations are
// backed by a weighted semaphore, so allocation paths can either fail
// fast (TryReserve) or wait for background work to release memory
// (Reserve).
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// TotalDeviceBytes is the capacity of fast (device-tier) memory.
	// If 0, no hard limit is enforced (only tracking).
	TotalDeviceBytes int64

	// MaxBackgroundWorkers bounds concurrent background jobs such as
	// cache flushes and snapshot uploads. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// CopyBytesPerSec throttles background copy-out traffic between the
	// cache and managed memory. If 0, unlimited.
	CopyBytesPerSec int64
}

// Controller manages the fast-memory budget and background concurrency.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	bgSem *semaphore.Weighted

	copyLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.TotalDeviceBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.TotalDeviceBytes)
	}

	if cfg.CopyBytesPerSec > 0 {
		c.copyLimiter = rate.NewLimiter(rate.Limit(cfg.CopyBytesPerSec), int(cfg.CopyBytesPerSec))
	}

	return c
}

// Total returns the configured fast-memory capacity, 0 if unlimited.
func (c *Controller) Total() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.TotalDeviceBytes
}

// Free returns the unreserved fast-memory bytes. Unlimited controllers
// report 0; callers treat that as "no budget constraint".
func (c *Controller) Free() int64 {
	if c == nil || c.cfg.TotalDeviceBytes <= 0 {
		return 0
	}
	return c.cfg.TotalDeviceBytes - c.memUsed.Load()
}

// Reserve reserves fast-memory bytes. If a hard limit is configured and
// usage would exceed it, this blocks until memory is available or ctx is
// canceled.
func (c *Controller) Reserve(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryReserve reserves fast-memory bytes without blocking. Returns true if
// reserved, false if the limit would be exceeded.
func (c *Controller) TryReserve(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// Release returns reserved fast-memory bytes.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// Used returns the currently reserved bytes.
func (c *Controller) Used() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireBackground reserves a background worker slot, blocking while all
// slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a background worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	c.bgSem.Release(1)
}

// AcquireCopy waits until the copy-out limit allows the given number of
// bytes.
func (c *Controller) AcquireCopy(ctx context.Context, bytes int) error {
	if c == nil || c.copyLimiter == nil {
		return nil
	}
	return c.copyLimiter.WaitN(ctx, bytes)
}
