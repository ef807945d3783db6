package facade

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/maypok86/otter"

	"github.com/halcyon-home/halcyon/internal/fault"
)

// DefaultIOTimeout bounds a single capability read or write. The host SDK has
// no timeout of its own; expiry is treated as a failed read.
const DefaultIOTimeout = 30 * time.Second

const capCacheEntries = 4096

// CapReader wraps capability I/O with a per-call timeout, typed conversions,
// and a bounded last-known-value cache. A failed read falls back to the
// cached value when one exists, so a transiently unreachable device degrades
// to stale data instead of a hard error on every caller.
type CapReader struct {
	timeout time.Duration
	cache   otter.CacheWithVariableTTL[string, any]
	fresh   time.Duration
}

// NewCapReader creates a CapReader. freshFor controls how long cached values
// survive; zero uses the read timeout.
func NewCapReader(timeout, freshFor time.Duration) *CapReader {
	if timeout <= 0 {
		timeout = DefaultIOTimeout
	}
	if freshFor <= 0 {
		freshFor = timeout
	}
	cache, err := otter.MustBuilder[string, any](capCacheEntries).
		Cost(func(_ string, _ any) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		panic("facade: failed to build capability cache: " + err.Error())
	}
	return &CapReader{timeout: timeout, cache: cache, fresh: freshFor}
}

// Read returns the raw capability value, consulting the device first and the
// cache on failure.
func (r *CapReader) Read(ctx context.Context, dev DeviceRef, name string) (any, error) {
	key := dev.ID() + "/" + name

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	v, err := dev.GetCapability(callCtx, name)
	cancel()
	if err == nil {
		r.cache.Set(key, v, r.fresh)
		return v, nil
	}

	if cached, ok := r.cache.Get(key); ok {
		log.Printf("[facade] read %s failed (%v), using last known value", key, err)
		return cached, nil
	}
	return nil, fault.DeviceUnavailable(dev.ID(), err)
}

// Bool reads a boolean capability.
func (r *CapReader) Bool(ctx context.Context, dev DeviceRef, name string) (bool, error) {
	v, err := r.Read(ctx, dev, name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("capability %s/%s: expected bool, got %T", dev.ID(), name, v)
	}
	return b, nil
}

// Float reads a numeric capability.
func (r *CapReader) Float(ctx context.Context, dev DeviceRef, name string) (float64, error) {
	v, err := r.Read(ctx, dev, name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("capability %s/%s: expected number, got %T", dev.ID(), name, v)
	}
}

// Write sets a capability value under the same timeout. Cache is updated on
// success so subsequent reads see the written value immediately.
func (r *CapReader) Write(ctx context.Context, dev DeviceRef, name string, value any) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := dev.SetCapability(callCtx, name, value); err != nil {
		return fault.DeviceUnavailable(dev.ID(), err)
	}
	r.cache.Set(dev.ID()+"/"+name, value, r.fresh)
	return nil
}
