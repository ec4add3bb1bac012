package resilience

import (
	"errors"
	"sync"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/metrics"
)

// ErrBulkheadSaturated is returned when a tier's admission slots are
// exhausted. Callers fail fast instead of queueing on the bulkhead.
var ErrBulkheadSaturated = errors.New("bulkhead saturated")

// BulkheadConfig caps concurrent in-flight operations.
type BulkheadConfig struct {
	// DefaultCapacity applies to tiers without an explicit entry.
	DefaultCapacity int
	// PerTier overrides capacity for specific tiers.
	PerTier map[domain.TierID]int
	// GlobalCapacity bounds total in-flight work across tiers
	// (0 disables the global cap).
	GlobalCapacity int
}

func (c BulkheadConfig) capacityFor(id domain.TierID) int {
	if n, ok := c.PerTier[id]; ok && n > 0 {
		return n
	}
	if c.DefaultCapacity > 0 {
		return c.DefaultCapacity
	}
	return 32
}

// Bulkhead isolates tier load: one saturated tier cannot consume the
// admission slots of another. Counters are mutated under a single short
// mutex; Acquire and Release do pure arithmetic only.
type Bulkhead struct {
	mu       sync.Mutex
	capacity map[domain.TierID]int
	inFlight map[domain.TierID]int

	globalCapacity int
	globalInFlight int
}

// NewBulkhead builds a bulkhead for the given tiers.
func NewBulkhead(cfg BulkheadConfig, tiers []domain.TierID) *Bulkhead {
	b := &Bulkhead{
		capacity:       make(map[domain.TierID]int, len(tiers)),
		inFlight:       make(map[domain.TierID]int, len(tiers)),
		globalCapacity: cfg.GlobalCapacity,
	}
	for _, id := range tiers {
		b.capacity[id] = cfg.capacityFor(id)
	}
	return b
}

// Acquire claims an admission slot for the tier. It never blocks: a
// full bulkhead returns ErrBulkheadSaturated immediately. The returned
// release function is idempotent and must be called exactly when the
// operation finishes or is abandoned, including on cancellation.
func (b *Bulkhead) Acquire(id domain.TierID) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cap, ok := b.capacity[id]
	if !ok {
		return nil, ErrBulkheadSaturated
	}
	if b.inFlight[id] >= cap {
		metrics.BulkheadRejections.WithLabelValues(string(id)).Inc()
		return nil, ErrBulkheadSaturated
	}
	if b.globalCapacity > 0 && b.globalInFlight >= b.globalCapacity {
		metrics.BulkheadRejections.WithLabelValues(string(id)).Inc()
		return nil, ErrBulkheadSaturated
	}

	b.inFlight[id]++
	b.globalInFlight++
	metrics.BulkheadInFlight.WithLabelValues(string(id)).Set(float64(b.inFlight[id]))

	var once sync.Once
	release := func() {
		once.Do(func() { b.release(id) })
	}
	return release, nil
}

func (b *Bulkhead) release(id domain.TierID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight[id] > 0 {
		b.inFlight[id]--
	}
	if b.globalInFlight > 0 {
		b.globalInFlight--
	}
	metrics.BulkheadInFlight.WithLabelValues(string(id)).Set(float64(b.inFlight[id]))
}

// InFlight returns the current occupancy per tier.
func (b *Bulkhead) InFlight() map[domain.TierID]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[domain.TierID]int, len(b.inFlight))
	for id := range b.capacity {
		out[id] = b.inFlight[id]
	}
	return out
}

// Capacity returns the configured capacity per tier.
func (b *Bulkhead) Capacity() map[domain.TierID]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[domain.TierID]int, len(b.capacity))
	for id, n := range b.capacity {
		out[id] = n
	}
	return out
}
