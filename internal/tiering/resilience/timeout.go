package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/metrics"
)

// TimeoutConfig bounds the adaptive per-tier timeouts.
type TimeoutConfig struct {
	// Base is the timeout used before enough samples exist.
	Base time.Duration
	// Min and Max clamp every derived timeout.
	Min time.Duration
	Max time.Duration
	// Percentile of recent latencies the timeout tracks (0 < p < 1).
	Percentile float64
	// Headroom multiplies the percentile latency before clamping.
	Headroom float64
	// WindowSize is the number of latency samples kept per tier.
	WindowSize int
}

func (c TimeoutConfig) withDefaults() TimeoutConfig {
	if c.Base <= 0 {
		c.Base = 2 * time.Second
	}
	if c.Min <= 0 {
		c.Min = 100 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.Percentile <= 0 || c.Percentile >= 1 {
		c.Percentile = 0.95
	}
	if c.Headroom <= 1 {
		c.Headroom = 1.5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 64
	}
	return c
}

type timeoutState struct {
	samples []time.Duration // ring, oldest first
	current time.Duration
}

// AdaptiveTimeouts derives a per-tier send timeout from a rolling
// latency percentile: a burst of slow-but-successful sends widens the
// timeout, sustained fast sends tighten it, always within [Min, Max].
type AdaptiveTimeouts struct {
	cfg TimeoutConfig

	mu    sync.Mutex
	tiers map[domain.TierID]*timeoutState

	adjustments uint64
}

// NewAdaptiveTimeouts builds the manager for the given tiers.
func NewAdaptiveTimeouts(cfg TimeoutConfig, tiers []domain.TierID) *AdaptiveTimeouts {
	cfg = cfg.withDefaults()
	m := &AdaptiveTimeouts{
		cfg:   cfg,
		tiers: make(map[domain.TierID]*timeoutState, len(tiers)),
	}
	for _, id := range tiers {
		m.tiers[id] = &timeoutState{
			samples: make([]time.Duration, 0, cfg.WindowSize),
			current: cfg.Base,
		}
	}
	return m
}

// TimeoutFor returns the current timeout for a tier. Unknown tiers get
// the base timeout.
func (m *AdaptiveTimeouts) TimeoutFor(id domain.TierID) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tiers[id]
	if !ok {
		return m.cfg.Base
	}
	return st.current
}

// Observe records a completed send's latency and recomputes the tier's
// timeout. Failed sends still contribute: a slow failure is exactly the
// signal that should widen the deadline before the circuit judges it.
func (m *AdaptiveTimeouts) Observe(id domain.TierID, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tiers[id]
	if !ok {
		return
	}

	if len(st.samples) >= m.cfg.WindowSize {
		copy(st.samples, st.samples[1:])
		st.samples[len(st.samples)-1] = latency
	} else {
		st.samples = append(st.samples, latency)
	}

	// Below a handful of samples the percentile is noise; hold the base.
	if len(st.samples) < 8 {
		return
	}

	next := m.clamp(time.Duration(float64(m.percentile(st.samples)) * m.cfg.Headroom))
	if next == st.current {
		return
	}

	direction := "up"
	if next < st.current {
		direction = "down"
	}
	st.current = next
	m.adjustments++
	metrics.TimeoutAdjustments.WithLabelValues(string(id), direction).Inc()
}

func (m *AdaptiveTimeouts) clamp(d time.Duration) time.Duration {
	if d < m.cfg.Min {
		return m.cfg.Min
	}
	if d > m.cfg.Max {
		return m.cfg.Max
	}
	return d
}

func (m *AdaptiveTimeouts) percentile(samples []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * m.cfg.Percentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Adjustments returns how many times any tier's timeout changed.
func (m *AdaptiveTimeouts) Adjustments() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustments
}

// Current returns the live timeout per tier.
func (m *AdaptiveTimeouts) Current() map[domain.TierID]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[domain.TierID]time.Duration, len(m.tiers))
	for id, st := range m.tiers {
		out[id] = st.current
	}
	return out
}
