package orchestrator

import (
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

// TierStats aggregates request counters for one tier.
type TierStats struct {
	Requests     uint64        `json:"requests"`
	Successes    uint64        `json:"successes"`
	Failures     uint64        `json:"failures"`
	Failovers    uint64        `json:"failovers"`
	TotalLatency time.Duration `json:"-"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// Statistics is a point-in-time aggregate across all tiers. Calling
// Statistics twice without intervening outcomes yields equal values.
type Statistics struct {
	TotalRequests  uint64                      `json:"total_requests"`
	TotalFailures  uint64                      `json:"total_failures"`
	TotalFailovers uint64                      `json:"total_failovers"`
	Tiers          map[domain.TierID]TierStats `json:"tiers"`
}

type statsCounters struct {
	mu    sync.Mutex
	tiers map[domain.TierID]*TierStats
}

func newStatsCounters() *statsCounters {
	return &statsCounters{tiers: make(map[domain.TierID]*TierStats)}
}

func (s *statsCounters) tier(id domain.TierID) *TierStats {
	st, ok := s.tiers[id]
	if !ok {
		st = &TierStats{}
		s.tiers[id] = st
	}
	return st
}

func (s *statsCounters) recordSuccess(id domain.TierID, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.tier(id)
	st.Requests++
	st.Successes++
	st.TotalLatency += latency
}

func (s *statsCounters) recordFailure(id domain.TierID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.tier(id)
	st.Requests++
	st.Failures++
}

func (s *statsCounters) recordFailover(id domain.TierID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tier(id).Failovers++
}

func (s *statsCounters) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Statistics{Tiers: make(map[domain.TierID]TierStats, len(s.tiers))}
	for id, st := range s.tiers {
		cp := *st
		if cp.Successes > 0 {
			cp.AvgLatency = cp.TotalLatency / time.Duration(cp.Successes)
		}
		out.Tiers[id] = cp
		out.TotalRequests += cp.Requests
		out.TotalFailures += cp.Failures
		out.TotalFailovers += cp.Failovers
	}
	return out
}

// Statistics returns aggregate request, failure and failover counts.
func (c *Core) Statistics() Statistics {
	return c.stats.snapshot()
}
