package health

import (
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
	"github.com/vietddude/courier/internal/tiering/resilience"
)

// Monitor aggregates tier state and resilience counters into reports.
// Reports are cached briefly so scrapers cannot hammer the managers.
type Monitor struct {
	core      *orchestrator.Core
	collector *resilience.Collector

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
	now        func() time.Time
}

// NewMonitor creates a monitor over the orchestrator core and the
// resilience collector.
func NewMonitor(core *orchestrator.Core, collector *resilience.Collector) *Monitor {
	return &Monitor{
		core:      core,
		collector: collector,
		now:       time.Now,
	}
}

// checkInterval is the minimum spacing between fresh reports.
const checkInterval = 10 * time.Second

// CheckHealth returns the current report, reusing the cached one when
// it is fresh enough.
func (m *Monitor) CheckHealth() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.now().Sub(m.lastCheck) < checkInterval && m.lastReport.Tiers != nil {
		return m.lastReport
	}

	snap := m.collector.Snapshot()
	report := Report{
		Tiers:          make(map[domain.TierID]TierHealth),
		QueueLen:       snap.QueueLen,
		OpenIssues:     len(snap.OpenIssues),
		ResolvedIssues: snap.ResolvedIssues,
	}

	var healthy, critical, total int
	for _, ts := range m.core.Snapshots() {
		th := TierHealth{
			ID:           ts.ID,
			Type:         ts.Type,
			Status:       tierStatus(ts),
			Circuit:      ts.Circuit.String(),
			ErrorRate:    ts.ErrorRate,
			AvgLatencyMS: ts.AvgLatency.Milliseconds(),
			InFlight:     snap.BulkheadInFlight[ts.ID],
			Capacity:     snap.BulkheadCapacity[ts.ID],
			TimeoutMS:    snap.Timeouts[ts.ID].Milliseconds(),
		}
		report.Tiers[ts.ID] = th

		total++
		switch th.Status {
		case StatusHealthy:
			healthy++
		case StatusCritical:
			critical++
		}
	}

	// Worst case wins only when nothing is left: one dead tier with
	// live alternatives is degradation, not an outage.
	switch {
	case total == 0 || critical == total:
		report.SystemStatus = StatusCritical
	case healthy == total:
		report.SystemStatus = StatusHealthy
	default:
		report.SystemStatus = StatusDegraded
	}

	m.lastCheck = m.now()
	m.lastReport = report
	return report
}

func tierStatus(ts orchestrator.TierSnapshot) SystemStatus {
	switch ts.Circuit {
	case orchestrator.CircuitOpen:
		return StatusCritical
	case orchestrator.CircuitHalfOpen:
		return StatusDegraded
	}
	switch ts.Health {
	case orchestrator.HealthDegraded:
		return StatusDegraded
	case orchestrator.HealthUnhealthy:
		return StatusCritical
	default:
		return StatusHealthy
	}
}
