package resilience

import (
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

// Snapshot is a point-in-time view of the resilience layer for health
// reporting. Every field is a copy; holding a Snapshot never pins live
// state, and taking one twice in a row with no traffic in between
// yields equal values.
type Snapshot struct {
	QueueDepths        map[QueuePriority]int           `json:"queue_depths"`
	QueueLen           int                             `json:"queue_len"`
	BulkheadInFlight   map[domain.TierID]int           `json:"bulkhead_in_flight"`
	BulkheadCapacity   map[domain.TierID]int           `json:"bulkhead_capacity"`
	Timeouts           map[domain.TierID]time.Duration `json:"timeouts"`
	TimeoutAdjustments uint64                          `json:"timeout_adjustments"`
	OpenIssues         []SystemIssue                   `json:"open_issues"`
	ResolvedIssues     uint64                          `json:"resolved_issues"`
	RecoveryResults    []RecoveryResult                `json:"recovery_results"`
}

// Collector reads the resilience managers without mutating them.
type Collector struct {
	queue    *PriorityQueue
	bulkhead *Bulkhead
	timeouts *AdaptiveTimeouts
	tracker  *IssueTracker
	recovery *RecoveryManager
}

// NewCollector wires a collector over the shared managers.
func NewCollector(queue *PriorityQueue, bulkhead *Bulkhead, timeouts *AdaptiveTimeouts, tracker *IssueTracker, recovery *RecoveryManager) *Collector {
	return &Collector{
		queue:    queue,
		bulkhead: bulkhead,
		timeouts: timeouts,
		tracker:  tracker,
		recovery: recovery,
	}
}

// Snapshot captures the current resilience state.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		QueueDepths:        c.queue.Depths(),
		QueueLen:           c.queue.Len(),
		BulkheadInFlight:   c.bulkhead.InFlight(),
		BulkheadCapacity:   c.bulkhead.Capacity(),
		Timeouts:           c.timeouts.Current(),
		TimeoutAdjustments: c.timeouts.Adjustments(),
		OpenIssues:         c.tracker.Open(),
		ResolvedIssues:     c.tracker.ResolvedCount(),
		RecoveryResults:    c.recovery.Results(),
	}
}
