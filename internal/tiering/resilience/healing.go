package resilience

import (
	"log/slog"

	"github.com/vietddude/courier/internal/tiering/classify"
	"github.com/vietddude/courier/internal/tiering/metrics"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

// HealingResult reports one issue examined by a healing scan.
type HealingResult struct {
	IssueID  string `json:"issue_id"`
	Resolved bool   `json:"resolved"`
	Reason   string `json:"reason"`
}

// SelfHealer reconciles the issue ledger against the orchestrator's
// authoritative tier state. It repairs nothing itself: an issue is
// closed only because its tier already came back (circuit Closed or
// HalfOpen) and its severity never escalated past the detection level.
// Active remediation is the recovery manager's job; keeping the two
// apart avoids duplicated recovery attempts.
type SelfHealer struct {
	tracker *IssueTracker
	core    *orchestrator.Core
	log     *slog.Logger

	// severity snapshot at detection, keyed by issue id
	seen map[string]classify.IssueSeverity
}

// NewSelfHealer creates a healer over the shared tracker and core.
func NewSelfHealer(tracker *IssueTracker, core *orchestrator.Core, log *slog.Logger) *SelfHealer {
	if log == nil {
		log = slog.Default()
	}
	return &SelfHealer{
		tracker: tracker,
		core:    core,
		log:     log,
		seen:    make(map[string]classify.IssueSeverity),
	}
}

// Scan examines every open issue once and resolves the ones whose tier
// has recovered. Called from the resilience orchestrator's background
// loop; also callable directly for deterministic tests.
func (h *SelfHealer) Scan() []HealingResult {
	issues := h.tracker.Open()
	results := make([]HealingResult, 0, len(issues))
	live := make(map[string]bool, len(issues))

	for _, is := range issues {
		live[is.ID] = true

		prev, tracked := h.seen[is.ID]
		if !tracked {
			h.seen[is.ID] = is.Severity
			prev = is.Severity
		}

		if is.Severity > prev {
			// Escalated since last look: not a candidate, remember the
			// new level so de-escalation can be judged next scan.
			h.seen[is.ID] = is.Severity
			results = append(results, HealingResult{
				IssueID: is.ID, Resolved: false, Reason: "severity escalated",
			})
			continue
		}

		snap, ok := h.core.Snapshot(is.Tier)
		if !ok {
			// Tier no longer registered; nothing left to protect.
			h.tracker.Resolve(is.ID)
			delete(h.seen, is.ID)
			metrics.HealingResolved.Inc()
			results = append(results, HealingResult{
				IssueID: is.ID, Resolved: true, Reason: "tier unregistered",
			})
			continue
		}

		if snap.Circuit == orchestrator.CircuitOpen {
			results = append(results, HealingResult{
				IssueID: is.ID, Resolved: false, Reason: "tier still open",
			})
			continue
		}

		h.tracker.Resolve(is.ID)
		delete(h.seen, is.ID)
		metrics.HealingResolved.Inc()
		h.log.Info("issue resolved by healing scan",
			"issue", is.ID, "tier", is.Tier, "type", is.Type.String())
		results = append(results, HealingResult{
			IssueID: is.ID, Resolved: true, Reason: "tier recovered",
		})
	}

	// Drop bookkeeping for issues resolved elsewhere.
	for id := range h.seen {
		if !live[id] {
			delete(h.seen, id)
		}
	}
	return results
}
