package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/classify"
	"github.com/vietddude/courier/internal/tiering/metrics"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

// RecoveryAction is the remediation applied to a severe issue.
type RecoveryAction int

const (
	ActionNone RecoveryAction = iota
	ActionForceReset
	ActionQuarantine
	ActionAlert
)

func (a RecoveryAction) String() string {
	switch a {
	case ActionForceReset:
		return "force_reset"
	case ActionQuarantine:
		return "quarantine"
	case ActionAlert:
		return "alert"
	default:
		return "none"
	}
}

// RecoveryStatus is the outcome of one remediation attempt.
type RecoveryStatus int

const (
	RecoverySucceeded RecoveryStatus = iota
	RecoveryFailed
	RecoverySkippedHealthy
)

func (s RecoveryStatus) String() string {
	switch s {
	case RecoverySucceeded:
		return "succeeded"
	case RecoveryFailed:
		return "failed"
	case RecoverySkippedHealthy:
		return "skipped_healthy"
	default:
		return "unknown"
	}
}

// RecoveryResult records one remediation attempt for observability.
type RecoveryResult struct {
	IssueID string         `json:"issue_id"`
	Tier    domain.TierID  `json:"tier"`
	Action  RecoveryAction `json:"action"`
	Status  RecoveryStatus `json:"status"`
	At      time.Time      `json:"at"`
}

// RecoveryConfig tunes the automated recovery manager.
type RecoveryConfig struct {
	// SeverityThreshold is the minimum severity that triggers action.
	SeverityThreshold classify.IssueSeverity
	// QuarantineExtension applied when a forced reset keeps failing.
	QuarantineExtension time.Duration
	// ResetAfterFailures is how many folded reports an issue needs
	// before a forced reset is attempted instead of waiting out the
	// cooldown.
	ResetAfterFailures int
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.QuarantineExtension <= 0 {
		c.QuarantineExtension = 5 * time.Minute
	}
	if c.ResetAfterFailures <= 0 {
		c.ResetAfterFailures = 10
	}
	if c.SeverityThreshold == 0 {
		c.SeverityThreshold = classify.SeverityHigh
	}
	return c
}

// AlertFunc receives recovery alerts. Wire it to paging or leave nil
// for log-only alerting.
type AlertFunc func(issue SystemIssue, action RecoveryAction)

// RecoveryManager actively remediates issues at or above the severity
// threshold: forced circuit reset for issues that keep folding new
// failures, quarantine extension when resets do not take, and alert
// emission either way. Failures here are logged and retried on the
// next cycle, never surfaced to submitters.
type RecoveryManager struct {
	cfg     RecoveryConfig
	tracker *IssueTracker
	core    *orchestrator.Core
	alert   AlertFunc
	log     *slog.Logger

	mu sync.Mutex // guards resets and results

	// resets tracks issues whose forced reset already ran, so the next
	// cycle escalates to quarantine instead of resetting again.
	resets map[string]int

	results []RecoveryResult
}

// NewRecoveryManager creates a manager over the shared tracker and core.
func NewRecoveryManager(cfg RecoveryConfig, tracker *IssueTracker, core *orchestrator.Core, alert AlertFunc, log *slog.Logger) *RecoveryManager {
	if log == nil {
		log = slog.Default()
	}
	return &RecoveryManager{
		cfg:     cfg.withDefaults(),
		tracker: tracker,
		core:    core,
		alert:   alert,
		log:     log,
		resets:  make(map[string]int),
	}
}

// Run performs one remediation pass and returns what it did.
func (m *RecoveryManager) Run() []RecoveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RecoveryResult

	for _, is := range m.tracker.Open() {
		if is.Severity < m.cfg.SeverityThreshold {
			continue
		}
		res := m.remediate(is)
		out = append(out, res)
		m.results = append(m.results, res)
		metrics.RecoveryActions.WithLabelValues(res.Action.String(), res.Status.String()).Inc()
	}
	return out
}

func (m *RecoveryManager) remediate(is SystemIssue) RecoveryResult {
	res := RecoveryResult{IssueID: is.ID, Tier: is.Tier, At: time.Now()}

	snap, ok := m.core.Snapshot(is.Tier)
	if !ok {
		res.Action = ActionNone
		res.Status = RecoveryFailed
		m.log.Warn("recovery target tier unknown", "issue", is.ID, "tier", is.Tier)
		return res
	}

	// Tier already back in service: the healing scan will close the
	// issue; nothing to remediate.
	if snap.Circuit != orchestrator.CircuitOpen {
		res.Action = ActionNone
		res.Status = RecoverySkippedHealthy
		return res
	}

	if is.Count >= m.cfg.ResetAfterFailures && m.resets[is.ID] == 0 {
		m.resets[is.ID]++
		res.Action = ActionForceReset
		if m.core.ForceReset(is.Tier) {
			res.Status = RecoverySucceeded
			m.log.Info("recovery forced circuit reset", "issue", is.ID, "tier", is.Tier)
		} else {
			res.Status = RecoveryFailed
		}
		m.emitAlert(is, res.Action)
		return res
	}

	if m.resets[is.ID] > 0 {
		// A reset already ran and the tier is open again: extend the
		// quarantine so traffic stays away longer.
		m.resets[is.ID]++
		res.Action = ActionQuarantine
		if m.core.Quarantine(is.Tier, m.cfg.QuarantineExtension) {
			res.Status = RecoverySucceeded
			m.log.Warn("recovery extended quarantine",
				"issue", is.ID, "tier", is.Tier, "extension", m.cfg.QuarantineExtension)
		} else {
			res.Status = RecoveryFailed
		}
		m.emitAlert(is, res.Action)
		return res
	}

	// Severe but young issue: alert and let the circuit cooldown work.
	res.Action = ActionAlert
	res.Status = RecoverySucceeded
	m.emitAlert(is, res.Action)
	return res
}

func (m *RecoveryManager) emitAlert(is SystemIssue, action RecoveryAction) {
	m.log.Warn("recovery alert",
		"issue", is.ID,
		"tier", is.Tier,
		"type", is.Type.String(),
		"severity", is.Severity.String(),
		"count", is.Count,
		"action", action.String())
	if m.alert != nil {
		m.alert(is, action)
	}
}

// Results returns every recovery result recorded so far.
func (m *RecoveryManager) Results() []RecoveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RecoveryResult, len(m.results))
	copy(out, m.results)
	return out
}
