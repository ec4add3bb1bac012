package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/classify"
)

// SystemIssue is one detected problem on a tier. Issues are retained
// until a healing scan or recovery action resolves them; repeated
// detections of the same tier+type fold into one issue with a count.
type SystemIssue struct {
	ID         string                 `json:"id"`
	Type       classify.IssueType     `json:"type"`
	Severity   classify.IssueSeverity `json:"severity"`
	Tier       domain.TierID          `json:"tier"`
	DetectedAt time.Time              `json:"detected_at"`
	LastSeen   time.Time              `json:"last_seen"`
	Count      int                    `json:"count"`
}

type issueKey struct {
	tier domain.TierID
	typ  classify.IssueType
}

// IssueTracker is the shared ledger of open issues. Error classification
// writes to it on the request path; healing and recovery read and
// resolve from their background scans.
type IssueTracker struct {
	mu       sync.Mutex
	open     map[issueKey]*SystemIssue
	now      func() time.Time
	resolved uint64
}

// NewIssueTracker creates an empty tracker.
func NewIssueTracker() *IssueTracker {
	return &IssueTracker{
		open: make(map[issueKey]*SystemIssue),
		now:  time.Now,
	}
}

// Report records a classified failure against a tier. An existing open
// issue of the same type absorbs the report, escalating its severity if
// the new classification ranks higher.
func (t *IssueTracker) Report(tier domain.TierID, c classify.Classification) SystemIssue {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := issueKey{tier: tier, typ: c.Type}
	now := t.now()

	if is, ok := t.open[key]; ok {
		is.Count++
		is.LastSeen = now
		if c.Severity > is.Severity {
			is.Severity = c.Severity
		}
		return *is
	}

	is := &SystemIssue{
		ID:         uuid.NewString(),
		Type:       c.Type,
		Severity:   c.Severity,
		Tier:       tier,
		DetectedAt: now,
		LastSeen:   now,
		Count:      1,
	}
	t.open[key] = is
	return *is
}

// Open returns a copy of every unresolved issue.
func (t *IssueTracker) Open() []SystemIssue {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SystemIssue, 0, len(t.open))
	for _, is := range t.open {
		out = append(out, *is)
	}
	return out
}

// Resolve closes an issue by id. Returns false when already closed.
func (t *IssueTracker) Resolve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, is := range t.open {
		if is.ID == id {
			delete(t.open, key)
			t.resolved++
			return true
		}
	}
	return false
}

// ResolvedCount reports how many issues have been closed so far.
func (t *IssueTracker) ResolvedCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved
}
