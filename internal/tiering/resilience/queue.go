package resilience

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/metrics"
)

// ErrQueueShed is returned for requests dropped under sustained
// overload. Shedding is always explicit: the owner of a shed entry is
// told, never silently abandoned.
var ErrQueueShed = errors.New("request shed from queue")

// QueuePriority orders pending work. Lower values drain first.
type QueuePriority int

const (
	QueueCritical QueuePriority = iota
	QueueHigh
	QueueNormal
	QueueLow
	QueueBackground
)

func (p QueuePriority) String() string {
	switch p {
	case QueueCritical:
		return "critical"
	case QueueHigh:
		return "high"
	case QueueNormal:
		return "normal"
	case QueueLow:
		return "low"
	case QueueBackground:
		return "background"
	default:
		return "unknown"
	}
}

// queuePriorityFor maps a message priority onto the queue's classes.
func queuePriorityFor(p domain.MessagePriority) QueuePriority {
	switch p {
	case domain.PriorityCritical:
		return QueueCritical
	case domain.PriorityHigh:
		return QueueHigh
	case domain.PriorityLow:
		return QueueLow
	default:
		return QueueNormal
	}
}

// submitResult is what a queue worker reports back to the submitter.
type submitResult struct {
	outcome domain.DeliveryOutcome
	err     error
}

// queueItem is one pending send. The done channel is buffered so a
// worker never blocks handing back a result to a departed caller.
type queueItem struct {
	msg      domain.Message
	priority QueuePriority
	seq      uint64
	enqueued time.Time
	ctx      context.Context
	done     chan submitResult
	index    int // heap bookkeeping; -1 once removed
}

// itemHeap orders by priority class, then arrival within a class.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// PriorityQueue is a bounded admission queue. Under overload it sheds
// the lowest-priority pending entry (or rejects the newcomer when the
// newcomer itself ranks lowest), bounding depth without silent loss.
type PriorityQueue struct {
	mu       sync.Mutex
	items    itemHeap
	maxDepth int
	seq      uint64

	// signal carries one token per potentially pending item; a token
	// may be stale after sheds and cancellations, so Pop re-checks.
	signal chan struct{}
}

// NewPriorityQueue creates a queue bounded to maxDepth entries.
func NewPriorityQueue(maxDepth int) *PriorityQueue {
	if maxDepth <= 0 {
		maxDepth = 1024
	}
	return &PriorityQueue{
		maxDepth: maxDepth,
		signal:   make(chan struct{}, maxDepth*2),
	}
}

// Push admits an item or sheds. Returns ErrQueueShed when the incoming
// item is rejected; an already-queued victim is notified through its
// own done channel instead. The lock is held through the insert so the
// depth bound holds at every instant; the victim is told afterwards,
// which its buffered done channel makes safe.
func (q *PriorityQueue) Push(it *queueItem) error {
	q.mu.Lock()

	var victim *queueItem
	if len(q.items) >= q.maxDepth {
		victim = q.lowestLocked()
		if victim == nil || victim.priority <= it.priority {
			q.mu.Unlock()
			metrics.QueueShed.WithLabelValues(it.priority.String()).Inc()
			return ErrQueueShed
		}
		heap.Remove(&q.items, victim.index)
	}

	q.seq++
	it.seq = q.seq
	it.enqueued = time.Now()
	heap.Push(&q.items, it)
	q.mu.Unlock()

	if victim != nil {
		metrics.QueueShed.WithLabelValues(victim.priority.String()).Inc()
		metrics.QueueDepth.WithLabelValues(victim.priority.String()).Dec()
		victim.done <- submitResult{err: ErrQueueShed}
	}

	metrics.QueueDepth.WithLabelValues(it.priority.String()).Inc()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until an item is available or ctx is done. Entries whose
// submitter already gave up are skipped and their depth reclaimed.
func (q *PriorityQueue) Pop(ctx context.Context) (*queueItem, error) {
	for {
		q.mu.Lock()
		for len(q.items) > 0 {
			it := heap.Pop(&q.items).(*queueItem)
			if it.ctx.Err() != nil {
				metrics.QueueDepth.WithLabelValues(it.priority.String()).Dec()
				continue
			}
			q.mu.Unlock()
			metrics.QueueDepth.WithLabelValues(it.priority.String()).Dec()
			return it, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Remove takes a still-queued item out, releasing its depth slot. Used
// when a submitter cancels after admission. Safe if already popped.
func (q *PriorityQueue) Remove(it *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.index >= 0 && it.index < len(q.items) && q.items[it.index] == it {
		heap.Remove(&q.items, it.index)
		metrics.QueueDepth.WithLabelValues(it.priority.String()).Dec()
	}
}

// Drain removes and returns every pending entry. Used at shutdown so
// queued submitters can be failed instead of left blocked.
func (q *PriorityQueue) Drain() []*queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*queueItem, 0, len(q.items))
	for len(q.items) > 0 {
		it := heap.Pop(&q.items).(*queueItem)
		metrics.QueueDepth.WithLabelValues(it.priority.String()).Dec()
		out = append(out, it)
	}
	return out
}

// lowestLocked finds the worst-ranked pending entry.
func (q *PriorityQueue) lowestLocked() *queueItem {
	var worst *queueItem
	for _, it := range q.items {
		if worst == nil ||
			it.priority > worst.priority ||
			(it.priority == worst.priority && it.seq > worst.seq) {
			worst = it
		}
	}
	return worst
}

// Depths returns the pending count per priority class.
func (q *PriorityQueue) Depths() map[QueuePriority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[QueuePriority]int)
	for _, it := range q.items {
		out[it.priority]++
	}
	return out
}

// Len returns total pending entries.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
