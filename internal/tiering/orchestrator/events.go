package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/metrics"
)

// FailoverEvent records one routing decision away from a failing tier.
// Events are immutable once appended.
type FailoverEvent struct {
	ID       string                 `json:"id"`
	Time     time.Time              `json:"time"`
	From     domain.TierID          `json:"from"`
	To       domain.TierID          `json:"to"`
	Reason   string                 `json:"reason"`
	Priority domain.MessagePriority `json:"priority"`
}

// EventSink receives failover events for external persistence. The
// in-memory log is always written first; sink failures are logged and
// never surfaced to the delivery path.
type EventSink interface {
	AppendFailover(ctx context.Context, ev FailoverEvent) error
}

// sinkBuffer bounds events awaiting sink persistence. Overflow drops
// the sink copy; the in-memory ring keeps the event either way.
const sinkBuffer = 256

// sinkWriteTimeout bounds one sink write inside the forwarder.
const sinkWriteTimeout = 2 * time.Second

// eventLog is a bounded append-only ring of failover events.
type eventLog struct {
	mu   sync.Mutex
	buf  []FailoverEvent
	next int
	full bool
}

func newEventLog(size int) *eventLog {
	return &eventLog{buf: make([]FailoverEvent, size)}
}

func (l *eventLog) append(ev FailoverEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// recent returns up to limit events, newest last.
func (l *eventLog) recent(limit int) []FailoverEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []FailoverEvent
	if l.full {
		ordered = append(ordered, l.buf[l.next:]...)
		ordered = append(ordered, l.buf[:l.next]...)
	} else {
		ordered = append(ordered, l.buf[:l.next]...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// RecordFailover appends ev to the event log and hands it to the sink
// forwarder, assigning an id and timestamp when absent. The caller
// never waits on sink I/O: a full forwarder buffer drops the sink copy
// with a warning while the in-memory ring keeps the event.
func (c *Core) RecordFailover(ev FailoverEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}

	c.events.append(ev)
	c.stats.recordFailover(ev.From)
	metrics.Failovers.WithLabelValues(string(ev.From), string(ev.To)).Inc()

	if c.sinkCh == nil {
		return
	}
	select {
	case c.sinkCh <- ev:
	default:
		c.log.Warn("failover event sink buffer full, event not forwarded", "event", ev.ID)
	}
}

// forwardEvents drains the sink buffer off the delivery path until the
// channel is closed.
func (c *Core) forwardEvents() {
	defer c.sinkWG.Done()
	for ev := range c.sinkCh {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		if err := c.sink.AppendFailover(ctx, ev); err != nil {
			c.log.Warn("failover event sink write failed", "error", err, "event", ev.ID)
		}
		cancel()
	}
}

// FailoverEvents returns up to limit recorded events, oldest first.
// A non-positive limit returns everything retained.
func (c *Core) FailoverEvents(limit int) []FailoverEvent {
	return c.events.recent(limit)
}
