package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

const tierA = domain.TierID("webhook-primary")

// fakeClock lets tests step time under the core's lazy transitions.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCore(clock *fakeClock) *Core {
	c := New(Config{
		FailureThreshold:   5,
		Cooldown:           30 * time.Second,
		MaxCooldown:        2 * time.Minute,
		CooldownMultiplier: 2.0,
		HalfOpenMaxTrials:  1,
	}, WithClock(clock.Now))
	c.RegisterTier(tierA, domain.TierTypeWebhook)
	return c
}

func fail() Outcome {
	return Outcome{Success: false, Err: errors.New("connection refused")}
}

func ok() Outcome {
	return Outcome{Success: true, Latency: 20 * time.Millisecond}
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	for i := 0; i < 4; i++ {
		c.RecordOutcome(tierA, fail())
		if snap, _ := c.Snapshot(tierA); snap.Circuit != CircuitClosed {
			t.Fatalf("circuit opened after %d failures, want threshold 5", i+1)
		}
	}

	c.RecordOutcome(tierA, fail())
	snap, _ := c.Snapshot(tierA)
	if snap.Circuit != CircuitOpen {
		t.Fatalf("circuit = %v after 5 consecutive failures, want open", snap.Circuit)
	}
	if snap.Health != HealthUnhealthy {
		t.Errorf("health = %v for open circuit, want unhealthy", snap.Health)
	}
}

func TestCooldownMovesToHalfOpen(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	for i := 0; i < 5; i++ {
		c.RecordOutcome(tierA, fail())
	}

	clock.Advance(29 * time.Second)
	if snap, _ := c.Snapshot(tierA); snap.Circuit != CircuitOpen {
		t.Fatalf("circuit = %v before cooldown elapsed, want open", snap.Circuit)
	}

	clock.Advance(2 * time.Second)
	snap, _ := c.Snapshot(tierA)
	if snap.Circuit != CircuitHalfOpen {
		t.Fatalf("circuit = %v after cooldown, want half-open", snap.Circuit)
	}
}

func TestHalfOpenSuccessClosesAndResets(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	for i := 0; i < 5; i++ {
		c.RecordOutcome(tierA, fail())
	}
	clock.Advance(31 * time.Second)

	if !c.AcquireTrial(tierA) {
		t.Fatal("expected a trial slot in half-open")
	}
	c.RecordOutcome(tierA, ok())
	c.ReleaseTrial(tierA)

	snap, _ := c.Snapshot(tierA)
	if snap.Circuit != CircuitClosed {
		t.Fatalf("circuit = %v after successful trial, want closed", snap.Circuit)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d after trial success, want 0", snap.ConsecutiveFailures)
	}
}

func TestHalfOpenFailureDoublesCooldown(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	for i := 0; i < 5; i++ {
		c.RecordOutcome(tierA, fail())
	}
	clock.Advance(31 * time.Second)
	c.AcquireTrial(tierA)
	c.RecordOutcome(tierA, fail())
	c.ReleaseTrial(tierA)

	snap, _ := c.Snapshot(tierA)
	if snap.Circuit != CircuitOpen {
		t.Fatalf("circuit = %v after failed trial, want open", snap.Circuit)
	}

	// The cooldown doubled to 60s: still open after 45s, half-open after 61s.
	clock.Advance(45 * time.Second)
	if snap, _ := c.Snapshot(tierA); snap.Circuit != CircuitOpen {
		t.Fatalf("circuit = %v 45s into doubled cooldown, want open", snap.Circuit)
	}
	clock.Advance(16 * time.Second)
	if snap, _ := c.Snapshot(tierA); snap.Circuit != CircuitHalfOpen {
		t.Fatalf("circuit = %v after doubled cooldown, want half-open", snap.Circuit)
	}
}

func TestCooldownBoundedByMax(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	// Trip and fail trials repeatedly: 30s -> 60s -> 120s -> capped 120s.
	for i := 0; i < 5; i++ {
		c.RecordOutcome(tierA, fail())
	}
	for i := 0; i < 4; i++ {
		clock.Advance(3 * time.Minute)
		c.AcquireTrial(tierA)
		c.RecordOutcome(tierA, fail())
		c.ReleaseTrial(tierA)
	}

	// Cooldown is capped at 2m; after 2m+1s the tier must be half-open.
	clock.Advance(2*time.Minute + time.Second)
	snap, _ := c.Snapshot(tierA)
	if snap.Circuit != CircuitHalfOpen {
		t.Fatalf("circuit = %v after max cooldown, want half-open", snap.Circuit)
	}
}

func TestHalfOpenTrialSlotsBounded(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	for i := 0; i < 5; i++ {
		c.RecordOutcome(tierA, fail())
	}
	clock.Advance(31 * time.Second)

	if !c.AcquireTrial(tierA) {
		t.Fatal("first trial acquire failed")
	}
	if c.AcquireTrial(tierA) {
		t.Fatal("second trial admitted past HalfOpenMaxTrials=1")
	}
	if c.TrialAvailable(tierA) {
		t.Fatal("TrialAvailable true with all slots held")
	}

	c.ReleaseTrial(tierA)
	if !c.TrialAvailable(tierA) {
		t.Fatal("TrialAvailable false after release")
	}
}

func TestUnknownTierIsNoOp(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	if got := c.RecordOutcome("ghost", fail()); got != HealthUnknown {
		t.Errorf("RecordOutcome(unknown) = %v, want unknown health", got)
	}
	if _, ok := c.Snapshot("ghost"); ok {
		t.Error("Snapshot(unknown) reported ok")
	}
	if c.AcquireTrial("ghost") {
		t.Error("AcquireTrial(unknown) admitted")
	}
	if c.ForceReset("ghost") {
		t.Error("ForceReset(unknown) reported success")
	}
}

func TestForceResetAndQuarantine(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	if c.ForceReset(tierA) {
		t.Fatal("ForceReset on closed tier reported success")
	}

	for i := 0; i < 5; i++ {
		c.RecordOutcome(tierA, fail())
	}
	if !c.ForceReset(tierA) {
		t.Fatal("ForceReset on open tier failed")
	}
	if snap, _ := c.Snapshot(tierA); snap.Circuit != CircuitHalfOpen {
		t.Fatalf("circuit = %v after force reset, want half-open", snap.Circuit)
	}

	if !c.Quarantine(tierA, 5*time.Minute) {
		t.Fatal("Quarantine failed")
	}
	clock.Advance(4 * time.Minute)
	if snap, _ := c.Snapshot(tierA); snap.Circuit != CircuitOpen {
		t.Fatalf("circuit = %v during quarantine, want open", snap.Circuit)
	}
	clock.Advance(2 * time.Minute)
	if snap, _ := c.Snapshot(tierA); snap.Circuit != CircuitHalfOpen {
		t.Fatalf("circuit = %v after quarantine, want half-open", snap.Circuit)
	}
}

func TestStatisticsIdempotent(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)

	c.RecordOutcome(tierA, ok())
	c.RecordOutcome(tierA, fail())
	c.RecordFailover(FailoverEvent{From: tierA, To: "stream-backup", Reason: "trip"})

	first := c.Statistics()
	second := c.Statistics()

	if first.TotalRequests != second.TotalRequests ||
		first.TotalFailures != second.TotalFailures ||
		first.TotalFailovers != second.TotalFailovers {
		t.Fatalf("statistics differ without mutation: %+v vs %+v", first, second)
	}
	st := first.Tiers[tierA]
	if st.Requests != 2 || st.Failures != 1 || st.Failovers != 1 {
		t.Errorf("tier stats = %+v, want 2 requests, 1 failure, 1 failover", st)
	}
}

func TestFailoverEventsOrderedAndBounded(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{EventLogSize: 4}, WithClock(clock.Now))
	c.RegisterTier(tierA, domain.TierTypeWebhook)

	for i := 0; i < 6; i++ {
		c.RecordFailover(FailoverEvent{From: tierA, To: "stream-backup", Reason: string(rune('a' + i))})
	}

	evs := c.FailoverEvents(0)
	if len(evs) != 4 {
		t.Fatalf("retained %d events, want ring size 4", len(evs))
	}
	for i, ev := range evs {
		want := string(rune('a' + 2 + i))
		if ev.Reason != want {
			t.Errorf("event[%d].Reason = %q, want %q", i, ev.Reason, want)
		}
		if ev.ID == "" || ev.Time.IsZero() {
			t.Errorf("event[%d] missing assigned id/time", i)
		}
	}

	if got := c.FailoverEvents(2); len(got) != 2 || got[1].Reason != "f" {
		t.Errorf("FailoverEvents(2) = %+v, want last two events", got)
	}
}

// gatedSink holds every write until release closes, honoring the
// forwarder's per-write deadline.
type gatedSink struct {
	release chan struct{}
	seen    chan FailoverEvent
}

func (s *gatedSink) AppendFailover(ctx context.Context, ev FailoverEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.seen <- ev
	return nil
}

type countingSink struct {
	mu    sync.Mutex
	count int
}

func (s *countingSink) AppendFailover(context.Context, FailoverEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func TestRecordFailoverNeverWaitsOnSink(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{}), seen: make(chan FailoverEvent, 8)}
	clock := newFakeClock()
	c := New(Config{}, WithClock(clock.Now), WithEventSink(sink))
	c.RegisterTier(tierA, domain.TierTypeWebhook)
	defer c.Close()

	start := time.Now()
	c.RecordFailover(FailoverEvent{From: tierA, To: "stream-backup", Reason: "trip"})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("RecordFailover took %v against a stalled sink", elapsed)
	}
	if got := len(c.FailoverEvents(0)); got != 1 {
		t.Fatalf("ring holds %d events while sink stalled, want 1", got)
	}

	close(sink.release)
	select {
	case ev := <-sink.seen:
		if ev.Reason != "trip" {
			t.Errorf("sink saw reason %q, want trip", ev.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the event")
	}
}

func TestCoreCloseFlushesPendingSinkWrites(t *testing.T) {
	sink := &countingSink{}
	clock := newFakeClock()
	c := New(Config{}, WithClock(clock.Now), WithEventSink(sink))
	c.RegisterTier(tierA, domain.TierTypeWebhook)

	for i := 0; i < 5; i++ {
		c.RecordFailover(FailoverEvent{From: tierA, To: "spool-local", Reason: "trip"})
	}
	c.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.count != 5 {
		t.Fatalf("sink received %d events after Close, want 5", sink.count)
	}
}

func TestPerTierIsolationUnderConcurrency(t *testing.T) {
	clock := newFakeClock()
	c := newTestCore(clock)
	c.RegisterTier("stream-backup", domain.TierTypeStream)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := tierA
			if n%2 == 0 {
				id = "stream-backup"
			}
			for j := 0; j < 500; j++ {
				if j%3 == 0 {
					c.RecordOutcome(id, fail())
				} else {
					c.RecordOutcome(id, ok())
				}
				c.Snapshot(id)
			}
		}(i)
	}
	wg.Wait()

	stats := c.Statistics()
	if stats.TotalRequests != 8*500 {
		t.Fatalf("total requests = %d, want %d", stats.TotalRequests, 8*500)
	}
}
