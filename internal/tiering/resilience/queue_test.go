package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

func newItem(id string, p QueuePriority) *queueItem {
	return &queueItem{
		msg:      domain.Message{ID: id},
		priority: p,
		ctx:      context.Background(),
		done:     make(chan submitResult, 1),
	}
}

func TestQueueDrainsByPriorityThenArrival(t *testing.T) {
	q := NewPriorityQueue(16)

	// P1 high, P2 low, P3 high: drain must be P1, P3, P2.
	for _, it := range []*queueItem{
		newItem("P1", QueueHigh),
		newItem("P2", QueueLow),
		newItem("P3", QueueHigh),
	} {
		if err := q.Push(it); err != nil {
			t.Fatalf("Push %s: %v", it.msg.ID, err)
		}
	}

	want := []string{"P1", "P3", "P2"}
	for i, w := range want {
		it, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop %d: %v", i, err)
		}
		if it.msg.ID != w {
			t.Errorf("Pop %d = %s, want %s", i, it.msg.ID, w)
		}
	}
}

func TestQueueShedsLowestPriorityWhenFull(t *testing.T) {
	q := NewPriorityQueue(2)

	low := newItem("low", QueueLow)
	high := newItem("high", QueueHigh)
	if err := q.Push(low); err != nil {
		t.Fatalf("Push low: %v", err)
	}
	if err := q.Push(high); err != nil {
		t.Fatalf("Push high: %v", err)
	}

	// Queue full; a critical arrival must evict the low entry.
	crit := newItem("crit", QueueCritical)
	if err := q.Push(crit); err != nil {
		t.Fatalf("Push crit: %v", err)
	}

	select {
	case res := <-low.done:
		if res.err != ErrQueueShed {
			t.Errorf("victim err = %v, want ErrQueueShed", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("shed victim was never notified")
	}

	if got := q.Len(); got != 2 {
		t.Errorf("Len after shed = %d, want 2", got)
	}

	it, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if it.msg.ID != "crit" {
		t.Errorf("first Pop = %s, want crit", it.msg.ID)
	}
}

func TestQueueRejectsNewcomerWhenItRanksLowest(t *testing.T) {
	q := NewPriorityQueue(2)
	if err := q.Push(newItem("a", QueueHigh)); err != nil {
		t.Fatalf("Push a: %v", err)
	}
	if err := q.Push(newItem("b", QueueHigh)); err != nil {
		t.Fatalf("Push b: %v", err)
	}

	if err := q.Push(newItem("c", QueueLow)); err != ErrQueueShed {
		t.Errorf("low-priority Push into full queue err = %v, want ErrQueueShed", err)
	}
	// Equal priority also loses: arrival order favors the incumbents.
	if err := q.Push(newItem("d", QueueHigh)); err != ErrQueueShed {
		t.Errorf("equal-priority Push into full queue err = %v, want ErrQueueShed", err)
	}
}

func TestQueueSkipsCancelledItems(t *testing.T) {
	q := NewPriorityQueue(16)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := &queueItem{
		msg:      domain.Message{ID: "cancelled"},
		priority: QueueCritical,
		ctx:      ctx,
		done:     make(chan submitResult, 1),
	}
	if err := q.Push(cancelled); err != nil {
		t.Fatalf("Push cancelled: %v", err)
	}
	if err := q.Push(newItem("live", QueueLow)); err != nil {
		t.Fatalf("Push live: %v", err)
	}
	cancel()

	it, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if it.msg.ID != "live" {
		t.Errorf("Pop = %s, want live", it.msg.ID)
	}
}

func TestQueueRemoveReleasesSlot(t *testing.T) {
	q := NewPriorityQueue(1)
	it := newItem("only", QueueNormal)
	if err := q.Push(it); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.Remove(it)

	if got := q.Len(); got != 0 {
		t.Fatalf("Len after Remove = %d, want 0", got)
	}
	if err := q.Push(newItem("next", QueueNormal)); err != nil {
		t.Errorf("Push after Remove: %v", err)
	}

	// Removing twice or removing a popped item must be harmless.
	q.Remove(it)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewPriorityQueue(4)

	got := make(chan *queueItem, 1)
	go func() {
		it, err := q.Pop(context.Background())
		if err == nil {
			got <- it
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Push(newItem("late", QueueNormal)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case it := <-got:
		if it.msg.ID != "late" {
			t.Errorf("Pop = %s, want late", it.msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never woke up after Push")
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := NewPriorityQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); err != context.DeadlineExceeded {
		t.Errorf("Pop err = %v, want context.DeadlineExceeded", err)
	}
}

func TestQueueDepthBoundedUnderConcurrentPush(t *testing.T) {
	const maxDepth = 8
	q := NewPriorityQueue(maxDepth)
	priorities := []QueuePriority{
		QueueCritical, QueueHigh, QueueNormal, QueueLow, QueueBackground,
	}

	stop := make(chan struct{})
	var sampler sync.WaitGroup
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if got := q.Len(); got > maxDepth {
				t.Errorf("Len = %d, depth bound %d violated", got, maxDepth)
				return
			}
		}
	}()

	var pushers sync.WaitGroup
	for g := 0; g < 16; g++ {
		pushers.Add(1)
		go func(g int) {
			defer pushers.Done()
			for i := 0; i < 200; i++ {
				_ = q.Push(newItem("x", priorities[(g+i)%len(priorities)]))
			}
		}(g)
	}
	pushers.Wait()
	close(stop)
	sampler.Wait()

	if got := q.Len(); got > maxDepth {
		t.Fatalf("final Len = %d, depth bound %d violated", got, maxDepth)
	}
}

func TestQueueDrainEmptiesAllEntries(t *testing.T) {
	q := NewPriorityQueue(16)
	for _, p := range []QueuePriority{QueueHigh, QueueLow, QueueNormal} {
		if err := q.Push(newItem("x", p)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("Drain returned %d entries, want 3", len(drained))
	}
	if got := q.Len(); got != 0 {
		t.Errorf("Len after Drain = %d, want 0", got)
	}
}

func TestQueueDepths(t *testing.T) {
	q := NewPriorityQueue(16)
	for _, p := range []QueuePriority{QueueHigh, QueueHigh, QueueLow} {
		if err := q.Push(newItem("x", p)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	d := q.Depths()
	if d[QueueHigh] != 2 || d[QueueLow] != 1 {
		t.Errorf("Depths = %v, want high:2 low:1", d)
	}
}
