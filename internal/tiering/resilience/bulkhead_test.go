package resilience

import (
	"sync"
	"testing"

	"github.com/vietddude/courier/internal/core/domain"
)

func TestBulkheadCapacityNeverExceeded(t *testing.T) {
	const capacity = 8
	b := NewBulkhead(BulkheadConfig{DefaultCapacity: capacity}, []domain.TierID{"webhook-primary"})

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				release, err := b.Acquire("webhook-primary")
				if err != nil {
					continue
				}
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()

				mu.Lock()
				inFlight--
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()

	if peak > capacity {
		t.Errorf("peak in-flight %d exceeded capacity %d", peak, capacity)
	}
	if got := b.InFlight()["webhook-primary"]; got != 0 {
		t.Errorf("in-flight after drain = %d, want 0", got)
	}
}

func TestBulkheadReleaseIdempotent(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{DefaultCapacity: 2}, []domain.TierID{"spool-local"})

	release, err := b.Acquire("spool-local")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release()
	release()

	if got := b.InFlight()["spool-local"]; got != 0 {
		t.Errorf("in-flight after repeated release = %d, want 0", got)
	}

	// Full capacity must be available again.
	for i := 0; i < 2; i++ {
		if _, err := b.Acquire("spool-local"); err != nil {
			t.Fatalf("Acquire %d after release: %v", i, err)
		}
	}
	if _, err := b.Acquire("spool-local"); err == nil {
		t.Error("Acquire beyond capacity succeeded")
	}
}

func TestBulkheadIsolatesTiers(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		DefaultCapacity: 4,
		PerTier:         map[domain.TierID]int{"webhook-primary": 1},
	}, []domain.TierID{"webhook-primary", "stream-backup"})

	if _, err := b.Acquire("webhook-primary"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := b.Acquire("webhook-primary"); err != ErrBulkheadSaturated {
		t.Errorf("saturated tier Acquire err = %v, want ErrBulkheadSaturated", err)
	}

	// Saturation of one tier must not block another.
	if _, err := b.Acquire("stream-backup"); err != nil {
		t.Errorf("other tier Acquire: %v", err)
	}
}

func TestBulkheadGlobalCap(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{DefaultCapacity: 4, GlobalCapacity: 2},
		[]domain.TierID{"webhook-primary", "stream-backup"})

	if _, err := b.Acquire("webhook-primary"); err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	if _, err := b.Acquire("stream-backup"); err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if _, err := b.Acquire("stream-backup"); err != ErrBulkheadSaturated {
		t.Errorf("global cap Acquire err = %v, want ErrBulkheadSaturated", err)
	}
}

func TestBulkheadUnknownTier(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{DefaultCapacity: 4}, []domain.TierID{"spool-local"})
	if _, err := b.Acquire("no-such-tier"); err != ErrBulkheadSaturated {
		t.Errorf("unknown tier Acquire err = %v, want ErrBulkheadSaturated", err)
	}
}
