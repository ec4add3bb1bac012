// Package memory provides in-process repository implementations used in
// tests and single-node deployments without external storage.
package memory

import (
	"context"
	"sync"

	"github.com/vietddude/courier/internal/infra/storage"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

// EventRepo keeps the most recent failover events in memory.
type EventRepo struct {
	mu     sync.Mutex
	events []orchestrator.FailoverEvent
	max    int
}

// NewEventRepo creates a repo bounded to max events.
func NewEventRepo(max int) *EventRepo {
	if max <= 0 {
		max = 1024
	}
	return &EventRepo{max: max}
}

// AppendFailover stores the event, evicting the oldest past the bound.
func (r *EventRepo) AppendFailover(_ context.Context, ev orchestrator.FailoverEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
	return nil
}

// RecentFailovers returns up to limit events, newest first.
func (r *EventRepo) RecentFailovers(_ context.Context, limit int) ([]orchestrator.FailoverEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]orchestrator.FailoverEvent, n)
	for i := 0; i < n; i++ {
		out[i] = r.events[len(r.events)-1-i]
	}
	return out, nil
}

// DeliveryRepo keeps delivery records in memory, newest last.
type DeliveryRepo struct {
	mu      sync.Mutex
	records []storage.DeliveryRecord
	max     int
}

// NewDeliveryRepo creates a repo bounded to max records.
func NewDeliveryRepo(max int) *DeliveryRepo {
	if max <= 0 {
		max = 4096
	}
	return &DeliveryRepo{max: max}
}

// Record stores one delivery outcome.
func (r *DeliveryRepo) Record(_ context.Context, rec storage.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if len(r.records) > r.max {
		r.records = r.records[len(r.records)-r.max:]
	}
	return nil
}

// RecentByRecipient returns up to limit records for one recipient,
// newest first.
func (r *DeliveryRepo) RecentByRecipient(_ context.Context, recipient string, limit int) ([]storage.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []storage.DeliveryRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Recipient != recipient {
			continue
		}
		out = append(out, r.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
