// Package storage defines the persistence contracts for delivery
// history and failover events. Implementations live in the memory and
// postgres subpackages; the redis package provides a fast event sink
// on the same contract.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// DeliveryRecord is one completed delivery attempt chain.
type DeliveryRecord struct {
	MessageID  string                 `db:"message_id" json:"message_id"`
	Recipient  string                 `db:"recipient" json:"recipient"`
	Tier       domain.TierID          `db:"tier" json:"tier"`
	Priority   domain.MessagePriority `db:"priority" json:"priority"`
	Attempts   int                    `db:"attempts" json:"attempts"`
	FailedOver bool                   `db:"failed_over" json:"failed_over"`
	LatencyMS  int64                  `db:"latency_ms" json:"latency_ms"`
	Delivered  bool                   `db:"delivered" json:"delivered"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
}

// EventRepository persists failover events beyond the in-memory ring.
type EventRepository interface {
	AppendFailover(ctx context.Context, ev orchestrator.FailoverEvent) error
	RecentFailovers(ctx context.Context, limit int) ([]orchestrator.FailoverEvent, error)
}

// DeliveryRepository records delivery outcomes for audit and recipient
// history queries.
type DeliveryRepository interface {
	Record(ctx context.Context, rec DeliveryRecord) error
	RecentByRecipient(ctx context.Context, recipient string, limit int) ([]DeliveryRecord, error)
}
