package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/courier/internal/infra/storage"
)

// DeliveryRepo implements storage.DeliveryRepository on PostgreSQL.
type DeliveryRepo struct {
	db *DB
}

// NewDeliveryRepo creates a delivery repository over db.
func NewDeliveryRepo(db *DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

// Record inserts one delivery record.
func (r *DeliveryRepo) Record(ctx context.Context, rec storage.DeliveryRecord) error {
	query := `
		INSERT INTO deliveries
			(message_id, recipient, tier, priority, attempts, failed_over, latency_ms, delivered, created_at)
		VALUES
			(:message_id, :recipient, :tier, :priority, :attempts, :failed_over, :latency_ms, :delivered, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}
	return nil
}

// RecentByRecipient returns up to limit records for one recipient,
// newest first.
func (r *DeliveryRepo) RecentByRecipient(ctx context.Context, recipient string, limit int) ([]storage.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT message_id, recipient, tier, priority, attempts, failed_over, latency_ms, delivered, created_at
		FROM deliveries
		WHERE recipient = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var out []storage.DeliveryRecord
	if err := r.db.SelectContext(ctx, &out, query, recipient, limit); err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	return out, nil
}
