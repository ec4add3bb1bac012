package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

// EventRepo implements storage.EventRepository on PostgreSQL.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates an event repository over db.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

type eventRow struct {
	ID       string    `db:"id"`
	Time     time.Time `db:"occurred_at"`
	FromTier string    `db:"from_tier"`
	ToTier   string    `db:"to_tier"`
	Reason   string    `db:"reason"`
	Priority int       `db:"priority"`
}

// AppendFailover inserts one failover event. Replays of the same event
// id are ignored, so the sink stays safe to retry.
func (r *EventRepo) AppendFailover(ctx context.Context, ev orchestrator.FailoverEvent) error {
	query := `
		INSERT INTO failover_events (id, occurred_at, from_tier, to_tier, reason, priority)
		VALUES (:id, :occurred_at, :from_tier, :to_tier, :reason, :priority)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.NamedExecContext(ctx, query, eventRow{
		ID:       ev.ID,
		Time:     ev.Time,
		FromTier: string(ev.From),
		ToTier:   string(ev.To),
		Reason:   ev.Reason,
		Priority: int(ev.Priority),
	})
	if err != nil {
		return fmt.Errorf("failed to insert failover event: %w", err)
	}
	return nil
}

// RecentFailovers returns up to limit events, newest first.
func (r *EventRepo) RecentFailovers(ctx context.Context, limit int) ([]orchestrator.FailoverEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, occurred_at, from_tier, to_tier, reason, priority
		FROM failover_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query failover events: %w", err)
	}

	out := make([]orchestrator.FailoverEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, orchestrator.FailoverEvent{
			ID:       row.ID,
			Time:     row.Time,
			From:     domain.TierID(row.FromTier),
			To:       domain.TierID(row.ToTier),
			Reason:   row.Reason,
			Priority: domain.MessagePriority(row.Priority),
		})
	}
	return out, nil
}
