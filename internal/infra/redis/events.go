package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

const (
	eventsKey = "courier:failover_events"
	// eventsRetained bounds the sorted set; older entries are trimmed
	// on every append.
	eventsRetained = 10_000
)

// EventRepo stores failover events in a Redis sorted set scored by
// event time. It satisfies both the orchestrator's EventSink and the
// storage EventRepository contract.
type EventRepo struct {
	client *Client
}

// NewEventRepo creates the event sink over an existing client.
func NewEventRepo(client *Client) *EventRepo {
	return &EventRepo{client: client}
}

// AppendFailover writes the event and trims the retained window.
func (r *EventRepo) AppendFailover(ctx context.Context, ev orchestrator.FailoverEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode failover event: %w", err)
	}

	pipe := r.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, eventsKey, redis.Z{
		Score:  float64(ev.Time.UnixMilli()),
		Member: data,
	})
	pipe.ZRemRangeByRank(ctx, eventsKey, 0, -(eventsRetained + 1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append failover event: %w", err)
	}
	return nil
}

// RecentFailovers returns up to limit events, newest first.
func (r *EventRepo) RecentFailovers(ctx context.Context, limit int) ([]orchestrator.FailoverEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	raw, err := r.client.rdb.ZRevRange(ctx, eventsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failover events: %w", err)
	}

	out := make([]orchestrator.FailoverEvent, 0, len(raw))
	for _, member := range raw {
		var ev orchestrator.FailoverEvent
		if err := json.Unmarshal([]byte(member), &ev); err != nil {
			// A corrupt member should not hide the rest of the log.
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
