package redis

import (
	"context"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

const presencePrefix = "courier:presence:"

// Presence reads a recipient's reachability hint. Missing keys and
// lookup failures both report unknown: presence only biases tier
// scoring and must never block delivery.
func (c *Client) Presence(ctx context.Context, recipient string) domain.RecipientAvailability {
	val, err := c.rdb.Get(ctx, presencePrefix+recipient).Result()
	if err != nil {
		// redis.Nil (no hint) and transport errors rank the same here.
		return domain.AvailabilityUnknown
	}

	switch val {
	case "online":
		return domain.AvailabilityOnline
	case "recent":
		return domain.AvailabilityRecent
	case "idle":
		return domain.AvailabilityIdle
	default:
		return domain.AvailabilityUnknown
	}
}

// SetPresence records a reachability hint with a TTL. Written by the
// presence ingestion path; exposed here for tooling and tests.
func (c *Client) SetPresence(ctx context.Context, recipient string, a domain.RecipientAvailability, ttl time.Duration) error {
	return c.rdb.Set(ctx, presencePrefix+recipient, a.String(), ttl).Err()
}

// AvailabilityFunc adapts presence lookups for the delivery pipeline,
// bounding each lookup so a slow Redis cannot stall selection.
func (c *Client) AvailabilityFunc(timeout time.Duration) func(recipient string) domain.RecipientAvailability {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return func(recipient string) domain.RecipientAvailability {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return c.Presence(ctx, recipient)
	}
}
