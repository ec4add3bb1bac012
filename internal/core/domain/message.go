package domain

import (
	"time"
)

// MessagePriority orders messages for scheduling and biases tier selection.
// Lower values are more urgent.
type MessagePriority int

const (
	PriorityCritical MessagePriority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p MessagePriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority maps a config/API string to a MessagePriority.
// Unrecognized values default to normal.
func ParsePriority(s string) MessagePriority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// RecipientAvailability is a hint about how reachable the recipient is
// right now. It feeds tier scoring only; delivery never depends on it.
type RecipientAvailability int

const (
	AvailabilityUnknown RecipientAvailability = iota
	AvailabilityOnline
	AvailabilityRecent
	AvailabilityIdle
)

func (a RecipientAvailability) String() string {
	switch a {
	case AvailabilityOnline:
		return "online"
	case AvailabilityRecent:
		return "recent"
	case AvailabilityIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Message is an opaque outbound payload. The orchestrator only reads
// ID, Priority and Recipient; the body is passed through untouched.
type Message struct {
	ID        string
	Recipient string
	Payload   []byte
	Priority  MessagePriority
	CreatedAt time.Time
}

// DeliveryOutcome describes a completed delivery attempt chain.
type DeliveryOutcome struct {
	Tier       TierID
	Latency    time.Duration
	Attempts   int
	FailedOver bool
}
