package domain

// TierID uniquely identifies a delivery tier within one orchestrator.
type TierID string

// TierType categorizes the delivery mechanism behind a tier.
type TierType string

const (
	TierTypeWebhook TierType = "webhook" // HTTP push, fastest path
	TierTypeStream  TierType = "stream"  // gRPC delivery channel
	TierTypeSpool   TierType = "spool"   // file-drop fallback
)

// Valid reports whether the tier type is one of the known kinds.
func (t TierType) Valid() bool {
	switch t {
	case TierTypeWebhook, TierTypeStream, TierTypeSpool:
		return true
	}
	return false
}
