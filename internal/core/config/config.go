package config

import (
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	redisclient "github.com/vietddude/courier/internal/infra/redis"
	"github.com/vietddude/courier/internal/infra/storage/postgres"
	"github.com/vietddude/courier/internal/tiering/classify"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
	"github.com/vietddude/courier/internal/tiering/resilience"
	"github.com/vietddude/courier/internal/tiering/selection"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	Circuit    CircuitConfig      `yaml:"circuit"`
	Selection  SelectionConfig    `yaml:"selection"`
	Resilience ResilienceConfig   `yaml:"resilience"`
	Tiers      []TierConfig       `yaml:"tiers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TierConfig declares one delivery tier.
type TierConfig struct {
	ID   domain.TierID   `yaml:"id"`
	Type domain.TierType `yaml:"type"` // webhook, stream, spool

	// Endpoint for webhook and stream tiers.
	Endpoint string `yaml:"endpoint"`
	// AuthToken for webhook tiers.
	AuthToken string `yaml:"auth_token"`
	// Dir for spool tiers.
	Dir string `yaml:"dir"`
	// Capacity overrides the bulkhead default for this tier.
	Capacity int `yaml:"capacity"`
}

// CircuitConfig holds circuit breaker and tier health tunables.
type CircuitConfig struct {
	FailureThreshold     int           `yaml:"failure_threshold"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	WindowSize           int           `yaml:"window_size"`
	Cooldown             time.Duration `yaml:"cooldown"`
	MaxCooldown          time.Duration `yaml:"max_cooldown"`
	CooldownMultiplier   float64       `yaml:"cooldown_multiplier"`
	HalfOpenMaxTrials    int           `yaml:"half_open_max_trials"`
	DegradedErrorRate    float64       `yaml:"degraded_error_rate"`
	DegradedLatency      time.Duration `yaml:"degraded_latency"`
	EventLogSize         int           `yaml:"event_log_size"`
}

// Core maps onto the orchestrator's configuration.
func (c CircuitConfig) Core() orchestrator.Config {
	return orchestrator.Config{
		FailureThreshold:     c.FailureThreshold,
		FailureRateThreshold: c.FailureRateThreshold,
		WindowSize:           c.WindowSize,
		Cooldown:             c.Cooldown,
		MaxCooldown:          c.MaxCooldown,
		CooldownMultiplier:   c.CooldownMultiplier,
		HalfOpenMaxTrials:    c.HalfOpenMaxTrials,
		DegradedErrorRate:    c.DegradedErrorRate,
		DegradedLatency:      c.DegradedLatency,
		EventLogSize:         c.EventLogSize,
	}
}

// SelectionConfig holds the tier selection strategy and weights.
type SelectionConfig struct {
	// Strategy is one of round_robin, weighted_random, lowest_latency,
	// highest_success, load_aware.
	Strategy string            `yaml:"strategy"`
	Weights  selection.Weights `yaml:"weights"`
}

// ResilienceConfig holds delivery pipeline tunables.
type ResilienceConfig struct {
	Workers          int           `yaml:"workers"`
	QueueDepth       int           `yaml:"queue_depth"`
	MaxAttempts      int           `yaml:"max_attempts"`
	HealingInterval  time.Duration `yaml:"healing_interval"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`

	Bulkhead BulkheadConfig `yaml:"bulkhead"`
	Timeout  TimeoutConfig  `yaml:"timeout"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// BulkheadConfig holds concurrency caps.
type BulkheadConfig struct {
	DefaultCapacity int `yaml:"default_capacity"`
	GlobalCapacity  int `yaml:"global_capacity"`
}

// TimeoutConfig holds adaptive timeout bounds.
type TimeoutConfig struct {
	Base       time.Duration `yaml:"base"`
	Min        time.Duration `yaml:"min"`
	Max        time.Duration `yaml:"max"`
	Percentile float64       `yaml:"percentile"`
	Headroom   float64       `yaml:"headroom"`
	WindowSize int           `yaml:"window_size"`
}

// RecoveryConfig holds automated recovery tunables.
type RecoveryConfig struct {
	SeverityThreshold   string        `yaml:"severity_threshold"` // low, medium, high, critical
	QuarantineExtension time.Duration `yaml:"quarantine_extension"`
	ResetAfterFailures  int           `yaml:"reset_after_failures"`
}

// Pipeline maps onto the resilience pipeline configuration, folding
// per-tier capacity overrides in from the tier declarations.
func (c ResilienceConfig) Pipeline(tiers []TierConfig) resilience.Config {
	perTier := make(map[domain.TierID]int)
	for _, t := range tiers {
		if t.Capacity > 0 {
			perTier[t.ID] = t.Capacity
		}
	}

	return resilience.Config{
		Workers:          c.Workers,
		QueueDepth:       c.QueueDepth,
		MaxAttempts:      c.MaxAttempts,
		HealingInterval:  c.HealingInterval,
		RecoveryInterval: c.RecoveryInterval,
		Bulkhead: resilience.BulkheadConfig{
			DefaultCapacity: c.Bulkhead.DefaultCapacity,
			GlobalCapacity:  c.Bulkhead.GlobalCapacity,
			PerTier:         perTier,
		},
		Timeout: resilience.TimeoutConfig{
			Base:       c.Timeout.Base,
			Min:        c.Timeout.Min,
			Max:        c.Timeout.Max,
			Percentile: c.Timeout.Percentile,
			Headroom:   c.Timeout.Headroom,
			WindowSize: c.Timeout.WindowSize,
		},
		Recovery: resilience.RecoveryConfig{
			SeverityThreshold:   parseSeverity(c.Recovery.SeverityThreshold),
			QuarantineExtension: c.Recovery.QuarantineExtension,
			ResetAfterFailures:  c.Recovery.ResetAfterFailures,
		},
	}
}

func parseSeverity(s string) classify.IssueSeverity {
	switch s {
	case "low":
		return classify.SeverityLow
	case "medium":
		return classify.SeverityMedium
	case "critical":
		return classify.SeverityCritical
	case "high":
		return classify.SeverityHigh
	default:
		return 0 // pipeline default applies
	}
}
