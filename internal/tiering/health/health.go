// Package health aggregates tier and pipeline state into status
// reports and serves them over HTTP.
package health

import (
	"github.com/vietddude/courier/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a
// single tier.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// TierHealth contains health metrics for one delivery tier.
type TierHealth struct {
	ID           domain.TierID   `json:"id"`
	Type         domain.TierType `json:"type"`
	Status       SystemStatus    `json:"status"`
	Circuit      string          `json:"circuit"`
	ErrorRate    float64         `json:"error_rate"`
	AvgLatencyMS int64           `json:"avg_latency_ms"`
	InFlight     int             `json:"in_flight"`
	Capacity     int             `json:"capacity"`
	TimeoutMS    int64           `json:"timeout_ms"`
}

// Report is the full system health report.
type Report struct {
	SystemStatus   SystemStatus                 `json:"system_status"`
	Tiers          map[domain.TierID]TierHealth `json:"tiers"`
	QueueLen       int                          `json:"queue_len"`
	OpenIssues     int                          `json:"open_issues"`
	ResolvedIssues uint64                       `json:"resolved_issues"`
}
