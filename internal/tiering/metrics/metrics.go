// Package metrics exposes prometheus collectors for the delivery
// orchestrator. Collectors are registered at init via promauto and
// observed from the hot path; they never influence control flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmitsTotal counts submissions by priority and final result.
	SubmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_submits_total",
			Help: "Total number of message submissions",
		},
		[]string{"priority", "result"},
	)

	// SendsTotal counts transport attempts per tier and result.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_tier_sends_total",
			Help: "Total number of transport send attempts",
		},
		[]string{"tier", "result"},
	)

	// SendLatency tracks transport latency per tier.
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_tier_send_latency_seconds",
			Help:    "Transport send latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	// CircuitState reports the circuit position per tier
	// (0=closed, 1=open, 2=half_open).
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_circuit_state",
			Help: "Circuit breaker state per tier (0=closed, 1=open, 2=half_open)",
		},
		[]string{"tier"},
	)

	// CircuitTrips counts circuit open transitions per tier.
	CircuitTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_circuit_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"tier"},
	)

	// Failovers counts failover events by source and target tier.
	Failovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_failovers_total",
			Help: "Total number of tier failovers",
		},
		[]string{"from", "to"},
	)

	// BulkheadRejections counts fast-failed admissions per tier.
	BulkheadRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_bulkhead_rejections_total",
			Help: "Total number of bulkhead admission rejections",
		},
		[]string{"tier"},
	)

	// BulkheadInFlight reports current bulkhead occupancy per tier.
	BulkheadInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_bulkhead_in_flight",
			Help: "Current in-flight operations per tier bulkhead",
		},
		[]string{"tier"},
	)

	// QueueDepth reports pending queue entries per priority.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Current priority queue depth",
		},
		[]string{"priority"},
	)

	// QueueShed counts dropped queue entries per priority.
	QueueShed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_queue_shed_total",
			Help: "Total number of shed queue entries",
		},
		[]string{"priority"},
	)

	// TimeoutAdjustments counts adaptive timeout recalculations per tier.
	TimeoutAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_timeout_adjustments_total",
			Help: "Total number of adaptive timeout adjustments",
		},
		[]string{"tier", "direction"},
	)

	// HealingResolved counts issues resolved by the self-healing scan.
	HealingResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_healing_resolved_total",
			Help: "Total number of issues resolved by self-healing",
		},
	)

	// RecoveryActions counts automated recovery actions by kind and status.
	RecoveryActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_recovery_actions_total",
			Help: "Total number of automated recovery actions",
		},
		[]string{"action", "status"},
	)
)
