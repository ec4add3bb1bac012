// Package orchestrator owns per-tier health and circuit breaker state.
// All tier mutation funnels through Core; reads are snapshots. Tiers are
// locked individually, so recording an outcome for one tier never blocks
// another.
package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/metrics"
)

// HealthLevel summarizes how a tier has behaved over the rolling window.
type HealthLevel int

const (
	HealthUnknown HealthLevel = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (h HealthLevel) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CircuitState is the circuit breaker position for a tier.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Outcome is the result of one transport attempt against a tier.
type Outcome struct {
	Success bool
	Latency time.Duration
	Err     error
}

// Config carries the circuit breaker and health tunables. Zero values
// are replaced by defaults in New.
type Config struct {
	// FailureThreshold opens the circuit after this many consecutive
	// failures.
	FailureThreshold int
	// FailureRateThreshold opens the circuit when the rolling-window
	// error rate reaches this fraction (0 disables).
	FailureRateThreshold float64
	// WindowSize is the number of recent outcomes kept per tier.
	WindowSize int
	// Cooldown is the initial open-state duration before a half-open
	// trial is allowed.
	Cooldown time.Duration
	// MaxCooldown bounds the doubling applied after failed trials.
	MaxCooldown time.Duration
	// CooldownMultiplier scales the cooldown after each failed trial.
	CooldownMultiplier float64
	// HalfOpenMaxTrials bounds concurrent trial requests in half-open.
	HalfOpenMaxTrials int
	// DegradedErrorRate marks a closed tier degraded at this error rate.
	DegradedErrorRate float64
	// DegradedLatency marks a closed tier degraded above this average.
	DegradedLatency time.Duration
	// EventLogSize bounds the in-memory failover event ring.
	EventLogSize int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 100
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 10 * time.Minute
	}
	if c.CooldownMultiplier < 1 {
		c.CooldownMultiplier = 2.0
	}
	if c.HalfOpenMaxTrials <= 0 {
		c.HalfOpenMaxTrials = 1
	}
	if c.DegradedErrorRate <= 0 {
		c.DegradedErrorRate = 0.3
	}
	if c.DegradedLatency <= 0 {
		c.DegradedLatency = 3 * time.Second
	}
	if c.EventLogSize <= 0 {
		c.EventLogSize = 1024
	}
	return c
}

// TierSnapshot is a read-only copy of one tier's committed state.
type TierSnapshot struct {
	ID                   domain.TierID
	Type                 domain.TierType
	Health               HealthLevel
	Circuit              CircuitState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	ErrorRate            float64
	AvgLatency           time.Duration
	CooldownUntil        time.Time
	TrialsInFlight       int
}

type outcomeSample struct {
	success bool
	latency time.Duration
	at      time.Time
}

// tierState is the unit of mutual exclusion. Every field is guarded by
// mu; Core never holds two tier locks at once.
type tierState struct {
	mu sync.Mutex

	id   domain.TierID
	typ  domain.TierType
	cfg  Config
	now  func() time.Time
	slog *slog.Logger

	circuit              CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	cooldown             time.Duration
	cooldownUntil        time.Time
	trialsInFlight       int

	window []outcomeSample // ring, oldest first
}

// Core is the authoritative view of tier state for one orchestrator
// instance. Construct with New; the zero value is not usable.
type Core struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu    sync.RWMutex // guards the tiers map (registration), not tier state
	tiers map[domain.TierID]*tierState

	events *eventLog
	sink   EventSink
	sinkCh chan FailoverEvent
	sinkWG sync.WaitGroup

	stats *statsCounters
}

// Option customizes Core construction.
type Option func(*Core)

// WithEventSink forwards failover events to an external sink in
// addition to the in-memory log. Sink errors are logged, never raised.
func WithEventSink(sink EventSink) Option {
	return func(c *Core) { c.sink = sink }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Core) { c.log = log }
}

// New creates a Core with the given configuration.
func New(cfg Config, opts ...Option) *Core {
	cfg = cfg.withDefaults()
	c := &Core{
		cfg:   cfg,
		log:   slog.Default(),
		now:   time.Now,
		tiers: make(map[domain.TierID]*tierState),
		stats: newStatsCounters(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = newEventLog(cfg.EventLogSize)
	if c.sink != nil {
		c.sinkCh = make(chan FailoverEvent, sinkBuffer)
		c.sinkWG.Add(1)
		go c.forwardEvents()
	}
	return c
}

// Close flushes buffered sink writes and stops the forwarder. Cores
// built without a sink have nothing to stop. RecordFailover must not
// be called after Close.
func (c *Core) Close() {
	if c.sinkCh != nil {
		close(c.sinkCh)
		c.sinkWG.Wait()
	}
}

// RegisterTier adds a tier to the orchestrator. Registering an existing
// id is a no-op; tiers start closed with unknown health.
func (c *Core) RegisterTier(id domain.TierID, typ domain.TierType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tiers[id]; ok {
		return
	}
	c.tiers[id] = &tierState{
		id:       id,
		typ:      typ,
		cfg:      c.cfg,
		now:      c.now,
		slog:     c.log,
		circuit:  CircuitClosed,
		cooldown: c.cfg.Cooldown,
		window:   make([]outcomeSample, 0, c.cfg.WindowSize),
	}
	metrics.CircuitState.WithLabelValues(string(id)).Set(float64(CircuitClosed))
}

// Tiers returns the registered tier ids in registration-independent,
// sorted-by-map-iteration order. Callers needing determinism sort.
func (c *Core) Tiers() []domain.TierID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]domain.TierID, 0, len(c.tiers))
	for id := range c.tiers {
		ids = append(ids, id)
	}
	return ids
}

func (c *Core) tier(id domain.TierID) *tierState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tiers[id]
}

// RecordOutcome applies one transport outcome to a tier and returns the
// resulting health level. Unknown tiers are logged and ignored: this
// path carries live traffic and must not fail.
func (c *Core) RecordOutcome(id domain.TierID, out Outcome) HealthLevel {
	ts := c.tier(id)
	if ts == nil {
		c.log.Warn("outcome for unknown tier dropped", "tier", id)
		return HealthUnknown
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.advanceLocked()

	now := ts.now()
	ts.pushSampleLocked(outcomeSample{success: out.Success, latency: out.Latency, at: now})

	if out.Success {
		c.stats.recordSuccess(id, out.Latency)
		ts.applySuccessLocked()
	} else {
		c.stats.recordFailure(id)
		ts.applyFailureLocked(now)
	}

	metrics.CircuitState.WithLabelValues(string(id)).Set(float64(ts.circuit))
	return ts.healthLocked()
}

// Snapshot returns the current committed state of a tier. Time-based
// open→half-open transitions are applied before the read so a snapshot
// never reports a stale Open past its cooldown.
func (c *Core) Snapshot(id domain.TierID) (TierSnapshot, bool) {
	ts := c.tier(id)
	if ts == nil {
		return TierSnapshot{}, false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.advanceLocked()
	return ts.snapshotLocked(), true
}

// Snapshots returns snapshots for every registered tier.
func (c *Core) Snapshots() []TierSnapshot {
	ids := c.Tiers()
	snaps := make([]TierSnapshot, 0, len(ids))
	for _, id := range ids {
		if s, ok := c.Snapshot(id); ok {
			snaps = append(snaps, s)
		}
	}
	return snaps
}

// TrialAvailable reports whether a half-open tier still has a free
// trial slot. Closed tiers always report true, open tiers false. It
// never mutates state, so the selector can call it freely.
func (c *Core) TrialAvailable(id domain.TierID) bool {
	ts := c.tier(id)
	if ts == nil {
		return false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.advanceLocked()

	switch ts.circuit {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		return ts.trialsInFlight < ts.cfg.HalfOpenMaxTrials
	default:
		return false
	}
}

// AcquireTrial claims a half-open trial slot for a tier. Closed tiers
// admit without consuming a slot. The caller must pair a successful
// acquire on a half-open tier with ReleaseTrial.
func (c *Core) AcquireTrial(id domain.TierID) bool {
	ts := c.tier(id)
	if ts == nil {
		return false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.advanceLocked()

	switch ts.circuit {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if ts.trialsInFlight >= ts.cfg.HalfOpenMaxTrials {
			return false
		}
		ts.trialsInFlight++
		return true
	default:
		return false
	}
}

// ReleaseTrial returns a half-open trial slot. Safe to call after the
// circuit moved on; extra releases are clamped.
func (c *Core) ReleaseTrial(id domain.TierID) {
	ts := c.tier(id)
	if ts == nil {
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.trialsInFlight > 0 {
		ts.trialsInFlight--
	}
}

// ForceReset pushes an open tier into half-open immediately, bypassing
// the remaining cooldown. Used by automated recovery and operators.
// Returns false for unknown tiers or tiers that are not open.
func (c *Core) ForceReset(id domain.TierID) bool {
	ts := c.tier(id)
	if ts == nil {
		return false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.circuit != CircuitOpen {
		return false
	}
	ts.toHalfOpenLocked()
	ts.slog.Info("circuit force-reset to half-open", "tier", id)
	metrics.CircuitState.WithLabelValues(string(id)).Set(float64(ts.circuit))
	return true
}

// Quarantine extends (or establishes) the open state of a tier for at
// least d. Returns false for unknown tiers.
func (c *Core) Quarantine(id domain.TierID, d time.Duration) bool {
	ts := c.tier(id)
	if ts == nil {
		return false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	until := ts.now().Add(d)
	ts.circuit = CircuitOpen
	ts.trialsInFlight = 0
	if until.After(ts.cooldownUntil) {
		ts.cooldownUntil = until
	}
	ts.slog.Warn("tier quarantined", "tier", id, "until", ts.cooldownUntil)
	metrics.CircuitState.WithLabelValues(string(id)).Set(float64(ts.circuit))
	return true
}

// --- tierState internals (all require ts.mu held) ---

// advanceLocked applies the lazy open→half-open transition once the
// cooldown has elapsed.
func (ts *tierState) advanceLocked() {
	if ts.circuit == CircuitOpen && !ts.now().Before(ts.cooldownUntil) {
		ts.toHalfOpenLocked()
		ts.slog.Debug("circuit cooled down to half-open", "tier", ts.id)
	}
}

func (ts *tierState) toHalfOpenLocked() {
	ts.circuit = CircuitHalfOpen
	ts.trialsInFlight = 0
	ts.consecutiveSuccesses = 0
}

func (ts *tierState) applySuccessLocked() {
	ts.consecutiveFailures = 0
	ts.consecutiveSuccesses++

	if ts.circuit == CircuitHalfOpen {
		// A successful trial closes the circuit and resets the backoff.
		ts.circuit = CircuitClosed
		ts.trialsInFlight = 0
		ts.cooldown = ts.cfg.Cooldown
		ts.slog.Info("circuit closed after successful trial", "tier", ts.id)
	}
}

func (ts *tierState) applyFailureLocked(now time.Time) {
	ts.consecutiveSuccesses = 0
	ts.consecutiveFailures++
	ts.lastFailure = now

	switch ts.circuit {
	case CircuitHalfOpen:
		// Failed trial: back to open with a longer cooldown, bounded.
		next := time.Duration(float64(ts.cooldown) * ts.cfg.CooldownMultiplier)
		if next > ts.cfg.MaxCooldown {
			next = ts.cfg.MaxCooldown
		}
		ts.cooldown = next
		ts.openLocked(now)
		ts.slog.Warn("half-open trial failed, reopening circuit",
			"tier", ts.id, "cooldown", ts.cooldown)

	case CircuitClosed:
		if ts.consecutiveFailures >= ts.cfg.FailureThreshold ||
			ts.rateTripLocked() {
			ts.openLocked(now)
			ts.slog.Warn("circuit opened",
				"tier", ts.id,
				"consecutive_failures", ts.consecutiveFailures,
				"error_rate", ts.errorRateLocked(),
				"cooldown", ts.cooldown)
		}
	}
}

func (ts *tierState) openLocked(now time.Time) {
	ts.circuit = CircuitOpen
	ts.trialsInFlight = 0
	ts.cooldownUntil = now.Add(ts.cooldown)
	metrics.CircuitTrips.WithLabelValues(string(ts.id)).Inc()
}

// rateTripLocked reports whether the window error rate alone justifies
// opening. Requires a full window to avoid tripping on sparse data.
func (ts *tierState) rateTripLocked() bool {
	if ts.cfg.FailureRateThreshold <= 0 || len(ts.window) < ts.cfg.WindowSize {
		return false
	}
	return ts.errorRateLocked() >= ts.cfg.FailureRateThreshold
}

func (ts *tierState) pushSampleLocked(s outcomeSample) {
	if len(ts.window) >= ts.cfg.WindowSize {
		copy(ts.window, ts.window[1:])
		ts.window[len(ts.window)-1] = s
		return
	}
	ts.window = append(ts.window, s)
}

func (ts *tierState) errorRateLocked() float64 {
	if len(ts.window) == 0 {
		return 0
	}
	failures := 0
	for _, s := range ts.window {
		if !s.success {
			failures++
		}
	}
	return float64(failures) / float64(len(ts.window))
}

func (ts *tierState) avgLatencyLocked() time.Duration {
	var total time.Duration
	n := 0
	for _, s := range ts.window {
		if s.success {
			total += s.latency
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

func (ts *tierState) healthLocked() HealthLevel {
	switch ts.circuit {
	case CircuitOpen:
		return HealthUnhealthy
	case CircuitHalfOpen:
		return HealthDegraded
	}
	if len(ts.window) == 0 {
		return HealthUnknown
	}
	if ts.errorRateLocked() >= ts.cfg.DegradedErrorRate ||
		ts.avgLatencyLocked() > ts.cfg.DegradedLatency {
		return HealthDegraded
	}
	return HealthHealthy
}

func (ts *tierState) snapshotLocked() TierSnapshot {
	return TierSnapshot{
		ID:                   ts.id,
		Type:                 ts.typ,
		Health:               ts.healthLocked(),
		Circuit:              ts.circuit,
		ConsecutiveFailures:  ts.consecutiveFailures,
		ConsecutiveSuccesses: ts.consecutiveSuccesses,
		LastFailure:          ts.lastFailure,
		ErrorRate:            ts.errorRateLocked(),
		AvgLatency:           ts.avgLatencyLocked(),
		CooldownUntil:        ts.cooldownUntil,
		TrialsInFlight:       ts.trialsInFlight,
	}
}
