// Package resilience composes the delivery pipeline: a bounded priority
// queue feeding a worker pool, per-tier bulkheads and adaptive timeouts
// around transport sends, failure classification into a shared issue
// ledger, and background healing and recovery loops over that ledger.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/classify"
	"github.com/vietddude/courier/internal/tiering/metrics"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
	"github.com/vietddude/courier/internal/tiering/selection"
	"github.com/vietddude/courier/internal/transport"
)

// ErrUnknownTier is returned when a selected tier has no transport,
// which indicates a wiring bug rather than a runtime condition.
var ErrUnknownTier = errors.New("no transport for tier")

// ErrDeliveryFailed is returned when every eligible tier was tried and
// none accepted the message. It wraps the last tier's failure.
var ErrDeliveryFailed = errors.New("delivery failed on all tiers")

// ErrClosed is returned to submitters whose message was still queued
// when the pipeline shut down.
var ErrClosed = errors.New("delivery pipeline closed")

// TransportFailure is one tier's classified send failure.
type TransportFailure struct {
	Tier  domain.TierID
	Class classify.Classification
	Err   error
}

func (f *TransportFailure) Error() string {
	return fmt.Sprintf("tier %s: %s: %v", f.Tier, f.Class.Type, f.Err)
}

func (f *TransportFailure) Unwrap() error { return f.Err }

// AvailabilityFunc reports a recipient's presence for selection biasing.
// Nil means availability is always unknown.
type AvailabilityFunc func(recipient string) domain.RecipientAvailability

// Config tunes the resilience pipeline. Zero values take defaults.
type Config struct {
	// Workers is the size of the delivery worker pool.
	Workers int
	// QueueDepth bounds the admission queue.
	QueueDepth int
	// MaxAttempts caps how many distinct tiers one message may try
	// (0 means every registered tier).
	MaxAttempts int
	// HealingInterval is the cadence of reconciliation scans.
	HealingInterval time.Duration
	// RecoveryInterval is the cadence of remediation passes.
	RecoveryInterval time.Duration

	Bulkhead BulkheadConfig
	Timeout  TimeoutConfig
	Recovery RecoveryConfig
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1024
	}
	if c.HealingInterval <= 0 {
		c.HealingInterval = 15 * time.Second
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 30 * time.Second
	}
	return c
}

// Orchestrator is the full delivery pipeline over a set of tiers.
// Submit is the only entry point for messages; Start launches the
// workers and background loops, Close drains them.
type Orchestrator struct {
	cfg      Config
	core     *orchestrator.Core
	selector *selection.Selector
	log      *slog.Logger

	transports map[domain.TierID]transport.Transport
	avail      AvailabilityFunc

	queue    *PriorityQueue
	bulkhead *Bulkhead
	timeouts *AdaptiveTimeouts
	tracker  *IssueTracker
	healer   *SelfHealer
	recovery *RecoveryManager

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// OrchestratorOption customizes construction.
type OrchestratorOption func(*Orchestrator)

// WithAvailability wires a recipient presence source into selection.
func WithAvailability(fn AvailabilityFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.avail = fn }
}

// WithAlert forwards recovery alerts beyond the log.
func WithAlert(fn AlertFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.recovery = NewRecoveryManager(o.cfg.Recovery, o.tracker, o.core, fn, o.log)
	}
}

// New builds the pipeline over core and the given transports. Tiers are
// taken from the transports map; each must already be registered on
// core by the caller.
func New(cfg Config, core *orchestrator.Core, selector *selection.Selector, transports map[domain.TierID]transport.Transport, log *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	tiers := make([]domain.TierID, 0, len(transports))
	for id := range transports {
		tiers = append(tiers, id)
	}

	tracker := NewIssueTracker()
	o := &Orchestrator{
		cfg:        cfg,
		core:       core,
		selector:   selector,
		log:        log,
		transports: transports,
		queue:      NewPriorityQueue(cfg.QueueDepth),
		bulkhead:   NewBulkhead(cfg.Bulkhead, tiers),
		timeouts:   NewAdaptiveTimeouts(cfg.Timeout, tiers),
		tracker:    tracker,
	}
	o.healer = NewSelfHealer(tracker, core, log)
	o.recovery = NewRecoveryManager(cfg.Recovery, tracker, core, nil, log)

	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Collector returns a read-only view over the pipeline's managers.
func (o *Orchestrator) Collector() *Collector {
	return NewCollector(o.queue, o.bulkhead, o.timeouts, o.tracker, o.recovery)
}

// Core exposes the underlying tier state for health reporting.
func (o *Orchestrator) Core() *orchestrator.Core { return o.core }

// Start launches the worker pool and the healing and recovery loops.
// Calling Start twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	ctx, o.cancel = context.WithCancel(ctx)

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}

	o.wg.Add(1)
	go o.maintenanceLoop(ctx)

	o.log.Info("resilience pipeline started",
		"workers", o.cfg.Workers,
		"queue_depth", o.cfg.QueueDepth,
		"tiers", len(o.transports))
}

// Close stops the workers and background loops, fails anything still
// queued back to its submitter, then closes every transport.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()

	// Workers are gone: nothing will pop these, and every done channel
	// is buffered, so the sends cannot block.
	for _, it := range o.queue.Drain() {
		it.done <- submitResult{err: ErrClosed}
	}

	var errs []error
	for id, tr := range o.transports {
		if err := tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Submit queues a message for delivery and blocks until it is
// delivered, fails on every tier, is shed, or ctx is done. Cancellation
// after admission removes the entry and releases its queue slot.
func (o *Orchestrator) Submit(ctx context.Context, msg domain.Message) (domain.DeliveryOutcome, error) {
	prio := queuePriorityFor(msg.Priority)

	it := &queueItem{
		msg:      msg,
		priority: prio,
		ctx:      ctx,
		done:     make(chan submitResult, 1),
	}

	if err := o.queue.Push(it); err != nil {
		metrics.SubmitsTotal.WithLabelValues(msg.Priority.String(), "shed").Inc()
		return domain.DeliveryOutcome{}, err
	}

	select {
	case <-ctx.Done():
		o.queue.Remove(it)
		metrics.SubmitsTotal.WithLabelValues(msg.Priority.String(), "cancelled").Inc()
		return domain.DeliveryOutcome{}, ctx.Err()
	case res := <-it.done:
		result := "delivered"
		if res.err != nil {
			result = "failed"
			if errors.Is(res.err, ErrQueueShed) {
				result = "shed"
			}
		}
		metrics.SubmitsTotal.WithLabelValues(msg.Priority.String(), result).Inc()
		return res.outcome, res.err
	}
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		it, err := o.queue.Pop(ctx)
		if err != nil {
			return
		}
		outcome, derr := o.deliver(it.ctx, it.msg)
		it.done <- submitResult{outcome: outcome, err: derr}
	}
}

func (o *Orchestrator) maintenanceLoop(ctx context.Context) {
	defer o.wg.Done()

	heal := time.NewTicker(o.cfg.HealingInterval)
	defer heal.Stop()
	remedy := time.NewTicker(o.cfg.RecoveryInterval)
	defer remedy.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heal.C:
			o.healer.Scan()
		case <-remedy.C:
			o.recovery.Run()
		}
	}
}

// deliver runs the failover loop: select a tier, attempt the send, and
// on failure re-select among the tiers not yet tried, recording a
// failover event for each hop.
func (o *Orchestrator) deliver(ctx context.Context, msg domain.Message) (domain.DeliveryOutcome, error) {
	maxAttempts := o.cfg.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > len(o.transports) {
		maxAttempts = len(o.transports)
	}

	attempted := make(map[domain.TierID]bool, maxAttempts)
	var (
		prev    domain.TierID
		lastErr error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.DeliveryOutcome{}, err
		}

		sel, err := o.selectTier(msg, attempted)
		if err != nil {
			if lastErr != nil {
				return domain.DeliveryOutcome{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
			}
			return domain.DeliveryOutcome{}, err
		}

		if prev != "" {
			o.core.RecordFailover(orchestrator.FailoverEvent{
				From:     prev,
				To:       sel.Tier,
				Reason:   failoverReason(lastErr),
				Priority: msg.Priority,
			})
		}

		latency, err := o.attempt(ctx, sel.Tier, msg)
		if err == nil {
			return domain.DeliveryOutcome{
				Tier:       sel.Tier,
				Latency:    latency,
				Attempts:   attempt,
				FailedOver: attempt > 1,
			}, nil
		}

		if ctx.Err() != nil {
			return domain.DeliveryOutcome{}, ctx.Err()
		}

		attempted[sel.Tier] = true
		prev = sel.Tier
		lastErr = err
		o.log.Warn("tier attempt failed, failing over",
			"message", msg.ID,
			"tier", sel.Tier,
			"attempt", attempt,
			"error", err)
	}

	return domain.DeliveryOutcome{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
}

func (o *Orchestrator) selectTier(msg domain.Message, attempted map[domain.TierID]bool) (selection.Selection, error) {
	candidates := make([]domain.TierID, 0, len(o.transports))
	for id := range o.transports {
		if !attempted[id] {
			candidates = append(candidates, id)
		}
	}

	availability := domain.AvailabilityUnknown
	if o.avail != nil {
		availability = o.avail(msg.Recipient)
	}

	return o.selector.Select(candidates, selection.Context{
		Priority:  msg.Priority,
		Recipient: availability,
		Load: selection.SystemLoad{
			InFlight:   o.bulkhead.InFlight(),
			Capacity:   o.bulkhead.Capacity(),
			QueueDepth: o.queue.Len(),
		},
	})
}

// attempt performs one guarded send through a tier: bulkhead slot,
// half-open trial slot where required, adaptive timeout, and outcome
// recording. Every acquired slot is released on all paths.
func (o *Orchestrator) attempt(ctx context.Context, id domain.TierID, msg domain.Message) (time.Duration, error) {
	tr, ok := o.transports[id]
	if !ok {
		return 0, ErrUnknownTier
	}

	release, err := o.bulkhead.Acquire(id)
	if err != nil {
		return 0, fmt.Errorf("tier %s: %w", id, err)
	}
	defer release()

	// Half-open tiers admit only a bounded number of trial sends; the
	// selector filtered on availability but the slot can be lost between
	// selection and here.
	if snap, ok := o.core.Snapshot(id); ok && snap.Circuit == orchestrator.CircuitHalfOpen {
		if !o.core.AcquireTrial(id) {
			return 0, fmt.Errorf("tier %s: no trial slot", id)
		}
		defer o.core.ReleaseTrial(id)
	}

	out := tr.AttemptSend(ctx, msg, o.timeouts.TimeoutFor(id))
	o.timeouts.Observe(id, out.Latency)
	o.core.RecordOutcome(id, orchestrator.Outcome{
		Success: out.Success,
		Latency: out.Latency,
		Err:     out.Err,
	})

	if out.Success {
		metrics.SendsTotal.WithLabelValues(string(id), "ok").Inc()
		metrics.SendLatency.WithLabelValues(string(id)).Observe(out.Latency.Seconds())
		return out.Latency, nil
	}

	metrics.SendsTotal.WithLabelValues(string(id), "error").Inc()
	cls := classify.Classify(out.Err)
	o.tracker.Report(id, cls)
	return out.Latency, &TransportFailure{Tier: id, Class: cls, Err: out.Err}
}

func failoverReason(err error) string {
	var tf *TransportFailure
	if errors.As(err, &tf) {
		return tf.Class.Type.String()
	}
	if err != nil {
		return err.Error()
	}
	return "unknown"
}
