// Package control wires configuration into a running courier instance:
// storage, transports, the delivery pipeline and the health server.
package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // migration connection
	"github.com/pressly/goose/v3"

	"github.com/vietddude/courier/internal/core/config"
	"github.com/vietddude/courier/internal/core/domain"
	redisclient "github.com/vietddude/courier/internal/infra/redis"
	"github.com/vietddude/courier/internal/infra/storage"
	"github.com/vietddude/courier/internal/infra/storage/memory"
	"github.com/vietddude/courier/internal/infra/storage/postgres"
	"github.com/vietddude/courier/internal/tiering/health"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
	"github.com/vietddude/courier/internal/tiering/resilience"
	"github.com/vietddude/courier/internal/tiering/selection"
	"github.com/vietddude/courier/internal/transport"
	"github.com/vietddude/courier/internal/transport/spool"
	"github.com/vietddude/courier/internal/transport/stream"
	"github.com/vietddude/courier/internal/transport/webhook"
)

// Courier is the composed application.
type Courier struct {
	cfg *config.AppConfig
	log *slog.Logger

	core         *orchestrator.Core
	pipeline     *resilience.Orchestrator
	healthServer *health.Server

	db           *postgres.DB
	redisClient  *redisclient.Client
	eventRepo    storage.EventRepository
	deliveryRepo storage.DeliveryRepository
}

// NewCourier creates a Courier instance with all dependencies initialized.
func NewCourier(ctx context.Context, cfg *config.AppConfig) (*Courier, error) {
	log := slog.Default()
	c := &Courier{cfg: cfg, log: log}

	// 1. Storage
	if cfg.Database.URL != "" {
		if err := runMigrations(cfg.Database.URL); err != nil {
			return nil, err
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		c.db = db
		c.eventRepo = postgres.NewEventRepo(db)
		c.deliveryRepo = postgres.NewDeliveryRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		c.eventRepo = memory.NewEventRepo(0)
		c.deliveryRepo = memory.NewDeliveryRepo(0)
		log.Info("Using memory storage")
	}

	// 2. Redis: fast event sink plus recipient presence hints.
	var sinks []orchestrator.EventSink
	var availability resilience.AvailabilityFunc
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, presence and fast events disabled", "error", err)
		} else {
			c.redisClient = rc
			sinks = append(sinks, redisclient.NewEventRepo(rc))
			availability = rc.AvailabilityFunc(0)
		}
	}
	sinks = append(sinks, c.eventRepo)

	// 3. Tier state core
	c.core = orchestrator.New(cfg.Circuit.Core(),
		orchestrator.WithLogger(log),
		orchestrator.WithEventSink(fanoutSink(sinks)),
	)

	// 4. Transports
	transports := make(map[domain.TierID]transport.Transport, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		tr, err := buildTransport(ctx, tc)
		if err != nil {
			closeTransports(transports)
			return nil, fmt.Errorf("tier %s: %w", tc.ID, err)
		}
		transports[tc.ID] = tr
		c.core.RegisterTier(tc.ID, tc.Type)
		log.Info("Tier registered", "tier", tc.ID, "type", tc.Type)
	}

	// 5. Selection and pipeline
	selector := selection.New(
		c.core,
		selection.ParseStrategy(cfg.Selection.Strategy),
		selection.WithWeights(cfg.Selection.Weights),
	)

	opts := []resilience.OrchestratorOption{}
	if availability != nil {
		opts = append(opts, resilience.WithAvailability(availability))
	}
	c.pipeline = resilience.New(
		cfg.Resilience.Pipeline(cfg.Tiers),
		c.core,
		selector,
		transports,
		log,
		opts...,
	)

	// 6. Health and API surface
	monitor := health.NewMonitor(c.core, c.pipeline.Collector())
	c.healthServer = health.NewServer(monitor, c.core, cfg.Server.Port,
		health.WithHandler("/v1/messages", c.submitHandler()),
	)

	return c, nil
}

func buildTransport(ctx context.Context, tc config.TierConfig) (transport.Transport, error) {
	switch tc.Type {
	case domain.TierTypeWebhook:
		return webhook.New(webhook.Config{
			Endpoint:  tc.Endpoint,
			AuthToken: tc.AuthToken,
		}), nil
	case domain.TierTypeStream:
		return stream.New(ctx, stream.Config{Endpoint: tc.Endpoint})
	case domain.TierTypeSpool:
		return spool.New(spool.Config{Dir: tc.Dir})
	default:
		return nil, fmt.Errorf("unknown tier type %q", tc.Type)
	}
}

func closeTransports(transports map[domain.TierID]transport.Transport) {
	for _, tr := range transports {
		_ = tr.Close()
	}
}

// runMigrations applies pending schema migrations over a short-lived
// connection, separate from the runtime pool.
func runMigrations(url string) error {
	mdb, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer mdb.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(mdb, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}

// Start starts the health server and the delivery pipeline.
func (c *Courier) Start(ctx context.Context) error {
	go func() {
		if err := c.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("Health server failed", "error", err)
		}
	}()

	c.pipeline.Start(ctx)
	c.log.Info("Courier started", "tiers", len(c.cfg.Tiers), "port", c.cfg.Server.Port)
	return nil
}

// Deliver submits one message through the pipeline and records the
// outcome for audit. Record failures are logged, never surfaced.
func (c *Courier) Deliver(ctx context.Context, msg domain.Message) (domain.DeliveryOutcome, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	out, err := c.pipeline.Submit(ctx, msg)

	rec := storage.DeliveryRecord{
		MessageID:  msg.ID,
		Recipient:  msg.Recipient,
		Tier:       out.Tier,
		Priority:   msg.Priority,
		Attempts:   out.Attempts,
		FailedOver: out.FailedOver,
		LatencyMS:  out.Latency.Milliseconds(),
		Delivered:  err == nil,
		CreatedAt:  time.Now().UTC(),
	}
	recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if rerr := c.deliveryRepo.Record(recCtx, rec); rerr != nil {
		c.log.Warn("Failed to record delivery", "message", msg.ID, "error", rerr)
	}

	return out, err
}

// Events exposes the durable failover event repository.
func (c *Courier) Events() storage.EventRepository { return c.eventRepo }

// Deliveries exposes the delivery audit repository.
func (c *Courier) Deliveries() storage.DeliveryRepository { return c.deliveryRepo }

// Stop shuts everything down: pipeline first so in-flight sends drain,
// then the external connections and the health server.
func (c *Courier) Stop(ctx context.Context) error {
	c.log.Info("Stopping Courier...")

	if err := c.pipeline.Close(); err != nil {
		c.log.Warn("Pipeline close reported errors", "error", err)
	}
	// Flush buffered failover events before the sinks' backends go away.
	c.core.Close()

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Warn("Failed to close database", "error", err)
		}
	}

	return c.healthServer.Stop(ctx)
}

// fanoutSink forwards each failover event to every configured sink.
type fanoutSink []orchestrator.EventSink

func (s fanoutSink) AppendFailover(ctx context.Context, ev orchestrator.FailoverEvent) error {
	var firstErr error
	for _, sink := range s {
		if err := sink.AppendFailover(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
