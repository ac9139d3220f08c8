// Package gateway is the platform's front door: it accepts WebSocket
// clients, validates and deduplicates inbound envelopes, serializes them
// per lane, and publishes them onto the bus behind a circuit breaker.
// Replies are correlated back to the originating session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/internal/observability"
	"github.com/haasonsaas/agentos/pkg/models"
)

// ErrInvalidEnvelope is returned for structurally unusable envelopes.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Config tunes the gateway core.
type Config struct {
	// LaneWatermark bounds queued messages per lane. <= 0 uses 1024.
	LaneWatermark int

	// DedupeTTL is the idempotency window. <= 0 uses 24h. Expired keys
	// are swept in the background at TTL/24.
	DedupeTTL time.Duration

	Breaker infra.CircuitBreakerConfig
}

// Gateway owns the ingestion pipeline between clients and the bus.
type Gateway struct {
	bus       bus.Conn
	dedupe    *infra.IdempotencyCache
	lanes     *infra.LaneQueue
	breaker   *infra.CircuitBreaker
	responses *ResponseRouter
	metrics   *Metrics
	logger    *slog.Logger

	replyInbox string
}

// New creates a gateway core on the given bus connection.
func New(cfg Config, conn bus.Conn, metrics *Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = "bus-publish"
	}
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	g := &Gateway{
		bus: conn,
		dedupe: infra.NewIdempotencyCache(infra.IdempotencyCacheConfig{
			TTL:             ttl,
			CleanupInterval: ttl / 24,
		}),
		lanes:   infra.NewLaneQueue(cfg.LaneWatermark),
		breaker: infra.NewCircuitBreaker(breakerCfg),
		metrics: metrics,
		logger:  logger,
	}
	g.responses = NewResponseRouter(logger)
	return g
}

// Responses exposes the reply correlation table.
func (g *Gateway) Responses() *ResponseRouter { return g.responses }

// AttachReplyInbox names the bus subject agents stream replies to. An
// envelope injected without an explicit replyTo is stamped with it, so
// every task dispatched through this gateway can be answered.
func (g *Gateway) AttachReplyInbox(subject string) { g.replyInbox = subject }

// InjectMessage runs the full ingestion pipeline for one envelope:
// validation, target routing, idempotency, lane serialization, and a
// breaker-protected publish. A duplicate within the dedupe window is
// silently successful so client retries are safe.
func (g *Gateway) InjectMessage(ctx context.Context, env *models.Envelope) error {
	if env == nil || env.Type == "" || env.Source == "" {
		g.count("invalid_envelope")
		return fmt.Errorf("%w: missing type or source", ErrInvalidEnvelope)
	}
	if env.ID == "" {
		env.ID = models.NewID()
	}
	if env.Time.IsZero() {
		env.Time = time.Now().UTC()
	}
	if env.ReplyTo == "" {
		env.ReplyTo = g.replyInbox
	}
	if env.TraceContext == "" {
		env.TraceContext = observability.InjectTraceContext(ctx)
	}

	subject, err := bus.ParseTarget(env.Target)
	if err != nil {
		g.count("invalid_target")
		return err
	}

	if !g.dedupe.SetIfAbsent(env.DedupeKey()) {
		g.count("duplicate")
		g.logger.Debug("duplicate envelope absorbed",
			"envelope_id", env.ID, "idempotency_key", env.DedupeKey())
		return nil
	}

	done := make(chan error, 1)
	task := func(taskCtx context.Context) {
		done <- g.breaker.Execute(taskCtx, func(ctx context.Context) error {
			return g.bus.Publish(ctx, subject, env)
		})
	}
	if err := g.lanes.Enqueue(ctx, laneFor(env), task); err != nil {
		g.count("backpressure")
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			if errors.Is(err, infra.ErrCircuitOpen) {
				g.count("circuit_open")
			} else {
				g.count("publish_error")
			}
			return err
		}
		g.count("ok")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// laneFor derives the FIFO lane from the envelope's routing metadata.
// Messages for the same agent, channel, and user are strictly ordered;
// everything else runs in parallel.
func laneFor(env *models.Envelope) infra.LaneKey {
	agentID := env.Target
	if subject, err := bus.ParseTarget(env.Target); err == nil {
		agentID = subject
	}
	return infra.LaneKey{
		AgentID:   agentID,
		ChannelID: env.Metadata["channel_id"],
		UserID:    env.Metadata["user_id"],
	}
}

// Drain waits for queued lane work, then releases gateway resources.
func (g *Gateway) Drain() {
	g.lanes.Wait()
	g.dedupe.Close()
}

func (g *Gateway) count(result string) {
	if g.metrics != nil {
		g.metrics.InjectResults.WithLabelValues(result).Inc()
	}
}
