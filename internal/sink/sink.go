// Package sink implements the decision sink: the last step of the
// pipeline, which persists a scored decision and publishes it to the
// admin live feed. Both operations are retried with jittered exponential
// backoff; a persist that still fails is logged and returned to the
// caller as an error, a publish that still fails is only logged, per
// spec.md §4.7/§7.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/fraudpipeline/internal/bus"
	"github.com/mbd888/fraudpipeline/internal/decision"
	"github.com/mbd888/fraudpipeline/internal/metrics"
	"github.com/mbd888/fraudpipeline/internal/retry"
	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// Config carries the sink's retry tunables.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Sink persists a decision and publishes it to the live feed, retrying
// each side in its own loop, so a failing publish never repeats the
// persist and a failing persist never repeats the publish.
type Sink struct {
	store  decision.Store
	bus    bus.Bus
	logger *slog.Logger
	cfg    Config
}

// New wires a Sink from its decision store, bus and retry config.
func New(store decision.Store, b bus.Bus, logger *slog.Logger, cfg Config) *Sink {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	return &Sink{store: store, bus: b, logger: logger, cfg: cfg}
}

// Emit persists d and publishes it, retrying each independently. A
// persist that fails after its retries is logged as unacknowledged and
// returned as an error, so the stream processor can redeliver the
// message; a publish that fails after its retries is logged and does not
// fail the call, per spec.md §4.7's at-least-once delivery stance.
func (s *Sink) Emit(ctx context.Context, d transaction.Decision) error {
	persistErr := retry.Do(ctx, s.cfg.MaxAttempts, s.cfg.BaseDelay, func() error {
		return s.store.Save(ctx, d)
	})
	if persistErr != nil {
		metrics.SinkPublishRetriesTotal.Add(float64(s.cfg.MaxAttempts))
		s.logger.Error("decision unacknowledged: persist failed after retries",
			"transaction_id", d.TransactionID, "error", persistErr)
	}

	publishErr := retry.Do(ctx, s.cfg.MaxAttempts, s.cfg.BaseDelay, func() error {
		return bus.PublishDecision(ctx, s.bus, d)
	})
	if publishErr != nil {
		metrics.SinkPublishRetriesTotal.Add(float64(s.cfg.MaxAttempts))
		s.logger.Error("decision unacknowledged: publish failed after retries",
			"transaction_id", d.TransactionID, "error", publishErr)
	}

	// A publish failure only costs the admin live feed one update; a
	// persist failure means the decision was never durably recorded, so
	// only the latter is surfaced as an error to the caller.
	if persistErr != nil {
		return fmt.Errorf("sink: persist failed for %s after retries: %w", d.TransactionID, persistErr)
	}
	return nil
}
