// Package stream implements the pipeline's main loop: consume raw
// transactions from the inbound bus topic, read per-user state signals,
// evaluate rules, consult the model, combine the score, classify, persist
// and publish the decision, and update per-user state — spec.md §4.6's
// ten steps, wired here as a single-goroutine consumer per processor
// instance, with an optional per-user sharded mutex fallback for sources
// that cannot guarantee partitioned delivery (spec.md §5).
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mbd888/fraudpipeline/internal/bus"
	"github.com/mbd888/fraudpipeline/internal/decision"
	"github.com/mbd888/fraudpipeline/internal/features"
	"github.com/mbd888/fraudpipeline/internal/idgen"
	"github.com/mbd888/fraudpipeline/internal/metrics"
	"github.com/mbd888/fraudpipeline/internal/rules"
	"github.com/mbd888/fraudpipeline/internal/statestore"
	"github.com/mbd888/fraudpipeline/internal/syncutil"
	"github.com/mbd888/fraudpipeline/internal/traces"
	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// Model is the subset of modelclient.Client the processor depends on,
// narrowed so tests can substitute a fake without an HTTP server.
type Model interface {
	Predict(ctx context.Context, features []float64) (probability float64, ok bool, err error)
}

// Sink is the subset of the sink package the processor depends on to
// hand off a finished decision for publish + persist.
type Sink interface {
	Emit(ctx context.Context, d transaction.Decision) error
}

// Config carries the processor's tunables. RuleWeight/ModelWeight/
// thresholds feed decision.Combine and decision.Classify directly.
type Config struct {
	RulesConfig     rules.Config
	CombinerConfig  decision.CombinerConfig
	OrderingFallback bool

	// MaxRedeliveries bounds how many times a message that failed at the
	// sink (publish+persist, spec.md §4.6 steps 8/9) is requeued onto
	// Inbound before it is dead-lettered instead. Defaults to 3.
	MaxRedeliveries int
}

// Processor consumes bus.Inbound, scores each transaction, and hands the
// result to Sink.
type Processor struct {
	bus      bus.Bus
	store    statestore.Store
	decision decision.Store
	model    Model
	sink     Sink
	logger   *slog.Logger
	cfg      Config

	userLocks syncutil.ContextShardedMutex
}

// New wires a Processor from its dependencies. model may be nil, meaning
// ML scoring is disabled and the combiner runs on rules alone.
func New(b bus.Bus, store statestore.Store, decisionStore decision.Store, model Model, sink Sink, logger *slog.Logger, cfg Config) *Processor {
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = 3
	}
	return &Processor{
		bus:      b,
		store:    store,
		decision: decisionStore,
		model:    model,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
	}
}

// inboundPayload is the wire shape expected on bus.Inbound.
type inboundPayload struct {
	TransactionID string  `json:"transactionId"`
	UserID        string  `json:"userId"`
	Amount        *string `json:"amount"`
	Currency      string  `json:"currency"`
	MerchantID    string  `json:"merchantId"`
	OccurredAt    *string `json:"occurredAt"`
	Device        *transaction.Device   `json:"device"`
	Location      *transaction.Location `json:"location"`
}

// Run consumes bus.Inbound until ctx is cancelled. Schema-invalid
// messages are dead-lettered rather than dropped silently.
func (p *Processor) Run(ctx context.Context) {
	msgs, cancel := p.bus.Subscribe(bus.Inbound)
	defer cancel()

	p.logger.Info("stream processor started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stream processor stopping")
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			metrics.InboundQueueDepth.Set(float64(len(msgs)))
			p.handle(ctx, msg)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg bus.Message) {
	start := time.Now()
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = idgen.Hex(8)
	}

	tx, err := parseTransaction(msg.Payload)
	if err != nil {
		p.deadLetter(ctx, "schema_invalid", msg.Payload, err)
		return
	}

	unlock, err := p.lockUser(ctx, tx.UserID)
	if err != nil {
		p.logger.Warn("dropping message: context cancelled while waiting for user lock", "user_id", tx.UserID, "error", err)
		return
	}
	defer unlock()

	ctx, span := traces.StartSpan(ctx, "stream.evaluate",
		traces.TransactionID(tx.TransactionID), traces.UserID(tx.UserID), traces.CorrelationID(correlationID))
	defer span.End()

	// spec.md §4.6 step 1: idempotency check against the decision store.
	already, err := p.decision.Exists(ctx, tx.TransactionID)
	if err != nil {
		p.logger.Error("decision existence check failed", "transaction_id", tx.TransactionID, "error", err)
	}
	if already {
		return
	}

	now := tx.OccurredAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	signals := p.readSignals(ctx, tx, now)
	result := rules.Evaluate(tx, now, signals, p.cfg.RulesConfig)

	probability, probabilityValid := p.consultModel(ctx, tx, signals, result)

	score, reasons := decision.Combine(result, probability, probabilityValid, p.cfg.CombinerConfig)
	category := decision.Classify(score, p.cfg.CombinerConfig)

	d := transaction.Decision{
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Decision:      category,
		Score:         score,
		Reasons:       reasons,
		LatencyMs:     time.Since(start).Milliseconds(),
		EvaluatedAt:   time.Now().UTC(),
	}

	span.SetAttributes(traces.DecisionCategory(string(category)), traces.ScoreValue(score))

	// spec.md §4.6 steps 8/9/10: a sink failure (persist, after its own
	// bounded retries) must leave this message unacknowledged so
	// redelivery re-runs it through the idempotency gate, rather than
	// silently losing the decision. The in-process bus has no offset to
	// withhold an ack on, so the equivalent here is requeuing the raw
	// message onto Inbound; state is deliberately left unwritten so the
	// redelivered attempt reads the same signals this one did.
	if err := p.sink.Emit(ctx, d); err != nil {
		p.logger.Error("sink emit failed, message will be redelivered", "transaction_id", tx.TransactionID, "error", err)
		p.redeliver(ctx, msg, tx.TransactionID, err)
		return
	}

	p.writeState(ctx, tx, now)

	metrics.TransactionsTotal.WithLabelValues(string(category)).Inc()
	for _, r := range result.Reasons {
		metrics.RuleFiredTotal.WithLabelValues(r).Inc()
	}
	metrics.ScoreEvaluationDuration.Observe(time.Since(start).Seconds())
}

// lockUser returns an unlock func. When OrderingFallback is enabled it
// takes a per-user sharded mutex so a source that cannot guarantee
// per-user partitioning still gets serialized state reads/writes for
// one user; otherwise it is a no-op, trusting the bus's key-based
// delivery order (spec.md §5). The lock wait respects ctx so a message
// stuck behind a slow peer for the same user does not block shutdown.
func (p *Processor) lockUser(ctx context.Context, userID string) (func(), error) {
	if !p.cfg.OrderingFallback {
		return func() {}, nil
	}
	return p.userLocks.LockContext(ctx, userID)
}

func (p *Processor) readSignals(ctx context.Context, tx transaction.Transaction, now time.Time) rules.Signals {
	var signals rules.Signals

	burstWindow := time.Duration(p.cfg.RulesConfig.BurstWindowSec) * time.Second
	if count, err := p.store.RecentCount(ctx, tx.UserID, now, burstWindow); err == nil {
		signals.BurstCount = count
	}
	if median, err := p.store.MedianAmount(ctx, tx.UserID); err == nil {
		f, _ := median.Float64()
		signals.MedianAmount = f
	}
	// ObserveDevice/ObserveIP both record the sighting and report whether
	// it is the first one for this user, so they run here rather than in
	// writeState: the rule engine needs the first-seen bit as a signal,
	// and the first-seen timestamp itself must never be overwritten by a
	// later call (spec.md §4.4's corrected first-seen invariant).
	if tx.Device != nil && tx.Device.ID != "" {
		if first, err := p.store.ObserveDevice(ctx, tx.UserID, tx.Device.ID, now); err == nil {
			signals.DeviceFirstSeen = first
		}
		if within, err := p.store.DeviceFirstSeenWithin(ctx, tx.UserID, tx.Device.ID, now,
			time.Duration(p.cfg.RulesConfig.DeviceNewWithinDays)*24*time.Hour); err == nil {
			signals.DeviceWithinWindow = within
		}
	}
	if tx.Device != nil && tx.Device.IP != "" {
		if first, err := p.store.ObserveIP(ctx, tx.UserID, tx.Device.IP, now); err == nil {
			signals.IPFirstSeen = first
		}
		if within, err := p.store.IPFirstSeenWithin(ctx, tx.UserID, tx.Device.IP, now,
			time.Duration(p.cfg.RulesConfig.IPNewWithinDays)*24*time.Hour); err == nil {
			signals.IPWithinWindow = within
		}
	}
	if loc, err := p.store.GetLastLocation(ctx, tx.UserID); err == nil {
		signals.LastLocation = loc
	}
	return signals
}

// writeState persists the parts of a transaction not already recorded by
// readSignals's device/IP observation calls: the rolling tx-time window,
// amount history for the spend-spike median, and last known location.
func (p *Processor) writeState(ctx context.Context, tx transaction.Transaction, now time.Time) {
	_ = p.store.RecordTxTime(ctx, tx.UserID, now)
	if tx.HasValidAmount() {
		_ = p.store.RecordAmount(ctx, tx.UserID, tx.Amount, p.cfg.RulesConfig.SpendHistorySize)
	}
	if tx.Location != nil {
		_ = p.store.SetLastLocation(ctx, tx.UserID, tx.Location.Lat, tx.Location.Lon, now)
	}
}

// consultModel calls the model client with no deadline of its own: the
// client's http.Client.Timeout, derived from ml.timeout_ms (spec.md
// §6.5), is the single source of truth for the call's bound. Wrapping
// ctx in a second, hardcoded deadline here would silently floor the
// operator-configured timeout at whichever fires first.
func (p *Processor) consultModel(ctx context.Context, tx transaction.Transaction, signals rules.Signals, result rules.Result) (float64, bool) {
	if p.model == nil || p.cfg.CombinerConfig.ModelWeight <= 0 {
		return 0, false
	}
	vec := features.Extract(tx, signals, result)

	probability, ok, err := p.model.Predict(ctx, vec.Slice())
	if err != nil {
		p.logger.Warn("model predict failed, scoring on rules alone", "transaction_id", tx.TransactionID, "error", err)
	}
	return probability, ok
}

// redeliver requeues msg onto Inbound with its delivery attempt counter
// incremented, standing in for the broker redelivery spec.md §4.6 step 10
// relies on since the in-process bus has no offset/ack to withhold. Once
// MaxRedeliveries is exhausted the message is dead-lettered instead of
// being requeued forever.
func (p *Processor) redeliver(ctx context.Context, msg bus.Message, transactionID string, cause error) {
	if msg.DeliveryAttempt >= p.cfg.MaxRedeliveries {
		metrics.SinkRedeliveriesTotal.WithLabelValues("exhausted").Inc()
		p.logger.Error("sink redeliveries exhausted, dead-lettering",
			"transaction_id", transactionID, "attempts", msg.DeliveryAttempt)
		p.deadLetter(ctx, "sink_exhausted", msg.Payload, cause)
		return
	}

	metrics.SinkRedeliveriesTotal.WithLabelValues("requeued").Inc()
	requeued := msg
	requeued.Topic = bus.Inbound
	requeued.DeliveryAttempt++
	requeued.PublishedAt = time.Now()
	if err := p.bus.Publish(ctx, requeued); err != nil {
		p.logger.Error("failed to requeue message for redelivery", "transaction_id", transactionID, "error", err)
	}
}

func (p *Processor) deadLetter(ctx context.Context, reason string, payload []byte, cause error) {
	metrics.DeadLettersTotal.WithLabelValues(reason).Inc()
	record := bus.DeadLetterRecord{Reason: reason, RawPayload: payload, At: time.Now().UTC()}
	if cause != nil {
		record.Err = cause.Error()
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("failed to encode dead letter record", "error", err)
		return
	}
	if err := p.bus.Publish(ctx, bus.Message{Topic: bus.DeadLetter, Payload: encoded, PublishedAt: time.Now()}); err != nil {
		p.logger.Error("failed to publish dead letter", "error", err)
	}
}
