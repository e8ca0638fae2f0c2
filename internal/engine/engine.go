// Package engine contains the alert-evaluation half of the pipeline: the
// rule cache, the per-rule-type evaluators, and the batch loop that turns
// queued ticks into fired alerts.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantstream/tickalert/internal/domain"
	"github.com/quantstream/tickalert/internal/notify"
	"github.com/quantstream/tickalert/internal/queue"
)

// Evaluation is one queued unit of work: a persisted tick waiting to be
// checked against its instrument's rules.
type Evaluation struct {
	InstrumentID string
	Tick         domain.Tick
}

// Broadcaster delivers fired alerts to connected subscribers. The WebSocket
// hub implements it.
type Broadcaster interface {
	BroadcastAlert(rec domain.AlertRecord)
}

// Config bounds the engine's queue and batch loop.
type Config struct {
	QueueCapacity int
	BatchMaxSize  int
	BatchMaxWait  time.Duration
}

// Engine owns the bounded evaluation queue and the batch loop draining it.
// For each queued tick it consults the rule cache, applies cooldown
// suppression, runs the matching evaluator, and persists + broadcasts every
// fire.
type Engine struct {
	cfg         Config
	queue       *queue.Queue[Evaluation]
	cache       *RuleCache
	history     domain.PriceHistory
	alerts      domain.AlertStore
	notifier    *notify.Notifier
	broadcaster Broadcaster
	stats       *domain.PipelineStats
	logger      *slog.Logger

	// lastFired overlays the cache's LastTriggeredAt with fires from this
	// process, since the cache snapshot only catches up on refresh. Touched
	// only by the engine loop.
	lastFired map[string]time.Time

	now func() time.Time
}

// New creates an Engine. The broadcaster may be nil when no subscriber
// surface is running.
func New(
	cfg Config,
	cache *RuleCache,
	history domain.PriceHistory,
	alerts domain.AlertStore,
	notifier *notify.Notifier,
	broadcaster Broadcaster,
	stats *domain.PipelineStats,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg,
		queue:       queue.New[Evaluation](cfg.QueueCapacity),
		cache:       cache,
		history:     history,
		alerts:      alerts,
		notifier:    notifier,
		broadcaster: broadcaster,
		stats:       stats,
		logger:      logger.With(slog.String("component", "alert_engine")),
		lastFired:   make(map[string]time.Time),
		now:         time.Now,
	}
}

// Enqueue offers one persisted tick for evaluation. It never blocks: when
// the evaluation queue is full the tick is dropped and counted.
func (e *Engine) Enqueue(instrumentID string, tick domain.Tick) {
	if e.queue.TryEnqueue(Evaluation{InstrumentID: instrumentID, Tick: tick}) {
		e.stats.EvalEnqueued()
		return
	}
	e.stats.EvalDropped()
	e.logger.Warn("evaluation queue full, tick dropped",
		slog.String("instrument_id", instrumentID),
		slog.String("symbol", tick.Symbol),
	)
}

// QueueLen reports the current evaluation backlog.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run drains the evaluation queue in size/time-bounded batches until ctx is
// cancelled, then flushes whatever remains queued through one final batch
// before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("alert engine started",
		slog.Int("queue_capacity", e.queue.Cap()),
		slog.Int("batch_max_size", e.cfg.BatchMaxSize),
		slog.Duration("batch_max_wait", e.cfg.BatchMaxWait),
	)
	defer e.logger.Info("alert engine stopped")

	for {
		batch := e.queue.CollectBatch(ctx, e.cfg.BatchMaxSize, e.cfg.BatchMaxWait)
		if ctx.Err() != nil {
			// Flush: finish the interrupted batch plus anything still queued.
			flushCtx := context.WithoutCancel(ctx)
			e.processBatch(flushCtx, batch)
			e.processBatch(flushCtx, e.queue.Drain())
			return ctx.Err()
		}
		e.processBatch(ctx, batch)
	}
}

func (e *Engine) processBatch(ctx context.Context, batch []Evaluation) {
	for _, ev := range batch {
		e.evaluateTick(ctx, ev)
	}
}

// evaluateTick checks one tick against all of its instrument's cached rules.
// A failure in one rule never prevents evaluation of the remaining rules.
func (e *Engine) evaluateTick(ctx context.Context, ev Evaluation) {
	rules := e.cache.RulesFor(ev.InstrumentID)
	if len(rules) == 0 {
		return
	}

	now := e.now()
	lookup := func(at time.Time) (float64, error) {
		return e.history.PriceAt(ctx, ev.InstrumentID, at)
	}

	for _, rule := range rules {
		if e.inCooldown(rule, now) {
			e.stats.AlertSuppressed()
			continue
		}

		ectx, triggered, err := Evaluate(rule, ev.Tick, now, lookup)
		if err != nil {
			e.stats.RuleError()
			e.logger.Error("rule evaluation failed",
				slog.String("rule_id", rule.ID),
				slog.String("instrument_id", ev.InstrumentID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !triggered {
			continue
		}
		e.fire(ctx, ectx)
	}
}

// inCooldown merges the cached rule state with fires recorded by this
// process since the last cache refresh.
func (e *Engine) inCooldown(rule domain.AlertRule, now time.Time) bool {
	if local, ok := e.lastFired[rule.ID]; ok {
		if rule.LastTriggeredAt == nil || local.After(*rule.LastTriggeredAt) {
			rule.LastTriggeredAt = &local
		}
	}
	return rule.InCooldown(now)
}

// fire persists one AlertRecord (together with the rule's last-triggered
// stamp), broadcasts it, and hands it to the notification collaborator. A
// delivery failure downgrades deliveryStatus but never rolls back the fire.
func (e *Engine) fire(ctx context.Context, ectx domain.EvaluationContext) {
	rec := domain.AlertRecord{
		ID:               uuid.New().String(),
		Timestamp:        ectx.EvaluatedAt,
		RuleID:           ectx.Rule.ID,
		InstrumentID:     ectx.Rule.InstrumentID,
		Symbol:           ectx.Tick.Symbol,
		RuleName:         ectx.Rule.Name,
		Condition:        ectx.Rule.Condition,
		TriggerValue:     ectx.TriggerValue,
		ThresholdValue:   ectx.Rule.Threshold,
		FiredStatus:      domain.FiredStatusFired,
		DeliveryStatus:   domain.DeliveryPending,
		EvaluationTimeMs: ectx.EvaluationTimeMs,
	}
	rec.Message = notify.Describe(rec)

	if err := e.alerts.SaveFired(ctx, rec); err != nil {
		e.stats.RuleError()
		e.logger.Error("failed to persist alert",
			slog.String("rule_id", rec.RuleID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.lastFired[rec.RuleID] = rec.Timestamp
	e.stats.AlertFired()
	e.stats.RecordEvalTime(ectx.EvaluationTimeMs)

	e.logger.Info("alert fired",
		slog.String("alert_id", rec.ID),
		slog.String("rule_id", rec.RuleID),
		slog.String("symbol", rec.Symbol),
		slog.Float64("trigger_value", rec.TriggerValue),
		slog.Float64("threshold", rec.ThresholdValue),
	)

	if e.broadcaster != nil {
		e.broadcaster.BroadcastAlert(rec)
	}

	if e.notifier != nil {
		status := notify.Status(e.notifier.Notify(ctx, rec))
		if status != rec.DeliveryStatus {
			if err := e.alerts.UpdateDeliveryStatus(ctx, rec.ID, status); err != nil {
				e.logger.Error("failed to update delivery status",
					slog.String("alert_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
