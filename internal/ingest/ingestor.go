// Package ingest owns the front half of the pipeline: raw payloads are
// normalized, resolved to an instrument, and buffered in a bounded queue that
// a batch writer drains into Postgres.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
	"github.com/quantstream/tickalert/internal/feed"
	"github.com/quantstream/tickalert/internal/queue"
)

// instrumentLookupTimeout bounds the on-demand resolution of a symbol the
// warm cache has never seen.
const instrumentLookupTimeout = 2 * time.Second

// negativeCacheTTL is how long an unknown symbol stays rejected before the
// ingestor asks the store about it again.
const negativeCacheTTL = 30 * time.Second

// Evaluator receives every persisted tick for rule evaluation. The alert
// engine implements it.
type Evaluator interface {
	Enqueue(instrumentID string, tick domain.Tick)
}

// Broadcaster delivers persisted ticks to connected subscribers. The
// WebSocket hub implements it.
type Broadcaster interface {
	BroadcastTick(tick domain.Tick)
}

// Config bounds the ingestion queue and the batch writer.
type Config struct {
	QueueCapacity int
	BatchMaxSize  int
	BatchMaxWait  time.Duration
}

type instrumentEntry struct {
	inst      domain.Instrument
	known     bool
	checkedAt time.Time
}

// Ingestor normalizes raw feed payloads, maps them onto instruments, and
// moves them through a bounded queue into batched persistence. Offer never
// blocks the feed: when the queue is full the tick is dropped and counted.
type Ingestor struct {
	cfg         Config
	queue       *queue.Queue[domain.Tick]
	ticks       domain.TickStore
	instruments domain.InstrumentStore
	history     domain.PriceHistory
	evaluator   Evaluator
	broadcaster Broadcaster
	stats       *domain.PipelineStats
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]instrumentEntry // keyed by symbol
}

// New creates an Ingestor. The evaluator and broadcaster may be nil when the
// corresponding stage is not running.
func New(
	cfg Config,
	ticks domain.TickStore,
	instruments domain.InstrumentStore,
	history domain.PriceHistory,
	evaluator Evaluator,
	broadcaster Broadcaster,
	stats *domain.PipelineStats,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		cfg:         cfg,
		queue:       queue.New[domain.Tick](cfg.QueueCapacity),
		ticks:       ticks,
		instruments: instruments,
		history:     history,
		evaluator:   evaluator,
		broadcaster: broadcaster,
		stats:       stats,
		logger:      logger.With(slog.String("component", "ingestor")),
		cache:       make(map[string]instrumentEntry),
	}
}

// WarmInstruments preloads the symbol cache so the first ticks do not pay a
// per-symbol store round trip.
func (i *Ingestor) WarmInstruments(ctx context.Context) error {
	insts, err := i.instruments.List(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	i.mu.Lock()
	for _, inst := range insts {
		i.cache[inst.Symbol] = instrumentEntry{inst: inst, known: true, checkedAt: now}
	}
	i.mu.Unlock()
	i.logger.InfoContext(ctx, "instrument cache warmed", slog.Int("instruments", len(insts)))
	return nil
}

// Offer accepts one raw payload for a symbol. Payloads that fail
// normalization or belong to no known instrument are dropped and counted;
// valid ticks are enqueued without ever blocking the caller.
func (i *Ingestor) Offer(symbol string, raw feed.RawTick) {
	tick, ok := feed.Normalize(symbol, raw, time.Now())
	if !ok {
		i.stats.TickRejected()
		return
	}

	inst, ok := i.resolve(symbol)
	if !ok {
		i.stats.TickRejected()
		return
	}
	tick.InstrumentID = inst.ID
	i.stats.TickNormalized()

	if i.queue.TryEnqueue(tick) {
		return
	}
	i.stats.IngestDropped()
	i.logger.Warn("ingestion queue full, tick dropped", slog.String("symbol", symbol))
}

// QueueLen reports the current ingestion backlog.
func (i *Ingestor) QueueLen() int {
	return i.queue.Len()
}

// resolve maps a symbol to its instrument, consulting the store on a cache
// miss. Unknown symbols are cached negatively so a dead feed code does not
// hammer the store on every tick.
func (i *Ingestor) resolve(symbol string) (domain.Instrument, bool) {
	i.mu.RLock()
	entry, ok := i.cache[symbol]
	i.mu.RUnlock()
	if ok && (entry.known || time.Since(entry.checkedAt) < negativeCacheTTL) {
		return entry.inst, entry.known
	}

	ctx, cancel := context.WithTimeout(context.Background(), instrumentLookupTimeout)
	defer cancel()

	inst, err := i.instruments.GetBySymbol(ctx, symbol)
	entry = instrumentEntry{inst: inst, known: err == nil, checkedAt: time.Now()}
	if err != nil {
		if !ok {
			i.logger.Warn("tick for unknown symbol", slog.String("symbol", symbol))
		}
		entry.inst = domain.Instrument{}
	}

	i.mu.Lock()
	i.cache[symbol] = entry
	i.mu.Unlock()
	return entry.inst, entry.known
}

// Run drains the ingestion queue in size/time-bounded batches until ctx is
// cancelled, then flushes whatever remains queued before returning.
func (i *Ingestor) Run(ctx context.Context) error {
	i.logger.Info("ingestor started",
		slog.Int("queue_capacity", i.queue.Cap()),
		slog.Int("batch_max_size", i.cfg.BatchMaxSize),
		slog.Duration("batch_max_wait", i.cfg.BatchMaxWait),
	)
	defer i.logger.Info("ingestor stopped")

	for {
		batch := i.queue.CollectBatch(ctx, i.cfg.BatchMaxSize, i.cfg.BatchMaxWait)
		if ctx.Err() != nil {
			flushCtx := context.WithoutCancel(ctx)
			i.persistBatch(flushCtx, batch)
			i.persistBatch(flushCtx, i.queue.Drain())
			return ctx.Err()
		}
		i.persistBatch(ctx, batch)
	}
}

// persistBatch writes one batch in a single transaction, then fans the ticks
// out to the per-tick collaborators. A failed batch is dropped after logging;
// the loop keeps consuming.
func (i *Ingestor) persistBatch(ctx context.Context, batch []domain.Tick) {
	if len(batch) == 0 {
		return
	}

	if err := i.ticks.SaveTicks(ctx, batch); err != nil {
		i.stats.BatchFailure()
		i.logger.Error("tick batch persist failed",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
		return
	}
	i.stats.TicksPersisted(len(batch))

	for _, tick := range batch {
		i.afterPersist(ctx, tick)
	}
}

// afterPersist runs the per-tick side effects: last-price bookkeeping, the
// lookback history, live fan-out, and evaluation. None of them can fail the
// batch.
func (i *Ingestor) afterPersist(ctx context.Context, tick domain.Tick) {
	if err := i.instruments.UpdateLast(ctx, tick.InstrumentID, tick.Price, tick.Timestamp); err != nil {
		i.logger.Warn("instrument last-price update failed",
			slog.String("instrument_id", tick.InstrumentID),
			slog.String("error", err.Error()),
		)
	}
	if err := i.history.Record(ctx, tick.InstrumentID, tick.Price, tick.Timestamp); err != nil {
		i.logger.Warn("price history record failed",
			slog.String("instrument_id", tick.InstrumentID),
			slog.String("error", err.Error()),
		)
	}
	if i.broadcaster != nil {
		i.broadcaster.BroadcastTick(tick)
	}
	if i.evaluator != nil {
		i.evaluator.Enqueue(tick.InstrumentID, tick)
	}
}
