package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
	"github.com/quantstream/tickalert/internal/feed"
)

type fakeTickStore struct {
	mu      sync.Mutex
	batches [][]domain.Tick
	saveErr error
}

func (f *fakeTickStore) SaveTicks(ctx context.Context, ticks []domain.Tick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	batch := make([]domain.Tick, len(ticks))
	copy(batch, ticks)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeTickStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Tick, error) {
	return nil, nil
}

func (f *fakeTickStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeInstrumentStore struct {
	mu      sync.Mutex
	bySym   map[string]domain.Instrument
	lookups int
	updates int
}

func (f *fakeInstrumentStore) GetBySymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	inst, ok := f.bySym[symbol]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return inst, nil
}

func (f *fakeInstrumentStore) List(ctx context.Context) ([]domain.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Instrument, 0, len(f.bySym))
	for _, inst := range f.bySym {
		out = append(out, inst)
	}
	return out, nil
}

func (f *fakeInstrumentStore) UpdateLast(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records int
}

func (f *fakeHistory) Record(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records++
	return nil
}

func (f *fakeHistory) PriceAt(ctx context.Context, instrumentID string, at time.Time) (float64, error) {
	return 0, domain.ErrNoHistory
}

func (f *fakeHistory) Latest(ctx context.Context, instrumentID string) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}

type fakeEvaluator struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (f *fakeEvaluator) Enqueue(instrumentID string, tick domain.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, tick)
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (f *fakeBroadcaster) BroadcastTick(tick domain.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, tick)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	ing    *Ingestor
	ticks  *fakeTickStore
	insts  *fakeInstrumentStore
	hist   *fakeHistory
	eval   *fakeEvaluator
	bc     *fakeBroadcaster
	stats  *domain.PipelineStats
	logger *slog.Logger
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	f := &fixture{
		ticks: &fakeTickStore{},
		insts: &fakeInstrumentStore{bySym: map[string]domain.Instrument{
			"ES": {ID: "inst-1", Symbol: "ES"},
		}},
		hist:   &fakeHistory{},
		eval:   &fakeEvaluator{},
		bc:     &fakeBroadcaster{},
		stats:  &domain.PipelineStats{},
		logger: testLogger(),
	}
	f.ing = New(Config{
		QueueCapacity: capacity,
		BatchMaxSize:  8,
		BatchMaxWait:  10 * time.Millisecond,
	}, f.ticks, f.insts, f.hist, f.eval, f.bc, f.stats, f.logger)
	return f
}

func TestOfferEnqueuesNormalizedTick(t *testing.T) {
	f := newFixture(t, 16)

	f.ing.Offer("ES", feed.RawTick{"lastPrice": 4525.75})

	if f.ing.QueueLen() != 1 {
		t.Fatalf("queue length = %d, want 1", f.ing.QueueLen())
	}
	if snap := f.stats.Snapshot(); snap.TicksNormalized != 1 || snap.TicksRejected != 0 {
		t.Fatalf("normalized=%d rejected=%d, want 1/0", snap.TicksNormalized, snap.TicksRejected)
	}
}

func TestOfferRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t, 16)

	f.ing.Offer("ES", feed.RawTick{"lastPrice": -1.0})
	f.ing.Offer("ES", feed.RawTick{"note": "no price"})

	if f.ing.QueueLen() != 0 {
		t.Fatalf("invalid payloads must not be queued, length = %d", f.ing.QueueLen())
	}
	if snap := f.stats.Snapshot(); snap.TicksRejected != 2 {
		t.Fatalf("rejected = %d, want 2", snap.TicksRejected)
	}
}

func TestOfferUnknownSymbolIsRejectedAndNegativeCached(t *testing.T) {
	f := newFixture(t, 16)

	f.ing.Offer("XX", feed.RawTick{"lastPrice": 10.0})
	f.ing.Offer("XX", feed.RawTick{"lastPrice": 10.0})

	if f.ing.QueueLen() != 0 {
		t.Fatal("ticks for unknown symbols must be dropped")
	}
	if snap := f.stats.Snapshot(); snap.TicksRejected != 2 {
		t.Fatalf("rejected = %d, want 2", snap.TicksRejected)
	}
	// The second Offer inside the negative-cache window must not hit the store.
	if f.insts.lookups != 1 {
		t.Fatalf("store lookups = %d, want 1", f.insts.lookups)
	}
}

func TestOfferDropsWhenQueueFull(t *testing.T) {
	f := newFixture(t, 2)

	for i := 0; i < 5; i++ {
		f.ing.Offer("ES", feed.RawTick{"lastPrice": 100.0})
	}

	if f.ing.QueueLen() != 2 {
		t.Fatalf("queue length = %d, want capacity 2", f.ing.QueueLen())
	}
	if snap := f.stats.Snapshot(); snap.IngestDropped != 3 {
		t.Fatalf("ingestDropped = %d, want 3", snap.IngestDropped)
	}
}

func TestWarmInstrumentsAvoidsLookups(t *testing.T) {
	f := newFixture(t, 16)

	if err := f.ing.WarmInstruments(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	f.ing.Offer("ES", feed.RawTick{"lastPrice": 100.0})

	if f.insts.lookups != 0 {
		t.Fatalf("warmed symbol should not trigger a lookup, got %d", f.insts.lookups)
	}
}

func TestRunPersistsBatchAndFansOut(t *testing.T) {
	f := newFixture(t, 16)

	f.ing.Offer("ES", feed.RawTick{"lastPrice": 100.0, "volume": 10.0})
	f.ing.Offer("ES", feed.RawTick{"lastPrice": 101.0})

	// Cancelling before the loop starts exercises the shutdown flush path.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.ing.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	total := 0
	for _, b := range f.ticks.batches {
		total += len(b)
	}
	if total != 2 {
		t.Fatalf("persisted %d ticks, want 2", total)
	}
	if f.insts.updates != 2 || f.hist.records != 2 {
		t.Fatalf("updates=%d histRecords=%d, want 2/2", f.insts.updates, f.hist.records)
	}
	if len(f.bc.ticks) != 2 || len(f.eval.ticks) != 2 {
		t.Fatalf("broadcast=%d eval=%d, want 2/2", len(f.bc.ticks), len(f.eval.ticks))
	}
	if got := f.eval.ticks[0].InstrumentID; got != "inst-1" {
		t.Fatalf("instrumentID = %q, want inst-1", got)
	}
	if snap := f.stats.Snapshot(); snap.TicksPersisted != 2 {
		t.Fatalf("ticksPersisted = %d, want 2", snap.TicksPersisted)
	}
}

func TestRunCountsFailedBatchAndKeepsGoing(t *testing.T) {
	f := newFixture(t, 16)
	f.ticks.saveErr = errors.New("db down")

	f.ing.Offer("ES", feed.RawTick{"lastPrice": 100.0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.ing.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	snap := f.stats.Snapshot()
	if snap.BatchFailures != 1 {
		t.Fatalf("batchFailures = %d, want 1", snap.BatchFailures)
	}
	if len(f.bc.ticks) != 0 || len(f.eval.ticks) != 0 {
		t.Fatal("a failed batch must not fan out")
	}
}
