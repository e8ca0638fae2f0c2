package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantstream/tickalert/internal/engine"
	"github.com/quantstream/tickalert/internal/feed"
	"github.com/quantstream/tickalert/internal/ingest"
	"github.com/quantstream/tickalert/internal/pipeline"
	"github.com/quantstream/tickalert/internal/server"
	"github.com/quantstream/tickalert/internal/server/handler"
	"github.com/quantstream/tickalert/internal/server/ws"
)

// queueLengths adapts the live pipeline stages to the status handler.
type queueLengths struct {
	ingestor *ingest.Ingestor
	engine   *engine.Engine
}

func (q queueLengths) IngestQueueLen() int { return q.ingestor.QueueLen() }
func (q queueLengths) EvalQueueLen() int   { return q.engine.QueueLen() }

// ServeMode runs the full pipeline against a live feed source: rule cache,
// alert engine, ingestor, WebSocket hub, HTTP server, and the retention job
// when archiving is enabled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.runPipeline(ctx, deps, false)
}

// SimMode runs the same pipeline as serve mode plus a random-walk tick
// simulator, so the whole system can be exercised without a vendor feed.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode",
		slog.Any("symbols", a.cfg.Feed.SimSymbols),
	)
	return a.runPipeline(ctx, deps, true)
}

// runPipeline builds every pipeline stage from deps, starts them under one
// errgroup, and blocks until the first stage fails or ctx is cancelled.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, withSim bool) error {
	g, ctx := errgroup.WithContext(ctx)
	startedAt := time.Now().UTC()

	// Rule cache: refreshed on a TTL, shared read-only by the engine.
	ruleCacheTTL := time.Duration(a.cfg.Engine.RuleCacheTTLSec) * time.Second
	cache := engine.NewRuleCache(deps.RuleStore, ruleCacheTTL, a.logger)

	// WebSocket hub: only when the HTTP server is enabled.
	var hub *ws.Hub
	var alertBroadcaster engine.Broadcaster
	var tickBroadcaster ingest.Broadcaster
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(ws.Config{
			MaxConnections: a.cfg.Server.MaxConnections,
			ServerVersion:  serverVersion,
		}, a.logger)
		alertBroadcaster = hub
		tickBroadcaster = hub
	}

	eng := engine.New(engine.Config{
		QueueCapacity: a.cfg.Engine.QueueCapacity,
		BatchMaxSize:  a.cfg.Engine.BatchMaxSize,
		BatchMaxWait:  time.Duration(a.cfg.Engine.BatchMaxWaitMs) * time.Millisecond,
	}, cache, deps.PriceHistory, deps.AlertStore, deps.Notifier, alertBroadcaster, deps.Stats, a.logger)

	ing := ingest.New(ingest.Config{
		QueueCapacity: a.cfg.Ingest.QueueCapacity,
		BatchMaxSize:  a.cfg.Ingest.BatchMaxSize,
		BatchMaxWait:  time.Duration(a.cfg.Ingest.BatchMaxWaitMs) * time.Millisecond,
	}, deps.TickStore, deps.InstrumentStore, deps.PriceHistory, eng, tickBroadcaster, deps.Stats, a.logger)

	// Preload the symbol -> instrument map so the hot path rarely hits the
	// store. A failed warm-up is not fatal; symbols resolve on demand.
	if err := ing.WarmInstruments(ctx); err != nil {
		a.logger.WarnContext(ctx, "instrument warm-up failed, resolving on demand",
			slog.String("error", err.Error()),
		)
	}

	g.Go(func() error { return cache.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return ing.Run(ctx) })

	if hub != nil {
		g.Go(func() error { return hub.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, hub, ing, eng, startedAt)
	}

	// Retention: archive + delete rows past the retention window on a cron
	// schedule.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		retention := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		cronExpr := a.cfg.Archive.Cron
		g.Go(func() error { return retention.RunCron(ctx, cronExpr) })
	}

	if withSim {
		interval := time.Duration(a.cfg.Feed.SimIntervalMs) * time.Millisecond
		sim := feed.NewSimulator(a.cfg.Feed.SimSymbols, interval, ing, a.logger)
		g.Go(func() error { return sim.Run(ctx) })
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server goroutines to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	ing *ingest.Ingestor,
	eng *engine.Engine,
	startedAt time.Time,
) {
	var clients handler.ClientCounter
	if hub != nil {
		clients = hub
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(
			a.cfg.Mode, startedAt, deps.Stats,
			queueLengths{ingestor: ing, engine: eng}, clients,
		),
		Alerts:      handler.NewAlertsHandler(deps.AlertStore, a.logger),
		Instruments: handler.NewInstrumentsHandler(deps.InstrumentStore, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
