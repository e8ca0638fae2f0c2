package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Offerer accepts one raw tick payload for a symbol. The ingestor implements
// it; the simulator only needs this single method.
type Offerer interface {
	Offer(symbol string, raw RawTick)
}

// Simulator produces random-walk tick payloads so the full pipeline can run
// without a vendor feed connection. Each symbol starts near a fixed base
// price and drifts by small percentage steps.
type Simulator struct {
	symbols  []string
	interval time.Duration
	sink     Offerer
	logger   *slog.Logger

	prices map[string]float64
	rng    *rand.Rand
}

// NewSimulator creates a Simulator emitting one payload per symbol every
// interval.
func NewSimulator(symbols []string, interval time.Duration, sink Offerer, logger *slog.Logger) *Simulator {
	prices := make(map[string]float64, len(symbols))
	for i, s := range symbols {
		prices[s] = 100 * float64(i+1)
	}
	return &Simulator{
		symbols:  symbols,
		interval: interval,
		sink:     sink,
		logger:   logger.With(slog.String("component", "sim_feed")),
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run emits payloads until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulated feed started",
		slog.Int("symbols", len(s.symbols)),
		slog.Duration("interval", s.interval),
	)
	defer s.logger.Info("simulated feed stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range s.symbols {
				s.sink.Offer(sym, s.next(sym))
			}
		}
	}
}

// next advances the random walk for one symbol and shapes the payload the
// way a vendor feed would.
func (s *Simulator) next(symbol string) RawTick {
	price := s.prices[symbol]
	price *= 1 + (s.rng.Float64()-0.5)*0.004
	if price < 0.01 {
		price = 0.01
	}
	s.prices[symbol] = price

	spread := price * 0.0002
	return RawTick{
		"lastPrice": price,
		"volume":    float64(s.rng.Intn(5000)),
		"bid":       price - spread,
		"ask":       price + spread,
		"bidSize":   float64(s.rng.Intn(500)),
		"askSize":   float64(s.rng.Intn(500)),
	}
}
