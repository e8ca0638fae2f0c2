package domain

import "time"

// MaxSanePrice is the upper sanity bound for a tick price. Anything above it
// is treated as feed garbage and dropped at normalization.
const MaxSanePrice = 1_000_000.0

// Tick is one normalized price/volume observation for an instrument at a
// point in time. Optional fields are nil when the upstream payload omitted
// them.
type Tick struct {
	InstrumentID string
	Symbol       string
	Timestamp    time.Time
	Price        float64
	Volume       *float64
	Bid          *float64
	Ask          *float64
	BidSize      *float64
	AskSize      *float64
	Open         *float64
	High         *float64
	Low          *float64
}

// ChangePercent returns the percent move of the tick price relative to the
// session open, or 0 when the open is unknown.
func (t Tick) ChangePercent() float64 {
	if t.Open == nil || *t.Open == 0 {
		return 0
	}
	return (t.Price - *t.Open) / *t.Open * 100
}

// Instrument is a tradable symbol tracked by the pipeline. LastPrice and
// LastTickAt are mutated only by the ingestion batch writer after a tick has
// been persisted.
type Instrument struct {
	ID         string
	Symbol     string
	Name       string
	LastPrice  float64
	LastTickAt time.Time
	CreatedAt  time.Time
}
