package domain

import (
	"context"
	"time"
)

// TickStore persists normalized ticks. SaveTicks must commit all rows of a
// batch in one transaction or none of them.
type TickStore interface {
	SaveTicks(ctx context.Context, ticks []Tick) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Tick, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// InstrumentStore owns the instrument rows whose last-tick state the batch
// writer updates.
type InstrumentStore interface {
	GetBySymbol(ctx context.Context, symbol string) (Instrument, error)
	List(ctx context.Context) ([]Instrument, error)
	UpdateLast(ctx context.Context, instrumentID string, price float64, ts time.Time) error
}

// RuleStore loads the rules the engine evaluates. Only active rules are ever
// returned; LastTriggeredAt writes go through AlertStore.SaveFired so they
// commit together with the alert record.
type RuleStore interface {
	LoadActiveByInstrument(ctx context.Context) (map[string][]AlertRule, error)
}

// AlertStore persists fired alerts. SaveFired inserts the record and updates
// the rule's last_triggered_at in the same transaction.
type AlertStore interface {
	SaveFired(ctx context.Context, rec AlertRecord) error
	UpdateDeliveryStatus(ctx context.Context, alertID string, status DeliveryStatus) error
	ListRecent(ctx context.Context, limit int) ([]AlertRecord, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AlertRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
