package domain

import (
	"context"
	"time"
)

// PriceHistory provides the historical price lookup used by rate-of-change
// evaluation, plus fast access to the latest price.
type PriceHistory interface {
	// Record stores one price sample for an instrument.
	Record(ctx context.Context, instrumentID string, price float64, ts time.Time) error

	// PriceAt returns the first recorded sample at or after the given time.
	// It returns ErrNoHistory when no sample exists in that range.
	PriceAt(ctx context.Context, instrumentID string, at time.Time) (float64, error)

	// Latest returns the most recent sample for an instrument, or ErrNotFound.
	Latest(ctx context.Context, instrumentID string) (float64, time.Time, error)
}
