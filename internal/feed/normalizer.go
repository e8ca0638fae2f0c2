// Package feed turns raw upstream tick payloads into canonical domain ticks.
// The vendor client itself lives outside this repo; it only needs to hand
// each payload to an ingestor callback.
package feed

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

// RawTick is the loosely-typed key/value payload an upstream market-data
// source produces for one tick.
type RawTick map[string]any

// priceKeys lists the upstream field names that may carry the last price, in
// priority order.
var priceKeys = []string{"lastPrice", "last", "price"}

// Normalize validates and maps a raw tick payload into a canonical Tick.
// It fails closed: the second return value is false — and the tick must be
// silently dropped — when the price is absent, non-positive, or above the
// sanity ceiling. A false return is not an error condition.
func Normalize(symbol string, raw RawTick, at time.Time) (domain.Tick, bool) {
	price, ok := firstNumeric(raw, priceKeys)
	if !ok || price <= 0 || price > domain.MaxSanePrice {
		return domain.Tick{}, false
	}

	tick := domain.Tick{
		Symbol:    symbol,
		Timestamp: at,
		Price:     price,
		Volume:    optNumeric(raw, "volume"),
		Bid:       optNumeric(raw, "bid"),
		Ask:       optNumeric(raw, "ask"),
		BidSize:   optNumeric(raw, "bidSize"),
		AskSize:   optNumeric(raw, "askSize"),
		Open:      optNumeric(raw, "open"),
		High:      optNumeric(raw, "high"),
		Low:       optNumeric(raw, "low"),
	}
	return tick, true
}

// firstNumeric returns the first key in keys that coerces to a number.
func firstNumeric(raw RawTick, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if f, ok := coerce(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// optNumeric returns a pointer to the coerced value of key, or nil when the
// key is absent or not numeric.
func optNumeric(raw RawTick, key string) *float64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	f, ok := coerce(v)
	if !ok {
		return nil
	}
	return &f
}

// coerce converts the value shapes JSON decoding and vendor SDKs commonly
// produce into a float64.
func coerce(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
