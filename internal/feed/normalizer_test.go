package feed

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizePriceFieldVariants(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name string
		raw  RawTick
		want float64
	}{
		{"lastPrice", RawTick{"lastPrice": 4525.75}, 4525.75},
		{"last", RawTick{"last": 101.5}, 101.5},
		{"price", RawTick{"price": 7.25}, 7.25},
		{"lastPrice wins over price", RawTick{"lastPrice": 1.0, "price": 2.0}, 1.0},
		{"string coercion", RawTick{"last": "99.9"}, 99.9},
		{"json.Number coercion", RawTick{"price": json.Number("12.5")}, 12.5},
		{"int coercion", RawTick{"last": 42}, 42},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tick, ok := Normalize("ES", tc.raw, now)
			if !ok {
				t.Fatal("expected tick, got drop")
			}
			if tick.Price != tc.want {
				t.Fatalf("price = %v, want %v", tick.Price, tc.want)
			}
			if tick.Symbol != "ES" {
				t.Fatalf("symbol = %q, want ES", tick.Symbol)
			}
		})
	}
}

func TestNormalizeDropsInvalidPrices(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name string
		raw  RawTick
	}{
		{"missing price", RawTick{"volume": 1000.0}},
		{"negative price", RawTick{"lastPrice": -5.0}},
		{"zero price", RawTick{"lastPrice": 0.0}},
		{"above sanity ceiling", RawTick{"lastPrice": 1_000_001.0}},
		{"non-numeric price", RawTick{"lastPrice": "n/a"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Run twice: dropping must be idempotent.
			for i := 0; i < 2; i++ {
				if _, ok := Normalize("ES", tc.raw, now); ok {
					t.Fatalf("run %d: expected drop", i)
				}
			}
		})
	}
}

func TestNormalizeOptionalFields(t *testing.T) {
	tick, ok := Normalize("NQ", RawTick{
		"lastPrice": 15000.25,
		"volume":    1200.0,
		"bid":       15000.0,
		"ask":       15000.5,
		"open":      14900.0,
	}, time.Now())
	if !ok {
		t.Fatal("expected tick")
	}

	if tick.Volume == nil || *tick.Volume != 1200.0 {
		t.Fatalf("volume = %v, want 1200", tick.Volume)
	}
	if tick.Bid == nil || *tick.Bid != 15000.0 {
		t.Fatalf("bid = %v, want 15000", tick.Bid)
	}
	if tick.BidSize != nil {
		t.Fatal("bidSize should be nil when absent")
	}

	wantPct := (15000.25 - 14900.0) / 14900.0 * 100
	if got := tick.ChangePercent(); got != wantPct {
		t.Fatalf("changePercent = %v, want %v", got, wantPct)
	}
}
