package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantstream/tickalert/internal/domain"
)

// PriceHistory implements domain.PriceHistory using Redis sorted sets. Each
// instrument's samples live at key "hist:{instrumentID}" scored by Unix
// nanosecond timestamp, with members encoded as "nano:price" so two samples
// at different times never collide.
type PriceHistory struct {
	rdb    *redis.Client
	maxAge time.Duration
}

// NewPriceHistory creates a PriceHistory backed by the given Client. Samples
// older than maxAge are trimmed on every Record call; maxAge therefore bounds
// the largest rate-of-change window the engine can serve.
func NewPriceHistory(c *Client, maxAge time.Duration) *PriceHistory {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &PriceHistory{rdb: c.Underlying(), maxAge: maxAge}
}

func historyKey(instrumentID string) string {
	return "hist:" + instrumentID
}

func encodeMember(price float64, ts time.Time) string {
	return strconv.FormatInt(ts.UnixNano(), 10) + ":" +
		strconv.FormatFloat(price, 'f', -1, 64)
}

func decodeMember(member string) (float64, error) {
	_, priceStr, ok := strings.Cut(member, ":")
	if !ok {
		return 0, fmt.Errorf("malformed history member %q", member)
	}
	return strconv.ParseFloat(priceStr, 64)
}

// Record stores one price sample and trims samples that have aged out of the
// retention window.
func (h *PriceHistory) Record(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	key := historyKey(instrumentID)

	pipe := h.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixNano()),
		Member: encodeMember(price, ts),
	})
	cutoff := ts.Add(-h.maxAge)
	pipe.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatFloat(float64(cutoff.UnixNano()), 'f', -1, 64))
	pipe.Expire(ctx, key, h.maxAge)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record price %s: %w", instrumentID, err)
	}
	return nil
}

// PriceAt returns the first sample at or after the given time, matching the
// lookback strategy rate-of-change evaluation expects. It returns
// domain.ErrNoHistory when no sample exists in that range.
func (h *PriceHistory) PriceAt(ctx context.Context, instrumentID string, at time.Time) (float64, error) {
	members, err := h.rdb.ZRangeByScore(ctx, historyKey(instrumentID), &redis.ZRangeBy{
		Min:   strconv.FormatFloat(float64(at.UnixNano()), 'f', -1, 64),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis: price at %s: %w", instrumentID, err)
	}
	if len(members) == 0 {
		return 0, domain.ErrNoHistory
	}
	price, err := decodeMember(members[0])
	if err != nil {
		return 0, fmt.Errorf("redis: price at %s: %w", instrumentID, err)
	}
	return price, nil
}

// Latest returns the most recent sample for an instrument.
func (h *PriceHistory) Latest(ctx context.Context, instrumentID string) (float64, time.Time, error) {
	zs, err := h.rdb.ZRevRangeWithScores(ctx, historyKey(instrumentID), 0, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("redis: latest price %s: %w", instrumentID, err)
	}
	if len(zs) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: latest price %s: unexpected member type", instrumentID)
	}
	price, err := decodeMember(member)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: latest price %s: %w", instrumentID, err)
	}
	return price, time.Unix(0, int64(zs[0].Score)), nil
}

// Compile-time interface check.
var _ domain.PriceHistory = (*PriceHistory)(nil)
