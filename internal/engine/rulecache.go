package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

// maxRefreshFailures is how many consecutive refresh failures the cache
// tolerates before its loop gives up and surfaces the error to the
// supervisor.
const maxRefreshFailures = 5

// RuleCache holds a read-only snapshot of active rules grouped by instrument.
// Refresh replaces the whole snapshot atomically, so readers never observe a
// partially updated map and need no lock.
type RuleCache struct {
	store    domain.RuleStore
	ttl      time.Duration
	logger   *slog.Logger
	snapshot atomic.Pointer[map[string][]domain.AlertRule]
}

// NewRuleCache creates a RuleCache that refreshes from store every ttl. The
// cache starts empty; call Refresh (or start Run) to populate it.
func NewRuleCache(store domain.RuleStore, ttl time.Duration, logger *slog.Logger) *RuleCache {
	c := &RuleCache{
		store:  store,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "rule_cache")),
	}
	empty := make(map[string][]domain.AlertRule)
	c.snapshot.Store(&empty)
	return c
}

// Refresh reloads all active rules from the store and swaps in the new
// snapshot. It may also be forced externally after a rule edit.
func (c *RuleCache) Refresh(ctx context.Context) error {
	rules, err := c.store.LoadActiveByInstrument(ctx)
	if err != nil {
		return fmt.Errorf("rule cache: refresh: %w", err)
	}
	c.snapshot.Store(&rules)

	total := 0
	for _, rs := range rules {
		total += len(rs)
	}
	c.logger.DebugContext(ctx, "rule cache refreshed",
		slog.Int("instruments", len(rules)),
		slog.Int("rules", total),
	)
	return nil
}

// RulesFor returns the cached active rules for one instrument. The returned
// slice belongs to the current snapshot and must not be mutated.
func (c *RuleCache) RulesFor(instrumentID string) []domain.AlertRule {
	return (*c.snapshot.Load())[instrumentID]
}

// Run refreshes immediately, then on every ttl tick until ctx is cancelled.
// A single failed refresh keeps serving the previous snapshot; repeated
// consecutive failures are fatal and returned to the caller.
func (c *RuleCache) Run(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				failures++
				c.logger.Error("rule cache refresh failed",
					slog.Int("consecutive_failures", failures),
					slog.String("error", err.Error()),
				)
				if failures >= maxRefreshFailures {
					return fmt.Errorf("rule cache: %d consecutive refresh failures: %w", failures, err)
				}
				continue
			}
			failures = 0
		}
	}
}
