package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

type fakeRuleStore struct {
	rules map[string][]domain.AlertRule
	err   error
	loads int

	// okLoads is how many loads succeed before err kicks in.
	okLoads int
}

func (f *fakeRuleStore) LoadActiveByInstrument(ctx context.Context) (map[string][]domain.AlertRule, error) {
	f.loads++
	if f.err != nil && f.loads > f.okLoads {
		return nil, f.err
	}
	return f.rules, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRuleCacheStartsEmpty(t *testing.T) {
	c := NewRuleCache(&fakeRuleStore{}, time.Minute, testLogger())
	if got := c.RulesFor("inst-1"); len(got) != 0 {
		t.Fatalf("unrefreshed cache returned %d rules, want 0", len(got))
	}
}

func TestRuleCacheRefreshSwapsSnapshot(t *testing.T) {
	store := &fakeRuleStore{rules: map[string][]domain.AlertRule{
		"inst-1": {{ID: "r1"}, {ID: "r2"}},
	}}
	c := NewRuleCache(store, time.Minute, testLogger())

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := c.RulesFor("inst-1"); len(got) != 2 {
		t.Fatalf("got %d rules, want 2", len(got))
	}

	// A rule deactivated upstream disappears on the next refresh.
	store.rules = map[string][]domain.AlertRule{"inst-1": {{ID: "r1"}}}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := c.RulesFor("inst-1"); len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("got %v, want just r1", got)
	}
}

func TestRuleCacheRefreshFailureKeepsOldSnapshot(t *testing.T) {
	store := &fakeRuleStore{rules: map[string][]domain.AlertRule{
		"inst-1": {{ID: "r1"}},
	}}
	c := NewRuleCache(store, time.Minute, testLogger())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	store.err = errors.New("db down")
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got := c.RulesFor("inst-1"); len(got) != 1 {
		t.Fatalf("failed refresh must keep the previous snapshot, got %d rules", len(got))
	}
}

func TestRuleCacheRunFatalAfterConsecutiveFailures(t *testing.T) {
	store := &fakeRuleStore{rules: map[string][]domain.AlertRule{}}
	c := NewRuleCache(store, 5*time.Millisecond, testLogger())

	// Run's initial refresh succeeds; every ticker refresh after it fails.
	store.okLoads = 1
	store.err = errors.New("db down")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Run(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run should give up after repeated refresh failures, got %v", err)
	}
	if store.loads < 1+maxRefreshFailures {
		t.Fatalf("Run gave up after %d loads, want at least %d", store.loads, 1+maxRefreshFailures)
	}
}

func TestRuleCacheRunInitialRefreshFailureIsFatal(t *testing.T) {
	store := &fakeRuleStore{err: errors.New("db down")}
	c := NewRuleCache(store, time.Minute, testLogger())

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run must fail when the initial refresh fails")
	}
	if store.loads != 1 {
		t.Fatalf("initial refresh should load exactly once, got %d", store.loads)
	}
}
