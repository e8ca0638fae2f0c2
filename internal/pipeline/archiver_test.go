package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeBlobArchiver struct {
	tickCutoff  time.Time
	alertCutoff time.Time
	tickErr     error
	alertCalls  int
}

func (f *fakeBlobArchiver) ArchiveTicks(ctx context.Context, cutoff time.Time) (int64, error) {
	f.tickCutoff = cutoff
	return 10, f.tickErr
}

func (f *fakeBlobArchiver) ArchiveAlerts(ctx context.Context, cutoff time.Time) (int64, error) {
	f.alertCutoff = cutoff
	f.alertCalls++
	return 2, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunUsesRetentionCutoff(t *testing.T) {
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, 30, testLogger())

	before := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	after := time.Now().UTC().Add(-30 * 24 * time.Hour)

	if blob.tickCutoff.Before(before) || blob.tickCutoff.After(after) {
		t.Fatalf("tick cutoff %v not ~30 days back", blob.tickCutoff)
	}
	if !blob.alertCutoff.Equal(blob.tickCutoff) {
		t.Fatal("ticks and alerts must share one cutoff per run")
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	blob := &fakeBlobArchiver{tickErr: errors.New("bucket unavailable")}
	a := NewArchiver(blob, 30, testLogger())

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if blob.alertCalls != 0 {
		t.Fatal("alert archiving must not run after tick archiving failed")
	}
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, 30, testLogger())

	if err := a.RunCron(context.Background(), "not a cron"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRunCronStopsOnCancel(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, 30, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 3 * * *") }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunCron = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop on cancel")
	}
}
