package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

type fakeAlertStore struct {
	recs []domain.AlertRecord
}

func (f *fakeAlertStore) SaveFired(ctx context.Context, rec domain.AlertRecord) error { return nil }

func (f *fakeAlertStore) UpdateDeliveryStatus(ctx context.Context, alertID string, status domain.DeliveryStatus) error {
	return nil
}

func (f *fakeAlertStore) ListRecent(ctx context.Context, limit int) ([]domain.AlertRecord, error) {
	if limit > len(f.recs) {
		limit = len(f.recs)
	}
	return f.recs[:limit], nil
}

func (f *fakeAlertStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AlertRecord, error) {
	return nil, nil
}

func (f *fakeAlertStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeQueues struct{ ingest, eval int }

func (f fakeQueues) IngestQueueLen() int { return f.ingest }
func (f fakeQueues) EvalQueueLen() int   { return f.eval }

type fakeClients struct{ n int }

func (f fakeClients) ClientCount() int { return f.n }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(testLogger())
	rr := httptest.NewRecorder()
	h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "tickalert" {
		t.Fatalf("body = %v", body)
	}
}

func TestGetStatusIncludesCountersAndBacklogs(t *testing.T) {
	stats := &domain.PipelineStats{}
	stats.AlertFired()
	stats.TicksPersisted(10)

	h := NewStatusHandler("serve", time.Now().Add(-time.Minute), stats, fakeQueues{ingest: 3, eval: 1}, fakeClients{n: 2})
	rr := httptest.NewRecorder()
	h.GetStatus(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Mode          string               `json:"mode"`
		UptimeSeconds int64                `json:"uptime_seconds"`
		Pipeline      domain.StatsSnapshot `json:"pipeline"`
		IngestQueue   int                  `json:"ingest_queue_len"`
		EvalQueue     int                  `json:"eval_queue_len"`
		WSClients     int                  `json:"ws_clients"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Mode != "serve" || body.UptimeSeconds < 59 {
		t.Fatalf("body = %+v", body)
	}
	if body.Pipeline.AlertsFired != 1 || body.Pipeline.TicksPersisted != 10 {
		t.Fatalf("pipeline = %+v", body.Pipeline)
	}
	if body.IngestQueue != 3 || body.EvalQueue != 1 || body.WSClients != 2 {
		t.Fatalf("backlogs = %+v", body)
	}
}

func TestListRecentAlertsRespectsLimit(t *testing.T) {
	store := &fakeAlertStore{}
	for i := 0; i < 5; i++ {
		store.recs = append(store.recs, domain.AlertRecord{ID: "a", Symbol: "ES"})
	}

	h := NewAlertsHandler(store, testLogger())
	rr := httptest.NewRecorder()
	h.ListRecent(rr, httptest.NewRequest(http.MethodGet, "/api/alerts/recent?limit=2", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Alerts []alertResponse `json:"alerts"`
		Count  int             `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Count != 2 || len(body.Alerts) != 2 {
		t.Fatalf("body = %+v", body)
	}
}
