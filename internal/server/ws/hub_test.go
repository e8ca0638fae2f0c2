package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantstream/tickalert/internal/domain"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte // text frames only
	writeErr error
	closed   bool

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 4),
		done:    make(chan struct{}),
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if messageType == websocket.TextMessage {
		f.frames = append(f.frames, append([]byte(nil), data...))
	}
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return websocket.TextMessage, msg, nil
	case <-f.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
	})
	return nil
}

// envelopes decodes every text frame written so far, optionally filtered by
// envelope type.
func (f *fakeConn) envelopes(t *testing.T, typ string) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Envelope
	for _, frame := range f.frames {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		if typ == "" || env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestHub(maxConns int) *Hub {
	return NewHub(Config{MaxConnections: maxConns, ServerVersion: "test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAdmitSendsConnectionGreeting(t *testing.T) {
	h := newTestHub(4)
	conn := newFakeConn()
	if c := h.admit(conn); c == nil {
		t.Fatal("admit rejected a connection under capacity")
	}

	waitFor(t, "connection envelope", func() bool {
		return len(conn.envelopes(t, TypeConnection)) == 1
	})
	env := conn.envelopes(t, TypeConnection)[0]
	if env.Version != protocolVersion {
		t.Fatalf("version = %q, want %q", env.Version, protocolVersion)
	}
	if env.Timestamp.IsZero() {
		t.Fatal("envelope timestamp must be set")
	}

	var payload ConnectionPayload
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("connection payload: %v", err)
	}
	if payload.ConnectionID == "" || payload.Status != "connected" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := newTestHub(8)
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, conn := range conns {
		h.admit(conn)
	}

	vol := 250.0
	h.BroadcastTick(domain.Tick{
		InstrumentID: "inst-1",
		Symbol:       "ES",
		Price:        4525.75,
		Volume:       &vol,
		Timestamp:    time.Now(),
	})

	for _, conn := range conns {
		waitFor(t, "market_data envelope", func() bool {
			return len(conn.envelopes(t, TypeMarketData)) == 1
		})
	}

	var payload MarketDataPayload
	env := conns[0].envelopes(t, TypeMarketData)[0]
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("market data payload: %v", err)
	}
	if payload.Symbol != "ES" || payload.Price != 4525.75 || payload.Volume == nil {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestBroadcastAlertCarriesRecordFields(t *testing.T) {
	h := newTestHub(4)
	conn := newFakeConn()
	h.admit(conn)

	h.BroadcastAlert(domain.AlertRecord{
		ID:             "a1",
		RuleID:         "r1",
		InstrumentID:   "inst-1",
		Symbol:         "ES",
		RuleName:       "price watch",
		Condition:      domain.CondAbove,
		TriggerValue:   4525.75,
		ThresholdValue: 4500,
		Message:        "ES above 4500",
	})

	waitFor(t, "alert envelope", func() bool {
		return len(conn.envelopes(t, TypeAlert)) == 1
	})

	var payload AlertPayload
	env := conn.envelopes(t, TypeAlert)[0]
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("alert payload: %v", err)
	}
	if payload.AlertID != "a1" || payload.TargetValue != 4500 || payload.CurrentValue != 4525.75 {
		t.Fatalf("payload = %+v", payload)
	}
	// 4525.75 overshoots 4500 by ~0.6%, which stays in the info bucket.
	if payload.Severity != "info" {
		t.Fatalf("severity = %q, want info", payload.Severity)
	}
}

func TestAlertSeverityBuckets(t *testing.T) {
	tests := []struct {
		name      string
		trigger   float64
		threshold float64
		want      string
	}{
		{"just past threshold", 100.5, 100, "info"},
		{"clear breach", 104, 100, "warning"},
		{"runaway breach", 115, 100, "critical"},
		{"below threshold rule", 85, 100, "critical"},
		{"zero threshold", 0.05, 0, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alertSeverity(domain.AlertRecord{
				TriggerValue:   tt.trigger,
				ThresholdValue: tt.threshold,
			})
			if got != tt.want {
				t.Errorf("alertSeverity(%v vs %v) = %q, want %q", tt.trigger, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestWriteFailurePrunesClient(t *testing.T) {
	h := newTestHub(8)

	healthy := newFakeConn()
	broken := newFakeConn()
	broken.writeErr = errors.New("broken pipe")

	h.admit(healthy)
	h.admit(broken)

	// The greeting write fails, so the broken client prunes itself.
	waitFor(t, "broken client pruned", func() bool {
		return h.ClientCount() == 1
	})

	h.BroadcastTick(domain.Tick{InstrumentID: "inst-1", Symbol: "ES", Price: 100, Timestamp: time.Now()})
	waitFor(t, "healthy client still served", func() bool {
		return len(healthy.envelopes(t, TypeMarketData)) == 1
	})
}

func TestCapacityReject(t *testing.T) {
	h := newTestHub(1)

	first := newFakeConn()
	second := newFakeConn()
	if c := h.admit(first); c == nil {
		t.Fatal("first connection should be admitted")
	}
	if c := h.admit(second); c != nil {
		t.Fatal("second connection should be rejected at capacity 1")
	}

	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", h.ClientCount())
	}

	envs := second.envelopes(t, TypeError)
	if len(envs) != 1 {
		t.Fatalf("rejected connection got %d error envelopes, want 1", len(envs))
	}
	var payload ErrorPayload
	raw, _ := json.Marshal(envs[0].Data)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if payload.Code != "capacity_exceeded" {
		t.Fatalf("code = %q, want capacity_exceeded", payload.Code)
	}
	second.mu.Lock()
	closed := second.closed
	second.mu.Unlock()
	if !closed {
		t.Fatal("rejected connection must be closed")
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	tests := []struct {
		name     string
		ping     string
		wantSeq  *int64
		clientMs int64
	}{
		{
			name:     "unix millisecond client_time",
			ping:     fmt.Sprintf(`{"message_type":"ping","client_time":%d,"sequence":7}`, time.Now().UnixMilli()),
			wantSeq:  ptrInt64(7),
			clientMs: 1,
		},
		{
			name:     "iso-8601 client_time",
			ping:     fmt.Sprintf(`{"message_type":"ping","client_time":%q}`, time.Now().UTC().Format(time.RFC3339Nano)),
			clientMs: 1,
		},
		{
			name: "missing client_time",
			ping: `{"message_type":"ping"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(4)
			conn := newFakeConn()
			h.admit(conn)

			conn.inbound <- []byte(tt.ping)

			waitFor(t, "pong envelope", func() bool {
				return len(conn.envelopes(t, TypePong)) == 1
			})
			if got := len(conn.envelopes(t, TypeError)); got != 0 {
				t.Fatalf("ping answered with %d error envelopes", got)
			}

			var payload PongPayload
			env := conn.envelopes(t, TypePong)[0]
			raw, _ := json.Marshal(env.Data)
			if err := json.Unmarshal(raw, &payload); err != nil {
				t.Fatalf("pong payload: %v", err)
			}
			if payload.LatencyMs < 0 || payload.ServerTime == 0 {
				t.Fatalf("payload = %+v", payload)
			}
			if tt.clientMs > 0 && payload.ClientTime == 0 {
				t.Fatalf("client_time not echoed: %+v", payload)
			}
			if tt.wantSeq != nil && (payload.Sequence == nil || *payload.Sequence != *tt.wantSeq) {
				t.Fatalf("sequence not echoed: %+v", payload)
			}
		})
	}
}

func ptrInt64(v int64) *int64 { return &v }

func TestUnknownInboundMessageGetsError(t *testing.T) {
	h := newTestHub(4)
	conn := newFakeConn()
	h.admit(conn)

	conn.inbound <- []byte(`{"message_type":"subscribe"}`)

	waitFor(t, "error envelope", func() bool {
		return len(conn.envelopes(t, TypeError)) == 1
	})
}

func TestRunDisconnectsEverybodyOnShutdown(t *testing.T) {
	h := newTestHub(8)
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, conn := range conns {
		h.admit(conn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	if h.ClientCount() != 0 {
		t.Fatalf("client count = %d after shutdown, want 0", h.ClientCount())
	}
	for _, conn := range conns {
		waitFor(t, "connection closed", func() bool {
			conn.mu.Lock()
			defer conn.mu.Unlock()
			return conn.closed
		})
	}

	// New connections after shutdown are rejected.
	if c := h.admit(newFakeConn()); c != nil {
		t.Fatal("admit after shutdown should reject")
	}
}
