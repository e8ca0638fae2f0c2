package ws

import (
	"encoding/json"
	"math"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

// protocolVersion is carried in every outbound envelope.
const protocolVersion = "1.0"

// Envelope types.
const (
	TypeMarketData = "market_data"
	TypeAlert      = "alert"
	TypeConnection = "connection"
	TypeError      = "error"
	TypePong       = "pong"
)

// Envelope is the uniform wrapper for every message the hub sends. Data is
// shaped per Type.
type Envelope struct {
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// MarketDataPayload mirrors one persisted tick.
type MarketDataPayload struct {
	InstrumentID  string    `json:"instrumentId"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Volume        *float64  `json:"volume,omitempty"`
	Bid           *float64  `json:"bid,omitempty"`
	Ask           *float64  `json:"ask,omitempty"`
	ChangePercent *float64  `json:"changePercent,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AlertPayload mirrors one fired alert.
type AlertPayload struct {
	AlertID          string  `json:"alertId"`
	RuleID           string  `json:"ruleId"`
	InstrumentID     string  `json:"instrumentId"`
	Symbol           string  `json:"symbol"`
	RuleName         string  `json:"ruleName"`
	Condition        string  `json:"condition"`
	TargetValue      float64 `json:"targetValue"`
	CurrentValue     float64 `json:"currentValue"`
	Severity         string  `json:"severity"`
	Message          string  `json:"message"`
	EvaluationTimeMs float64 `json:"evaluationTimeMs"`
}

// ConnectionPayload greets a client right after the upgrade.
type ConnectionPayload struct {
	ConnectionID  string `json:"connectionId"`
	Status        string `json:"status"`
	ServerVersion string `json:"serverVersion"`
}

// ErrorPayload reports a protocol or capacity problem to one client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongPayload answers a client ping. LatencyMs is the server receive time
// minus the client send time, so clock skew between the two is included.
type PongPayload struct {
	ClientTime int64  `json:"client_time"`
	ServerTime int64  `json:"server_time"`
	LatencyMs  int64  `json:"latency_ms"`
	Sequence   *int64 `json:"sequence,omitempty"`
}

// clientMessage is the one inbound frame shape the hub understands.
type clientMessage struct {
	MessageType string     `json:"message_type"`
	ClientTime  clientTime `json:"client_time"`
	Sequence    *int64     `json:"sequence,omitempty"`
}

// clientTime decodes the client-supplied send time, which arrives either as
// an ISO-8601 string or as unix milliseconds. Zero means the client sent no
// usable timestamp.
type clientTime struct {
	ms int64
}

func (t *clientTime) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		t.ms = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.ms = 0
			return nil
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.ms = ts.UnixMilli()
		return nil
	}
	return json.Unmarshal(b, &t.ms)
}

// UnixMilli returns the decoded time in unix milliseconds, 0 when absent.
func (t clientTime) UnixMilli() int64 {
	return t.ms
}

func newEnvelope(typ string, data any) Envelope {
	return Envelope{
		Type:      typ,
		Version:   protocolVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	return json.Marshal(newEnvelope(typ, data))
}

func marketDataPayload(tick domain.Tick) MarketDataPayload {
	p := MarketDataPayload{
		InstrumentID: tick.InstrumentID,
		Symbol:       tick.Symbol,
		Price:        tick.Price,
		Volume:       tick.Volume,
		Bid:          tick.Bid,
		Ask:          tick.Ask,
		Timestamp:    tick.Timestamp,
	}
	if tick.Open != nil {
		pct := tick.ChangePercent()
		p.ChangePercent = &pct
	}
	return p
}

func alertPayload(rec domain.AlertRecord) AlertPayload {
	return AlertPayload{
		AlertID:          rec.ID,
		RuleID:           rec.RuleID,
		InstrumentID:     rec.InstrumentID,
		Symbol:           rec.Symbol,
		RuleName:         rec.RuleName,
		Condition:        string(rec.Condition),
		TargetValue:      rec.ThresholdValue,
		CurrentValue:     rec.TriggerValue,
		Severity:         alertSeverity(rec),
		Message:          rec.Message,
		EvaluationTimeMs: rec.EvaluationTimeMs,
	}
}

// alertSeverity buckets a fire by how far the trigger value overshot the
// rule's threshold, relative to the threshold itself.
func alertSeverity(rec domain.AlertRecord) string {
	base := math.Abs(rec.ThresholdValue)
	if base == 0 {
		base = 1
	}
	deviation := math.Abs(rec.TriggerValue-rec.ThresholdValue) / base
	switch {
	case deviation >= 0.10:
		return "critical"
	case deviation >= 0.02:
		return "warning"
	default:
		return "info"
	}
}
