package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

// AlertsHandler serves the recent-alerts read endpoint.
type AlertsHandler struct {
	alerts domain.AlertStore
	logger *slog.Logger
}

// NewAlertsHandler creates an AlertsHandler.
func NewAlertsHandler(alerts domain.AlertStore, logger *slog.Logger) *AlertsHandler {
	return &AlertsHandler{alerts: alerts, logger: logger}
}

type alertResponse struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	RuleID           string    `json:"rule_id"`
	InstrumentID     string    `json:"instrument_id"`
	Symbol           string    `json:"symbol"`
	RuleName         string    `json:"rule_name"`
	Condition        string    `json:"condition"`
	TriggerValue     float64   `json:"trigger_value"`
	ThresholdValue   float64   `json:"threshold_value"`
	FiredStatus      string    `json:"fired_status"`
	DeliveryStatus   string    `json:"delivery_status"`
	EvaluationTimeMs float64   `json:"evaluation_time_ms"`
	Message          string    `json:"message"`
}

// ListRecent responds with the most recent fired alerts, newest first.
// GET /api/alerts/recent?limit=50
func (h *AlertsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	recs, err := h.alerts.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list alerts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	out := make([]alertResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, alertResponse{
			ID:               rec.ID,
			Timestamp:        rec.Timestamp,
			RuleID:           rec.RuleID,
			InstrumentID:     rec.InstrumentID,
			Symbol:           rec.Symbol,
			RuleName:         rec.RuleName,
			Condition:        string(rec.Condition),
			TriggerValue:     rec.TriggerValue,
			ThresholdValue:   rec.ThresholdValue,
			FiredStatus:      string(rec.FiredStatus),
			DeliveryStatus:   string(rec.DeliveryStatus),
			EvaluationTimeMs: rec.EvaluationTimeMs,
			Message:          rec.Message,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out, "count": len(out)})
}
