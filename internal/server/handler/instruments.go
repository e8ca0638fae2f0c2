package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

// InstrumentsHandler serves the instrument catalog read endpoint.
type InstrumentsHandler struct {
	instruments domain.InstrumentStore
	logger      *slog.Logger
}

// NewInstrumentsHandler creates an InstrumentsHandler.
func NewInstrumentsHandler(instruments domain.InstrumentStore, logger *slog.Logger) *InstrumentsHandler {
	return &InstrumentsHandler{instruments: instruments, logger: logger}
}

type instrumentResponse struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	LastPrice  float64   `json:"last_price"`
	LastTickAt time.Time `json:"last_tick_at"`
}

// ListInstruments responds with every tracked instrument and its last tick.
// GET /api/instruments
func (h *InstrumentsHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	insts, err := h.instruments.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list instruments failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list instruments")
		return
	}

	out := make([]instrumentResponse, 0, len(insts))
	for _, inst := range insts {
		out = append(out, instrumentResponse{
			ID:         inst.ID,
			Symbol:     inst.Symbol,
			Name:       inst.Name,
			LastPrice:  inst.LastPrice,
			LastTickAt: inst.LastTickAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out, "count": len(out)})
}
