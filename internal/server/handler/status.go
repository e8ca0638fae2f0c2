package handler

import (
	"net/http"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

// QueueLengths reports the live backlog of each bounded queue.
type QueueLengths interface {
	IngestQueueLen() int
	EvalQueueLen() int
}

// ClientCounter reports the number of connected WebSocket clients.
type ClientCounter interface {
	ClientCount() int
}

// StatusHandler serves the pipeline status snapshot for dashboards.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	Stats     *domain.PipelineStats
	Queues    QueueLengths
	Clients   ClientCounter
}

// NewStatusHandler creates a StatusHandler. Queues and Clients may be nil
// when the corresponding stage is not running.
func NewStatusHandler(mode string, startedAt time.Time, stats *domain.PipelineStats, queues QueueLengths, clients ClientCounter) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		StartedAt: startedAt,
		Stats:     stats,
		Queues:    queues,
		Clients:   clients,
	}
}

// GetStatus responds with the current pipeline counters and backlog sizes.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"pipeline":       h.Stats.Snapshot(),
	}
	if h.Queues != nil {
		resp["ingest_queue_len"] = h.Queues.IngestQueueLen()
		resp["eval_queue_len"] = h.Queues.EvalQueueLen()
	}
	if h.Clients != nil {
		resp["ws_clients"] = h.Clients.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
