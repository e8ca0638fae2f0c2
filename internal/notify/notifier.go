// Package notify dispatches fired alerts to delivery channels. The channels
// themselves (chat webhooks, sound, ...) are external collaborators; this
// package owns only the fan-out and the per-channel success contract the
// alert engine maps onto an AlertRecord's delivery status.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantstream/tickalert/internal/domain"
)

// Sender is the interface each delivery channel must implement.
type Sender interface {
	// Send delivers one fired alert. A nil return means the channel accepted it.
	Send(ctx context.Context, rec domain.AlertRecord) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier fans a fired alert out to every registered sender and reports
// per-channel success. A single sender failure never prevents delivery to the
// remaining senders.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders.
func NewNotifier(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends rec to all senders and returns a map of sender name to
// delivery success. The map is empty when no senders are configured.
func (n *Notifier) Notify(ctx context.Context, rec domain.AlertRecord) map[string]bool {
	results := make(map[string]bool, len(n.senders))
	for _, s := range n.senders {
		if err := s.Send(ctx, rec); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("alert_id", rec.ID),
				slog.String("error", err.Error()),
			)
			results[s.Name()] = false
			continue
		}
		results[s.Name()] = true
	}
	return results
}

// Status collapses per-channel results into the AlertRecord delivery status:
// delivered when every channel accepted, failed when any channel refused,
// pending when no channels are configured.
func Status(results map[string]bool) domain.DeliveryStatus {
	if len(results) == 0 {
		return domain.DeliveryPending
	}
	for _, ok := range results {
		if !ok {
			return domain.DeliveryFailed
		}
	}
	return domain.DeliveryDelivered
}

// Describe renders the standard one-line alert message used both for
// delivery channels and the persisted record.
func Describe(rec domain.AlertRecord) string {
	return fmt.Sprintf("%s %s %s: value %.4f crossed threshold %.4f",
		rec.Symbol, rec.RuleName, rec.Condition, rec.TriggerValue, rec.ThresholdValue)
}
