package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantstream/tickalert/internal/domain"
)

const (
	// archivePageLimit caps how many rows one archive pass pulls per page, so
	// a long retention backlog is drained in bounded memory.
	archivePageLimit = 50_000

	// multipartThreshold switches the upload to the multipart manager when a
	// page serializes past this size.
	multipartThreshold = 8 * 1024 * 1024

	ndjsonContentType = "application/x-ndjson"
)

// Archiver moves expired ticks and alert records out of Postgres into
// JSONL objects in the blob store, then deletes the archived rows. Each
// page is deleted only after its upload succeeded, so a failed run never
// loses data, it only leaves rows for the next run.
type Archiver struct {
	writer domain.BlobWriter
	ticks  domain.TickStore
	alerts domain.AlertStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, ticks domain.TickStore, alerts domain.AlertStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		ticks:  ticks,
		alerts: alerts,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

type tickArchiveRow struct {
	InstrumentID string    `json:"instrument_id"`
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"ts"`
	Price        float64   `json:"price"`
	Volume       *float64  `json:"volume,omitempty"`
	Bid          *float64  `json:"bid,omitempty"`
	Ask          *float64  `json:"ask,omitempty"`
}

type alertArchiveRow struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"ts"`
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

// ArchiveTicks archives and deletes all ticks older than cutoff, returning
// the number of archived rows.
func (a *Archiver) ArchiveTicks(ctx context.Context, cutoff time.Time) (int64, error) {
	runAt := time.Now().UTC()
	var total int64
	for page := 0; ; page++ {
		ticks, err := a.ticks.ListBefore(ctx, cutoff, archivePageLimit)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive ticks query: %w", err)
		}
		if len(ticks) == 0 {
			return total, nil
		}

		rows := make([]tickArchiveRow, len(ticks))
		for i, t := range ticks {
			rows[i] = tickArchiveRow{
				InstrumentID: t.InstrumentID,
				Symbol:       t.Symbol,
				Timestamp:    t.Timestamp,
				Price:        t.Price,
				Volume:       t.Volume,
				Bid:          t.Bid,
				Ask:          t.Ask,
			}
		}

		path := archivePath("ticks", cutoff, runAt, page)
		if err := uploadPage(ctx, a.writer, path, rows); err != nil {
			return total, err
		}

		// The page is oldest-first, so deleting up to just past the newest
		// listed row removes exactly what was uploaded.
		pageEnd := ticks[len(ticks)-1].Timestamp.Add(time.Nanosecond)
		if pageEnd.After(cutoff) {
			pageEnd = cutoff
		}
		deleted, err := a.ticks.DeleteBefore(ctx, pageEnd)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive ticks delete: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "tick archive page written",
			slog.String("path", path),
			slog.Int("rows", len(ticks)),
			slog.Int64("deleted", deleted),
		)
		if len(ticks) < archivePageLimit {
			return total, nil
		}
	}
}

// ArchiveAlerts archives and deletes all alert records older than cutoff,
// returning the number of archived rows.
func (a *Archiver) ArchiveAlerts(ctx context.Context, cutoff time.Time) (int64, error) {
	runAt := time.Now().UTC()
	var total int64
	for page := 0; ; page++ {
		recs, err := a.alerts.ListBefore(ctx, cutoff, archivePageLimit)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive alerts query: %w", err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		rows := make([]alertArchiveRow, len(recs))
		for i, rec := range recs {
			rows[i] = alertArchiveRow{
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
			}
		}

		path := archivePath("alerts", cutoff, runAt, page)
		if err := uploadPage(ctx, a.writer, path, rows); err != nil {
			return total, err
		}

		pageEnd := recs[len(recs)-1].Timestamp.Add(time.Nanosecond)
		if pageEnd.After(cutoff) {
			pageEnd = cutoff
		}
		deleted, err := a.alerts.DeleteBefore(ctx, pageEnd)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive alerts delete: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "alert archive page written",
			slog.String("path", path),
			slog.Int("rows", len(recs)),
			slog.Int64("deleted", deleted),
		)
		if len(recs) < archivePageLimit {
			return total, nil
		}
	}
}

// uploadPage serializes one page as JSONL and writes it, switching to
// multipart for oversized pages.
func uploadPage[T any](ctx context.Context, writer domain.BlobWriter, path string, rows []T) error {
	buf, err := marshalJSONL(rows)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal %s: %w", path, err)
	}
	if len(buf) >= multipartThreshold {
		if err := writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold); err != nil {
			return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
		}
		return nil
	}
	if err := writer.Put(ctx, path, bytes.NewReader(buf), ndjsonContentType); err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	return nil
}

// archivePath builds the object key for one archive page, partitioned by the
// cutoff month and stamped with the run so reruns never overwrite earlier
// uploads.
//
//	archive/ticks/2026-08/20260826T031500Z-0000.jsonl
func archivePath(kind string, cutoff, runAt time.Time, page int) string {
	return fmt.Sprintf("archive/%s/%s/%s-%04d.jsonl",
		kind, cutoff.Format("2006-01"), runAt.Format("20060102T150405Z"), page)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
