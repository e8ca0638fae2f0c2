package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantstream/tickalert/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, ts, rule_id, instrument_id, symbol, rule_name,
	condition, trigger_value, threshold_value, fired_status, delivery_status,
	evaluation_time_ms, message`

func scanAlertRows(rows pgx.Rows) ([]domain.AlertRecord, error) {
	var records []domain.AlertRecord
	for rows.Next() {
		var rec domain.AlertRecord
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.RuleID, &rec.InstrumentID,
			&rec.Symbol, &rec.RuleName, &rec.Condition, &rec.TriggerValue,
			&rec.ThresholdValue, &rec.FiredStatus, &rec.DeliveryStatus,
			&rec.EvaluationTimeMs, &rec.Message,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveFired inserts the alert record and stamps the rule's last_triggered_at
// in the same transaction, so the fire and the suppression state can never
// diverge.
func (s *AlertStore) SaveFired(ctx context.Context, rec domain.AlertRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save alert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO alert_records (
			id, ts, rule_id, instrument_id, symbol, rule_name,
			condition, trigger_value, threshold_value,
			fired_status, delivery_status, evaluation_time_ms, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Timestamp, rec.RuleID, rec.InstrumentID, rec.Symbol,
		rec.RuleName, rec.Condition, rec.TriggerValue, rec.ThresholdValue,
		rec.FiredStatus, rec.DeliveryStatus, rec.EvaluationTimeMs, rec.Message,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE alert_rules
		SET last_triggered_at = $2, updated_at = NOW()
		WHERE id = $1`,
		rec.RuleID, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: stamp rule %s: %w", rec.RuleID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save alert: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus records what the notification collaborator did with a
// fired alert. The rest of the record stays immutable.
func (s *AlertStore) UpdateDeliveryStatus(ctx context.Context, alertID string, status domain.DeliveryStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_records SET delivery_status = $2 WHERE id = $1`,
		alertID, status,
	)
	if err != nil {
		return fmt.Errorf("postgres: update delivery status %s: %w", alertID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns up to limit alert records, newest first.
func (s *AlertStore) ListRecent(ctx context.Context, limit int) ([]domain.AlertRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertSelectCols+` FROM alert_records ORDER BY ts DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent alerts: %w", err)
	}
	defer rows.Close()

	records, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts: %w", err)
	}
	return records, nil
}

// ListBefore returns up to limit alert records older than cutoff, oldest
// first.
func (s *AlertStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AlertRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertSelectCols+` FROM alert_records WHERE ts < $1 ORDER BY ts ASC LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts before %v: %w", cutoff, err)
	}
	defer rows.Close()

	records, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts: %w", err)
	}
	return records, nil
}

// DeleteBefore removes alert records older than cutoff and returns the number
// of deleted rows.
func (s *AlertStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_records WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts before %v: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.AlertStore = (*AlertStore)(nil)
