package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantstream/tickalert/internal/domain"
)

// RuleStore implements domain.RuleStore using PostgreSQL.
type RuleStore struct {
	pool *pgxpool.Pool
}

// NewRuleStore creates a new RuleStore backed by the given connection pool.
func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

// LoadActiveByInstrument loads every active rule grouped by instrument ID.
// Inactive rules never appear in the result.
func (s *RuleStore) LoadActiveByInstrument(ctx context.Context) (map[string][]domain.AlertRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instrument_id, name, rule_type, condition, threshold,
		       time_window_seconds, cooldown_seconds, active,
		       last_triggered_at, created_at, updated_at
		FROM alert_rules
		WHERE active
		ORDER BY instrument_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load active rules: %w", err)
	}
	defer rows.Close()

	byInstrument := make(map[string][]domain.AlertRule)
	for rows.Next() {
		var r domain.AlertRule
		if err := rows.Scan(
			&r.ID, &r.InstrumentID, &r.Name, &r.Type, &r.Condition,
			&r.Threshold, &r.TimeWindowSeconds, &r.CooldownSeconds,
			&r.Active, &r.LastTriggeredAt, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan rule: %w", err)
		}
		byInstrument[r.InstrumentID] = append(byInstrument[r.InstrumentID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load active rules: %w", err)
	}
	return byInstrument, nil
}

// Compile-time interface check.
var _ domain.RuleStore = (*RuleStore)(nil)
