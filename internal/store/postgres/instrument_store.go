package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantstream/tickalert/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool *pgxpool.Pool
}

// NewInstrumentStore creates a new InstrumentStore backed by the given pool.
func NewInstrumentStore(pool *pgxpool.Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

const instrumentSelectCols = `id, symbol, name, last_price, last_tick_at, created_at`

func scanInstrument(row pgx.Row) (domain.Instrument, error) {
	var (
		inst       domain.Instrument
		lastTickAt *time.Time
	)
	err := row.Scan(&inst.ID, &inst.Symbol, &inst.Name, &inst.LastPrice,
		&lastTickAt, &inst.CreatedAt)
	if err != nil {
		return domain.Instrument{}, err
	}
	if lastTickAt != nil {
		inst.LastTickAt = *lastTickAt
	}
	return inst, nil
}

// GetBySymbol returns the instrument with the given symbol, or
// domain.ErrNotFound.
func (s *InstrumentStore) GetBySymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments WHERE symbol = $1`, symbol)
	inst, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument %s: %w", symbol, err)
	}
	return inst, nil
}

// List returns all instruments ordered by symbol.
func (s *InstrumentStore) List(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	defer rows.Close()

	var instruments []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

// UpdateLast sets the instrument's last observed price and tick time.
func (s *InstrumentStore) UpdateLast(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE instruments SET last_price = $2, last_tick_at = $3 WHERE id = $1`,
		instrumentID, price, ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: update instrument %s: %w", instrumentID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.InstrumentStore = (*InstrumentStore)(nil)
