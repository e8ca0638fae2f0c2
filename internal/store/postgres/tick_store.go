package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantstream/tickalert/internal/domain"
)

// TickStore implements domain.TickStore using PostgreSQL.
type TickStore struct {
	pool *pgxpool.Pool
}

// NewTickStore creates a new TickStore backed by the given connection pool.
func NewTickStore(pool *pgxpool.Pool) *TickStore {
	return &TickStore{pool: pool}
}

const tickSelectCols = `instrument_id, symbol, ts, price, volume, bid, ask,
	bid_size, ask_size, open, high, low`

func scanTickRows(rows pgx.Rows) ([]domain.Tick, error) {
	var ticks []domain.Tick
	for rows.Next() {
		var t domain.Tick
		if err := rows.Scan(
			&t.InstrumentID, &t.Symbol, &t.Timestamp, &t.Price,
			&t.Volume, &t.Bid, &t.Ask, &t.BidSize, &t.AskSize,
			&t.Open, &t.High, &t.Low,
		); err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// SaveTicks inserts all ticks in a single transaction: either every row of
// the batch commits or none do.
func (s *TickStore) SaveTicks(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	const query = `
		INSERT INTO ticks (
			instrument_id, symbol, ts, price, volume,
			bid, ask, bid_size, ask_size, open, high, low
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12
		)`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tick batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, t := range ticks {
		batch.Queue(query,
			t.InstrumentID, t.Symbol, t.Timestamp, t.Price, t.Volume,
			t.Bid, t.Ask, t.BidSize, t.AskSize, t.Open, t.High, t.Low,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range ticks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert tick batch item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close tick batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tick batch: %w", err)
	}
	return nil
}

// ListBefore returns up to limit ticks older than cutoff, oldest first.
func (s *TickStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Tick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tickSelectCols+` FROM ticks WHERE ts < $1 ORDER BY ts ASC LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks before %v: %w", cutoff, err)
	}
	defer rows.Close()

	ticks, err := scanTickRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ticks: %w", err)
	}
	return ticks, nil
}

// DeleteBefore removes ticks older than cutoff and returns the number of
// deleted rows.
func (s *TickStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ticks WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ticks before %v: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TickStore = (*TickStore)(nil)
