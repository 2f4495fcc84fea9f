package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// InstrumentStore persists instrument definitions in PostgreSQL.
type InstrumentStore struct {
	pool *pgxpool.Pool
}

// NewInstrumentStore creates an InstrumentStore backed by the given pool.
func NewInstrumentStore(pool *pgxpool.Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

var _ domain.InstrumentStore = (*InstrumentStore)(nil)

const instrumentColumns = `id, exchange, tick_size, lambda, levels, enabled, created_at, updated_at`

// Upsert inserts an instrument or updates its configuration when the id
// already exists.
func (s *InstrumentStore) Upsert(ctx context.Context, inst domain.Instrument) error {
	const q = `
		INSERT INTO instruments (id, exchange, tick_size, lambda, levels, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			exchange   = EXCLUDED.exchange,
			tick_size  = EXCLUDED.tick_size,
			lambda     = EXCLUDED.lambda,
			levels     = EXCLUDED.levels,
			enabled    = EXCLUDED.enabled,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, q,
		inst.ID, inst.Exchange, inst.TickSize, inst.Lambda, inst.Levels, inst.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upsert instrument %s: %w", inst.ID, err)
	}
	return nil
}

// GetByID fetches a single instrument, returning domain.ErrNotFound when no
// row matches.
func (s *InstrumentStore) GetByID(ctx context.Context, id string) (domain.Instrument, error) {
	q := `SELECT ` + instrumentColumns + ` FROM instruments WHERE id = $1`

	inst, err := scanInstrument(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, fmt.Errorf("instrument %s: %w", id, domain.ErrNotFound)
		}
		return domain.Instrument{}, fmt.Errorf("get instrument %s: %w", id, err)
	}
	return inst, nil
}

// ListEnabled returns all enabled instruments ordered by id.
func (s *InstrumentStore) ListEnabled(ctx context.Context) ([]domain.Instrument, error) {
	q := `SELECT ` + instrumentColumns + ` FROM instruments WHERE enabled ORDER BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list enabled instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruments: %w", err)
	}
	return out, nil
}

// Count returns the total number of instruments.
func (s *InstrumentStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM instruments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count instruments: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (domain.Instrument, error) {
	var inst domain.Instrument
	err := row.Scan(
		&inst.ID,
		&inst.Exchange,
		&inst.TickSize,
		&inst.Lambda,
		&inst.Levels,
		&inst.Enabled,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return domain.Instrument{}, err
	}
	return inst, nil
}
