package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spot_trader/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          4,
		MinConns:          1,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

func NewPool(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// PostgresStore keeps one row per symbol. The full Position is stored as
// jsonb next to a few indexed columns; each Save is a single upsert.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgresStore connects to databaseURL and creates the positions table
// if needed. The pool is closed when migration fails.
func OpenPostgresStore(ctx context.Context, databaseURL string, cfg PoolConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, databaseURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open positions db: %w", ErrPersistence, err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the positions table if needed.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`create table if not exists positions (
			symbol      text primary key,
			id          text not null,
			state       text not null,
			halted      boolean not null default false,
			updated_at  timestamptz not null,
			doc         jsonb not null
		)`,
		`create index if not exists positions_state_idx on positions(state)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate positions: %w", ErrPersistence, err)
		}
	}
	return nil
}

func (r *PostgresStore) Load(ctx context.Context) (map[string]models.Position, error) {
	rows, err := r.pool.Query(ctx, `select symbol, doc from positions`)
	if err != nil {
		return nil, fmt.Errorf("%w: query positions: %w", ErrPersistence, err)
	}
	defer rows.Close()

	out := make(map[string]models.Position)
	for rows.Next() {
		var (
			symbol string
			doc    []byte
		)
		if err := rows.Scan(&symbol, &doc); err != nil {
			return nil, fmt.Errorf("%w: scan position: %w", ErrPersistence, err)
		}
		var p models.Position
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("%w: decode position %s: %w", ErrPersistence, symbol, err)
		}
		out[symbol] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate positions: %w", ErrPersistence, err)
	}
	return out, nil
}

func (r *PostgresStore) Save(ctx context.Context, p models.Position) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode position %s: %w", ErrPersistence, p.Symbol, err)
	}

	_, err = r.pool.Exec(ctx, `
		insert into positions(symbol, id, state, halted, updated_at, doc)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (symbol) do update set
			id = excluded.id,
			state = excluded.state,
			halted = excluded.halted,
			updated_at = excluded.updated_at,
			doc = excluded.doc
	`, p.Symbol, p.ID, string(p.State), p.Halted, time.Now().UTC(), doc)
	if err != nil {
		return fmt.Errorf("%w: upsert position %s: %w", ErrPersistence, p.Symbol, err)
	}
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, symbol string) error {
	if _, err := r.pool.Exec(ctx, `delete from positions where symbol = $1`, symbol); err != nil {
		return fmt.Errorf("%w: delete position %s: %w", ErrPersistence, symbol, err)
	}
	return nil
}

func (r *PostgresStore) Close() error {
	r.pool.Close()
	return nil
}
