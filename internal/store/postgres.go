package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
)

// Pool is the part of *pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool, for deployments that share
// one cache across several browser instances.
type PostgresStore struct {
	pool  Pool
	clock clockwork.Clock
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlGetPayload    = `SELECT payload FROM payload_cache WHERE url = $1 AND expires_at > $2`
	sqlSetPayload    = `INSERT INTO payload_cache (id, url, payload, fetched_at, expires_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (url) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at, expires_at = EXCLUDED.expires_at`
	sqlDeleteExpired = `DELETE FROM payload_cache WHERE expires_at <= $1`
	sqlInsertLoad    = `INSERT INTO loads (id, years, status, started_at) VALUES ($1, $2, $3, $4)`
	sqlFinishLoad    = `UPDATE loads SET status = $1, error = $2, warnings = $3, finished_at = $4 WHERE id = $5`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_payload":             sqlGetPayload,
	"set_payload":             sqlSetPayload,
	"delete_expired_payloads": sqlDeleteExpired,
	"insert_load":             sqlInsertLoad,
	"finish_load":             sqlFinishLoad,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// The tables may not exist before the first Migrate.
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('loads') IS NOT NULL`).Scan(&exists); err != nil || !exists {
			return nil
		}
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, clock: clockwork.NewRealClock()}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS payload_cache (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url        TEXT NOT NULL UNIQUE,
	payload    BYTEA NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS loads (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	years       JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	warnings    INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_payload_cache_expires_at ON payload_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_loads_status ON loads(status);
CREATE INDEX IF NOT EXISTS idx_loads_started_at ON loads(started_at DESC);
`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) now() time.Time {
	return s.clock.Now().UTC()
}

// GetPayload returns the cached body for url, or nil when absent or expired.
func (s *PostgresStore) GetPayload(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, sqlGetPayload, url, s.now()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get payload %s", url)
	}
	return data, nil
}

// SetPayload stores data for url, replacing any earlier entry.
func (s *PostgresStore) SetPayload(ctx context.Context, url string, data []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.pool.Exec(ctx, sqlSetPayload, uuid.New().String(), url, data, now, now.Add(ttl))
	return eris.Wrapf(err, "postgres: set payload %s", url)
}

// DeleteExpiredPayloads removes expired entries and returns how many.
func (s *PostgresStore) DeleteExpiredPayloads(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, sqlDeleteExpired, s.now())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired payloads")
	}
	return int(tag.RowsAffected()), nil
}

// StartLoad records a running load.
func (s *PostgresStore) StartLoad(ctx context.Context, years []int) (*Load, error) {
	id := uuid.New().String()
	now := s.now()

	yearsJSON, err := json.Marshal(years)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal years")
	}
	if _, err := s.pool.Exec(ctx, sqlInsertLoad, id, yearsJSON, string(LoadStatusRunning), now); err != nil {
		return nil, eris.Wrap(err, "postgres: insert load")
	}
	return &Load{ID: id, Years: years, Status: LoadStatusRunning, StartedAt: now}, nil
}

// FinishLoad marks a load complete, or failed when loadErr is non-nil.
func (s *PostgresStore) FinishLoad(ctx context.Context, id string, warnings int, loadErr error) error {
	status := LoadStatusComplete
	var msg *string
	if loadErr != nil {
		status = LoadStatusFailed
		m := loadErr.Error()
		msg = &m
	}
	tag, err := s.pool.Exec(ctx, sqlFinishLoad, string(status), msg, warnings, s.now(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish load %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("load not found: %s", id)
	}
	return nil
}

// ListLoads returns loads newest first.
func (s *PostgresStore) ListLoads(ctx context.Context, filter LoadFilter) ([]Load, error) {
	query := `SELECT id, years, status, error, warnings, started_at, finished_at FROM loads WHERE 1=1`
	var args []any
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argN)
		args = append(args, string(filter.Status))
		argN++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argN)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list loads")
	}
	defer rows.Close()

	var loads []Load
	for rows.Next() {
		var (
			l         Load
			yearsJSON []byte
			status    string
			msg       *string
			finished  *time.Time
		)
		if err := rows.Scan(&l.ID, &yearsJSON, &status, &msg, &l.Warnings, &l.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan load")
		}
		if err := json.Unmarshal(yearsJSON, &l.Years); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal load years")
		}
		l.Status = LoadStatus(status)
		if msg != nil {
			l.Error = *msg
		}
		if finished != nil {
			f := finished.UTC()
			l.FinishedAt = &f
		}
		l.StartedAt = l.StartedAt.UTC()
		loads = append(loads, l)
	}
	return loads, eris.Wrap(rows.Err(), "postgres: list loads iterate")
}
