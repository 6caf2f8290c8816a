package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as Unix milliseconds and compared against the store's clock.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *SQLiteStore) { s.clock = c }
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: db, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS payload_cache (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	payload    BLOB NOT NULL,
	fetched_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS loads (
	id          TEXT PRIMARY KEY,
	years       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	warnings    INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_payload_cache_expires_at ON payload_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_loads_status ON loads(status);
CREATE INDEX IF NOT EXISTS idx_loads_started_at ON loads(started_at);
`

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() time.Time {
	return s.clock.Now().UTC()
}

// GetPayload returns the cached body for url, or nil when absent or expired.
func (s *SQLiteStore) GetPayload(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM payload_cache WHERE url = ? AND expires_at > ?`,
		url, s.now().UnixMilli(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get payload %s", url)
	}
	return data, nil
}

// SetPayload stores data for url, replacing any earlier entry.
func (s *SQLiteStore) SetPayload(ctx context.Context, url string, data []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payload_cache (id, url, payload, fetched_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`,
		uuid.New().String(), url, data, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: set payload %s", url)
}

// DeleteExpiredPayloads removes expired entries and returns how many.
func (s *SQLiteStore) DeleteExpiredPayloads(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM payload_cache WHERE expires_at <= ?`, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired payloads")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// StartLoad records a running load.
func (s *SQLiteStore) StartLoad(ctx context.Context, years []int) (*Load, error) {
	id := uuid.New().String()
	now := s.now()

	yearsJSON, err := json.Marshal(years)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal years")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO loads (id, years, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(yearsJSON), string(LoadStatusRunning), now.UnixMilli(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert load")
	}
	return &Load{ID: id, Years: years, Status: LoadStatusRunning, StartedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

// FinishLoad marks a load complete, or failed when loadErr is non-nil.
func (s *SQLiteStore) FinishLoad(ctx context.Context, id string, warnings int, loadErr error) error {
	status := LoadStatusComplete
	var msg sql.NullString
	if loadErr != nil {
		status = LoadStatusFailed
		msg = sql.NullString{String: loadErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE loads SET status = ?, error = ?, warnings = ?, finished_at = ? WHERE id = ?`,
		string(status), msg, warnings, s.now().UnixMilli(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish load %s", id)
	}
	return checkRowsAffected(res, "load", id)
}

// ListLoads returns loads newest first.
func (s *SQLiteStore) ListLoads(ctx context.Context, filter LoadFilter) ([]Load, error) {
	query := `SELECT id, years, status, error, warnings, started_at, finished_at FROM loads WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list loads")
	}
	defer rows.Close() //nolint:errcheck

	var loads []Load
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		loads = append(loads, *l)
	}
	return loads, eris.Wrap(rows.Err(), "sqlite: list loads iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLoad(row scannable) (*Load, error) {
	var (
		l         Load
		yearsJSON string
		status    string
		msg       sql.NullString
		started   int64
		finished  sql.NullInt64
	)
	if err := row.Scan(&l.ID, &yearsJSON, &status, &msg, &l.Warnings, &started, &finished); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan load")
	}
	if err := json.Unmarshal([]byte(yearsJSON), &l.Years); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal load years")
	}
	l.Status = LoadStatus(status)
	l.Error = msg.String
	l.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		l.FinishedAt = &t
	}
	return &l, nil
}
