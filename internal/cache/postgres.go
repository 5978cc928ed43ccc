package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the Postgres store uses. pgxmock
// implements it for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	id               TEXT PRIMARY KEY,
	cache_key        TEXT NOT NULL,
	calculation_type TEXT NOT NULL,
	city_id          BIGINT,
	city_name        TEXT NOT NULL DEFAULT '',
	payload          JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (cache_key, calculation_type)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_city_name ON cache_entries(city_name);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, cache_key, calculation_type, city_id, city_name, payload, created_at, expires_at
		 FROM cache_entries WHERE cache_key = $1 AND expires_at > now() LIMIT 1`,
		key,
	)

	var e Entry
	err := row.Scan(&e.ID, &e.Key, &e.Type, &e.CityID, &e.CityName, &e.Payload, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	return &e, nil
}

func (s *PostgresStore) Put(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (id, cache_key, calculation_type, city_id, city_name, payload, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (cache_key, calculation_type) DO UPDATE SET
		   city_id = EXCLUDED.city_id,
		   city_name = EXCLUDED.city_name,
		   payload = EXCLUDED.payload,
		   created_at = EXCLUDED.created_at,
		   expires_at = EXCLUDED.expires_at`,
		e.ID, e.Key, e.Type, e.CityID, e.CityName, e.Payload, e.CreatedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteByCity(ctx context.Context, cityName, calcType, keepKey string) (int64, error) {
	query := `DELETE FROM cache_entries WHERE 1 = 1`
	var args []any

	if cityName != "" {
		args = append(args, cityName)
		query += fmt.Sprintf(` AND city_name = $%d`, len(args))
	}
	if calcType != "" {
		args = append(args, calcType)
		query += fmt.Sprintf(` AND calculation_type = $%d`, len(args))
	}
	if keepKey != "" {
		args = append(args, keepKey)
		query += fmt.Sprintf(` AND cache_key != $%d`, len(args))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete entries for %s", cityName)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByType: make(map[string]int)}

	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE expires_at > now()) FROM cache_entries`)
	if err := row.Scan(&st.Total, &st.Valid); err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	st.Expired = st.Total - st.Valid

	rows, err := s.pool.Query(ctx,
		`SELECT calculation_type, COUNT(*) FROM cache_entries GROUP BY calculation_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats by type")
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan type count")
		}
		st.ByType[t] = n
	}
	return st, eris.Wrap(rows.Err(), "postgres: cache stats iterate")
}
