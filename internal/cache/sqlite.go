package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	id               TEXT PRIMARY KEY,
	cache_key        TEXT NOT NULL,
	calculation_type TEXT NOT NULL,
	city_id          INTEGER,
	city_name        TEXT NOT NULL DEFAULT '',
	payload          TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	expires_at       DATETIME NOT NULL,
	UNIQUE (cache_key, calculation_type)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_city_name ON cache_entries(city_name);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cache_key, calculation_type, city_id, city_name, payload, created_at, expires_at
		 FROM cache_entries WHERE cache_key = ? LIMIT 1`,
		key,
	)

	var e Entry
	var payload string
	err := row.Scan(&e.ID, &e.Key, &e.Type, &e.CityID, &e.CityName, &payload, &e.CreatedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	// Expiry is checked at read time; the sweep only reclaims storage.
	if !e.ExpiresAt.After(time.Now().UTC()) {
		return nil, nil
	}
	e.Payload = []byte(payload)
	return &e, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (id, cache_key, calculation_type, city_id, city_name, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (cache_key, calculation_type) DO UPDATE SET
		   city_id = excluded.city_id,
		   city_name = excluded.city_name,
		   payload = excluded.payload,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		e.ID, e.Key, e.Type, e.CityID, e.CityName, string(e.Payload), e.CreatedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete expired rows affected")
}

func (s *SQLiteStore) DeleteByCity(ctx context.Context, cityName, calcType, keepKey string) (int64, error) {
	query := `DELETE FROM cache_entries WHERE 1 = 1`
	var args []any

	if cityName != "" {
		query += ` AND city_name = ?`
		args = append(args, cityName)
	}
	if calcType != "" {
		query += ` AND calculation_type = ?`
		args = append(args, calcType)
	}
	if keepKey != "" {
		query += ` AND cache_key != ?`
		args = append(args, keepKey)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete entries for %s", cityName)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete by city rows affected")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	now := time.Now().UTC()
	st := &Stats{ByType: make(map[string]int)}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(expires_at > ?), 0) FROM cache_entries`, now)
	if err := row.Scan(&st.Total, &st.Valid); err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	st.Expired = st.Total - st.Valid

	rows, err := s.db.QueryContext(ctx,
		`SELECT calculation_type, COUNT(*) FROM cache_entries GROUP BY calculation_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats by type")
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan type count")
		}
		st.ByType[t] = n
	}
	return st, eris.Wrap(rows.Err(), "sqlite: cache stats iterate")
}
