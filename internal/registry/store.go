package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/parkscope/greencover/internal/model"
)

// Store persists the city registry and their coverage records in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the registry database and configures WAL mode.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "registry: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS cities (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	country    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS coverage_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	city_id    INTEGER NOT NULL REFERENCES cities(id),
	year       INTEGER NOT NULL,
	result     TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (city_id, year)
);

CREATE INDEX IF NOT EXISTS idx_coverage_records_year ON coverage_records(year);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "registry: migrate")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertCity inserts a city or updates its country, returning the row.
func (s *Store) UpsertCity(ctx context.Context, name, country string) (*model.City, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cities (name, country, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET country = excluded.country`,
		name, country, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: upsert city %s", name)
	}
	return s.GetCity(ctx, name)
}

// GetCity returns a city by name, or nil when unknown.
func (s *Store) GetCity(ctx context.Context, name string) (*model.City, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, country, created_at FROM cities WHERE name = ?`, name)

	var c model.City
	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: get city %s", name)
	}
	return &c, nil
}

// ListCities returns every registered city, name-ordered.
func (s *Store) ListCities(ctx context.Context) ([]model.City, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, country, created_at FROM cities ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list cities")
	}
	defer rows.Close()

	var cities []model.City
	for rows.Next() {
		var c model.City
		if err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "registry: scan city")
		}
		cities = append(cities, c)
	}
	return cities, eris.Wrap(rows.Err(), "registry: list cities iterate")
}

// SaveRecord upserts the coverage record for a (city, year) pair. The city
// row is created on demand.
func (s *Store) SaveRecord(ctx context.Context, cityName string, year int, result model.CoverageResult) (*model.CoverageRecord, error) {
	city, err := s.UpsertCity(ctx, cityName, "")
	if err != nil {
		return nil, err
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "registry: marshal result")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO coverage_records (city_id, year, result, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (city_id, year) DO UPDATE SET
		   result = excluded.result,
		   updated_at = excluded.updated_at`,
		city.ID, year, string(resultJSON), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: save record for %s/%d", cityName, year)
	}
	return s.GetRecord(ctx, cityName, year)
}

// GetRecord returns the coverage record for a (city, year), or nil.
func (s *Store) GetRecord(ctx context.Context, cityName string, year int) (*model.CoverageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.city_id, c.name, r.year, r.result, r.updated_at
		 FROM coverage_records r JOIN cities c ON c.id = r.city_id
		 WHERE c.name = ? AND r.year = ?`,
		cityName, year,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: get record for %s/%d", cityName, year)
	}
	return rec, nil
}

// ListRecords returns coverage records, optionally filtered by year
// (0 means all), ordered by city name then year.
func (s *Store) ListRecords(ctx context.Context, year int) ([]model.CoverageRecord, error) {
	query := `SELECT r.id, r.city_id, c.name, r.year, r.result, r.updated_at
	          FROM coverage_records r JOIN cities c ON c.id = r.city_id`
	var args []any
	if year != 0 {
		query += ` WHERE r.year = ?`
		args = append(args, year)
	}
	query += ` ORDER BY c.name, r.year`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list records")
	}
	defer rows.Close()

	var records []model.CoverageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "registry: scan record")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "registry: list records iterate")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.CoverageRecord, error) {
	var rec model.CoverageRecord
	var resultJSON string
	if err := row.Scan(&rec.ID, &rec.CityID, &rec.CityName, &rec.Year, &resultJSON, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal result")
	}
	return &rec, nil
}
