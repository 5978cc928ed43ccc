package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresGetMiss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, cache_key, calculation_type, city_id, city_name, payload, created_at, expires_at`).
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetHit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "cache_key", "calculation_type", "city_id", "city_name", "payload", "created_at", "expires_at"}).
		AddRow("id-1", "k1", "satellite", (*int64)(nil), "Berlin", []byte(`{"pct":42}`), now, now.Add(time.Hour))

	mock.ExpectQuery(`SELECT id, cache_key, calculation_type, city_id, city_name, payload, created_at, expires_at`).
		WithArgs("k1").
		WillReturnRows(rows)

	got, err := s.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "satellite", got.Type)
	assert.Equal(t, "Berlin", got.CityName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO cache_entries .* ON CONFLICT \(cache_key, calculation_type\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "k1", "satellite", (*int64)(nil), "Berlin", []byte(`{}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Put(context.Background(), Entry{
		Key:       "k1",
		Type:      "satellite",
		CityName:  "Berlin",
		Payload:   []byte(`{}`),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM cache_entries WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteByCity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM cache_entries WHERE 1 = 1 AND city_name = \$1 AND calculation_type = \$2 AND cache_key != \$3`).
		WithArgs("Berlin", "satellite", "fresh").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := s.DeleteByCity(context.Background(), "Berlin", "satellite", "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
