package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnavailable means the cache backend cannot be reached. Callers degrade
// to direct computation rather than failing the request.
var ErrUnavailable = eris.New("cache backend unavailable")

// Entry is one persisted cache record. The payload is opaque to the store;
// only the orchestrator knows its shape per calculation type.
type Entry struct {
	ID        string    `json:"id"`
	Key       string    `json:"cache_key"`
	Type      string    `json:"calculation_type"`
	CityID    *int64    `json:"city_id,omitempty"`
	CityName  string    `json:"city_name,omitempty"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats summarizes cache occupancy.
type Stats struct {
	Total   int            `json:"total"`
	Valid   int            `json:"valid"`
	Expired int            `json:"expired"`
	ByType  map[string]int `json:"by_type"`
}

// Store persists cache entries. At most one live entry exists per
// (cache key, calculation type); Put overwrites atomically. Get treats a
// past expiry as a miss even before any sweep runs.
type Store interface {
	// Get returns the unexpired entry for a key, or nil on miss.
	Get(ctx context.Context, key string) (*Entry, error)
	// Put upserts an entry by (key, type).
	Put(ctx context.Context, e Entry) error
	// DeleteExpired removes entries whose expiry has passed.
	DeleteExpired(ctx context.Context) (int64, error)
	// DeleteByCity removes a city's entries, optionally filtered by
	// calculation type. An empty cityName matches every city; keepKey
	// spares one fresh entry from the purge.
	DeleteByCity(ctx context.Context, cityName, calcType, keepKey string) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
	Migrate(ctx context.Context) error
	Close() error
}
