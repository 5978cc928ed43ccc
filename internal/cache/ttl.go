package cache

import (
	"time"

	"github.com/parkscope/greencover/internal/config"
)

// CalcType identifies what kind of computation a cache entry holds. The
// known types form a closed set; callers with bespoke computations go
// through Custom so the expiration policy lookup stays total.
type CalcType struct {
	name string
}

var (
	// CalcSatellite marks full raster analyses, the expensive kind.
	CalcSatellite = CalcType{"satellite"}
	// CalcStats marks aggregate statistics over stored results.
	CalcStats = CalcType{"stats"}
	// CalcStored marks lookups of previously persisted records.
	CalcStored = CalcType{"stored"}
)

// Custom wraps a caller-supplied calculation tag. Custom types fall back
// to the default TTL.
func Custom(tag string) CalcType {
	return CalcType{name: tag}
}

func (t CalcType) String() string {
	return t.name
}

// TTLPolicy maps calculation types to their default time-to-live.
type TTLPolicy struct {
	satellite time.Duration
	stats     time.Duration
	fallback  time.Duration
}

// NewTTLPolicy builds the policy from cache configuration, filling in
// standard defaults for unset values.
func NewTTLPolicy(cfg config.CacheConfig) TTLPolicy {
	p := TTLPolicy{
		satellite: time.Duration(cfg.SatelliteTTLHours) * time.Hour,
		stats:     time.Duration(cfg.StatsTTLHours) * time.Hour,
		fallback:  time.Duration(cfg.DefaultTTLHours) * time.Hour,
	}
	if p.satellite <= 0 {
		p.satellite = 72 * time.Hour
	}
	if p.stats <= 0 {
		p.stats = 12 * time.Hour
	}
	if p.fallback <= 0 {
		p.fallback = 24 * time.Hour
	}
	return p
}

// For returns the default TTL for a calculation type.
func (p TTLPolicy) For(t CalcType) time.Duration {
	switch t {
	case CalcSatellite:
		return p.satellite
	case CalcStats:
		return p.stats
	default:
		return p.fallback
	}
}
