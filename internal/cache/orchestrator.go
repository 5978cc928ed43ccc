package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/model"
)

// ComputeFunc produces the value for a cache miss. The returned value is
// JSON-serialized into the entry payload.
type ComputeFunc func(ctx context.Context) (any, error)

// Request describes one cache-or-compute lookup.
type Request struct {
	Type     CalcType
	Params   map[string]any
	TTL      time.Duration // 0 means the policy default for Type
	CityID   *int64
	CityName string
}

// Orchestrator sits between callers and the cache store. It derives keys,
// applies the expiration policy, and degrades to direct computation when
// the store is unreachable.
type Orchestrator struct {
	store  Store
	policy TTLPolicy
}

func NewOrchestrator(store Store, policy TTLPolicy) *Orchestrator {
	return &Orchestrator{store: store, policy: policy}
}

// GetOrCompute returns the cached payload for the request, computing and
// caching it on a miss. Compute failures propagate uncached. A broken
// store downgrades to compute-only with a warning; it never fails the
// request on its own.
func (o *Orchestrator) GetOrCompute(ctx context.Context, req Request, fn ComputeFunc) ([]byte, bool, error) {
	key := Key(req.Type, req.Params)

	entry, err := o.store.Get(ctx, key)
	if err != nil {
		zap.L().Warn("cache: lookup failed, computing directly",
			zap.String("type", req.Type.String()),
			zap.Error(err))
	}
	if entry != nil {
		zap.L().Debug("cache: hit",
			zap.String("type", req.Type.String()),
			zap.String("key", key))
		return entry.Payload, true, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: marshal payload")
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = o.policy.For(req.Type)
	}
	put := Entry{
		Key:       key,
		Type:      req.Type.String(),
		CityID:    req.CityID,
		CityName:  req.CityName,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := o.store.Put(ctx, put); err != nil {
		zap.L().Warn("cache: write failed, returning uncached result",
			zap.String("type", req.Type.String()),
			zap.Error(err))
	} else {
		o.sweep(ctx)
	}
	return payload, false, nil
}

// CoverageKey derives the cache key a coverage request would use, for
// callers that need it before or after the lookup (e.g., invalidation that
// spares the fresh entry).
func (o *Orchestrator) CoverageKey(req Request) string {
	return Key(req.Type, req.Params)
}

// Coverage is a typed wrapper around GetOrCompute for coverage results.
// The bool reports whether the result came from cache.
func (o *Orchestrator) Coverage(ctx context.Context, req Request, fn func(ctx context.Context) (*model.CoverageResult, error)) (*model.CoverageResult, bool, error) {
	payload, hit, err := o.GetOrCompute(ctx, req, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, false, err
	}

	var res model.CoverageResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, false, eris.Wrap(err, "cache: unmarshal coverage result")
	}
	return &res, hit, nil
}

// Invalidate removes a city's cache entries, optionally filtered by type.
// A zero CalcType matches every type; an empty cityName every city, which
// is how cross-city aggregates get dropped when one city changes.
func (o *Orchestrator) Invalidate(ctx context.Context, cityName string, calcType CalcType) (int64, error) {
	return o.store.DeleteByCity(ctx, cityName, calcType.String(), "")
}

// InvalidateStale removes a city's entries for a type except the fresh key.
func (o *Orchestrator) InvalidateStale(ctx context.Context, cityName string, calcType CalcType, keepKey string) (int64, error) {
	return o.store.DeleteByCity(ctx, cityName, calcType.String(), keepKey)
}

// Stats reports cache occupancy.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	return o.store.Stats(ctx)
}

// SweepExpired removes expired entries and reports the count.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int64, error) {
	return o.store.DeleteExpired(ctx)
}

// sweep is the opportunistic variant; failures are logged, never returned.
func (o *Orchestrator) sweep(ctx context.Context) {
	n, err := o.store.DeleteExpired(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Warn("cache: expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Debug("cache: swept expired entries", zap.Int64("count", n))
	}
}
