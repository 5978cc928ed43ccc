package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parkscope/greencover/internal/config"
)

func TestTTLPolicyDefaults(t *testing.T) {
	p := NewTTLPolicy(config.CacheConfig{})

	assert.Equal(t, 72*time.Hour, p.For(CalcSatellite))
	assert.Equal(t, 12*time.Hour, p.For(CalcStats))
	assert.Equal(t, 24*time.Hour, p.For(CalcStored))
	assert.Equal(t, 24*time.Hour, p.For(Custom("landuse")))
}

func TestTTLPolicyConfigured(t *testing.T) {
	p := NewTTLPolicy(config.CacheConfig{
		SatelliteTTLHours: 6,
		StatsTTLHours:     1,
		DefaultTTLHours:   2,
	})

	assert.Equal(t, 6*time.Hour, p.For(CalcSatellite))
	assert.Equal(t, time.Hour, p.For(CalcStats))
	assert.Equal(t, 2*time.Hour, p.For(Custom("anything")))
}
