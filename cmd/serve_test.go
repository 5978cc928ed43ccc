package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkscope/greencover/internal/config"
	"github.com/parkscope/greencover/internal/scheduler"
)

func TestHealthEndpoint(t *testing.T) {
	cfg = &config.Config{}
	srv := &server{env: &appEnv{}, sched: scheduler.New(nil, nil, cfg.Schedule)}

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestCacheHeader(t *testing.T) {
	assert.Equal(t, "HIT", cacheHeader(true))
	assert.Equal(t, "MISS", cacheHeader(false))
}
