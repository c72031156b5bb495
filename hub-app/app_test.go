package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/datahub/hub-app/config"
	apisrv "github.com/compose-network/datahub/server/api"
	"github.com/compose-network/datahub/x/snapshot"
)

func testConfig() *config.Config {
	api := apisrv.DefaultConfig()
	api.ListenAddr = "127.0.0.1:0"

	hub := snapshot.DefaultHubSettings()
	hub.TickInterval = 10 * time.Millisecond

	return &config.Config{
		Log:     config.LogConfig{Level: "info"},
		API:     api,
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Hub:     hub,
		Adapters: map[string]snapshot.RawAdapter{
			"relay": {
				Type: "udpsink",
				Init: map[string]any{"address": "127.0.0.1:9"},
			},
		},
	}
}

func TestAppRunServesAndStops(t *testing.T) {
	t.Parallel()

	app, err := NewApp(testConfig(), nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer addrCancel()
	addr, err := app.apiServer.Addr(addrCtx)
	require.NoError(t, err)
	base := "http://" + addr.String()

	res, err := http.Get(base + "/ready")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.Eventually(t, func() bool {
		res, err := http.Get(base + "/adapters/relay")
		if err != nil {
			return false
		}
		defer res.Body.Close()
		var body struct {
			Alive bool `json:"alive"`
		}
		return res.StatusCode == http.StatusOK && json.NewDecoder(res.Body).Decode(&body) == nil && body.Alive
	}, 2*time.Second, 10*time.Millisecond)

	res, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestNewAppRejectsInvalidSources(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Sources = map[string]snapshot.RawSource{"1": {Datacode: "z"}}

	_, err := NewApp(cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}
