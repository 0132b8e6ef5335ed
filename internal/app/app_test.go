package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vlikcc/yargisalzekav2/internal/config"
)

// baseConfig returns the validated defaults with an ephemeral listen port.
// Each test passes its own registry so progress collectors never collide.
func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	return cfg
}

func TestNewBuildsDefaultServices(t *testing.T) {
	cfg := baseConfig(t)

	a, err := newApp(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.Logger())
	require.NotNil(t, a.engine)
	require.NotNil(t, a.server)
	require.NotNil(t, a.store)
	require.NotNil(t, a.provider)
	require.NotNil(t, a.hub)
	require.NotNil(t, a.prober, "probe is enabled by default")
	require.Nil(t, a.publisher, "publishing is disabled by default")
	require.Nil(t, a.closePublisher)
	require.Nil(t, a.shutdownTracing, "tracing is disabled by default")
}

func TestNewWiresMemoryPublisher(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Publish.Backend = "memory"
	cfg.Publish.TopicName = "search-events"

	a, err := newApp(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.publisher)
	require.Nil(t, a.closePublisher, "in-memory publisher needs no teardown")
}

func TestNewSkipsProberWhenDisabled(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Probe.Enabled = false

	a, err := newApp(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.Nil(t, a.prober)
}

func TestNewRejectsUnknownCacheBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Cache.Backend = "redis"

	_, err := newApp(context.Background(), cfg, prometheus.NewRegistry())
	require.ErrorContains(t, err, "unknown cache backend")
}

func TestNewRejectsUnknownPublishBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Publish.Backend = "kafka"

	_, err := newApp(context.Background(), cfg, prometheus.NewRegistry())
	require.ErrorContains(t, err, "unknown publish backend")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Probe.Enabled = false

	a, err := newApp(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to bind before asking it to drain.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
