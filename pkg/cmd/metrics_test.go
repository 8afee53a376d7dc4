package cmd

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/pseudomuto/schemalock/pkg/config"
	"github.com/pseudomuto/schemalock/pkg/lock/locktest"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func scrape(t *testing.T, addr string) string {
	t.Helper()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsServer(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Addr = "127.0.0.1:0"

	env := NewEnv(cfg)
	require.NoError(t, env.startMetrics())
	require.NotNil(t, env.metrics)
	addr := env.metrics.Addr()

	tmpl := newTemplate(env, &cli.Command{}, locktest.NewStore())
	require.NoError(t, tmpl.Execute(context.Background(), "schema_history", func(context.Context) error {
		require.Contains(t, scrape(t, addr), `schemalock_held{resource="schema_history"} 1`)
		return nil
	}))

	body := scrape(t, addr)
	require.Contains(t, body, `schemalock_acquisitions_total{outcome="acquired",resource="schema_history"} 1`)
	require.Contains(t, body, `schemalock_held{resource="schema_history"} 0`)
	require.Contains(t, body, "go_goroutines")

	require.NoError(t, env.stopMetrics(context.Background()))
	require.Nil(t, env.metrics)

	_, err := http.Get("http://" + addr + "/metrics")
	require.Error(t, err)
}

func TestMetricsServer_Disabled(t *testing.T) {
	env := NewEnv(config.Default())
	require.NoError(t, env.startMetrics())
	require.Nil(t, env.metrics)
	require.NoError(t, env.stopMetrics(context.Background()))

	require.NoError(t, newTemplate(env, &cli.Command{}, locktest.NewStore()).Execute(context.Background(), "r", func(context.Context) error {
		return nil
	}))
}

func TestMetricsServer_BadAddress(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Addr = "not-an-address"

	err := NewEnv(cfg).startMetrics()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to listen on not-an-address")
}
