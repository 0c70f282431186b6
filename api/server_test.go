package api

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/backend/redis"
	"github.com/ceyewan/queuekit/clog"
	"github.com/ceyewan/queuekit/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	s := redis.New(redis.Config{Servers: []string{mr.Addr()}, Queue: "jobs"}, backend.WithLogger(clog.Nop()))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	telemetry, err := metrics.NewProvider(metrics.DefaultTracingConfig(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer telemetry.Shutdown(context.Background())

	srv, err := New("127.0.0.1:0", s, telemetry)
	require.NoError(t, err)
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Run())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"backend":"redis"`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get("http://" + srv.Addr() + "/healthz")
	assert.Error(t, err)
}

func TestServerListenError(t *testing.T) {
	srv, err := New("256.0.0.1:bad", redis.New(redis.Config{}), nil)
	require.NoError(t, err)
	assert.Error(t, srv.Run())
}
