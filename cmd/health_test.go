package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/pkg/server"
)

func newHealthServer(t *testing.T, healthStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(healthStatus)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"service_name": server.ServiceName,
			"version":      "1.2.3",
			"commit":       "abc1234",
			"uptime":       "5m0s",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testHealthDeps(client *http.Client, grpcStatus string, grpcErr error) (*HealthCommandDeps, *string) {
	var askedService string
	cfg := config.DefaultConfig()
	return &HealthCommandDeps{
		Config:     func() *config.Config { return cfg },
		HTTPClient: client,
		CheckGRPC: func(ctx context.Context, addr, service string) (string, error) {
			askedService = service
			return grpcStatus, grpcErr
		},
	}, &askedService
}

func runHealth(deps *HealthCommandDeps, args ...string) (string, error) {
	cmd := NewHealthCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHealthCommand_Flags(t *testing.T) {
	cmd := NewHealthCommand(DefaultHealthDeps(config.DefaultConfig))
	assert.Equal(t, "health", cmd.Use)
	for _, name := range []string{"url", "grpc-addr", "timeout", "output"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestHealth_Healthy(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK)
	deps, asked := testHealthDeps(srv.Client(), "SERVING", nil)

	out, err := runHealth(deps, "--url", srv.URL, "--grpc-addr", "localhost:9090")
	require.NoError(t, err)

	assert.Equal(t, server.ServiceName, *asked)
	assert.Contains(t, out, "HEALTHY")
	assert.Contains(t, out, "localhost:9090")
	assert.Contains(t, out, "Version: 1.2.3 (commit abc1234, up 5m0s)")
}

func TestHealth_GRPCNotServing(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK)
	deps, _ := testHealthDeps(srv.Client(), "NOT_SERVING", nil)

	out, err := runHealth(deps, "--url", srv.URL, "--grpc-addr", "localhost:9090", "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy")

	var status HealthStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "unhealthy", status.Overall)
	assert.Equal(t, "healthy", status.Checks["http"].Status)
	assert.Equal(t, "unhealthy", status.Checks["grpc"].Status)
	assert.Equal(t, "NOT_SERVING", status.Checks["grpc"].Error)
}

func TestHealth_GRPCUnreachable(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK)
	deps, _ := testHealthDeps(srv.Client(), "", errors.New("connection refused"))

	out, err := runHealth(deps, "--url", srv.URL, "--grpc-addr", "localhost:9090")
	require.Error(t, err)
	assert.Contains(t, out, "connection refused")
}

func TestHealth_HTTPUnhealthy(t *testing.T) {
	srv := newHealthServer(t, http.StatusServiceUnavailable)
	deps, _ := testHealthDeps(srv.Client(), "SERVING", nil)

	out, err := runHealth(deps, "--url", srv.URL)
	require.Error(t, err)
	assert.Contains(t, out, "HTTP 503")
}

func TestHealth_SkipsGRPCWhenUnset(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK)
	deps, asked := testHealthDeps(srv.Client(), "", errors.New("should not be called"))

	out, err := runHealth(deps, "--url", srv.URL, "--output", "json")
	require.NoError(t, err)
	assert.Empty(t, *asked)

	var status HealthStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	_, ok := status.Checks["grpc"]
	assert.False(t, ok)
	assert.Equal(t, "1.2.3", status.Version["version"])
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":3000", "http://localhost:3000"},
		{"0.0.0.0:8080", "http://localhost:8080"},
		{"127.0.0.1:3000", "http://127.0.0.1:3000"},
		{"digest.internal:3000", "http://digest.internal:3000"},
		{"[::]:3000", "http://localhost:3000"},
		{"no-port", "http://no-port"},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, localURL(tt.addr))
		})
	}
}
