package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSupervisor(t *testing.T, token string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication_failed"})
				return
			}
			h(w, r)
		}
	}
	tick := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{OK: true, CheckedAgents: 1})
	})
	mux.HandleFunc("GET /agents", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]AgentStatus{{Name: "demo-alpha", WorkUnit: "ALPHA_DETECTION", State: "RUNNING", PID: 4242, LastTick: &tick}})
	}))
	mux.HandleFunc("GET /agents/{name}", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "demo-alpha" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "agent not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(AgentStatus{Name: "demo-alpha", State: "HANG", PID: 4242})
	}))
	mux.HandleFunc("POST /agents/{name}/restart", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(RestartResponse{OK: true, PID: 5151})
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientEndpoints(t *testing.T) {
	srv := fakeSupervisor(t, "tok")
	c, err := New(Config{BaseURL: srv.URL + "/", Token: "tok"})
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	agents, err := c.Agents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "RUNNING", agents[0].State)
	assert.Equal(t, 4242, agents[0].PID)

	a, err := c.Agent(ctx, "demo-alpha")
	require.NoError(t, err)
	assert.Equal(t, "HANG", a.State)

	_, err = c.Agent(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	pid, err := c.Restart(ctx, "demo-alpha")
	require.NoError(t, err)
	assert.Equal(t, 5151, pid)
}

func TestClientAuthFailure(t *testing.T) {
	srv := fakeSupervisor(t, "tok")
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Agents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestClientUnreachable(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, c.IsReachable(context.Background()))
}

func TestClientBadCACert(t *testing.T) {
	_, err := New(Config{BaseURL: "https://localhost", TLS: &TLSClientConfig{CACert: "/nonexistent/ca.crt"}})
	assert.Error(t, err)
}
