package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestHealthCheckEndpoint_MethodNotAllowed(t *testing.T) {
	server := NewHealthServer(":0", up, up, nil)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthCheckResponse(t *testing.T) {
	tests := []struct {
		name        string
		redis       Pinger
		store       Pinger
		status      int
		redisState  string
		storeState  string
		errorsCount int
	}{
		{"healthy", up, up, http.StatusOK, "connected", "connected", 0},
		{"redis down", down, up, http.StatusServiceUnavailable, "disconnected", "connected", 1},
		{"store down", up, down, http.StatusServiceUnavailable, "connected", "disconnected", 1},
		{"both down", down, down, http.StatusServiceUnavailable, "disconnected", "disconnected", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewHealthServer(":0", tt.redis, tt.store, nil)
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.redisState, resp.Redis)
			assert.Equal(t, tt.storeState, resp.Store)
			assert.Len(t, resp.Errors, tt.errorsCount)
			if tt.status == http.StatusOK {
				assert.Equal(t, "healthy", resp.Status)
			} else {
				assert.Equal(t, "unhealthy", resp.Status)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := NewHealthServer(":0", up, up, nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHealthServer_StartAndShutdown(t *testing.T) {
	server := NewHealthServer("127.0.0.1:0", up, up, nil)
	require.NoError(t, server.Start())
	assert.NoError(t, server.Shutdown(context.Background()))

	assert.NoError(t, NewHealthServer(":0", up, up, nil).Shutdown(context.Background()), "shutdown before start")
}
