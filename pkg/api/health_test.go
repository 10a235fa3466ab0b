package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/client"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "adcm.db"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request succeeds", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request fails", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "DELETE request fails", method: http.MethodDelete, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, Version, response.Version)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	metrics.SetCriticalComponents("store")

	t.Run("no store", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthServer(nil).readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var response ReadyResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "not ready", response.Status)
		assert.Contains(t, response.Checks["store"], "not initialized")
		assert.NotEmpty(t, response.Message)
	})

	t.Run("store ok", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthServer(newTestStore(t)).readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response ReadyResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "ready", response.Status)
		assert.Equal(t, "ok", response.Checks["store"])
	})

	t.Run("store closed", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.Close())

		w := httptest.NewRecorder()
		NewHealthServer(store).readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("method rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthServer(nil).readyHandler(w, httptest.NewRequest(http.MethodPost, "/ready", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestReadyTracksLoops(t *testing.T) {
	metrics.SetCriticalComponents("store", "launcher")
	t.Cleanup(func() { metrics.SetCriticalComponents("store") })

	srv := NewServer("launcher")
	hs := NewHealthServer(newTestStore(t))

	w := httptest.NewRecorder()
	hs.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv.SetLoopStatus("launcher", true)
	w = httptest.NewRecorder()
	hs.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Checks["launcher"])
}

func TestRoutes(t *testing.T) {
	metrics.SetCriticalComponents("store")
	hs := NewHealthServer(newTestStore(t))

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusOK},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/live", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	srv := NewServer("launcher", "monitor")
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := client.NewClient(lis.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	status, err := c.Check(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	status, err = c.Check(context.Background(), "monitor")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	srv.SetLoopStatus("monitor", true)
	status, err = c.Check(context.Background(), "monitor")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	_, err = c.Check(context.Background(), "janitor")
	assert.Error(t, err)
}

func TestHealthServerServe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewHealthServer(nil).Serve(ctx, addr) }()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func BenchmarkHealthHandler(b *testing.B) {
	hs := NewHealthServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.healthHandler(w, req)
	}
}
