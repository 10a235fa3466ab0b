package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDChecker(t *testing.T) {
	ctx := context.Background()

	self := NewPIDChecker(os.Getpid()).Check(ctx)
	assert.True(t, self.Healthy, self.Message)
	assert.Equal(t, CheckTypePID, NewPIDChecker(1).Type())

	none := NewPIDChecker(0).Check(ctx)
	assert.False(t, none.Healthy)

	// A reaped child is gone
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	gone := NewPIDChecker(cmd.Process.Pid).Check(ctx)
	assert.False(t, gone.Healthy, gone.Message)
}

func TestIsProcessAliveZombie(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	// Not yet reaped: the process is a zombie once it exits
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !isZombie(pid) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, IsProcessAlive(pid))
	require.NoError(t, cmd.Wait())
}

func TestHeartbeatChecker(t *testing.T) {
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "adcm.db"), storage.Options{})
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Update(func(tx storage.Tx) error {
		return tx.PutHeartbeat(&types.Heartbeat{Hostname: "w1", WorkerID: "a", Timestamp: now.Add(-10 * time.Second)})
	}))

	tests := []struct {
		name     string
		hostname string
		workerID string
		stale    time.Duration
		healthy  bool
	}{
		{name: "fresh", hostname: "w1", stale: 30 * time.Second, healthy: true},
		{name: "stale", hostname: "w1", stale: 5 * time.Second, healthy: false},
		{name: "unknown worker", hostname: "w2", stale: time.Minute, healthy: false},
		{name: "same incarnation", hostname: "w1", workerID: "a", stale: time.Minute, healthy: true},
		{name: "restarted worker", hostname: "w1", workerID: "b", stale: time.Minute, healthy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewHeartbeatChecker(store, tt.hostname, tt.stale).WithWorkerID(tt.workerID)
			c.Now = func() time.Time { return now }

			res := c.Check(context.Background())
			assert.Equal(t, tt.healthy, res.Healthy, res.Message)
			assert.Equal(t, CheckTypeHeartbeat, c.Type())
		})
	}
}

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
		message string
	}{
		{name: "ready", status: http.StatusOK, body: `{"status":"ready"}`, healthy: true, message: "HTTP 200 ready"},
		{
			name:    "not ready",
			status:  http.StatusServiceUnavailable,
			body:    `{"status":"not ready","message":"waiting for launcher"}`,
			healthy: false,
			message: "HTTP 503 not ready: waiting for launcher",
		},
		{name: "plain body", status: http.StatusOK, body: "ok", healthy: true, message: "HTTP 200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewHTTPChecker(server.URL + "/ready").WithTimeout(time.Second)
			res := c.Check(context.Background())
			assert.Equal(t, tt.healthy, res.Healthy, res.Message)
			assert.Equal(t, tt.message, res.Message)
			assert.Equal(t, CheckTypeHTTP, c.Type())
		})
	}

	res := NewHTTPChecker("http://127.0.0.1:1/ready").WithTimeout(200 * time.Millisecond).Check(context.Background())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "unreachable")

	created := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer created.Close()
	res = NewHTTPChecker(created.URL).WithStatusRange(200, 200).Check(context.Background())
	assert.False(t, res.Healthy)
}
