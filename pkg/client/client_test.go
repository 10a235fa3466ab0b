package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T, loops ...string) (*api.Server, *Client) {
	t.Helper()
	srv := api.NewServer(loops...)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, lis) }()

	c, err := NewClient(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return srv, c
}

func TestCheckAll(t *testing.T) {
	srv, c := startServer(t, "launcher", "monitor")
	srv.SetLoopStatus("launcher", true)

	rows := c.CheckAll(context.Background(), "", "launcher", "monitor", "janitor")
	require.Len(t, rows, 4)

	tests := []struct {
		service string
		status  healthpb.HealthCheckResponse_ServingStatus
		wantErr bool
	}{
		{service: "", status: healthpb.HealthCheckResponse_SERVING},
		{service: "launcher", status: healthpb.HealthCheckResponse_SERVING},
		{service: "monitor", status: healthpb.HealthCheckResponse_NOT_SERVING},
		{service: "janitor", status: healthpb.HealthCheckResponse_UNKNOWN, wantErr: true},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.service, rows[i].Service)
		assert.Equal(t, tt.status, rows[i].Status, tt.service)
		if tt.wantErr {
			assert.Error(t, rows[i].Err)
		} else {
			assert.NoError(t, rows[i].Err)
		}
	}
}

func TestWatch(t *testing.T) {
	srv, c := startServer(t, "monitor")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []healthpb.HealthCheckResponse_ServingStatus
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, "monitor", func(s healthpb.HealthCheckResponse_ServingStatus) bool {
			seen = append(seen, s)
			return s != healthpb.HealthCheckResponse_SERVING
		})
	}()

	assert.Eventually(t, func() bool {
		srv.SetLoopStatus("monitor", true)
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	require.NotEmpty(t, seen)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, seen[0])
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, seen[len(seen)-1])
}

func TestCheckUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	c, err := NewClient(addr)
	require.NoError(t, err)
	defer c.Close()
	c.timeout = 200 * time.Millisecond

	status, err := c.Check(context.Background(), "")
	assert.Error(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, status)
}
