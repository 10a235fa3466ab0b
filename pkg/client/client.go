package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultTimeout bounds a single health query
const DefaultTimeout = 5 * time.Second

// Client talks to the scheduler's gRPC health service
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
}

// NewClient creates a client for addr. The connection is established
// lazily on the first call.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check queries one service. The empty name is the scheduler as a whole.
func (c *Client) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// ServiceStatus is one row of a CheckAll result
type ServiceStatus struct {
	Service string
	Status  healthpb.HealthCheckResponse_ServingStatus
	Err     error
}

// CheckAll queries every service in order. A failed query is reported in
// its row and does not stop the others.
func (c *Client) CheckAll(ctx context.Context, services ...string) []ServiceStatus {
	out := make([]ServiceStatus, 0, len(services))
	for _, service := range services {
		status, err := c.Check(ctx, service)
		out = append(out, ServiceStatus{Service: service, Status: status, Err: err})
	}
	return out
}

// Watch streams status changes of a service to fn until ctx is cancelled
// or fn returns false
func (c *Client) Watch(ctx context.Context, service string, fn func(healthpb.HealthCheckResponse_ServingStatus) bool) error {
	stream, err := c.health.Watch(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !fn(resp.GetStatus()) {
			return nil
		}
	}
}
