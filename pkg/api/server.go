package api

import (
	"context"
	"fmt"
	"net"

	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server serves the standard gRPC health service. Every scheduler loop is
// a named service; the empty name reports the supervisor as a whole.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a gRPC health server with the given loops not serving
func NewServer(loops ...string) *Server {
	s := &Server{
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor())),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, loop := range loops {
		s.health.SetServingStatus(loop, healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.RegisterComponent(loop, false, "not started")
	}
	return s
}

// SetLoopStatus records whether a loop process is running. It is shaped to
// be used as the supervisor's status hook.
func (s *Server) SetLoopStatus(loop string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	message := "stopped"
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
		message = "running"
	}
	s.health.SetServingStatus(loop, status)
	metrics.UpdateComponent(loop, serving, message)
}

// Serve listens on addr until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is cancelled
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health service listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Stop()
		return nil
	}
}

// Stop marks every service not serving and stops the server
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
