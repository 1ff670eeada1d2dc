// Package healthrpc exposes the remote connection state over the standard
// gRPC health protocol so supervisors can probe a running daemon.
package healthrpc

import (
	"context"
	"net"
	"time"

	"github.com/quyen-luc/prices-app/internal/logging"
	"github.com/quyen-luc/prices-app/internal/monitor"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service reporting sync readiness.
const ServiceName = "pricesync.Sync"

type Server struct {
	address string
	logger  logging.Logger
	health  *health.Server
}

// NewServer starts NOT_SERVING until the first Connected status.
func NewServer(address string, l logging.Logger) *Server {
	if l == nil {
		l = logging.Nop()
	}
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{address: address, logger: l.With("module", "health_server"), health: h}
}

// SetStatus mirrors a monitor status. It is meant to be a monitor subscriber.
func (s *Server) SetStatus(st monitor.Status) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st.State == monitor.Connected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping health server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting health server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "grpc call", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start).String())
	return resp, err
}
