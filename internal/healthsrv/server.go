// Package healthsrv publishes per-device reachability over the standard
// gRPC health checking protocol. Each device is a service named
// "acs.device/<id>"; the empty service name reports the bridge itself.
package healthsrv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

const (
	servicePrefix = "acs.device/"
	shutdownTimer = 5 * time.Second
)

// ServiceName is the health service name for a device.
func ServiceName(deviceID string) string {
	return servicePrefix + deviceID
}

type Server struct {
	addr        string
	srv         *grpc.Server
	healthCheck *health.Server
	log         zerolog.Logger
}

func New(addr string, log zerolog.Logger) *Server {
	s := &Server{
		addr:        addr,
		healthCheck: health.NewServer(),
		log:         log,
	}

	s.srv = grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(log)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 10 * time.Minute,
			Time:              120 * time.Second,
			Timeout:           20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	healthpb.RegisterHealthServer(s.srv, s.healthCheck)

	return s
}

// SetDeviceHealth records the latest probe outcome for a device.
func (s *Server) SetDeviceHealth(deviceID string, ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.healthCheck.SetServingStatus(ServiceName(deviceID), status)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lc := &net.ListenConfig{}

	lis, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

// Stop marks every service NOT_SERVING and stops gracefully, forcing the
// stop after a short timeout.
func (s *Server) Stop(ctx context.Context) {
	s.healthCheck.Shutdown()

	stopped := make(chan struct{})

	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(shutdownTimer)
	defer timer.Stop()

	select {
	case <-stopped:
		s.log.Info().Msg("gRPC health server stopped")
	case <-ctx.Done():
		s.srv.Stop()
	case <-timer.C:
		s.log.Warn().Msg("gRPC health server shutdown timed out, forcing stop")
		s.srv.Stop()
	}
}

func loggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		log.Debug().
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("gRPC call")

		return resp, err
	}
}
