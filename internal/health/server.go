// Package health exposes the standard gRPC health service so orchestrators
// can probe whether the game loop is ticking.
package health

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gobanos/some-platformer/internal/logging"
)

// ServiceName is the health entry tracking the game loop.
const ServiceName = "platformer.Game"

// Option customises a Server.
type Option func(*Server)

// WithLogger overrides the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithSharedSecret requires every RPC to present secret in its metadata.
func WithSharedSecret(secret string) Option {
	return func(s *Server) { s.secret = strings.TrimSpace(secret) }
}

// WithServerOptions appends raw grpc server options.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *Server) { s.extra = append(s.extra, opts...) }
}

// Server hosts grpc.health.v1.Health.
type Server struct {
	log    *logging.Logger
	secret string
	extra  []grpc.ServerOption
	grpc   *grpc.Server
	health *grpchealth.Server
}

// New builds a server that reports NOT_SERVING until SetServing(true).
func New(opts ...Option) *Server {
	s := &Server{log: logging.L()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "grpc_health"))

	serverOpts := append([]grpc.ServerOption(nil), s.extra...)
	if s.secret != "" {
		serverOpts = append(serverOpts,
			grpc.ChainUnaryInterceptor(unarySecretInterceptor(s.secret)),
			grpc.ChainStreamInterceptor(streamSecretInterceptor(s.secret)),
		)
		s.log.Info("gRPC shared-secret authentication enabled")
	}
	s.grpc = grpc.NewServer(serverOpts...)
	s.health = grpchealth.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the game service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is cancelled, then drains in-flight RPCs.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("gRPC health listening", logging.String("address", ln.Addr().String()))
	stop := context.AfterFunc(ctx, func() {
		//1.- Tell watchers we are going away before refusing new RPCs.
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
	defer stop()
	if err := s.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
