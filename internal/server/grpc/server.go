// Package grpcserver hosts the gRPC listener: health reporting, optional
// reflection and the logging/recovery interceptor chain.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry reported for the file-sharing core.
const ServiceName = "sharevault.v1.ShareVault"

// DefaultStopTimeout bounds GracefulStop before connections are cut.
const DefaultStopTimeout = 5 * time.Second

// Options configures the listener.
type Options struct {
	CertFile    string // PEM; empty serves plaintext
	KeyFile     string
	Reflection  bool
	StopTimeout time.Duration
}

// Server wraps a grpc.Server with a health service.
type Server struct {
	srv         *grpc.Server
	health      *health.Server
	log         *zap.Logger
	stopTimeout time.Duration
}

// New builds the server. Health starts NOT_SERVING until SetServing(true).
func New(opts Options, log *zap.Logger) (*Server, error) {
	so := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	}
	if opts.CertFile != "" {
		creds, err := credentials.NewServerTLSFromFile(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls cert/key: %w", err)
		}
		so = append(so, grpc.Creds(creds))
	}
	s := &Server{
		srv:         grpc.NewServer(so...),
		health:      health.NewServer(),
		log:         log,
		stopTimeout: opts.StopTimeout,
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	if opts.Reflection {
		reflection.Register(s.srv)
	}
	s.SetServing(false)
	return s, nil
}

// GRPC exposes the underlying server for registering services.
func (s *Server) GRPC() *grpc.Server { return s.srv }

// SetServing flips both the overall and the ServiceName health entries.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve accepts on lis until ctx is done, then stops gracefully, falling
// back to a hard stop after the stop timeout. It returns nil on a
// ctx-driven shutdown.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.log.Warn("graceful stop timed out", zap.Duration("timeout", s.stopTimeout))
		s.srv.Stop()
	}
	<-errCh
	return nil
}
