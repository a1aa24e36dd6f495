package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, opts Options) (*Server, healthpb.HealthClient, context.CancelFunc, <-chan error) {
	t.Helper()
	s, err := New(opts, zaptest.NewLogger(t))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	t.Cleanup(cancel)
	return s, healthpb.NewHealthClient(conn), cancel, done
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_HealthLifecycle(t *testing.T) {
	s, c, cancel, done := startServer(t, Options{})

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceName))

	s.SetServing(true)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceName))

	s.SetServing(false)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(DefaultStopTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_Reflection(t *testing.T) {
	s, _, _, _ := startServer(t, Options{Reflection: true})
	info := s.GRPC().GetServiceInfo()
	require.Contains(t, info, "grpc.health.v1.Health")
	require.Contains(t, info, "grpc.reflection.v1.ServerReflection")
}

func TestNew_BadTLS(t *testing.T) {
	_, err := New(Options{CertFile: "missing.pem", KeyFile: "missing.key"}, zaptest.NewLogger(t))
	require.Error(t, err)
}
