package health

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/gobanos/some-platformer/internal/logging"
)

func startServer(t *testing.T, opts ...Option) (*Server, healthpb.HealthClient) {
	t.Helper()
	listener := bufconn.Listen(1 << 16)
	server := New(append([]Option{WithLogger(logging.NewTestLogger())}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.UseCompressor(CompressorName)),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return server, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, ctx context.Context, client healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.GetStatus()
}

func TestHealthReflectsServingFlag(t *testing.T) {
	server, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	//1.- The game loop has not started yet.
	if got := check(t, ctx, client); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before start, got %v", got)
	}
	server.SetServing(true)
	if got := check(t, ctx, client); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
}

func TestHealthRequiresSharedSecret(t *testing.T) {
	server, client := startServer(t, WithSharedSecret("hunter2"))
	server.SetServing(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without secret, got %v", err)
	}

	wrong := metadata.AppendToOutgoingContext(ctx, SecretMetadataKey, "nope")
	if _, err := client.Check(wrong, &healthpb.HealthCheckRequest{}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated with wrong secret, got %v", err)
	}

	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer hunter2")
	if got := check(t, authed, client); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING with bearer secret, got %v", got)
	}
}
