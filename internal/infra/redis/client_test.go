package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func TestClient_HealthCheckAndKey(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := newClient(context.Background(), redis.NewClient(&redis.Options{Addr: server.Addr()}), "sessiongate", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newClient returned error: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if got := client.Key("lock:account"); got != "sessiongate:lock:account" {
		t.Fatalf("unexpected key %q", got)
	}

	server.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected health check to fail once redis is down")
	}
}

func TestNewClient_FailsWhenUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	if _, err := newClient(context.Background(), redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1}), "", zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected ping failure")
	}
}
