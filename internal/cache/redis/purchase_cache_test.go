package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/auction-house/internal/cache/redis"
	"github.com/jensholdgaard/auction-house/internal/config"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("getting endpoint: %v", err)
	}
	c, err := redis.New(ctx, config.RedisConfig{Addr: endpoint})
	if err != nil {
		t.Fatalf("connecting to redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPurchaseCache(t *testing.T) {
	c := newTestClient(t)
	pc := redis.NewPurchaseCache(c, time.Minute)
	ctx := context.Background()

	if _, ok, err := pc.Lookup(ctx, "k1"); err != nil || ok {
		t.Fatalf("Lookup() on empty cache = ok %v, err %v", ok, err)
	}

	if err := pc.Remember(ctx, "k1", "auction-1"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := pc.Remember(ctx, "k1", "auction-2"); err != nil {
		t.Fatalf("second Remember() error = %v", err)
	}

	id, ok, err := pc.Lookup(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Lookup() = ok %v, err %v", ok, err)
	}
	if id != "auction-1" {
		t.Errorf("Lookup() = %q, want the first write auction-1", id)
	}
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
