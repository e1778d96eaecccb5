package redis

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/websyro/prismapilot/pkg/testutil"
)

// redisURL returns PRISMAPILOT_TEST_REDIS_URL or the address of a container
// started for the test.
func redisURL(t *testing.T) string {
	t.Helper()
	if url := testutil.BackendURL("PRISMAPILOT_TEST_REDIS_URL"); url != "" {
		return url
	}

	ctx := context.Background()
	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	return connStr
}

func TestIntegration_ClientRoundTrip(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()

	a, err := NewAdapter(Config{URL: redisURL(t), OperationTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if err := a.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if err := a.Client().Set(ctx, "prismapilot:it", "ok", time.Minute).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := a.Client().Get(ctx, "prismapilot:it").Result()
	if err != nil || got != "ok" {
		t.Fatalf("expected ok, got %q (%v)", got, err)
	}
	_ = a.Client().Del(ctx, "prismapilot:it").Err()

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check to fail after close")
	}
}
