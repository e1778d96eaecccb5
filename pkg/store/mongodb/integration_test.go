package mongodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
	"github.com/websyro/prismapilot/pkg/testutil"
)

// mongoURL returns PRISMAPILOT_TEST_MONGODB_URL or the address of a container
// started for the test.
func mongoURL(t *testing.T) string {
	t.Helper()
	if url := testutil.BackendURL("PRISMAPILOT_TEST_MONGODB_URL"); url != "" {
		return url
	}

	ctx := context.Background()
	mongoContainer, err := testcontainers.Run(ctx,
		"mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start MongoDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mongoContainer); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := mongoContainer.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

func TestIntegration_EngineOverMongo(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()

	a, err := NewAdapter(Config{URL: mongoURL(t), Database: "prismapilot_it"}, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	coll := a.Database().Collection("user")
	t.Cleanup(func() { _ = coll.Drop(context.Background()) })
	if _, err := coll.InsertMany(ctx, []any{
		map[string]any{"id": "u1", "role": "admin"},
		map[string]any{"id": "u2", "role": "member"},
		map[string]any{"id": "u3", "role": "admin"},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	engine, err := query.NewEngine(a.Executor())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	total, err := engine.Count(ctx, query.Request{Model: "user", Filters: predicate.Filters{"role": predicate.Eq("admin")}})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 admins, got %d", total)
	}
}
