package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/websyro/prismapilot/pkg/config"
	"github.com/websyro/prismapilot/pkg/executor/memory"
	"github.com/websyro/prismapilot/pkg/executor/sqlexec"
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

func TestNew_MemoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`{"user":[{"id":"u1"},{"id":"u2"}]}`), 0o600); err != nil {
		t.Fatalf("write dataset: %v", err)
	}

	exec, closer, err := New(config.DatabaseConfig{Type: "memory", DataFile: path}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closer.Close()

	if _, ok := exec.(*memory.Executor); !ok {
		t.Fatalf("expected memory executor, got %T", exec)
	}
	total, err := exec.Count(context.Background(), &query.Plan{Model: "user"})
	if err != nil || total != 2 {
		t.Fatalf("Count() = %d, %v", total, err)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr string
	}{
		{name: "unsupported type", cfg: config.DatabaseConfig{Type: "oracle"}, wantErr: "unsupported database.type"},
		{name: "missing dataset", cfg: config.DatabaseConfig{Type: "memory", DataFile: "/nonexistent.json"}, wantErr: "failed to read dataset"},
		{name: "postgres without url", cfg: config.DatabaseConfig{Type: "postgres"}, wantErr: "database URL is required"},
		{name: "mysql without url", cfg: config.DatabaseConfig{Type: "mysql"}, wantErr: "database URL is required"},
		{name: "mongodb without database", cfg: config.DatabaseConfig{Type: "mongodb", URL: "mongodb://localhost"}, wantErr: "mongodb database is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New(tt.cfg, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRelationOptions(t *testing.T) {
	opts := RelationOptions(map[string]map[string]config.RelationConfig{
		"user": {"posts": {Table: "post", LocalKey: "id", ForeignKey: "authorId"}},
	})
	exec := sqlexec.New(nil, sqlexec.Postgres, opts...)

	stmt, _, err := exec.SelectSQL(&query.Plan{
		Model: "user",
		Where: predicate.Relation("posts", predicate.OpSome, nil),
	})
	if err != nil {
		t.Fatalf("SelectSQL() error = %v", err)
	}
	want := `SELECT * FROM "user" WHERE EXISTS (SELECT 1 FROM "post" AS r1 WHERE (r1."authorId" = "user"."id"))`
	if stmt != want {
		t.Fatalf("SelectSQL() = %s, want %s", stmt, want)
	}
}
