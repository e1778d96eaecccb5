package cli

import (
	"context"
	"reflect"
	"testing"

	"github.com/websyro/prismapilot/pkg/config"
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/scope"
)

func TestScopesFor(t *testing.T) {
	qcfg := config.DefaultConfig().Query

	tests := []struct {
		name string
		cfg  func(config.QueryConfig) config.QueryConfig
		opts ScopeOptions
		want []scope.Scope
	}{
		{name: "none", want: nil},
		{
			name: "soft delete from config",
			cfg:  func(c config.QueryConfig) config.QueryConfig { c.SoftDelete = true; return c },
			want: []scope.Scope{scope.SoftDelete{Field: "deletedAt"}},
		},
		{
			name: "trashed flag enables soft delete scope",
			opts: ScopeOptions{TrashedOnly: true},
			want: []scope.Scope{scope.SoftDelete{Field: "deletedAt", Visibility: scope.Visibility{TrashedOnly: true}}},
		},
		{
			name: "tenant first",
			cfg:  func(c config.QueryConfig) config.QueryConfig { c.SoftDelete = true; c.TenantField = "orgId"; return c },
			opts: ScopeOptions{TenantID: "acme"},
			want: []scope.Scope{scope.Tenant{Field: "orgId", ID: "acme"}, scope.SoftDelete{Field: "deletedAt"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qcfg
			if tt.cfg != nil {
				c = tt.cfg(c)
			}
			if got := scopesFor(c, tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestNewRuntime_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = true
	cfg.Observability.MetricsEnabled = true

	rt, err := NewRuntime(context.Background(), cfg, nil, ScopeOptions{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if rt.Cache == nil || rt.Recorder == nil || rt.Registry == nil {
		t.Fatalf("expected cache and metrics to be wired, got %+v", rt)
	}
	if rt.Notifier != nil {
		t.Fatal("expected no webhook without url")
	}

	resp, err := rt.Runner.Run(context.Background(), query.Request{Model: "user"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Page == nil || resp.Page.Total != 0 {
		t.Fatalf("expected empty offset page, got %+v", resp.Page)
	}

	families, err := rt.Registry.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	gathered := map[string]bool{}
	for _, f := range families {
		gathered[f.GetName()] = true
	}
	if !gathered["prismapilot_query_cache_results_total"] || !gathered["prismapilot_queries_total"] {
		t.Fatalf("expected cache and query collectors on the runtime registry, got %v", gathered)
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewRuntime_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*config.Config)
	}{
		{name: "unsupported database", mod: func(c *config.Config) { c.Database.Type = "sqlite" }},
		{name: "unsupported cache", mod: func(c *config.Config) { c.Cache.Enabled = true; c.Cache.Type = "memcached" }},
		{name: "redis cache without url", mod: func(c *config.Config) { c.Cache.Enabled = true; c.Cache.Type = "redis" }},
		{name: "tracing without endpoint", mod: func(c *config.Config) { c.Observability.TracingEnabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mod(cfg)
			if _, err := NewRuntime(context.Background(), cfg, nil, ScopeOptions{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"":                                "",
		"redis://localhost:6379/0":        "redis://localhost:6379/0",
		"postgres://app:pw@db:5432/app":   "postgres://app:***@db:5432/app",
		"user:pw@tcp(localhost:3306)/app": "***",
		"mongodb://reader@cluster/test":   "mongodb://reader@cluster/test",
	}
	for in, want := range tests {
		if got := redactURL(in); got != want {
			t.Fatalf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
