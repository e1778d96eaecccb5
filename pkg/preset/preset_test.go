package preset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

func recordingRunner(seen *query.Request) query.Runner {
	return query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
		*seen = req
		return query.ShapeOffset(nil, 0, 1, 10), nil
	})
}

func TestRegistry_SaveLoadDelete(t *testing.T) {
	r := NewRegistry()
	req := query.Request{Model: "user", Limit: 20, Filters: predicate.Filters{"status": predicate.Eq("active")}}

	if err := r.Save("active-users", req); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := r.Load("active-users")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, req) {
		t.Fatalf("expected %+v, got %+v", req, got)
	}

	got.Filters["status"] = predicate.Eq("banned")
	again, _ := r.Load("active-users")
	if again.Filters["status"].Value != "active" {
		t.Fatal("loaded preset must be a copy")
	}

	if err := r.Save("active-users", query.Request{Model: "post"}); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	if got, _ := r.Load("active-users"); got.Model != "post" {
		t.Fatalf("expected overwrite, got model %q", got.Model)
	}

	if !r.Delete("active-users") {
		t.Fatal("expected delete to report existing preset")
	}
	if r.Delete("active-users") {
		t.Fatal("expected second delete to report missing preset")
	}
	if _, err := r.Load("active-users"); !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegistry_SaveRequiresName(t *testing.T) {
	if err := NewRegistry().Save("", query.Request{}); !errors.Is(err, query.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		if err := r.Save(name, query.Request{Model: name}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if got, want := r.Names(), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRegistry_ExecuteMergesOverrides(t *testing.T) {
	r := NewRegistry()
	if err := r.Save("recent", query.Request{
		Model:     "post",
		Limit:     20,
		SortBy:    "createdAt",
		SortOrder: query.SortDesc,
		Filters:   predicate.Filters{"status": predicate.Eq("published"), "lang": predicate.Eq("en")},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var seen query.Request
	_, err := r.Execute(context.Background(), recordingRunner(&seen), "recent", map[string]any{
		"limit":   5,
		"filters": map[string]any{"status": "draft"},
		"sortBy":  nil,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if seen.Model != "post" || seen.SortOrder != query.SortDesc {
		t.Fatalf("expected untouched keys to survive, got %+v", seen)
	}
	if seen.Limit != 5 {
		t.Fatalf("expected limit override, got %d", seen.Limit)
	}
	if seen.SortBy != "" {
		t.Fatalf("expected nil override to clear sortBy, got %q", seen.SortBy)
	}
	want := predicate.Filters{"status": predicate.Eq("draft")}
	if !reflect.DeepEqual(seen.Filters, want) {
		t.Fatalf("expected filters replaced wholesale, got %+v", seen.Filters)
	}
}

func TestRegistry_ExecuteErrors(t *testing.T) {
	r := NewRegistry()
	var seen query.Request

	if _, err := r.Execute(context.Background(), recordingRunner(&seen), "missing", nil); !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := r.Save("p", query.Request{Model: "user"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err := r.Execute(context.Background(), recordingRunner(&seen), "p", map[string]any{"limit": "ten"})
	if !errors.Is(err, query.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad override, got %v", err)
	}
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	content := `
admins:
  model: user
  limit: 25
  filters:
    role: [admin, owner]
  relationFilters:
    posts:
      some:
        published: true
feed:
  model: post
  mode: cursor
  cursorField: id
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write presets: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got, want := r.Names(), []string{"admins", "feed"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	admins, _ := r.Load("admins")
	if admins.Limit != 25 {
		t.Fatalf("expected limit 25, got %d", admins.Limit)
	}
	if got := admins.Filters["role"]; got.Kind != predicate.CondIn || len(got.Values) != 2 {
		t.Fatalf("expected role membership, got %+v", got)
	}
	if got := admins.Relations["posts"]; !reflect.DeepEqual(got.Some["published"], predicate.Is(true)) {
		t.Fatalf("expected some relation on published posts, got %+v", got)
	}

	feed, _ := r.Load("feed")
	if !feed.IsCursor() {
		t.Fatal("expected cursor preset")
	}
}

func TestRegistry_LoadFileErrors(t *testing.T) {
	r := NewRegistry()
	if err := r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("p: [unterminated"), 0o600); err != nil {
		t.Fatalf("write presets: %v", err)
	}
	if err := r.LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}
