package export

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/websyro/prismapilot/pkg/query"
)

func TestCSV_Escaping(t *testing.T) {
	rows := []query.Record{
		{"id": "u1", "name": `Ada "the first", Lovelace`, "tags": []any{"math", "poetry"}},
		{"id": "u2", "name": "line\nbreak", "tags": nil},
		{"id": "u3", "name": "plain", "tags": map[string]any{"k": 1}},
	}

	out, err := CSV(rows, Options{})
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	want := "id,name,tags\n" +
		`u1,"Ada ""the first"", Lovelace","[""math"",""poetry""]"` + "\n" +
		"u2,\"line\nbreak\",\n" +
		`u3,plain,"{""k"":1}"` + "\n"
	if string(out) != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", out, want)
	}
}

func TestCSV_Header(t *testing.T) {
	tests := []struct {
		name string
		rows []query.Record
		opts Options
		want string
	}{
		{
			name: "first row keys sorted",
			rows: []query.Record{{"b": 2, "a": 1}, {"a": 3, "b": 4, "c": 5}},
			want: "a,b\n1,2\n3,4\n",
		},
		{
			name: "explicit columns",
			rows: []query.Record{{"b": 2, "a": 1}},
			opts: Options{Columns: []string{"b", "missing"}},
			want: "b,missing\n2,\n",
		},
		{
			name: "no rows",
			rows: nil,
			want: "",
		},
		{
			name: "primitive cells",
			rows: []query.Record{{"ok": true, "n": 1.5, "at": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}},
			want: "at,n,ok\n2024-01-02T03:04:05Z,1.5,true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := CSV(tt.rows, tt.opts)
			if err != nil {
				t.Fatalf("CSV: %v", err)
			}
			if string(out) != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, out)
			}
		})
	}
}

func TestCSV_UnencodableCell(t *testing.T) {
	_, err := CSV([]query.Record{{"fn": map[string]any{"f": func() {}}}}, Options{})
	if err == nil {
		t.Fatal("expected error for unencodable cell")
	}
}

func TestJSON(t *testing.T) {
	rows := []query.Record{{"id": "u1"}}

	compact, err := JSON(rows, false)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if string(compact) != `[{"id":"u1"}]` {
		t.Fatalf("unexpected compact json: %s", compact)
	}

	pretty, err := JSON(rows, true)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !strings.Contains(string(pretty), "\n  {") {
		t.Fatalf("expected indented json, got %s", pretty)
	}

	empty, err := JSON(nil, false)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if string(empty) != "[]" {
		t.Fatalf("expected empty array, got %s", empty)
	}
}

func TestQueryCSV_UsesRowCapAndProjection(t *testing.T) {
	var seen query.Request
	runner := query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
		seen = req
		return query.ShapeOffset([]query.Record{{"id": "u1", "name": "Ada", "secret": "x"}}, 1, 1, req.Limit), nil
	})

	req := query.Request{Model: "user", Limit: 10, Projection: &query.Projection{Select: []string{"id", "name"}}}
	out, err := QueryCSV(context.Background(), runner, req, 50)
	if err != nil {
		t.Fatalf("QueryCSV: %v", err)
	}
	if seen.Limit != 50 {
		t.Fatalf("expected limit 50, got %d", seen.Limit)
	}
	if string(out) != "id,name\nu1,Ada\n" {
		t.Fatalf("unexpected csv: %q", out)
	}
}

func TestQueryJSON(t *testing.T) {
	runner := query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
		if req.Limit != 5 {
			t.Fatalf("expected request limit to be kept, got %d", req.Limit)
		}
		return query.ShapeOffset([]query.Record{{"id": "u1"}, {"id": "u2"}}, 2, 1, req.Limit), nil
	})

	out, err := QueryJSON(context.Background(), runner, query.Request{Model: "user", Limit: 5}, 0, false)
	if err != nil {
		t.Fatalf("QueryJSON: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []map[string]any{{"id": "u1"}, {"id": "u2"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestQueryCSV_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	runner := query.RunnerFunc(func(context.Context, query.Request) (*query.Response, error) {
		return nil, boom
	})
	if _, err := QueryCSV(context.Background(), runner, query.Request{Model: "user"}, 10); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
