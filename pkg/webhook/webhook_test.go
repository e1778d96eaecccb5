package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query"
)

type captured struct {
	header http.Header
	body   []byte
}

type recordingLogger struct {
	logger.Logger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Debug(string, ...any) {}

func newServer(t *testing.T, status int) (*httptest.Server, chan captured) {
	t.Helper()
	deliveries := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		deliveries <- captured{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, deliveries
}

func baseRunner(resp *query.Response, err error) query.Runner {
	return query.RunnerFunc(func(context.Context, query.Request) (*query.Response, error) {
		return resp, err
	})
}

func TestNotifier_DeliversPayload(t *testing.T) {
	srv, deliveries := newServer(t, http.StatusAccepted)
	n, err := New(Config{URL: srv.URL, Headers: map[string]string{"X-Token": "secret", "Content-Type": "text/plain"}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	want := query.ShapeOffset([]query.Record{{"id": "u1"}}, 1, 1, 10)
	runner := query.Chain(baseRunner(want, nil), n.Middleware())
	got, err := runner.Run(context.Background(), query.Request{Model: "user"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != want {
		t.Fatal("expected base response to be returned unchanged")
	}
	n.Wait()

	d := <-deliveries
	if ct := d.header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	if tok := d.header.Get("X-Token"); tok != "secret" {
		t.Fatalf("expected extra header, got %q", tok)
	}
	if _, err := uuid.Parse(d.header.Get(DeliveryHeader)); err != nil {
		t.Fatalf("expected uuid delivery id: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(d.body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp %v", body["timestamp"])
	}
	if _, ok := body["query"]; ok {
		t.Fatal("query must be omitted unless requested")
	}
	meta, _ := body["meta"].(map[string]any)
	if meta["total"] != float64(1) || meta["totalPages"] != float64(1) {
		t.Fatalf("unexpected meta %v", meta)
	}
	if !reflect.DeepEqual(body["data"], []any{map[string]any{"id": "u1"}}) {
		t.Fatalf("unexpected data %v", body["data"])
	}
}

func TestNotifier_IncludeQuery(t *testing.T) {
	srv, deliveries := newServer(t, http.StatusOK)
	n, err := New(Config{URL: srv.URL, IncludeQuery: true}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp := query.ShapeCursor([]query.Record{{"id": "a"}}, 5, "id")
	if _, err := query.Chain(baseRunner(resp, nil), n.Middleware()).Run(context.Background(), query.Request{Model: "post", Mode: query.ModeCursor, Limit: 5}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	n.Wait()

	var body struct {
		Meta  query.CursorMeta `json:"meta"`
		Query query.Request    `json:"query"`
	}
	if err := json.Unmarshal((<-deliveries).body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Query.Model != "post" || body.Query.Limit != 5 {
		t.Fatalf("unexpected query %+v", body.Query)
	}
	if body.Meta.HasMore || body.Meta.NextCursor != "a" {
		t.Fatalf("unexpected cursor meta %+v", body.Meta)
	}
}

func TestNotifier_RejectionDoesNotChangeResult(t *testing.T) {
	srv, deliveries := newServer(t, http.StatusInternalServerError)
	log := &recordingLogger{Logger: logger.NewNopLogger()}
	n, err := New(Config{URL: srv.URL}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := query.ShapeOffset([]query.Record{{"id": "u1"}, {"id": "u2"}}, 2, 1, 10)
	got, err := query.Chain(baseRunner(want, nil), n.Middleware()).Run(context.Background(), query.Request{Model: "user"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	n.Wait()
	<-deliveries

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected base result, got %+v", got)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.warns) != 1 || log.warns[0] != "webhook delivery failed" {
		t.Fatalf("expected one delivery warning, got %v", log.warns)
	}
}

func TestNotifier_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	log := &recordingLogger{Logger: logger.NewNopLogger()}
	n, err := New(Config{URL: url, Timeout: time.Second}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := query.ShapeOffset(nil, 0, 1, 10)
	got, err := query.Chain(baseRunner(want, nil), n.Middleware()).Run(context.Background(), query.Request{Model: "user"})
	if err != nil || got != want {
		t.Fatalf("expected base result, got %v %v", got, err)
	}
	n.Wait()

	if err := n.Deliver(context.Background(), Payload{}); err == nil {
		t.Fatal("expected delivery error")
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.warns) != 1 {
		t.Fatalf("expected one delivery warning, got %v", log.warns)
	}
}

func TestNotifier_BaseErrorSkipsDelivery(t *testing.T) {
	srv, deliveries := newServer(t, http.StatusOK)
	n, err := New(Config{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("boom")
	if _, err := query.Chain(baseRunner(nil, boom), n.Middleware()).Run(context.Background(), query.Request{Model: "user"}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	n.Wait()
	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery %s", d.body)
	default:
	}
}

func TestNotifier_CanceledCallerContext(t *testing.T) {
	srv, deliveries := newServer(t, http.StatusOK)
	n, err := New(Config{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := query.Chain(baseRunner(query.ShapeOffset(nil, 0, 1, 10), nil), n.Middleware()).Run(ctx, query.Request{Model: "user"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cancel()
	n.Wait()

	select {
	case <-deliveries:
	default:
		t.Fatal("expected delivery to outlive the caller context")
	}
}

func TestNotifier_CallerMayModifyRowsAfterRun(t *testing.T) {
	srv, deliveries := newServer(t, http.StatusOK)
	n, err := New(Config{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := query.RunnerFunc(func(context.Context, query.Request) (*query.Response, error) {
		return query.ShapeOffset([]query.Record{{"id": "p1", "title": "draft"}, {"id": "p2", "title": "draft"}}, 2, 1, 10), nil
	})
	resp, err := query.Chain(base, n.Middleware()).Run(context.Background(), query.Request{Model: "post"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 100; i++ {
		for _, row := range resp.Data {
			row["title"] = fmt.Sprintf("edit-%d", i)
		}
	}
	n.Wait()

	var body struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal((<-deliveries).body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for _, row := range body.Data {
		if row["title"] != "draft" {
			t.Fatalf("expected rows as returned by the run, got %v", body.Data)
		}
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{URL: "  "}, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}
