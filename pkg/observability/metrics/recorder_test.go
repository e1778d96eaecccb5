package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/websyro/prismapilot/pkg/query"
)

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestRecorder(step time.Duration) *Recorder {
	r := NewRecorder()
	r.now = (&steppingClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), step: step}).Now
	return r
}

func rowsRunner(n int) query.Runner {
	return query.RunnerFunc(func(_ context.Context, req query.Request) (*query.Response, error) {
		rows := make([]query.Record, n)
		for i := range rows {
			rows[i] = query.Record{"id": i}
		}
		return query.ShapeOffset(rows, int64(n), 1, 10), nil
	})
}

func TestRecorder_AttachesMetrics(t *testing.T) {
	r := newTestRecorder(250 * time.Millisecond)
	base := query.ShapeOffset([]query.Record{{"id": 1}}, 1, 1, 10)
	runner := query.RunnerFunc(func(context.Context, query.Request) (*query.Response, error) { return base, nil })
	req := query.Request{Model: "post", Search: "go"}

	resp, err := query.Chain(runner, r.Middleware()).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Metrics == nil {
		t.Fatal("expected metrics attached without an observer")
	}
	m := resp.Metrics
	if m.QueryTime != 250*time.Millisecond || m.ResultCount != 1 || m.IsSlow {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if m.Request.Model != "post" || m.Request.Search != "go" {
		t.Fatalf("request not recorded: %+v", m.Request)
	}
	if !m.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)) {
		t.Fatalf("expected end timestamp, got %v", m.Timestamp)
	}
	if base.Metrics != nil {
		t.Fatal("the runner's response must not be mutated")
	}
}

func TestRecorder_SlowThreshold(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		slow    bool
	}{
		{name: "fast", elapsed: 10 * time.Millisecond},
		{name: "exactly threshold", elapsed: time.Second},
		{name: "slow", elapsed: 1001 * time.Millisecond, slow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecorder(tt.elapsed)
			before := testutil.ToFloat64(slowQueriesTotal.WithLabelValues("slowtest"))
			resp, err := query.Chain(rowsRunner(0), r.Middleware()).Run(context.Background(), query.Request{Model: "slowtest"})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if resp.Metrics.IsSlow != tt.slow {
				t.Fatalf("IsSlow = %v, want %v", resp.Metrics.IsSlow, tt.slow)
			}
			delta := testutil.ToFloat64(slowQueriesTotal.WithLabelValues("slowtest")) - before
			if (delta == 1) != tt.slow {
				t.Fatalf("slow counter delta = %v", delta)
			}
		})
	}
}

func TestRecorder_LastObserverWins(t *testing.T) {
	r := newTestRecorder(time.Millisecond)
	var first, second []query.Metrics
	r.SetObserver(func(m query.Metrics) { first = append(first, m) })
	r.SetObserver(func(m query.Metrics) { second = append(second, m) })

	run := query.Chain(rowsRunner(3), r.Middleware())
	run.Run(context.Background(), query.Request{Model: "user"})

	if len(first) != 0 {
		t.Fatal("replaced observer must not be called")
	}
	if len(second) != 1 || second[0].ResultCount != 3 {
		t.Fatalf("unexpected observations: %+v", second)
	}

	r.SetObserver(nil)
	if _, err := run.Run(context.Background(), query.Request{Model: "user"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(second) != 1 {
		t.Fatal("cleared observer must not be called")
	}
}

func TestRecorder_ErrorsAreCounted(t *testing.T) {
	r := newTestRecorder(time.Millisecond)
	boom := errors.New("boom")
	failing := query.RunnerFunc(func(context.Context, query.Request) (*query.Response, error) { return nil, boom })
	called := false
	r.SetObserver(func(query.Metrics) { called = true })

	before := testutil.ToFloat64(queriesTotal.WithLabelValues("errtest", "cursor", "error"))
	_, err := query.Chain(failing, r.Middleware()).Run(context.Background(), query.Request{Model: "errtest", Cursor: "c1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected runner error, got %v", err)
	}
	if called {
		t.Fatal("observer must not see failed requests")
	}
	if got := testutil.ToFloat64(queriesTotal.WithLabelValues("errtest", "cursor", "error")) - before; got != 1 {
		t.Fatalf("expected one error count, got %v", got)
	}
}
