package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/websyro/prismapilot/pkg/query"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	if registry == nil || registry.registry == nil {
		t.Fatal("NewRegistry returned an empty registry")
	}
}

func gatheredNames(t *testing.T, registry *Registry) map[string]string {
	t.Helper()
	families, err := registry.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var buf strings.Builder
	names := make(map[string]string, len(families))
	for _, f := range families {
		buf.Reset()
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				buf.WriteString(l.GetName() + "=" + l.GetValue() + ";")
			}
		}
		names[f.GetName()] = buf.String()
	}
	return names
}

func TestRegistry_GathersQueryMetrics(t *testing.T) {
	registry := NewRegistry()
	r := newTestRecorder(0)
	if _, err := query.Chain(rowsRunner(2), r.Middleware()).Run(context.Background(), query.Request{Model: "exposed"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	names := gatheredNames(t, registry)
	for _, name := range []string{"prismapilot_queries_total", "prismapilot_query_duration_seconds", "go_goroutines"} {
		if _, ok := names[name]; !ok {
			t.Errorf("expected %s to be gathered", name)
		}
	}
	if !strings.Contains(names["prismapilot_queries_total"], "model=exposed;") {
		t.Error("expected model label on the query counter")
	}
}

func TestRegistry_MustRegister(t *testing.T) {
	registry := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "custom_total", Help: "custom"})
	registry.MustRegister(counter)
	counter.Inc()

	if _, ok := gatheredNames(t, registry)["custom_total"]; !ok {
		t.Fatal("expected registered collector to be gathered")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	registry.MustRegister(counter)
}
