package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query"
)

// DefaultSlowThreshold marks requests slower than one second.
const DefaultSlowThreshold = 1000 * time.Millisecond

// Observer receives the metrics of every completed request.
type Observer func(query.Metrics)

// Recorder times requests, attaches query.Metrics to responses and reports
// to a single registered observer.
type Recorder struct {
	mu        sync.RWMutex
	observer  Observer
	threshold time.Duration
	now       func() time.Time
	log       logger.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSlowThreshold overrides DefaultSlowThreshold.
func WithSlowThreshold(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.threshold = d
		}
	}
}

// WithLogger logs slow requests at warn level.
func WithLogger(log logger.Logger) RecorderOption {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRecorder creates a recorder with no observer.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		threshold: DefaultSlowThreshold,
		now:       time.Now,
		log:       logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetObserver replaces the registered observer. Nil removes it.
func (r *Recorder) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// Middleware returns the decorator measuring each request. Failed requests
// are counted but get no metrics attached.
func (r *Recorder) Middleware() query.Middleware {
	return func(next query.Runner) query.Runner {
		return query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
			start := r.now()
			resp, err := next.Run(ctx, req)
			end := r.now()
			elapsed := end.Sub(start)

			mode := string(query.ModeOffset)
			if req.IsCursor() {
				mode = string(query.ModeCursor)
			}
			status := "ok"
			if err != nil {
				status = "error"
			}
			queryDuration.WithLabelValues(req.Model, mode, status).Observe(elapsed.Seconds())
			queriesTotal.WithLabelValues(req.Model, mode, status).Inc()
			if err != nil {
				return nil, err
			}

			m := query.Metrics{
				QueryTime:   elapsed,
				ResultCount: len(resp.Data),
				IsSlow:      elapsed > r.threshold,
				Timestamp:   end,
				Request:     req,
			}
			queryResultRows.WithLabelValues(req.Model).Observe(float64(m.ResultCount))
			if m.IsSlow {
				slowQueriesTotal.WithLabelValues(req.Model).Inc()
				r.log.Warn("slow query", "model", req.Model, "query_time", elapsed, "result_count", m.ResultCount)
			}

			r.mu.RLock()
			observer := r.observer
			r.mu.RUnlock()
			if observer != nil {
				observer(m)
			}

			out := *resp
			out.Metrics = &m
			return &out, nil
		})
	}
}
