// Package webhook posts query results to an HTTP endpoint after each run.
// Delivery is fire-and-forget: failures are logged and never change the
// result returned to the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query"
)

// DeliveryHeader carries a unique id per delivery attempt.
const DeliveryHeader = "X-Prismapilot-Delivery"

// Config configures a Notifier.
type Config struct {
	URL          string
	Headers      map[string]string
	IncludeQuery bool
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Payload is the body posted for every successful run.
type Payload struct {
	Data      []query.Record `json:"data"`
	Meta      any            `json:"meta"`
	Timestamp time.Time      `json:"timestamp"`
	Query     *query.Request `json:"query,omitempty"`
}

// Notifier delivers payloads to one endpoint.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	log        logger.Logger
	now        func() time.Time
	inflight   sync.WaitGroup
}

// New creates a Notifier. A nil logger discards delivery failures.
func New(cfg Config, log logger.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: client,
		log:        log,
		now:        time.Now,
	}, nil
}

// Middleware runs the request and then schedules a delivery of its result.
// Failed runs are not delivered.
func (n *Notifier) Middleware() query.Middleware {
	return func(next query.Runner) query.Runner {
		return query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
			resp, err := next.Run(ctx, req)
			if err != nil {
				return nil, err
			}
			n.Notify(ctx, req, resp)
			return resp, nil
		})
	}
}

// Notify builds the payload for resp and delivers it in the background.
func (n *Notifier) Notify(ctx context.Context, req query.Request, resp *query.Response) {
	payload := Payload{
		Data:      resp.Data,
		Meta:      resp.Meta(),
		Timestamp: n.now().UTC(),
	}
	if payload.Data == nil {
		payload.Data = []query.Record{}
	}
	if n.cfg.IncludeQuery {
		q := req.Clone()
		payload.Query = &q
	}

	// Rows belong to the caller once Notify returns.
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("webhook delivery failed", "url", n.cfg.URL, "model", req.Model, "error", fmt.Errorf("encode webhook payload: %w", err))
		return
	}

	dctx := context.WithoutCancel(ctx)
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		if err := n.post(dctx, body); err != nil {
			n.log.Warn("webhook delivery failed", "url", n.cfg.URL, "model", req.Model, "error", err)
		}
	}()
}

// Deliver posts payload synchronously.
func (n *Notifier) Deliver(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	return n.post(ctx, body)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	cctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, uuid.NewString())

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	n.log.Debug("webhook delivered", "url", n.cfg.URL, "status", resp.StatusCode)
	return nil
}

// Wait blocks until every scheduled delivery has finished.
func (n *Notifier) Wait() {
	n.inflight.Wait()
}
