// Package cache provides a read-through response cache for list requests.
// In-process stores keep responses as values; byte stores such as Redis hold
// the JSON envelope.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/observability/tracing"
	"github.com/websyro/prismapilot/pkg/query"
)

// DefaultTTL applies when Options.TTL is not positive.
const DefaultTTL = 5 * time.Minute

// Options controls one cached execution. A disabled call or an empty key
// always executes and never caches.
type Options struct {
	Key     string
	TTL     time.Duration
	Enabled bool
}

// Cache wraps a Store with response encoding.
type Cache struct {
	store Store
	ttl   time.Duration
	log   logger.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for store failures.
func WithLogger(log logger.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New creates a cache over store. A nil store uses an InMemoryStore.
func New(store Store, opts ...Option) *Cache {
	if store == nil {
		store = NewInMemoryStore()
	}
	c := &Cache{store: store, ttl: DefaultTTL, log: logger.NewNopLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute returns the stored response for opts.Key when present and
// unexpired, otherwise runs req and stores the result. Store failures are
// logged and never fail the call; runner errors are not cached.
func (c *Cache) Execute(ctx context.Context, next query.Runner, req query.Request, opts Options) (*query.Response, error) {
	if !opts.Enabled || opts.Key == "" {
		return next.Run(ctx, req)
	}

	_, span := tracing.StartCacheSpan(ctx, tracing.SpanOperationCacheGet, tracing.WithCacheKey(opts.Key))
	cached, ok := c.load(opts.Key)
	tracing.RecordCacheHit(span, ok)
	span.End()
	if ok {
		incCacheResult("hit")
		return cached, nil
	}
	incCacheResult("miss")

	resp, err := next.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}
	_, span = tracing.StartCacheSpan(ctx, tracing.SpanOperationCacheSet, tracing.WithCacheKey(opts.Key))
	c.save(opts.Key, resp, ttl)
	span.End()
	return resp, nil
}

func (c *Cache) load(key string) (*query.Response, bool) {
	start := time.Now()
	defer observeCacheLatency("lookup", start)

	if rs, ok := c.store.(ResponseStore); ok {
		resp, err := rs.GetResponse(key)
		if err != nil {
			c.lookupFailed(key, err)
			return nil, false
		}
		return resp, true
	}

	raw, err := c.store.Get(key)
	if err != nil {
		c.lookupFailed(key, err)
		return nil, false
	}

	var resp query.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		incCacheResult("error")
		c.log.Warn("cache entry is corrupt", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}

func (c *Cache) lookupFailed(key string, err error) {
	if errors.Is(err, ErrCacheMiss) {
		return
	}
	incCacheResult("error")
	c.log.Warn("cache lookup failed", "key", key, "error", err)
}

func (c *Cache) save(key string, resp *query.Response, ttl time.Duration) {
	start := time.Now()
	defer observeCacheLatency("store", start)

	if rs, ok := c.store.(ResponseStore); ok {
		if err := rs.SetResponse(key, resp, ttl); err != nil {
			incCacheResult("error")
			c.log.Warn("cache store failed", "key", key, "error", err)
			return
		}
		incCacheResult("set")
		return
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		incCacheResult("error")
		c.log.Warn("cache entry encoding failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(key, encoded, ttl); err != nil {
		incCacheResult("error")
		c.log.Warn("cache store failed", "key", key, "error", err)
		return
	}
	incCacheResult("set")
}

// Invalidate removes one key.
func (c *Cache) Invalidate(key string) error {
	return c.store.Delete(key)
}

// Clear removes every cached response.
func (c *Cache) Clear() error {
	return c.store.Clear()
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// KeyFunc derives the cache key of a request. An empty key disables caching
// for that request.
type KeyFunc func(req query.Request) (string, error)

// RequestKey hashes the JSON form of req, scoped by model.
func RequestKey(req query.Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("query:%s:%s", req.Model, hex.EncodeToString(sum[:])), nil
}

// Middleware caches every request under the key produced by keyFn, using
// RequestKey when keyFn is nil.
func Middleware(c *Cache, keyFn KeyFunc, ttl time.Duration) query.Middleware {
	if keyFn == nil {
		keyFn = RequestKey
	}
	return func(next query.Runner) query.Runner {
		return query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
			key, err := keyFn(req)
			if err != nil {
				incCacheResult("error")
				c.log.Warn("cache key derivation failed", "model", req.Model, "error", err)
				return next.Run(ctx, req)
			}
			return c.Execute(ctx, next, req, Options{Key: key, TTL: ttl, Enabled: true})
		})
	}
}
