package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/websyro/prismapilot/pkg/cache"
	"github.com/websyro/prismapilot/pkg/config"
	"github.com/websyro/prismapilot/pkg/executor"
	"github.com/websyro/prismapilot/pkg/health"
	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/observability/metrics"
	"github.com/websyro/prismapilot/pkg/observability/tracing"
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/scope"
	redisstore "github.com/websyro/prismapilot/pkg/store/redis"
	"github.com/websyro/prismapilot/pkg/version"
	"github.com/websyro/prismapilot/pkg/webhook"
)

// ScopeOptions carries per-invocation scope switches.
type ScopeOptions struct {
	TenantID       string
	IncludeTrashed bool
	TrashedOnly    bool
	NoCache        bool
}

// Runtime is the engine with every configured decorator wired around it.
type Runtime struct {
	Config   *config.Config
	Log      logger.Logger
	Engine   *query.Engine
	Runner   query.Runner
	Scopes   []scope.Scope
	Cache    *cache.Cache
	Recorder *metrics.Recorder
	Registry *metrics.Registry
	Notifier *webhook.Notifier
	Health   *health.Registry

	tracer  *tracing.TracerProvider
	closers []io.Closer
}

// NewRuntime builds the executor named by cfg.Database and wraps the engine
// in tracing, metrics, webhook, scope and cache decorators, outermost first.
func NewRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, opts ScopeOptions) (*Runtime, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	rt := &Runtime{Config: cfg, Log: log, Health: health.NewRegistry()}

	exec, closer, err := executor.New(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closer)
	if c, ok := closer.(health.Checkable); ok {
		rt.Health.Register("database", c, cfg.Database.ConnectTimeout)
	}

	engineOpts := []query.Option{query.WithLogger(log)}
	if cfg.Query.DefaultSortField != "" {
		engineOpts = append(engineOpts, query.WithDefaultSort(cfg.Query.DefaultSortField, query.SortOrder(cfg.Query.DefaultSortOrder)))
	}
	if cfg.Query.CursorField != "" {
		engineOpts = append(engineOpts, query.WithCursorField(cfg.Query.CursorField))
	}
	if rt.Engine, err = query.NewEngine(exec, engineOpts...); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	if rt.tracer, err = tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version.Current().Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	}); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	rt.Scopes = scopesFor(cfg.Query, opts)

	var mws []query.Middleware
	if cfg.Observability.TracingEnabled {
		mws = append(mws, tracing.Middleware())
	}
	if cfg.Observability.MetricsEnabled {
		rt.Registry = metrics.NewRegistry()
		rt.Recorder = metrics.NewRecorder(
			metrics.WithSlowThreshold(cfg.Query.SlowQueryThreshold),
			metrics.WithLogger(log),
		)
		mws = append(mws, rt.Recorder.Middleware())
	}
	if cfg.Webhook.URL != "" {
		if rt.Notifier, err = webhook.New(webhook.Config{
			URL:          cfg.Webhook.URL,
			Headers:      cfg.Webhook.Headers,
			IncludeQuery: cfg.Webhook.IncludeQuery,
			Timeout:      cfg.Webhook.Timeout,
		}, log); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		mws = append(mws, rt.Notifier.Middleware())
	}
	mws = append(mws, scope.Middleware(rt.Scopes...))
	if cfg.Cache.Enabled && !opts.NoCache {
		var checker health.Checkable
		if rt.Cache, checker, err = newCache(cfg.Cache, log); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		if checker != nil {
			rt.Health.Register("cache", checker, cfg.Cache.OperationTimeout)
		}
		rt.closers = append(rt.closers, rt.Cache)
		if rt.Registry != nil {
			rt.Registry.MustRegister(cache.Collectors()...)
		}
		mws = append(mws, cache.Middleware(rt.Cache, cache.RequestKey, cfg.Cache.TTL))
	}

	rt.Runner = query.Chain(rt.Engine, mws...)
	return rt, nil
}

func scopesFor(cfg config.QueryConfig, opts ScopeOptions) []scope.Scope {
	var scopes []scope.Scope
	if opts.TenantID != "" {
		scopes = append(scopes, scope.Tenant{Field: cfg.TenantField, ID: opts.TenantID})
	}
	if cfg.SoftDelete || opts.IncludeTrashed || opts.TrashedOnly {
		scopes = append(scopes, scope.SoftDelete{
			Field: cfg.SoftDeleteField,
			Visibility: scope.Visibility{
				IncludeTrashed: opts.IncludeTrashed,
				TrashedOnly:    opts.TrashedOnly,
			},
		})
	}
	return scopes
}

// newCache builds the result cache. Remote stores also return a health checker.
func newCache(cfg config.CacheConfig, log logger.Logger) (*cache.Cache, health.Checkable, error) {
	var (
		store cache.Store
		checker health.Checkable
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "memory":
		store = cache.NewInMemoryStore()
	case "redis":
		adapter, err := redisstore.NewAdapter(redisstore.Config{
			URL:              cfg.URL,
			MaxConns:         cfg.MaxConns,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis cache: %w", err)
		}
		store = cache.NewRedisStore(adapter.Client(), cfg.KeyPrefix, cfg.OperationTimeout)
		checker = adapter
	default:
		return nil, nil, fmt.Errorf("unsupported cache.type %q", cfg.Type)
	}
	return cache.New(store, cache.WithLogger(log), cache.WithDefaultTTL(cfg.TTL)), checker, nil
}

// Scoped applies the runtime scopes to req for calls that bypass Runner.
func (r *Runtime) Scoped(ctx context.Context, req query.Request) (query.Request, error) {
	return scope.Apply(ctx, req, r.Scopes...)
}

// Close waits for pending webhook deliveries, flushes traces and releases
// the executor and cache.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.Notifier != nil {
		r.Notifier.Wait()
	}
	if r.tracer != nil {
		if err := r.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
