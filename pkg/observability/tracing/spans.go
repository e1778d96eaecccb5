package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/websyro/prismapilot/pkg/query"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	SpanOperationQuery    SpanOperation = "query.run"
	SpanOperationDBQuery  SpanOperation = "db.query"
	SpanOperationCacheGet SpanOperation = "cache.get"
	SpanOperationCacheSet SpanOperation = "cache.set"
)

// Middleware wraps each request in a span named after its model. The span
// records the request shape and the page returned.
func Middleware() query.Middleware {
	return func(next query.Runner) query.Runner {
		return query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
			mode := query.ModeOffset
			if req.IsCursor() {
				mode = query.ModeCursor
			}
			ctx, span := otel.Tracer("query").Start(ctx, fmt.Sprintf("QUERY %s", req.Model),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("query.operation", string(SpanOperationQuery)),
					attribute.String("query.model", req.Model),
					attribute.String("query.mode", string(mode)),
					attribute.Int("query.limit", req.Limit),
					attribute.Int("query.filters", len(req.Filters)),
					attribute.Int("query.relation_filters", len(req.Relations)),
					attribute.Bool("query.search", req.Search != ""),
				),
			)
			defer span.End()

			resp, err := next.Run(ctx, req)
			if err != nil {
				RecordError(span, err)
				return nil, err
			}

			span.SetAttributes(attribute.Int("query.result_count", len(resp.Data)))
			if resp.Page != nil {
				span.SetAttributes(
					attribute.Int64("query.total", resp.Page.Total),
					attribute.Int("query.page", resp.Page.Page),
				)
			}
			if resp.Cursor != nil {
				span.SetAttributes(attribute.Bool("query.has_more", resp.Cursor.HasMore))
			}
			RecordSuccess(span)
			return resp, nil
		})
	}
}

// StartDatabaseSpan creates a new span for a database operation.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	spanOpts := &databaseSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("db.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("DB %s", operation)
	if spanOpts.table != "" {
		spanName = fmt.Sprintf("DB %s %s", operation, spanOpts.table)
	}

	ctx, span := otel.Tracer("database").Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*databaseSpanOptions)

type databaseSpanOptions struct {
	table      string
	attributes []attribute.KeyValue
}

// WithDBTable sets the database table name for the span.
func WithDBTable(table string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.table = table
		opts.attributes = append(opts.attributes, attribute.String("db.table", table))
	}
}

// WithDBSystem sets the database system (e.g., "postgresql", "mysql").
func WithDBSystem(system string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithDBStatement sets the database query statement.
func WithDBStatement(statement string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.statement", statement))
	}
}

// StartCacheSpan creates a new span for a cache operation.
func StartCacheSpan(ctx context.Context, operation SpanOperation, opts ...CacheSpanOption) (context.Context, trace.Span) {
	spanOpts := &cacheSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("cache.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	ctx, span := otel.Tracer("cache").Start(ctx, fmt.Sprintf("CACHE %s", operation), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// CacheSpanOption configures a cache span.
type CacheSpanOption func(*cacheSpanOptions)

type cacheSpanOptions struct {
	attributes []attribute.KeyValue
}

// WithCacheKey sets the cache key.
func WithCacheKey(key string) CacheSpanOption {
	return func(opts *cacheSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("cache.key", key))
	}
}

// RecordCacheHit marks whether a lookup was a hit.
func RecordCacheHit(span trace.Span, hit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", hit))
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
