// Package gate composes response memoization and admission control in front
// of a chat completion backend. The composition is explicit: lookup first, and
// only on a miss acquire admission, call the backend, then store the result
// with its measured latency. A cache hit never touches the limiter.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/admission"
	"github.com/BaSui01/llmgate/internal/metrics"
	"github.com/BaSui01/llmgate/memo"
	"github.com/BaSui01/llmgate/types"
)

const instrumentationName = "github.com/BaSui01/llmgate/gate"

// DefaultOperation is the admission scope used by Complete.
const DefaultOperation = "chat"

// Backend performs the actual (slow, stateful) completion call. Transport and
// protocol handling live entirely behind this interface.
type Backend interface {
	Complete(ctx context.Context, req *types.Request) (*types.Response, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req *types.Request) (*types.Response, error)

// Complete implements Backend.
func (f BackendFunc) Complete(ctx context.Context, req *types.Request) (*types.Response, error) {
	return f(ctx, req)
}

// Gate is the process-wide admission + memoization front for a backend.
// Construct it once at process start and share it across callers.
type Gate struct {
	backend   Backend
	cache     *memo.Cache
	limiter   *admission.Limiter
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCollector enables Prometheus metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(g *Gate) {
		g.collector = c
	}
}

// New creates a Gate. backend, cache and limiter are required.
func New(backend Backend, cache *memo.Cache, limiter *admission.Limiter, opts ...Option) (*Gate, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}

	g := &Gate{
		backend: backend,
		cache:   cache,
		limiter: limiter,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "gate"))
	return g, nil
}

// Complete serves a completion request under the default operation scope.
func (g *Gate) Complete(ctx context.Context, req *types.Request) (*types.Response, error) {
	return g.CompleteOp(ctx, DefaultOperation, req)
}

// CompleteOp serves a completion request under a named operation scope.
// Cache hits return immediately without an admission check. On a miss the
// caller is admitted (possibly after a wait), the backend is invoked, and the
// result is stored together with its measured latency. Backend errors are
// never cached.
func (g *Gate) CompleteOp(ctx context.Context, operation string, req *types.Request) (*types.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	requestID := uuid.NewString()
	logger := g.logger.With(
		zap.String("request_id", requestID),
		zap.String("operation", operation),
		zap.String("model", req.Model),
	)

	ctx, span := g.tracer.Start(ctx, "gate.Complete",
		trace.WithAttributes(
			attribute.String("llm.request.id", requestID),
			attribute.String("llm.operation", operation),
			attribute.String("llm.model", req.Model),
		))
	defer span.End()

	entry, hit, err := g.cache.LookupEntry(req.Messages, req.Model, req.Temperature)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	span.SetAttributes(attribute.Bool("llm.cache.hit", hit))

	if hit {
		resp, ok := entry.Response.(*types.Response)
		if !ok {
			return nil, fmt.Errorf("unexpected cached response type %T", entry.Response)
		}
		if g.collector != nil {
			g.collector.RecordCacheHit(entry.Latency.Seconds())
		}
		logger.Debug("served from cache", zap.Duration("saved_latency", entry.Latency))
		return resp, nil
	}
	if g.collector != nil {
		g.collector.RecordCacheMiss()
	}

	admitStart := time.Now()
	if err := g.limiter.Acquire(ctx, operation, 1); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("admission failed: %w", err)
	}
	waited := time.Since(admitStart)
	span.SetAttributes(attribute.Float64("llm.admission.wait_seconds", waited.Seconds()))
	if g.collector != nil {
		g.collector.RecordAdmission(operation, waited.Seconds())
		g.collector.SetTokensAvailable(g.limiter.AvailableTokens())
	}

	backendStart := time.Now()
	resp, err := g.backend.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		logger.Warn("backend call failed", zap.Error(err))
		return nil, err
	}
	latency := time.Since(backendStart)

	if err := g.cache.Store(req.Messages, req.Model, req.Temperature, resp, latency); err != nil {
		// a failed store never fails the response that was just computed
		logger.Warn("cache store failed", zap.Error(err))
	}

	logger.Debug("served from backend",
		zap.Duration("latency", latency),
		zap.Duration("admission_wait", waited),
	)
	return resp, nil
}

// CacheStats returns the cache statistics snapshot.
func (g *Gate) CacheStats() memo.Stats {
	return g.cache.Stats()
}

// LimiterStats returns the limiter statistics snapshot.
func (g *Gate) LimiterStats() admission.Stats {
	return g.limiter.Stats()
}
