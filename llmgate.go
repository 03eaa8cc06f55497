// Package llmgate provides a top-level convenience entry point for putting a
// response cache and an admission limiter in front of a chat backend with
// minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/llmgate"
//
//	g, err := llmgate.New(backend)
//	g, err := llmgate.New(backend, llmgate.WithConfig(cfg), llmgate.WithLogger(logger))
//
//	resp, err := g.Complete(ctx, &types.Request{Model: "gpt-4", Messages: msgs})
//
// The gate is a process-wide resource: construct it once at process start and
// pass it by reference to all callers.
package llmgate

import (
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/admission"
	"github.com/BaSui01/llmgate/config"
	"github.com/BaSui01/llmgate/gate"
	"github.com/BaSui01/llmgate/memo"
)

// Backend is re-exported so callers never need to import gate/.
type Backend = gate.Backend

// BackendFunc adapts a function to the Backend interface.
type BackendFunc = gate.BackendFunc

// options collects construction-time settings before the components exist.
type options struct {
	cfg     *config.Config
	logger  *zap.Logger
	counter memo.TokenCounter
}

// Option configures the gate created by [New].
type Option func(*options)

// WithConfig sets the full configuration. Defaults apply when omitted.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTokenCounter enables token-savings accounting on cache hits.
func WithTokenCounter(counter memo.TokenCounter) Option {
	return func(o *options) { o.counter = counter }
}

// New creates a [gate.Gate] wired with a response cache and an admission
// limiter built from the given configuration.
func New(backend Backend, opts ...Option) (*gate.Gate, error) {
	o := &options{
		cfg:    config.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	cache, err := memo.NewCache(&o.cfg.Cache,
		memo.WithLogger(o.logger),
		memo.WithTokenCounter(o.counter),
	)
	if err != nil {
		return nil, err
	}

	limiter, err := admission.NewLimiter(&o.cfg.Limiter, o.logger)
	if err != nil {
		return nil, err
	}

	return gate.New(backend, cache, limiter, gate.WithLogger(o.logger))
}
