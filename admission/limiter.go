// Package admission provides token bucket admission control for slow, stateful
// inference backends. A limiter maintains one refillable token pool per logical
// scope: a global default plus optional named operation overrides.
package admission

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/window"
)

// rateWindowSize is the capacity of the rolling request-timestamp window.
const rateWindowSize = 64

// GlobalScope is the scope used when an operation has no rate override.
const GlobalScope = "global"

// Config configures a Limiter. It is consumed at construction and never
// re-validated afterwards.
type Config struct {
	RatePerSecond  float64            `yaml:"rate_per_second" json:"rate_per_second"`
	BurstCapacity  int                `yaml:"burst_capacity" json:"burst_capacity"`
	OperationRates map[string]float64 `yaml:"operation_rates" json:"operation_rates"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RatePerSecond: 2.0,
		BurstCapacity: 5,
	}
}

// Stats is a read-only snapshot of limiter statistics. AvailableTokens and
// BurstCapacity describe the global scope.
type Stats struct {
	TotalRequests   int64         `json:"total_requests"`
	TotalWait       time.Duration `json:"total_wait"`
	CurrentRate     float64       `json:"current_rate"`
	MaxRate         float64       `json:"max_rate"`
	AvailableTokens float64       `json:"available_tokens"`
	BurstCapacity   int           `json:"burst_capacity"`
}

// scope is an independently rate-limited token bucket. tokens stays within
// [0, burst]; refill is computed lazily from elapsed wall-clock time.
type scope struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
}

// refillLocked advances the bucket to now. Caller must hold s.mu.
func (s *scope) refillLocked(now time.Time) {
	elapsed := now.Sub(s.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	s.tokens = math.Min(s.burst, s.tokens+elapsed*s.rate)
	s.lastRefill = now
}

// Limiter gates request admission using per-scope token buckets. It is safe
// for arbitrarily many concurrent callers across different scopes; waiting in
// Acquire never holds any scope lock.
type Limiter struct {
	mu     sync.Mutex // guards scopes map
	config *Config
	scopes map[string]*scope
	logger *zap.Logger

	statsMu       sync.Mutex
	totalRequests int64
	totalWait     time.Duration
	maxRate       float64
	requests      *window.Ring
}

// NewLimiter creates a limiter. Misconfiguration (non-positive rate or burst,
// non-positive operation override) is rejected here rather than discovered
// later as an infinite wait.
func NewLimiter(config *Config, logger *zap.Logger) (*Limiter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RatePerSecond <= 0 {
		return nil, fmt.Errorf("rate per second must be positive, got %g", config.RatePerSecond)
	}
	if config.BurstCapacity <= 0 {
		return nil, fmt.Errorf("burst capacity must be positive, got %d", config.BurstCapacity)
	}
	for op, rate := range config.OperationRates {
		if rate <= 0 {
			return nil, fmt.Errorf("rate for operation %q must be positive, got %g", op, rate)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		config:   config,
		scopes:   make(map[string]*scope),
		logger:   logger.With(zap.String("component", "admission_limiter")),
		requests: window.New(rateWindowSize),
	}, nil
}

// scopeFor resolves the bucket for an operation, creating it on first use.
// Operations without a rate override share the global scope.
func (l *Limiter) scopeFor(operation string) *scope {
	name := GlobalScope
	rate := l.config.RatePerSecond
	if r, ok := l.config.OperationRates[operation]; ok {
		name = operation
		rate = r
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.scopes[name]; ok {
		return s
	}
	s := &scope{
		rate:       rate,
		burst:      float64(l.config.BurstCapacity),
		tokens:     float64(l.config.BurstCapacity),
		lastRefill: time.Now(),
	}
	l.scopes[name] = s
	return s
}

// Acquire blocks until n tokens are available for operation, then consumes
// them. It never fails under normal conditions, it only delays; the error
// return covers context cancellation and requests that exceed burst capacity.
//
// A zero or negative n succeeds immediately without consuming tokens or
// recording a request. Cancellation before the final consume leaves shared
// state untouched.
//
// The lock discipline is deliberate: read/refill/decide under the scope lock,
// release before sleeping, re-acquire and re-validate from scratch after
// waking. Holding the lock across the sleep would serialize every caller of
// the scope for the full wait.
func (l *Limiter) Acquire(ctx context.Context, operation string, n int) error {
	if n <= 0 {
		return nil
	}
	s := l.scopeFor(operation)
	if float64(n) > s.burst {
		return fmt.Errorf("requested %d tokens exceeds burst capacity %d", n, int(s.burst))
	}

	start := time.Now()
	for {
		s.mu.Lock()
		now := time.Now()
		s.refillLocked(now)
		if s.tokens >= float64(n) {
			s.tokens -= float64(n)
			s.mu.Unlock()

			waited := time.Since(start)
			l.recordRequest(waited)
			if waited > time.Millisecond {
				l.logger.Debug("admission granted after wait",
					zap.String("operation", operation),
					zap.Duration("waited", waited),
				)
			}
			return nil
		}
		// Not enough tokens: compute the exact wait, then sleep without the
		// lock. Other callers may consume tokens in the interim, so the next
		// iteration re-validates from scratch.
		wait := time.Duration((float64(n) - s.tokens) / s.rate * float64(time.Second))
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire either atomically consumes n tokens and returns true, or changes
// nothing and returns false. It never blocks.
func (l *Limiter) TryAcquire(operation string, n int) bool {
	if n <= 0 {
		return true
	}
	s := l.scopeFor(operation)

	s.mu.Lock()
	s.refillLocked(time.Now())
	if s.tokens < float64(n) {
		s.mu.Unlock()
		return false
	}
	s.tokens -= float64(n)
	s.mu.Unlock()

	l.recordRequest(0)
	return true
}

// CurrentRate estimates admitted requests per second from the timestamp
// window. Returns 0 when fewer than two samples exist.
func (l *Limiter) CurrentRate() float64 {
	return l.requests.Rate()
}

// AvailableTokens returns the current token count of the global scope after a
// refill.
func (l *Limiter) AvailableTokens() float64 {
	s := l.scopeFor(GlobalScope)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refillLocked(time.Now())
	return s.tokens
}

// Stats returns a statistics snapshot.
func (l *Limiter) Stats() Stats {
	tokens := l.AvailableTokens()

	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return Stats{
		TotalRequests:   l.totalRequests,
		TotalWait:       l.totalWait,
		CurrentRate:     l.requests.Rate(),
		MaxRate:         l.maxRate,
		AvailableTokens: tokens,
		BurstCapacity:   l.config.BurstCapacity,
	}
}

// ResetStats clears counters and the request-time window. Token levels are
// never touched.
func (l *Limiter) ResetStats() {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()

	l.totalRequests = 0
	l.totalWait = 0
	l.maxRate = 0
	l.requests.Reset()
}

// recordRequest records a completed admission. Only called after the final
// token consume, so abandoned waits never show up here.
func (l *Limiter) recordRequest(waited time.Duration) {
	l.requests.Record(time.Now())

	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.totalRequests++
	l.totalWait += waited
	if r := l.requests.Rate(); r > l.maxRate {
		l.maxRate = r
	}
}
