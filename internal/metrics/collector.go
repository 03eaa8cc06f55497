// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 缓存指标
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	savedLatency prometheus.Counter

	// 准入指标
	admissionWait   *prometheus.HistogramVec
	admissionTotal  *prometheus.CounterVec
	tokensAvailable prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// registerer 为 nil 时使用默认注册器。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 缓存指标
	c.cacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	})
	c.cacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	})
	c.savedLatency = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_saved_latency_seconds_total",
		Help:      "Cumulative backend latency avoided by cache hits",
	})

	// 准入指标
	c.admissionWait = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "admission_wait_seconds",
		Help:      "Time spent waiting for admission",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	c.admissionTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_requests_total",
		Help:      "Total number of admitted requests",
	}, []string{"operation"})
	c.tokensAvailable = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "admission_tokens_available",
		Help:      "Tokens currently available in the global scope",
	})

	return c
}

// RecordCacheHit 记录缓存命中及其节省的后端耗时（秒）
func (c *Collector) RecordCacheHit(savedSeconds float64) {
	c.cacheHits.Inc()
	c.savedLatency.Add(savedSeconds)
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordAdmission 记录一次准入及其等待耗时（秒）
func (c *Collector) RecordAdmission(operation string, waitSeconds float64) {
	c.admissionTotal.WithLabelValues(operation).Inc()
	c.admissionWait.WithLabelValues(operation).Observe(waitSeconds)
}

// SetTokensAvailable 更新全局可用 token 数
func (c *Collector) SetTokensAvailable(tokens float64) {
	c.tokensAvailable.Set(tokens)
}
