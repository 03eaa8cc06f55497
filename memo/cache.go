package memo

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/window"
	"github.com/BaSui01/llmgate/types"
)

// DefaultTemperatureThreshold 缓存资格的确定性阈值。
// temperature 超过该值的请求被视为不可复现，不参与缓存。
// 该值是领域策略而非结构约束，可通过 Config.TemperatureThreshold 覆盖。
const DefaultTemperatureThreshold = 0.5

// rateWindowSize 请求时间戳滚动窗口的容量
const rateWindowSize = 64

// Entry 缓存条目
type Entry struct {
	Response    any           // 缓存不关心响应内容，仅原样存取
	Latency     time.Duration // 后端计算耗时，仅用于统计
	TokensSaved int           // 命中时节省的 token 估算
	CreatedAt   time.Time     // TTL 判定基准
}

// Config 缓存配置，构造后不可变更。
type Config struct {
	MaxSize              int           `yaml:"max_size" json:"max_size"`
	TTL                  time.Duration `yaml:"ttl" json:"ttl"`
	TemperatureThreshold float64       `yaml:"temperature_threshold" json:"temperature_threshold"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() *Config {
	return &Config{
		MaxSize:              100,
		TTL:                  time.Hour,
		TemperatureThreshold: DefaultTemperatureThreshold,
	}
}

// Stats 缓存统计快照
type Stats struct {
	Hits              int64         `json:"hits"`
	Misses            int64         `json:"misses"`
	TotalRequests     int64         `json:"total_requests"`
	HitRate           float64       `json:"hit_rate"`
	CurrentSize       int           `json:"current_size"`
	MaxSize           int           `json:"max_size"`
	TotalSavedLatency time.Duration `json:"total_saved_latency"`
	TotalTokensSaved  int64         `json:"total_tokens_saved"`
	RequestRate       float64       `json:"request_rate"`
}

// Cache 响应记忆化缓存。
// 容量超限时按 LRU 淘汰（双向链表 + map，O(1) 操作），
// 过期条目在 Lookup 时惰性清除。所有方法并发安全。
type Cache struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	threshold float64
	items     map[string]*lruNode
	head      *lruNode // 最近使用
	tail      *lruNode // 最久未使用

	// 统计与条目相互独立：ResetStats 不动条目，Clear 不动计数器
	hits         int64
	misses       int64
	savedLatency time.Duration
	tokensSaved  int64
	requests     *window.Ring

	counter TokenCounter
	logger  *zap.Logger
}

type lruNode struct {
	key   string
	entry *Entry
	prev  *lruNode
	next  *lruNode
}

// Option 配置 Cache 的可选依赖
type Option func(*Cache)

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTokenCounter 设置 token 节省量估算器
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *Cache) {
		c.counter = counter
	}
}

// NewCache 创建缓存。非法配置（容量或 TTL 非正、阈值为负）在此拒绝，
// 不会延迟到运行期暴露。
func NewCache(config *Config, opts ...Option) (*Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxSize <= 0 {
		return nil, fmt.Errorf("cache max size must be positive, got %d", config.MaxSize)
	}
	if config.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", config.TTL)
	}
	if config.TemperatureThreshold < 0 {
		return nil, fmt.Errorf("temperature threshold must be non-negative, got %g", config.TemperatureThreshold)
	}

	c := &Cache{
		capacity:  config.MaxSize,
		ttl:       config.TTL,
		threshold: config.TemperatureThreshold,
		items:     make(map[string]*lruNode),
		requests:  window.New(rateWindowSize),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "memo_cache"))
	return c, nil
}

// Lookup 查询缓存。
// temperature 超过阈值时无条件绕过缓存并记为 miss。
// 命中时累计节省耗时与 token，并将条目移到 LRU 头部。
// 指纹序列化失败向上传播，不会伪装成 miss。
func (c *Cache) Lookup(messages []types.Message, model string, temperature float64) (any, bool, error) {
	entry, ok, err := c.LookupEntry(messages, model, temperature)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Response, true, nil
}

// LookupEntry 与 Lookup 相同，但返回完整条目（含原始耗时与 token 节省量），
// 供观测层使用。条目视为只读。
func (c *Cache) LookupEntry(messages []types.Message, model string, temperature float64) (*Entry, bool, error) {
	if temperature > c.threshold {
		c.recordMiss()
		return nil, false, nil
	}

	key, err := Fingerprint(messages, model, temperature)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests.Record(time.Now())

	node, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	// 惰性过期
	if time.Since(node.entry.CreatedAt) > c.ttl {
		c.removeNode(node)
		delete(c.items, key)
		c.misses++
		return nil, false, nil
	}

	c.moveToHead(node)
	c.hits++
	c.savedLatency += node.entry.Latency
	c.tokensSaved += int64(node.entry.TokensSaved)

	c.logger.Debug("cache hit",
		zap.String("key", key),
		zap.Duration("saved_latency", node.entry.Latency),
	)
	return node.entry, true, nil
}

// Store 写入缓存，覆盖同键旧条目。
// temperature 超过阈值时静默跳过。latency 仅用于统计。
func (c *Cache) Store(messages []types.Message, model string, temperature float64, response any, latency time.Duration) error {
	if temperature > c.threshold {
		return nil
	}

	key, err := Fingerprint(messages, model, temperature)
	if err != nil {
		return err
	}

	entry := &Entry{
		Response:    response,
		Latency:     latency,
		TokensSaved: c.estimateTokens(response),
		CreatedAt:   time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.entry = entry
		c.moveToHead(node)
		return nil
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{key: key, entry: entry}
	c.items[key] = node
	c.addToHead(node)

	c.logger.Debug("cache store", zap.String("key", key), zap.Duration("latency", latency))
	return nil
}

// Clear 清空全部条目，统计计数器保持不变。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
}

// Stats 返回统计快照。HitRate 始终由原始计数现算，totalRequests 为 0 时为 0。
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:              c.hits,
		Misses:            c.misses,
		TotalRequests:     total,
		HitRate:           hitRate,
		CurrentSize:       len(c.items),
		MaxSize:           c.capacity,
		TotalSavedLatency: c.savedLatency,
		TotalTokensSaved:  c.tokensSaved,
		RequestRate:       c.requests.Rate(),
	}
}

// ResetStats 清零计数器与时间戳窗口，已缓存条目保持不变。
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits = 0
	c.misses = 0
	c.savedLatency = 0
	c.tokensSaved = 0
	c.requests.Reset()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
	c.requests.Record(time.Now())
}

func (c *Cache) estimateTokens(response any) int {
	if c.counter == nil {
		return 0
	}
	resp, ok := response.(*types.Response)
	if !ok || resp == nil {
		return 0
	}
	return c.counter.Count(resp.Content)
}

// addToHead 添加节点到头部 O(1)
func (c *Cache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

// removeNode 从链表中移除节点 O(1)
func (c *Cache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

// moveToHead 移动节点到头部 O(1)
func (c *Cache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

// evictTail 淘汰尾部节点 O(1)
func (c *Cache) evictTail() {
	if c.tail == nil {
		return
	}
	evicted := c.tail.key
	delete(c.items, evicted)
	c.removeNode(c.tail)
	c.logger.Debug("cache eviction", zap.String("key", evicted))
}
