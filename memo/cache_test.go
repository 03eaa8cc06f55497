package memo

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/types"
)

func newTestCache(t *testing.T, cfg *Config, opts ...Option) *Cache {
	t.Helper()
	c, err := NewCache(cfg, opts...)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	return c
}

func TestCache_HitAfterStore(t *testing.T) {
	c := newTestCache(t, nil, WithLogger(zap.NewNop()))
	msgs := []types.Message{types.NewUserMessage("hello")}
	resp := &types.Response{Content: "hi there"}

	if err := c.Store(msgs, "gpt-4", 0.2, resp, 800*time.Millisecond); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, ok, err := c.Lookup(msgs, "gpt-4", 0.2)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.(*types.Response).Content != "hi there" {
		t.Errorf("expected stored response, got %+v", got)
	}
}

func TestCache_HighTemperatureBypass(t *testing.T) {
	c := newTestCache(t, nil)
	msgs := []types.Message{types.NewUserMessage("hello")}

	// 超过阈值：Store 静默跳过，Lookup 记为 miss
	if err := c.Store(msgs, "gpt-4", 0.9, &types.Response{Content: "x"}, time.Second); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, ok, _ := c.Lookup(msgs, "gpt-4", 0.9); ok {
		t.Error("expected miss for high temperature")
	}

	stats := c.Stats()
	if stats.CurrentSize != 0 {
		t.Errorf("bypassed store should not cache, size=%d", stats.CurrentSize)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestCache_ThresholdOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TemperatureThreshold = 0.8
	c := newTestCache(t, cfg)
	msgs := []types.Message{types.NewUserMessage("hello")}

	if err := c.Store(msgs, "gpt-4", 0.7, &types.Response{Content: "x"}, time.Second); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, ok, _ := c.Lookup(msgs, "gpt-4", 0.7); !ok {
		t.Error("temperature 0.7 should be cacheable with threshold 0.8")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 50 * time.Millisecond
	c := newTestCache(t, cfg)
	msgs := []types.Message{types.NewUserMessage("hello")}

	c.Store(msgs, "gpt-4", 0, &types.Response{Content: "x"}, time.Second)

	if _, ok, _ := c.Lookup(msgs, "gpt-4", 0); !ok {
		t.Fatal("expected immediate hit")
	}

	time.Sleep(75 * time.Millisecond)

	if _, ok, _ := c.Lookup(msgs, "gpt-4", 0); ok {
		t.Error("expected miss after TTL")
	}
	if size := c.Stats().CurrentSize; size != 0 {
		t.Errorf("expired entry should be removed lazily, size=%d", size)
	}
}

func TestCache_CapacityBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 3
	c := newTestCache(t, cfg)

	for i := 0; i < 4; i++ {
		msgs := []types.Message{types.NewUserMessage(fmt.Sprintf("q%d", i))}
		c.Store(msgs, "gpt-4", 0, &types.Response{Content: fmt.Sprintf("a%d", i)}, time.Second)
	}

	if size := c.Stats().CurrentSize; size > 3 {
		t.Errorf("expected at most 3 entries, got %d", size)
	}

	// 最早插入且未被访问的 q0 应被淘汰
	if _, ok, _ := c.Lookup([]types.Message{types.NewUserMessage("q0")}, "gpt-4", 0); ok {
		t.Error("q0 should have been evicted")
	}
	if _, ok, _ := c.Lookup([]types.Message{types.NewUserMessage("q3")}, "gpt-4", 0); !ok {
		t.Error("q3 should be resident")
	}
}

func TestCache_LRUOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	c := newTestCache(t, cfg)

	q := func(s string) []types.Message { return []types.Message{types.NewUserMessage(s)} }

	c.Store(q("a"), "gpt-4", 0, &types.Response{Content: "a"}, 0)
	c.Store(q("b"), "gpt-4", 0, &types.Response{Content: "b"}, 0)

	// 访问 a，使 b 成为最久未使用
	if _, ok, _ := c.Lookup(q("a"), "gpt-4", 0); !ok {
		t.Fatal("expected hit for a")
	}

	c.Store(q("c"), "gpt-4", 0, &types.Response{Content: "c"}, 0)

	if _, ok, _ := c.Lookup(q("b"), "gpt-4", 0); ok {
		t.Error("b should have been evicted as least recently used")
	}
	if _, ok, _ := c.Lookup(q("a"), "gpt-4", 0); !ok {
		t.Error("a should still be resident")
	}
}

func TestCache_HitRateMath(t *testing.T) {
	c := newTestCache(t, nil)
	msgs := []types.Message{types.NewUserMessage("hello")}

	// 1 miss
	c.Lookup(msgs, "gpt-4", 0)
	c.Store(msgs, "gpt-4", 0, &types.Response{Content: "x"}, 300*time.Millisecond)
	// 1 hit
	c.Lookup(msgs, "gpt-4", 0)

	stats := c.Stats()
	if stats.TotalRequests != 2 {
		t.Errorf("expected 2 total requests, got %d", stats.TotalRequests)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %g", stats.HitRate)
	}
	if stats.TotalSavedLatency != 300*time.Millisecond {
		t.Errorf("expected 300ms saved, got %s", stats.TotalSavedLatency)
	}
}

func TestCache_EmptyStatsNoDivideByZero(t *testing.T) {
	c := newTestCache(t, nil)
	if rate := c.Stats().HitRate; rate != 0 {
		t.Errorf("expected hit rate 0 with no requests, got %g", rate)
	}
}

func TestCache_ClearKeepsStats(t *testing.T) {
	c := newTestCache(t, nil)
	msgs := []types.Message{types.NewUserMessage("hello")}

	c.Store(msgs, "gpt-4", 0, &types.Response{Content: "x"}, time.Second)
	c.Lookup(msgs, "gpt-4", 0)

	c.Clear()

	stats := c.Stats()
	if stats.CurrentSize != 0 {
		t.Errorf("expected empty cache after Clear, size=%d", stats.CurrentSize)
	}
	if stats.Hits != 1 {
		t.Errorf("Clear must not reset stats, hits=%d", stats.Hits)
	}
}

func TestCache_ResetStatsKeepsEntries(t *testing.T) {
	c := newTestCache(t, nil)
	msgs := []types.Message{types.NewUserMessage("hello")}

	c.Store(msgs, "gpt-4", 0, &types.Response{Content: "x"}, time.Second)
	c.Lookup(msgs, "gpt-4", 0)

	c.ResetStats()

	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.TotalSavedLatency != 0 {
		t.Errorf("expected zeroed counters, got %+v", stats)
	}
	if stats.CurrentSize != 1 {
		t.Errorf("ResetStats must not evict entries, size=%d", stats.CurrentSize)
	}
	if _, ok, _ := c.Lookup(msgs, "gpt-4", 0); !ok {
		t.Error("entry should survive ResetStats")
	}
}

func TestCache_OverwriteSameKey(t *testing.T) {
	c := newTestCache(t, nil)
	msgs := []types.Message{types.NewUserMessage("hello")}

	c.Store(msgs, "gpt-4", 0, &types.Response{Content: "old"}, 0)
	c.Store(msgs, "gpt-4", 0, &types.Response{Content: "new"}, 0)

	got, ok, _ := c.Lookup(msgs, "gpt-4", 0)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.(*types.Response).Content != "new" {
		t.Errorf("expected replacement entry, got %q", got.(*types.Response).Content)
	}
	if size := c.Stats().CurrentSize; size != 1 {
		t.Errorf("overwrite must not grow the cache, size=%d", size)
	}
}

// fixedCounter 固定返回值的 TokenCounter 测试桩
type fixedCounter int

func (f fixedCounter) Count(string) int { return int(f) }

func TestCache_TokenSavings(t *testing.T) {
	c := newTestCache(t, nil, WithTokenCounter(fixedCounter(42)))
	msgs := []types.Message{types.NewUserMessage("hello")}

	c.Store(msgs, "gpt-4", 0, &types.Response{Content: "hi"}, 0)
	c.Lookup(msgs, "gpt-4", 0)
	c.Lookup(msgs, "gpt-4", 0)

	if saved := c.Stats().TotalTokensSaved; saved != 84 {
		t.Errorf("expected 84 tokens saved over two hits, got %d", saved)
	}
}

func TestCache_RejectsMisconfiguration(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero max size", Config{MaxSize: 0, TTL: time.Hour, TemperatureThreshold: 0.5}},
		{"negative max size", Config{MaxSize: -1, TTL: time.Hour, TemperatureThreshold: 0.5}},
		{"zero ttl", Config{MaxSize: 10, TTL: 0, TemperatureThreshold: 0.5}},
		{"negative threshold", Config{MaxSize: 10, TTL: time.Hour, TemperatureThreshold: -0.1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCache(&tc.cfg); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, nil)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				msgs := []types.Message{types.NewUserMessage(fmt.Sprintf("q%d", i%20))}
				c.Store(msgs, "gpt-4", 0, &types.Response{Content: "x"}, time.Millisecond)
				c.Lookup(msgs, "gpt-4", 0)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	if size := c.Stats().CurrentSize; size > 100 {
		t.Errorf("cache exceeded capacity under concurrency: %d", size)
	}
}
