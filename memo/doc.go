/*
包 memo 提供 LLM 响应的记忆化缓存，通过本地 LRU 避免相同低随机性请求的
重复计算，降低延迟与成本。

# 概述

相同的 LLM 请求在实际业务中频繁出现。本包以请求指纹（model + temperature +
有序消息列表的确定性摘要）为键缓存响应，命中时直接返回，完全跳过后端调用
与准入控制。

# 核心类型

  - Fingerprint：请求指纹函数，规范化 JSON 序列化 + SHA-256。
  - Cache：容量与 TTL 双重约束的 LRU 缓存，带命中统计。
  - TokenCounter：可选的 token 节省量估算接口（tiktoken 适配）。

# 温度阈值

temperature 超过确定性阈值（默认 0.5）的请求被视为不可复现，Lookup 与
Store 均无条件绕过缓存。阈值可在构造时覆盖。

# 使用方式

	c, err := memo.NewCache(memo.DefaultConfig(), memo.WithLogger(logger))
	resp, ok, err := c.Lookup(msgs, "gpt-4", 0.2)
	if !ok {
		// 调用后端，然后回填
		_ = c.Store(msgs, "gpt-4", 0.2, resp, latency)
	}
*/
package memo
