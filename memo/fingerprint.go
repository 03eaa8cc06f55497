package memo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/llmgate/types"
)

// fingerprintPayload 固定字段顺序，保证同一逻辑请求跨进程产生相同的序列化结果。
// 消息列表保持调用方给定的顺序。
type fingerprintPayload struct {
	Model       string          `json:"model"`
	Temperature float64         `json:"temperature"`
	Messages    []types.Message `json:"messages"`
}

// Fingerprint 计算请求的确定性指纹。
// 相同的 (messages, model, temperature) 三元组总是产生相同的键；
// 任一字段的差异以极高概率产生不同的键。
// 序列化失败作为数据错误向上传播，不会被吞掉。
func Fingerprint(messages []types.Message, model string, temperature float64) (string, error) {
	data, err := json.Marshal(fingerprintPayload{
		Model:       model,
		Temperature: temperature,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint serialization failed: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
