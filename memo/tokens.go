package memo

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter 估算一段文本的 token 数，用于缓存命中的节省量统计。
// 返回值仅用于统计，允许为估算值。
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter 基于 tiktoken 的精确计数器。
// 编码数据在首次使用时惰性初始化（可能触发下载），
// 初始化失败时回退到 len(text)/4 估算并记录警告。
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	logger   *zap.Logger
}

// NewTiktokenCounter 创建 tiktoken 计数器。
// encoding 为空时使用 cl100k_base。
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

// Count 返回文本的 token 数。
func (t *TiktokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	if t.initErr != nil {
		t.logger.Warn("tiktoken init failed, falling back to estimate",
			zap.String("encoding", t.encoding),
			zap.Error(t.initErr))
		return len(text) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimatorCounter 无外部数据依赖的粗略估算器，按 4 字符/token 计。
type EstimatorCounter struct{}

// Count 返回文本的估算 token 数。
func (EstimatorCounter) Count(text string) int {
	return len(text) / 4
}
