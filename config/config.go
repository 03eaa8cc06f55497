// =============================================================================
// 📦 llmgate 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件覆盖默认值
//
// 配置优先级: 默认值 → YAML 文件
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/llmgate/admission"
	"github.com/BaSui01/llmgate/memo"
)

// Config 是 llmgate 的完整配置结构
type Config struct {
	// Cache 响应缓存配置
	Cache memo.Config `yaml:"cache"`

	// Limiter 准入限流配置
	Limiter admission.Config `yaml:"limiter"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug | info | warn | error
	Level string `yaml:"level"`
	// 输出格式: json | console
	Format string `yaml:"format"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Cache:   *memo.DefaultConfig(),
		Limiter: *admission.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load 从 YAML 文件加载配置，文件中未出现的字段保持默认值。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 验证配置。非法的速率或容量在此拒绝，
// 而不是等到运行期才以无限等待的形式暴露。
func (c *Config) Validate() error {
	var errs []string

	if c.Cache.MaxSize <= 0 {
		errs = append(errs, "cache.max_size must be positive")
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}
	if c.Cache.TemperatureThreshold < 0 {
		errs = append(errs, "cache.temperature_threshold must be non-negative")
	}
	if c.Limiter.RatePerSecond <= 0 {
		errs = append(errs, "limiter.rate_per_second must be positive")
	}
	if c.Limiter.BurstCapacity <= 0 {
		errs = append(errs, "limiter.burst_capacity must be positive")
	}
	for op, rate := range c.Limiter.OperationRates {
		if rate <= 0 {
			errs = append(errs, fmt.Sprintf("limiter.operation_rates[%s] must be positive", op))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
