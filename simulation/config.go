package simulation

import (
	"fmt"
	"slices"

	"transim/expr"
	"transim/logging"
	"transim/metrics"
)

// Config 仿真配置
type Config struct {
	Oversample int              // 过采样倍数
	Iterations int              // Newton 迭代上限
	Input      []expr.Expr      // 输入表达式，允许重复
	Output     []expr.Expr      // 输出表达式，允许重复
	Strict     bool             // 未收敛时 Run 返回 NotConvergedError
	CheckState bool             // 周期检查同时覆盖全部全局状态
	Log        logging.Log      // 日志
	Metrics    *metrics.Metrics // 指标，可为空
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Oversample: DefaultOversample,
		Iterations: DefaultIterations,
		Log:        logging.Null{},
	}
}

// Check 检查配置
func (c *Config) Check() error {
	if c.Oversample < 1 || c.Oversample > MaxOversample {
		return fmt.Errorf("过采样倍数超出范围 [1, %d]: %d", MaxOversample, c.Oversample)
	}
	if c.Iterations < 1 || c.Iterations > MaxIterations {
		return fmt.Errorf("迭代次数超出范围 [1, %d]: %d", MaxIterations, c.Iterations)
	}
	return nil
}

// clone 复制列表，避免调用方修改
func (c Config) clone() Config {
	c.Input = slices.Clone(c.Input)
	c.Output = slices.Clone(c.Output)
	if c.Log == nil {
		c.Log = logging.Null{}
	}
	return c
}

// WithInput 设置输入表达式，解析失败时 panic
func WithInput(list ...string) func(*Config) {
	return func(c *Config) { c.Input = expr.MustParseList(list...) }
}

// WithOutput 设置输出表达式，解析失败时 panic
func WithOutput(list ...string) func(*Config) {
	return func(c *Config) { c.Output = expr.MustParseList(list...) }
}
