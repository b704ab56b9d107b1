package plan

import (
	"errors"
	"fmt"
)

// 生成阶段错误
var (
	ErrUnresolved   = errors.New("未解析的符号")
	ErrUnknownFunc  = errors.New("未知函数")
	ErrInput        = errors.New("输入表达式无效")
	ErrMissingState = errors.New("缺少全局状态")
)

// BuildError 生成执行计划失败
type BuildError struct {
	Where string // 出错位置
	Err   error  // 原始错误
}

func (e *BuildError) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("生成执行计划失败: %v", e.Err)
	}
	return fmt.Sprintf("生成执行计划失败: %s: %v", e.Where, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// DivergedError 周期检查发现 NaN/Inf，At 为本批次内的采样下标
type DivergedError struct {
	At int
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("仿真在第 %d 个采样附近发散", e.At)
}
