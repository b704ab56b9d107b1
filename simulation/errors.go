package simulation

import (
	"errors"
	"fmt"
	"math"
)

// ErrBufferMismatch 缓冲区数量或长度与配置不符
var ErrBufferMismatch = errors.New("缓冲区与输入输出配置不符")

// ErrUnknownParameter 参数不存在
var ErrUnknownParameter = errors.New("参数不存在")

// ErrStale 后台生成的执行计划已被更新的配置取代
var ErrStale = errors.New("执行计划已被更新的配置取代")

// DivergedError 仿真发散
type DivergedError struct {
	At     int64   // 发散时的绝对采样下标
	Time   float64 // 本批次开始时的仿真时间 (s)
	Offset int     // 本批次内的偏移，单位为采样而不是秒
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("仿真在 t = %s + %d 附近发散", FormatSI(e.Time, "s"), e.Offset)
}

// NotConvergedError 严格模式下 Newton 迭代达到上限仍未收敛
type NotConvergedError struct {
	Count      int64 // 未收敛的求解次数
	Iterations int   // 迭代上限
}

func (e *NotConvergedError) Error() string {
	return fmt.Sprintf("%d 次非线性求解在 %d 次迭代内未收敛", e.Count, e.Iterations)
}

var siPrefixes = []struct {
	scale  float64
	prefix string
}{
	{1e9, "G"}, {1e6, "M"}, {1e3, "k"}, {1, ""},
	{1e-3, "m"}, {1e-6, "μ"}, {1e-9, "n"}, {1e-12, "p"},
}

// FormatSI 按国际单位制前缀格式化
func FormatSI(v float64, unit string) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%g %s", v, unit)
	}
	a := math.Abs(v)
	for _, p := range siPrefixes {
		if a >= p.scale {
			return fmt.Sprintf("%.4g %s%s", v/p.scale, p.prefix, unit)
		}
	}
	last := siPrefixes[len(siPrefixes)-1]
	return fmt.Sprintf("%.4g %s%s", v/last.scale, last.prefix, unit)
}
