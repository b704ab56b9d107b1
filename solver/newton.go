package solver

import "math"

// 收敛判据常量
const (
	RelativeTolerance = 1e4  // |Δ|·1e4 < |x| + 1e-6
	AbsoluteTolerance = 1e-6 // 绝对容差
	DefaultIterations = 8    // 默认最大迭代次数
)

// Converged 混合容差判据，x 为更新前的值
func Converged(x, dx float64) bool {
	return math.Abs(dx)*RelativeTolerance < math.Abs(x)+AbsoluteTolerance
}

// Update 按增量更新未知量并返回整体是否收敛，所有未知量都会被更新
func Update(x, dx []float64) bool {
	done := true
	for i := range x {
		done = Converged(x[i], dx[i]) && done
		x[i] += dx[i]
	}
	return done
}

// Newton 迭代驱动，MaxIterations 为硬上限
type Newton struct {
	MaxIterations int // 最大迭代次数，至少执行一次
}

// Result 单次求解结果
type Result struct {
	Iterations int  // 实际迭代次数
	Converged  bool // 是否满足容差
}

// Solve 反复调用 step 直到收敛或达到上限，step 返回本次迭代是否收敛。
// 未收敛时保留最后一次迭代值，不视为错误
func (n Newton) Solve(step func() bool) Result {
	limit := n.MaxIterations
	if limit < 1 {
		limit = 1
	}
	for it := 1; it <= limit; it++ {
		if step() {
			return Result{Iterations: it, Converged: true}
		}
	}
	return Result{Iterations: limit}
}

// Residual 计算 J·Δ + F 的最大绝对值，用于检查线性求解结果
func Residual(ab Matrix, m, n int, delta []float64) float64 {
	worst := 0.0
	for i := 0; i < m; i++ {
		row := ab.Row(i)
		r := row[n]
		for j := 0; j < n; j++ {
			r += row[j] * delta[j]
		}
		worst = math.Max(worst, math.Abs(r))
	}
	return worst
}
