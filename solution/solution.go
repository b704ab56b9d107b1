// Package solution 定义瞬态解模型：按顺序求解的子系统列表、
// 基础步长、初始条件和可调参数。模型由外部符号推导器生成，此处只描述其结构。
package solution

import (
	"fmt"

	"transim/expr"
)

// Arrow 赋值 Left = Right
type Arrow struct {
	Left  expr.Expr // 被赋值的未知量
	Right expr.Expr // 公式
}

// Term 线性组合中的一项
type Term struct {
	Delta expr.Expr // 增量未知量
	Coeff expr.Expr // 系数公式
}

// LinearCombination 关于增量未知量的线性组合 Σ Coeff·Delta + Constant
type LinearCombination struct {
	Terms    []Term    // 各增量项
	Constant expr.Expr // 常数项
}

// Coefficient 得到增量对应的系数，不存在时返回 nil
func (lc LinearCombination) Coefficient(delta expr.Expr) expr.Expr {
	key := expr.Key(delta)
	for _, term := range lc.Terms {
		if expr.Key(term.Delta) == key {
			return term.Coeff
		}
	}
	return nil
}

// DependsOn 检查线性组合公式是否引用 x
func (lc LinearCombination) DependsOn(x expr.Expr) bool {
	if lc.Constant != nil && expr.DependsOn(lc.Constant, x) {
		return true
	}
	for _, term := range lc.Terms {
		if expr.DependsOn(term.Coeff, x) {
			return true
		}
	}
	return false
}

// SolutionSet 子系统，只有 *LinearSolutions 与 *NewtonIteration 两种实现
type SolutionSet interface {
	Unknowns() []expr.Expr      // 子系统求解的未知量
	DependsOn(x expr.Expr) bool // 子系统公式是否引用 x
	solutionSet()
}

// LinearSolutions 闭式解：未知量直接由公式给出
type LinearSolutions struct {
	Solutions []Arrow
}

func (*LinearSolutions) solutionSet() {}

// Unknowns 得到未知量列表
func (ls *LinearSolutions) Unknowns() []expr.Expr {
	out := make([]expr.Expr, len(ls.Solutions))
	for i, s := range ls.Solutions {
		out[i] = s.Left
	}
	return out
}

// DependsOn 检查公式是否引用 x
func (ls *LinearSolutions) DependsOn(x expr.Expr) bool {
	for _, s := range ls.Solutions {
		if expr.DependsOn(s.Right, x) {
			return true
		}
	}
	return false
}

// NewtonIteration 非线性子系统，Newton-Raphson 迭代求解
type NewtonIteration struct {
	Equations   []LinearCombination // 残差行 J·Δ + F = 0
	Unknown     []expr.Expr         // 未知量
	Deltas      []expr.Expr         // Deltas[i] 为 Unknown[i] 的增量
	Guesses     []Arrow             // 初始猜测
	KnownDeltas []Arrow             // 闭式增量，跳过线性求解
}

func (*NewtonIteration) solutionSet() {}

// Unknowns 得到未知量列表
func (ni *NewtonIteration) Unknowns() []expr.Expr { return ni.Unknown }

// DependsOn 检查残差、猜测和闭式增量是否引用 x
func (ni *NewtonIteration) DependsOn(x expr.Expr) bool {
	for _, eq := range ni.Equations {
		if eq.DependsOn(x) {
			return true
		}
	}
	for _, a := range ni.Guesses {
		if expr.DependsOn(a.Right, x) {
			return true
		}
	}
	for _, a := range ni.KnownDeltas {
		if expr.DependsOn(a.Right, x) {
			return true
		}
	}
	return false
}

// SolvedDeltas 得到需要线性求解的增量（未被 KnownDeltas 覆盖），按声明顺序
func (ni *NewtonIteration) SolvedDeltas() []expr.Expr {
	known := make(map[string]bool, len(ni.KnownDeltas))
	for _, a := range ni.KnownDeltas {
		known[expr.Key(a.Left)] = true
	}
	out := make([]expr.Expr, 0, len(ni.Deltas))
	for _, d := range ni.Deltas {
		if !known[expr.Key(d)] {
			out = append(out, d)
		}
	}
	return out
}

// Validate 检查子系统维度
func (ni *NewtonIteration) Validate() error {
	if len(ni.Unknown) == 0 {
		return fmt.Errorf("非线性子系统没有未知量")
	}
	if len(ni.Deltas) != len(ni.Unknown) {
		return fmt.Errorf("增量数量 %d 与未知量数量 %d 不一致", len(ni.Deltas), len(ni.Unknown))
	}
	if len(ni.Guesses) != len(ni.Unknown) {
		return fmt.Errorf("初始猜测数量 %d 与未知量数量 %d 不一致", len(ni.Guesses), len(ni.Unknown))
	}
	deltas := make(map[string]bool, len(ni.Deltas))
	for _, d := range ni.Deltas {
		deltas[expr.Key(d)] = true
	}
	for _, a := range ni.KnownDeltas {
		if !deltas[expr.Key(a.Left)] {
			return fmt.Errorf("闭式增量 %s 不属于该子系统", a.Left)
		}
	}
	if n := len(ni.SolvedDeltas()); len(ni.Equations) < n {
		return fmt.Errorf("残差行数量 %d 少于待求增量数量 %d", len(ni.Equations), n)
	}
	for _, eq := range ni.Equations {
		for _, term := range eq.Terms {
			if !deltas[expr.Key(term.Delta)] {
				return fmt.Errorf("残差项 %s 不是该子系统的增量", term.Delta)
			}
		}
	}
	return nil
}

// Parameter 可调参数
type Parameter struct {
	Name    string  // 参数名
	Default float64 // 默认值
	Min     float64 // 最小值
	Max     float64 // 最大值
}

// TransientSolution 瞬态解
type TransientSolution struct {
	TimeStep          float64       // 基础步长 h
	Solutions         []SolutionSet // 按顺序求解的子系统
	InitialConditions []Arrow       // 初始条件 X[t] = 常量
	Parameters        []Parameter   // 可调参数
}

// Validate 检查模型结构
func (ts *TransientSolution) Validate() error {
	if !(ts.TimeStep > 0) {
		return fmt.Errorf("步长必须大于0: %g", ts.TimeStep)
	}
	defined := map[string]bool{}
	for i, ss := range ts.Solutions {
		switch s := ss.(type) {
		case *LinearSolutions:
		case *NewtonIteration:
			if err := s.Validate(); err != nil {
				return fmt.Errorf("子系统 %d: %w", i, err)
			}
		default:
			return fmt.Errorf("子系统 %d: 不支持的类型 %T", i, ss)
		}
		for _, u := range ss.Unknowns() {
			if v, ok := u.(expr.Var); !ok || v.Prev {
				return fmt.Errorf("子系统 %d: 未知量 %s 必须是 X[t] 形式", i, u)
			}
			key := expr.Key(u)
			if defined[key] {
				return fmt.Errorf("子系统 %d: 未知量 %s 重复定义", i, u)
			}
			defined[key] = true
		}
	}
	return nil
}

// Unknowns 得到全部未知量，按子系统顺序
func (ts *TransientSolution) Unknowns() []expr.Expr {
	var out []expr.Expr
	for _, ss := range ts.Solutions {
		out = append(out, ss.Unknowns()...)
	}
	return out
}

// DependsOn 检查任一子系统是否引用 x
func (ts *TransientSolution) DependsOn(x expr.Expr) bool {
	for _, ss := range ts.Solutions {
		if ss.DependsOn(x) {
			return true
		}
	}
	return false
}

// InitialValue 得到 X[t] 在 t=0 时的初始值，key 可以是 X[t] 或 X[t0]。
// 只有初始条件为字面常量时才返回 ok
func (ts *TransientSolution) InitialValue(key expr.Expr) (float64, bool) {
	v, ok := key.(expr.Var)
	if !ok {
		return 0, false
	}
	name := v.Name
	for _, ic := range ts.InitialConditions {
		if l, ok := ic.Left.(expr.Var); ok && l.Name == name {
			return expr.IsConstant(ic.Right)
		}
	}
	return 0, false
}

// Parameter 按名称查找参数
func (ts *TransientSolution) Parameter(name string) (int, bool) {
	for i, p := range ts.Parameters {
		if p.Name == name {
			return i, true
		}
	}
	return -1, false
}
