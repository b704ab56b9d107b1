package plan

import (
	"math"

	"transim/solver"
)

// checkMask 每 256 个采样检查一次输出
const checkMask = 0xFF

// Stats 单次执行的 Newton 统计
type Stats struct {
	Solves        int64 // 非线性子系统求解次数
	Iterations    int64 // 总迭代次数
	NotConverged  int64 // 达到迭代上限仍未收敛的次数
	MaxIterations int   // 单次求解的最大迭代次数
}

func (s *Stats) add(r solver.Result) {
	s.Solves++
	s.Iterations += int64(r.Iterations)
	if !r.Converged {
		s.NotConverged++
	}
	s.MaxIterations = max(s.MaxIterations, r.Iterations)
}

// Merge 合并统计
func (s *Stats) Merge(o Stats) {
	s.Solves += o.Solves
	s.Iterations += o.Iterations
	s.NotConverged += o.NotConverged
	s.MaxIterations = max(s.MaxIterations, o.MaxIterations)
}

// Machine 执行计划的寄存器实例，同一时刻只能被一个调用方使用
type Machine struct {
	plan *Plan
	reg  []float64
}

// Machine 创建寄存器实例
func (p *Plan) Machine() *Machine {
	return &Machine{plan: p, reg: append([]float64(nil), p.init...)}
}

// Plan 得到执行计划
func (m *Machine) Plan() *Plan { return m.plan }

// Time 得到当前仿真时间
func (m *Machine) Time() float64 { return m.reg[m.plan.time] }

// SetTime 设置仿真时间，之后的 Run 从该时间继续累加
func (m *Machine) SetTime(t float64) { m.reg[m.plan.time] = t }

// Run 执行 n 个输出采样。
// globals 与生成时的 Options.Globals 一一对应，执行成功后写回；发散时不写回，时间退回本批次开始。
// params 与瞬态解的参数一一对应，in 与 out 与 Options 的输入输出一一对应
func (m *Machine) Run(n int, globals, params []float64, in, out [][]float64) (Stats, error) {
	p, r := m.plan, m.reg
	for i, s := range p.params {
		if i < len(params) {
			r[s] = params[i]
		}
	}
	for i, s := range p.globals {
		r[s] = globals[i]
	}
	for _, i := range p.inputs {
		r[i.cur] = r[i.prev]
	}

	var st Stats
	start := r[p.time]
	h := p.TimeStep
	ov := float64(p.Oversample)
	check := len(p.outputs) > 0 || p.CheckState
	for k := 0; k < n; k++ {
		// 输入线性插值
		for _, i := range p.inputs {
			v := 0.0
			for _, b := range i.buffers {
				v += in[b][k]
			}
			r[i.delta] = (v - r[i.cur]) / ov
		}
		for _, o := range p.outputs {
			r[o.acc] = 0
		}

		for range p.Oversample {
			r[p.time] += h
			for _, i := range p.inputs {
				r[i.cur] += r[i.delta]
			}
			for _, s := range p.steps {
				switch s.kind {
				case stepLinear:
					s.code.exec(r)
				case stepNewton:
					st.add(m.newton(s.newton))
				}
			}
			for _, c := range p.history {
				r[c[0]] = r[c[1]]
			}
			p.outCode.exec(r)
			for _, i := range p.inputs {
				r[i.prev] = r[i.cur]
			}
		}

		// 盒式滤波抽取
		bad := false
		for _, o := range p.outputs {
			v := flush(r[o.acc] / ov)
			if isBad(v) {
				bad = true
			}
			for _, b := range o.buffers {
				out[b][k] = v
			}
		}
		if check && k&checkMask == 0 && (bad || p.CheckState && !m.stateFinite()) {
			r[p.time] = start
			return st, &DivergedError{At: k}
		}
	}

	for i, s := range p.globals {
		globals[i] = r[s]
	}
	return st, nil
}

// newton 求解非线性子系统
func (m *Machine) newton(b *newtonBlock) solver.Result {
	r := m.reg
	b.guess.exec(r)
	ab := m.plan.matrixView(r)
	x := r[b.x : b.x+int32(b.width)]
	dx := r[b.dx : b.dx+int32(b.width)]
	return solver.Newton{MaxIterations: m.plan.Iterations}.Solve(func() bool {
		b.fill.exec(r)
		if b.cols > 0 {
			solver.Solve(ab, b.rows, b.cols, dx[:b.cols])
		}
		b.known.exec(r)
		return solver.Update(x, dx)
	})
}

// stateFinite 检查全部全局状态
func (m *Machine) stateFinite() bool {
	for _, s := range m.plan.globals {
		if isBad(m.reg[s]) {
			return false
		}
	}
	return true
}

// Reset 恢复寄存器模板并保留仿真时间，参数与全局状态在下次 Run 时重新载入
func (m *Machine) Reset() {
	t := m.Time()
	copy(m.reg, m.plan.init)
	m.SetTime(t)
}

func isBad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

// flush 次正规数置零
func flush(v float64) float64 {
	if v != 0 && math.Abs(v) < 0x1p-1022 {
		return 0
	}
	return v
}
