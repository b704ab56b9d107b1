// Package plan 把瞬态解编译为寄存器指令并按过采样步进执行。
//
// 生成阶段把所有符号解析为一块平坦 []float64 中的固定下标，
// 执行阶段只做寄存器读写，不分配内存，不加锁。
package plan

import (
	"fmt"

	"transim/expr"
	"transim/logging"
	"transim/solution"
	"transim/solver"
)

// Options 生成参数
type Options struct {
	Oversample int         // 过采样倍数，至少为 1
	Iterations int         // Newton 迭代上限，至少为 1
	Inputs     []expr.Expr // 输入表达式，允许重复（求和）
	Outputs    []expr.Expr // 输出表达式，允许重复
	Globals    []expr.Expr // 全局状态键，顺序与 Run 的 globals 对应
	CheckState bool        // 周期检查同时覆盖全部全局状态
	Log        logging.Log // 输出编译失败等非致命消息
}

type stepKind uint8

const (
	stepLinear stepKind = iota // 闭式解
	stepNewton                 // 非线性子系统
)

// newtonBlock 非线性子系统的执行描述。
// 未知量与增量各占一段连续寄存器，前 cols 个增量由线性求解得到
type newtonBlock struct {
	guess program // 初始猜测
	fill  program // 填充增广矩阵
	known program // 闭式增量
	rows  int     // 残差行数
	cols  int     // 线性求解的增量数
	width int     // 未知量数
	x, dx int32   // 未知量与增量首地址
}

type step struct {
	kind   stepKind
	code   program
	newton *newtonBlock
}

// inputSlot 去重后的输入
type inputSlot struct {
	cur, prev, delta int32
	buffers          []int // 对应的输入缓冲区下标
}

// outputSlot 去重后的输出
type outputSlot struct {
	acc     int32
	buffers []int // 对应的输出缓冲区下标
}

// Plan 不可变的执行计划
type Plan struct {
	Oversample int
	Iterations int
	TimeStep   float64 // 基础步长 h
	CheckState bool

	init    []float64 // 寄存器模板
	time    int32
	params  []int32
	globals []int32
	inputs  []inputSlot
	steps   []step
	history [][2]int32 // {全局状态, 未知量}
	outputs []outputSlot
	outCode program
	matrix  int32 // 增广矩阵首地址
	rows    int
	stride  int
	nIn     int
	nOut    int
}

// GlobalKeys 计算全局状态键集合：被引用上一步值的未知量、全部 Newton 未知量、
// 输出引用上一步值的未知量以及每个不同输入的上一步值。结果保持首次出现的顺序
func GlobalKeys(ts *solution.TransientSolution, inputs, outputs []expr.Expr) []expr.Expr {
	var keys []expr.Expr
	for _, ss := range ts.Solutions {
		for _, u := range ss.Unknowns() {
			prev := expr.Previous(u)
			if ts.DependsOn(prev) || anyDependsOn(outputs, prev) {
				keys = append(keys, prev)
			}
		}
	}
	for _, ss := range ts.Solutions {
		if ni, ok := ss.(*solution.NewtonIteration); ok {
			for _, u := range ni.Unknown {
				keys = append(keys, expr.Previous(u))
			}
		}
	}
	for _, i := range inputs {
		keys = append(keys, expr.Previous(i))
	}
	return expr.Distinct(keys)
}

func anyDependsOn(list []expr.Expr, x expr.Expr) bool {
	for _, e := range list {
		if expr.DependsOn(e, x) {
			return true
		}
	}
	return false
}

// Build 生成执行计划
func Build(ts *solution.TransientSolution, opt Options) (*Plan, error) {
	if err := ts.Validate(); err != nil {
		return nil, &BuildError{Where: "瞬态解", Err: err}
	}
	if opt.Oversample < 1 {
		return nil, &BuildError{Err: fmt.Errorf("过采样倍数必须大于0: %d", opt.Oversample)}
	}
	if opt.Iterations < 1 {
		return nil, &BuildError{Err: fmt.Errorf("迭代次数必须大于0: %d", opt.Iterations)}
	}
	log := opt.Log
	if log == nil {
		log = logging.Null{}
	}
	p := &Plan{
		Oversample: opt.Oversample,
		Iterations: opt.Iterations,
		TimeStep:   ts.TimeStep,
		CheckState: opt.CheckState,
		nIn:        len(opt.Inputs),
		nOut:       len(opt.Outputs),
	}
	c := newCompiler()
	p.time = c.define(expr.Time, 0)
	c.define(expr.TimeStep, ts.TimeStep)
	for _, param := range ts.Parameters {
		p.params = append(p.params, c.define(expr.Sym(param.Name), param.Default))
	}
	for _, g := range opt.Globals {
		p.globals = append(p.globals, c.define(g, 0))
	}

	// 未知量
	unknowns := map[string]bool{}
	for _, u := range ts.Unknowns() {
		unknowns[expr.Key(u)] = true
	}
	if err := p.defineInputs(c, opt.Inputs, unknowns); err != nil {
		return nil, err
	}
	blocks := make([]*newtonBlock, len(ts.Solutions))
	for i, ss := range ts.Solutions {
		switch s := ss.(type) {
		case *solution.LinearSolutions:
			for _, a := range s.Solutions {
				c.define(a.Left, 0)
			}
		case *solution.NewtonIteration:
			blocks[i] = defineNewton(c, s)
			p.rows = max(p.rows, len(s.Equations))
			p.stride = max(p.stride, blocks[i].cols+1)
		}
	}
	p.matrix = c.block(p.rows * p.stride)

	// 子系统
	for i, ss := range ts.Solutions {
		var st step
		var err error
		switch s := ss.(type) {
		case *solution.LinearSolutions:
			st.kind = stepLinear
			err = p.compileLinear(c, s, &st.code)
		case *solution.NewtonIteration:
			st.kind, st.newton = stepNewton, blocks[i]
			err = p.compileNewton(c, s, st.newton)
		}
		if err != nil {
			return nil, &BuildError{Where: fmt.Sprintf("子系统 %d", i), Err: err}
		}
		p.steps = append(p.steps, st)
	}

	// 历史值
	for _, u := range ts.Unknowns() {
		if g, ok := c.lookup(expr.Previous(u)); ok {
			x, _ := c.lookup(u)
			p.history = append(p.history, [2]int32{g, x})
		}
	}

	// 输出
	index := map[string]int{}
	for k, o := range opt.Outputs {
		key := expr.Key(o)
		if i, ok := index[key]; ok {
			p.outputs[i].buffers = append(p.outputs[i].buffers, k)
			continue
		}
		acc := c.alloc(0)
		index[key] = len(p.outputs)
		p.outputs = append(p.outputs, outputSlot{acc: acc, buffers: []int{k}})
		s, err := c.root(&p.outCode, o)
		if err != nil {
			logging.Writef(log, logging.Warning, "输出 %s 编译失败, 以 0 代替: %v", o, err)
			continue
		}
		p.outCode = append(p.outCode, instr{op: opAdd, dst: acc, a: acc, b: s})
	}
	p.init = c.init
	return p, nil
}

func (p *Plan) defineInputs(c *compiler, inputs []expr.Expr, unknowns map[string]bool) error {
	index := map[string]int{}
	for k, in := range inputs {
		key := expr.Key(in)
		if i, ok := index[key]; ok {
			p.inputs[i].buffers = append(p.inputs[i].buffers, k)
			continue
		}
		if v, ok := in.(expr.Var); !ok || v.Prev {
			return &BuildError{Where: "输入", Err: fmt.Errorf("%w: %s 必须是 X[t] 形式", ErrInput, in)}
		}
		if unknowns[key] {
			return &BuildError{Where: "输入", Err: fmt.Errorf("%w: %s 是瞬态解的未知量", ErrInput, in)}
		}
		prev, ok := c.lookup(expr.Previous(in))
		if !ok {
			return &BuildError{Where: "输入", Err: fmt.Errorf("%w: %s", ErrMissingState, expr.Previous(in))}
		}
		index[key] = len(p.inputs)
		p.inputs = append(p.inputs, inputSlot{
			cur:     c.define(in, 0),
			prev:    prev,
			delta:   c.alloc(0),
			buffers: []int{k},
		})
	}
	return nil
}

// defineNewton 分配非线性子系统的连续寄存器。
// 线性求解的增量排在前面，与增广矩阵的列一一对应
func defineNewton(c *compiler, s *solution.NewtonIteration) *newtonBlock {
	known := make(map[string]bool, len(s.KnownDeltas))
	for _, a := range s.KnownDeltas {
		known[expr.Key(a.Left)] = true
	}
	order := make([]int, 0, len(s.Deltas))
	for i, d := range s.Deltas {
		if !known[expr.Key(d)] {
			order = append(order, i)
		}
	}
	b := &newtonBlock{rows: len(s.Equations), cols: len(order), width: len(s.Unknown)}
	for i, d := range s.Deltas {
		if known[expr.Key(d)] {
			order = append(order, i)
		}
	}
	b.x = c.block(b.width)
	b.dx = c.block(b.width)
	for k, i := range order {
		c.slots[expr.Key(s.Unknown[i])] = b.x + int32(k)
		c.slots[expr.Key(s.Deltas[i])] = b.dx + int32(k)
	}
	return b
}

func (p *Plan) compileLinear(c *compiler, s *solution.LinearSolutions, code *program) error {
	for _, a := range s.Solutions {
		dst, _ := c.lookup(a.Left)
		if err := c.assign(code, dst, a.Right); err != nil {
			return fmt.Errorf("%s: %w", a.Left, err)
		}
	}
	return nil
}

func (p *Plan) compileNewton(c *compiler, s *solution.NewtonIteration, b *newtonBlock) error {
	for _, g := range s.Guesses {
		dst, ok := c.lookup(g.Left)
		if !ok {
			return fmt.Errorf("%w: 初始猜测 %s", ErrUnresolved, g.Left)
		}
		if err := c.assign(&b.guess, dst, g.Right); err != nil {
			return fmt.Errorf("初始猜测 %s: %w", g.Left, err)
		}
	}
	zero := c.constant(0)
	for i, eq := range s.Equations {
		row := p.matrix + int32(i*p.stride)
		for j := 0; j < b.cols; j++ {
			cell := row + int32(j)
			coeff := eq.Coefficient(deltaAt(c, b, s, j))
			if coeff == nil {
				b.fill = append(b.fill, instr{op: opMov, dst: cell, a: zero})
				continue
			}
			if err := c.assign(&b.fill, cell, coeff); err != nil {
				return fmt.Errorf("残差行 %d: %w", i, err)
			}
		}
		if err := c.assign(&b.fill, row+int32(b.cols), eq.Constant); err != nil {
			return fmt.Errorf("残差行 %d: %w", i, err)
		}
	}
	for _, a := range s.KnownDeltas {
		dst, _ := c.lookup(a.Left)
		if err := c.assign(&b.known, dst, a.Right); err != nil {
			return fmt.Errorf("闭式增量 %s: %w", a.Left, err)
		}
	}
	return nil
}

// deltaAt 得到第 j 列对应的增量表达式
func deltaAt(c *compiler, b *newtonBlock, s *solution.NewtonIteration, j int) expr.Expr {
	for _, d := range s.Deltas {
		if slot, _ := c.lookup(d); slot == b.dx+int32(j) {
			return d
		}
	}
	return nil
}

// Size 寄存器与指令数量
func (p *Plan) Size() (registers, instructions int) {
	instructions = len(p.outCode)
	for _, st := range p.steps {
		instructions += len(st.code)
		if b := st.newton; b != nil {
			instructions += len(b.guess) + len(b.fill) + len(b.known)
		}
	}
	return len(p.init), instructions
}

// Buffers 输入与输出缓冲区数量
func (p *Plan) Buffers() (inputs, outputs int) { return p.nIn, p.nOut }

// matrixView 增广矩阵视图
func (p *Plan) matrixView(r []float64) solver.Matrix {
	return solver.View(r[p.matrix:int(p.matrix)+p.rows*p.stride], p.stride)
}
