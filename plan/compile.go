package plan

import (
	"fmt"

	"transim/expr"
)

// compiler 把表达式编译为寄存器指令
type compiler struct {
	slots  map[string]int32 // 符号表：结构键 -> 寄存器
	consts map[float64]int32
	cse    map[string]int32 // 当前根表达式内的公共子表达式
	init   []float64        // 寄存器初值
}

func newCompiler() *compiler {
	return &compiler{
		slots:  map[string]int32{},
		consts: map[float64]int32{},
	}
}

// alloc 分配寄存器
func (c *compiler) alloc(v float64) int32 {
	c.init = append(c.init, v)
	return int32(len(c.init) - 1)
}

// block 分配连续 n 个寄存器，返回首地址
func (c *compiler) block(n int) int32 {
	base := int32(len(c.init))
	c.init = append(c.init, make([]float64, n)...)
	return base
}

// define 为符号分配寄存器，已存在时返回原寄存器
func (c *compiler) define(e expr.Expr, v float64) int32 {
	key := expr.Key(e)
	if s, ok := c.slots[key]; ok {
		return s
	}
	s := c.alloc(v)
	c.slots[key] = s
	return s
}

// lookup 查找符号
func (c *compiler) lookup(e expr.Expr) (int32, bool) {
	s, ok := c.slots[expr.Key(e)]
	return s, ok
}

// constant 常量寄存器，相同数值共享
func (c *compiler) constant(v float64) int32 {
	if s, ok := c.consts[v]; ok {
		return s
	}
	s := c.alloc(v)
	c.consts[v] = s
	return s
}

func (c *compiler) emit(code *program, o op, a, b int32) int32 {
	dst := c.alloc(0)
	*code = append(*code, instr{op: o, dst: dst, a: a, b: b})
	return dst
}

// assign 编译 e 并写入 dst
func (c *compiler) assign(code *program, dst int32, e expr.Expr) error {
	c.cse = map[string]int32{}
	mark := len(*code)
	s, err := c.compile(code, e)
	if err != nil {
		*code = (*code)[:mark]
		return err
	}
	// 最后一条指令产生的临时值直接写入目标
	if n := len(*code); n > mark && (*code)[n-1].dst == s {
		(*code)[n-1].dst = dst
		return nil
	}
	*code = append(*code, instr{op: opMov, dst: dst, a: s})
	return nil
}

// root 编译独立的根表达式，失败时撤销已生成的指令
func (c *compiler) root(code *program, e expr.Expr) (int32, error) {
	c.cse = map[string]int32{}
	mark := len(*code)
	s, err := c.compile(code, e)
	if err != nil {
		*code = (*code)[:mark]
	}
	return s, err
}

func (c *compiler) compile(code *program, e expr.Expr) (int32, error) {
	key := expr.Key(e)
	if s, ok := c.slots[key]; ok {
		return s, nil
	}
	if s, ok := c.cse[key]; ok {
		return s, nil
	}
	var s int32
	var err error
	switch n := e.(type) {
	case expr.Const:
		return c.constant(float64(n)), nil
	case expr.Sym, expr.Var:
		return 0, fmt.Errorf("%w: %s", ErrUnresolved, e)
	case expr.Add:
		s, err = c.sum(code, n)
	case expr.Mul:
		s, err = c.product(code, n)
	case expr.Pow:
		s, err = c.power(code, n)
	case expr.Call:
		s, err = c.call(code, n)
	default:
		return 0, fmt.Errorf("不支持的表达式 %T: %v", e, e)
	}
	if err != nil {
		return 0, err
	}
	c.cse[key] = s
	return s, nil
}

// negated 识别 -1 * x
func negated(e expr.Expr) (expr.Expr, bool) {
	m, ok := e.(expr.Mul)
	if !ok || len(m) < 2 {
		return nil, false
	}
	if k, ok := m[0].(expr.Const); !ok || k != -1 {
		return nil, false
	}
	if len(m) == 2 {
		return m[1], true
	}
	return m[1:], true
}

// inverted 识别 x^-1
func inverted(e expr.Expr) (expr.Expr, bool) {
	p, ok := e.(expr.Pow)
	if !ok {
		return nil, false
	}
	if k, ok := p.Exp.(expr.Const); !ok || k != -1 {
		return nil, false
	}
	return p.Base, true
}

func (c *compiler) sum(code *program, list expr.Add) (int32, error) {
	if len(list) == 0 {
		return c.constant(0), nil
	}
	acc, err := c.compile(code, list[0])
	if err != nil {
		return 0, err
	}
	for _, term := range list[1:] {
		o := opAdd
		if inner, ok := negated(term); ok {
			o, term = opSub, inner
		}
		s, err := c.compile(code, term)
		if err != nil {
			return 0, err
		}
		acc = c.emit(code, o, acc, s)
	}
	return acc, nil
}

func (c *compiler) product(code *program, list expr.Mul) (int32, error) {
	if len(list) == 0 {
		return c.constant(1), nil
	}
	if inner, ok := negated(list); ok {
		s, err := c.compile(code, inner)
		if err != nil {
			return 0, err
		}
		return c.emit(code, opNeg, s, 0), nil
	}
	acc, err := c.compile(code, list[0])
	if err != nil {
		return 0, err
	}
	for _, factor := range list[1:] {
		o := opMul
		if inner, ok := inverted(factor); ok {
			o, factor = opDiv, inner
		}
		s, err := c.compile(code, factor)
		if err != nil {
			return 0, err
		}
		acc = c.emit(code, o, acc, s)
	}
	return acc, nil
}

func (c *compiler) power(code *program, p expr.Pow) (int32, error) {
	base, err := c.compile(code, p.Base)
	if err != nil {
		return 0, err
	}
	if k, ok := p.Exp.(expr.Const); ok {
		switch k {
		case 1:
			return base, nil
		case 2:
			return c.emit(code, opSqr, base, 0), nil
		case -1:
			return c.emit(code, opInv, base, 0), nil
		case 0.5:
			return c.emit(code, opSqrt, base, 0), nil
		}
	}
	exp, err := c.compile(code, p.Exp)
	if err != nil {
		return 0, err
	}
	return c.emit(code, opPow, base, exp), nil
}

func (c *compiler) call(code *program, n expr.Call) (int32, error) {
	o, ok := callOps[n.Func]
	fn, known := expr.Funcs[n.Func]
	if !ok || !known {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFunc, n.Func)
	}
	if len(n.Args) != fn.Arity {
		return 0, fmt.Errorf("函数 %s 需要 %d 个参数, 得到 %d 个", n.Func, fn.Arity, len(n.Args))
	}
	var args [2]int32
	for i, arg := range n.Args {
		s, err := c.compile(code, arg)
		if err != nil {
			return 0, err
		}
		args[i] = s
	}
	return c.emit(code, o, args[0], args[1]), nil
}
