// Package expr 提供瞬态解使用的最小符号表达式层。
// 表达式是不可变的语法树，规范化字符串 String() 即结构键，
// 可用于映射查找、替换和数值求值。
package expr

import (
	"strconv"
	"strings"
)

// Expr 符号表达式
type Expr interface {
	String() string // 规范化字符串，同时作为结构相等的键
	expr()
}

// Const 数值常量
type Const float64

// Sym 命名标量，如参数、时间 t 和步长 T
type Sym string

// Var 随时间变化的量，Prev 为 true 时表示上一步的值 Name[t0]
type Var struct {
	Name string // 变量名
	Prev bool   // 是否为上一步的值
}

// Add 求和
type Add []Expr

// Mul 求积
type Mul []Expr

// Pow 幂
type Pow struct{ Base, Exp Expr }

// Call 函数调用
type Call struct {
	Func string // 函数名
	Args []Expr // 参数列表
}

func (Const) expr() {}
func (Sym) expr()   {}
func (Var) expr()   {}
func (Add) expr()   {}
func (Mul) expr()   {}
func (Pow) expr()   {}
func (Call) expr()  {}

// 时间相关符号
const (
	Time     Sym = "t" // 仿真时间
	TimeStep Sym = "T" // 基础步长
)

func (c Const) String() string { return strconv.FormatFloat(float64(c), 'g', -1, 64) }
func (s Sym) String() string   { return string(s) }

func (v Var) String() string {
	if v.Prev {
		return v.Name + "[t0]"
	}
	return v.Name + "[t]"
}

func (a Add) String() string { return join(a, " + ") }
func (m Mul) String() string { return join(m, " * ") }

func (p Pow) String() string {
	return "(" + p.Base.String() + ")^(" + p.Exp.String() + ")"
}

func (c Call) String() string {
	var b strings.Builder
	b.WriteString(c.Func)
	b.WriteByte('(')
	for i, arg := range c.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.String())
	}
	b.WriteByte(')')
	return b.String()
}

// join 带括号连接子项
func join(list []Expr, sep string) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, e := range list {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(e.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Key 得到表达式的结构键
func Key(e Expr) string {
	if e == nil {
		return ""
	}
	return e.String()
}

// Equal 结构相等
func Equal(a, b Expr) bool { return Key(a) == Key(b) }

// V 创建当前时刻变量
func V(name string) Var { return Var{Name: name} }

// P 创建上一时刻变量
func P(name string) Var { return Var{Name: name, Prev: true} }

// Neg 取负
func Neg(e Expr) Expr { return Mul{Const(-1), e} }

// Sub 相减
func Sub(a, b Expr) Expr { return Add{a, Neg(b)} }

// Div 相除
func Div(a, b Expr) Expr { return Mul{a, Pow{b, Const(-1)}} }

// Distinct 去除重复表达式，保持首次出现的顺序
func Distinct(list []Expr) []Expr {
	seen := make(map[string]bool, len(list))
	out := make([]Expr, 0, len(list))
	for _, e := range list {
		k := Key(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
