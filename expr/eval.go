package expr

import (
	"fmt"
	"math"
)

// Func 内置函数定义
type Func struct {
	Arity int                        // 参数数量
	Eval  func(x ...float64) float64 // 数值实现
}

// Funcs 支持的函数表
var Funcs = map[string]Func{
	"exp":   {1, func(x ...float64) float64 { return math.Exp(x[0]) }},
	"log":   {1, func(x ...float64) float64 { return math.Log(x[0]) }},
	"ln":    {1, func(x ...float64) float64 { return math.Log(x[0]) }},
	"sqrt":  {1, func(x ...float64) float64 { return math.Sqrt(x[0]) }},
	"abs":   {1, func(x ...float64) float64 { return math.Abs(x[0]) }},
	"sin":   {1, func(x ...float64) float64 { return math.Sin(x[0]) }},
	"cos":   {1, func(x ...float64) float64 { return math.Cos(x[0]) }},
	"tan":   {1, func(x ...float64) float64 { return math.Tan(x[0]) }},
	"sinh":  {1, func(x ...float64) float64 { return math.Sinh(x[0]) }},
	"cosh":  {1, func(x ...float64) float64 { return math.Cosh(x[0]) }},
	"tanh":  {1, func(x ...float64) float64 { return math.Tanh(x[0]) }},
	"atan":  {1, func(x ...float64) float64 { return math.Atan(x[0]) }},
	"sign":  {1, func(x ...float64) float64 { return Sign(x[0]) }},
	"min":   {2, func(x ...float64) float64 { return math.Min(x[0], x[1]) }},
	"max":   {2, func(x ...float64) float64 { return math.Max(x[0], x[1]) }},
	"atan2": {2, func(x ...float64) float64 { return math.Atan2(x[0], x[1]) }},
	"pow":   {2, func(x ...float64) float64 { return math.Pow(x[0], x[1]) }},
}

// Sign 符号函数
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

// Map 自底向上重写表达式，f 返回 nil 时保留原节点
func Map(e Expr, f func(Expr) Expr) Expr {
	switch n := e.(type) {
	case Add:
		out := make(Add, len(n))
		for i := range n {
			out[i] = Map(n[i], f)
		}
		e = out
	case Mul:
		out := make(Mul, len(n))
		for i := range n {
			out[i] = Map(n[i], f)
		}
		e = out
	case Pow:
		e = Pow{Map(n.Base, f), Map(n.Exp, f)}
	case Call:
		args := make([]Expr, len(n.Args))
		for i := range n.Args {
			args[i] = Map(n.Args[i], f)
		}
		e = Call{Func: n.Func, Args: args}
	}
	if r := f(e); r != nil {
		return r
	}
	return e
}

// Walk 先序遍历，f 返回 false 时不再进入子节点
func Walk(e Expr, f func(Expr) bool) {
	if !f(e) {
		return
	}
	switch n := e.(type) {
	case Add:
		for _, c := range n {
			Walk(c, f)
		}
	case Mul:
		for _, c := range n {
			Walk(c, f)
		}
	case Pow:
		Walk(n.Base, f)
		Walk(n.Exp, f)
	case Call:
		for _, c := range n.Args {
			Walk(c, f)
		}
	}
}

// Substitute 按结构键替换子表达式
func Substitute(e Expr, with map[string]Expr) Expr {
	if len(with) == 0 {
		return e
	}
	if r, ok := with[Key(e)]; ok {
		return r
	}
	switch n := e.(type) {
	case Add:
		out := make(Add, len(n))
		for i := range n {
			out[i] = Substitute(n[i], with)
		}
		return out
	case Mul:
		out := make(Mul, len(n))
		for i := range n {
			out[i] = Substitute(n[i], with)
		}
		return out
	case Pow:
		return Pow{Substitute(n.Base, with), Substitute(n.Exp, with)}
	case Call:
		args := make([]Expr, len(n.Args))
		for i := range n.Args {
			args[i] = Substitute(n.Args[i], with)
		}
		return Call{Func: n.Func, Args: args}
	}
	return e
}

// Previous 得到表达式上一步的值，所有 X[t] 替换为 X[t0]
func Previous(e Expr) Expr {
	return Map(e, func(e Expr) Expr {
		if v, ok := e.(Var); ok && !v.Prev {
			return Var{Name: v.Name, Prev: true}
		}
		return nil
	})
}

// DependsOn 检查 e 中是否出现 x
func DependsOn(e, x Expr) bool {
	key, found := Key(x), false
	Walk(e, func(n Expr) bool {
		if found {
			return false
		}
		if Key(n) == key {
			found = true
			return false
		}
		return true
	})
	return found
}

// Env 数值环境，按结构键查找
type Env map[string]float64

// Evaluate 数值求值，env 中的键优先于节点本身
func Evaluate(e Expr, env Env) (float64, error) {
	if v, ok := env[Key(e)]; ok {
		return v, nil
	}
	switch n := e.(type) {
	case Const:
		return float64(n), nil
	case Sym, Var:
		return 0, fmt.Errorf("未定义的符号: %s", n)
	case Add:
		sum := 0.0
		for _, c := range n {
			v, err := Evaluate(c, env)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	case Mul:
		prod := 1.0
		for _, c := range n {
			v, err := Evaluate(c, env)
			if err != nil {
				return 0, err
			}
			prod *= v
		}
		return prod, nil
	case Pow:
		b, err := Evaluate(n.Base, env)
		if err != nil {
			return 0, err
		}
		x, err := Evaluate(n.Exp, env)
		if err != nil {
			return 0, err
		}
		return math.Pow(b, x), nil
	case Call:
		fn, ok := Funcs[n.Func]
		if !ok {
			return 0, fmt.Errorf("未知函数: %s", n.Func)
		}
		if len(n.Args) != fn.Arity {
			return 0, fmt.Errorf("函数 %s 需要 %d 个参数, 得到 %d 个", n.Func, fn.Arity, len(n.Args))
		}
		args := make([]float64, len(n.Args))
		for i, c := range n.Args {
			v, err := Evaluate(c, env)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		return fn.Eval(args...), nil
	}
	return 0, fmt.Errorf("不支持的表达式: %v", e)
}

// IsConstant 判断表达式是否可在空环境下求值
func IsConstant(e Expr) (float64, bool) {
	if e == nil {
		return 0, false
	}
	v, err := Evaluate(e, nil)
	return v, err == nil
}
