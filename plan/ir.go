package plan

import (
	"fmt"
	"math"

	"transim/expr"
)

// op 指令操作码
type op uint8

// 指令定义
const (
	opMov op = iota // dst = a
	opAdd           // dst = a + b
	opSub           // dst = a - b
	opMul           // dst = a * b
	opDiv           // dst = a / b
	opNeg           // dst = -a
	opSqr           // dst = a * a
	opInv           // dst = 1 / a
	opPow           // dst = a ^ b
	opExp
	opLog
	opSqrt
	opAbs
	opSin
	opCos
	opTan
	opSinh
	opCosh
	opTanh
	opAtan
	opSign
	opMin
	opMax
	opAtan2
)

var opNames = [...]string{
	opMov: "mov", opAdd: "add", opSub: "sub", opMul: "mul", opDiv: "div", opNeg: "neg",
	opSqr: "sqr", opInv: "inv", opPow: "pow", opExp: "exp", opLog: "log", opSqrt: "sqrt",
	opAbs: "abs", opSin: "sin", opCos: "cos", opTan: "tan", opSinh: "sinh", opCosh: "cosh",
	opTanh: "tanh", opAtan: "atan", opSign: "sign", opMin: "min", opMax: "max", opAtan2: "atan2",
}

func (o op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// callOps 函数名到操作码，参数数量由 expr.Funcs 给出
var callOps = map[string]op{
	"exp": opExp, "log": opLog, "ln": opLog, "sqrt": opSqrt, "abs": opAbs,
	"sin": opSin, "cos": opCos, "tan": opTan, "sinh": opSinh, "cosh": opCosh,
	"tanh": opTanh, "atan": opAtan, "sign": opSign, "min": opMin, "max": opMax,
	"atan2": opAtan2, "pow": opPow,
}

// instr 三地址指令，操作数均为寄存器下标
type instr struct {
	op        op
	dst, a, b int32
}

func (in instr) String() string {
	return fmt.Sprintf("%-5s r%d, r%d, r%d", in.op, in.dst, in.a, in.b)
}

// program 顺序执行的指令序列
type program []instr

// exec 在寄存器上执行
func (p program) exec(r []float64) {
	for _, in := range p {
		a := r[in.a]
		var v float64
		switch in.op {
		case opMov:
			v = a
		case opAdd:
			v = a + r[in.b]
		case opSub:
			v = a - r[in.b]
		case opMul:
			v = a * r[in.b]
		case opDiv:
			v = a / r[in.b]
		case opNeg:
			v = -a
		case opSqr:
			v = a * a
		case opInv:
			v = 1 / a
		case opPow:
			v = math.Pow(a, r[in.b])
		case opExp:
			v = math.Exp(a)
		case opLog:
			v = math.Log(a)
		case opSqrt:
			v = math.Sqrt(a)
		case opAbs:
			v = math.Abs(a)
		case opSin:
			v = math.Sin(a)
		case opCos:
			v = math.Cos(a)
		case opTan:
			v = math.Tan(a)
		case opSinh:
			v = math.Sinh(a)
		case opCosh:
			v = math.Cosh(a)
		case opTanh:
			v = math.Tanh(a)
		case opAtan:
			v = math.Atan(a)
		case opSign:
			v = expr.Sign(a)
		case opMin:
			v = math.Min(a, r[in.b])
		case opMax:
			v = math.Max(a, r[in.b])
		case opAtan2:
			v = math.Atan2(a, r[in.b])
		}
		r[in.dst] = v
	}
}
