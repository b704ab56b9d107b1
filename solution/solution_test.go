package solution

import (
	"math"
	"strings"
	"testing"

	"transim/expr"
)

// TestLoadRC 验证闭式模型加载。
func TestLoadRC(t *testing.T) {
	ts, err := LoadFile("../testdata/rc.yaml")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if ts.TimeStep != 1e-5 {
		t.Errorf("TimeStep = %g", ts.TimeStep)
	}
	if len(ts.Solutions) != 1 {
		t.Fatalf("expected 1 solution set, got %d", len(ts.Solutions))
	}
	ls, ok := ts.Solutions[0].(*LinearSolutions)
	if !ok {
		t.Fatalf("expected *LinearSolutions, got %T", ts.Solutions[0])
	}
	if expr.Key(ls.Solutions[0].Left) != "Vo[t]" {
		t.Errorf("unknown = %s", ls.Solutions[0].Left)
	}
	if !ts.DependsOn(expr.P("Vo")) || ts.DependsOn(expr.P("Vin")) {
		t.Error("dependency on previous values mismatch")
	}
	if i, ok := ts.Parameter("R"); !ok || ts.Parameters[i].Default != 1000 {
		t.Errorf("parameter R = %v, %v", i, ok)
	}
	if v, ok := ts.InitialValue(expr.P("Vo")); !ok || v != 0 {
		t.Errorf("InitialValue = %g, %v", v, ok)
	}
}

// TestLoadNewton 验证非线性模型加载。
func TestLoadNewton(t *testing.T) {
	ts, err := LoadFile("../testdata/clipper.yaml")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	ni, ok := ts.Solutions[0].(*NewtonIteration)
	if !ok {
		t.Fatalf("expected *NewtonIteration, got %T", ts.Solutions[0])
	}
	if len(ni.Equations) != 1 || len(ni.SolvedDeltas()) != 1 {
		t.Fatalf("unexpected shape: %d equations, %d solved deltas", len(ni.Equations), len(ni.SolvedDeltas()))
	}
	coeff := ni.Equations[0].Coefficient(expr.V("dx"))
	if coeff == nil {
		t.Fatal("missing coefficient for dx[t]")
	}
	v, err := expr.Evaluate(coeff, expr.Env{"x[t]": 1})
	if err != nil || math.Abs(v-1.3) > 1e-12 {
		t.Errorf("coefficient = %g, %v", v, err)
	}
	if got := expr.Key(ts.Unknowns()[1]); got != "Vo[t]" {
		t.Errorf("second unknown = %s", got)
	}
}

// TestValidate 验证结构错误被拒绝。
func TestValidate(t *testing.T) {
	cases := map[string]string{
		"步长": `timestep: 0
solutions: []`,
		"增量数量": `timestep: 1
solutions:
  - newton:
      unknowns: ["x[t]"]
      guesses: [{unknown: "x[t]", value: "0"}]
      equations: [{terms: {"dx[t]": "1"}, constant: "x[t]"}]`,
		"残差行": `timestep: 1
solutions:
  - newton:
      unknowns: ["x[t]", "y[t]"]
      deltas: ["dx[t]", "dy[t]"]
      guesses: [{unknown: "x[t]", value: "0"}, {unknown: "y[t]", value: "0"}]
      equations: [{terms: {"dx[t]": "1"}, constant: "x[t]"}]`,
		"重复": `timestep: 1
solutions:
  - linear: [{unknown: "x[t]", value: "1"}]
  - linear: [{unknown: "x[t]", value: "2"}]`,
		"未知量形式": `timestep: 1
solutions:
  - linear: [{unknown: "x[t0]", value: "1"}]`,
	}
	for name, src := range cases {
		if _, err := Load(strings.NewReader(src)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// TestKnownDeltas 验证闭式增量不参与线性求解。
func TestKnownDeltas(t *testing.T) {
	ni := &NewtonIteration{
		Unknown: []expr.Expr{expr.V("x"), expr.V("y")},
		Deltas:  []expr.Expr{expr.V("dx"), expr.V("dy")},
		Guesses: []Arrow{{expr.V("x"), expr.Const(0)}, {expr.V("y"), expr.Const(0)}},
		Equations: []LinearCombination{{
			Terms:    []Term{{expr.V("dx"), expr.Const(1)}},
			Constant: expr.MustParse("x[t] - 1"),
		}},
		KnownDeltas: []Arrow{{expr.V("dy"), expr.MustParse("dx[t]")}},
	}
	if err := ni.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	solved := ni.SolvedDeltas()
	if len(solved) != 1 || expr.Key(solved[0]) != "dx[t]" {
		t.Errorf("SolvedDeltas = %v", solved)
	}
}
