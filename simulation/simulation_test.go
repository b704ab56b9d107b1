package simulation

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"transim/expr"
	"transim/logging"
	"transim/metrics"
	"transim/plan"
	"transim/solution"
)

func load(t *testing.T, name string) *solution.TransientSolution {
	t.Helper()
	ts, err := solution.LoadFile("../testdata/" + name)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	return ts
}

func newSim(t *testing.T, ts *solution.TransientSolution, opts ...func(*Config)) *Simulation {
	t.Helper()
	s, err := New(ts, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func oversample(n int) func(*Config) {
	return func(c *Config) { c.Oversample = n }
}

func sine(n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*440*float64(i)/48000)
	}
	return out
}

func step(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// TestRCAnalytic 验证阶跃响应与解析解一致。
func TestRCAnalytic(t *testing.T) {
	ts := load(t, "rc.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"), oversample(1))
	out := make([]float64, 1000)
	if err := s.RunMono(step(1000), out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	a := ts.TimeStep / (1000 * 1e-6)
	for i, y := range out {
		want := 1 - math.Pow(1/(1+a), float64(i+1))
		if math.Abs(y-want) > 1e-9*want {
			t.Fatalf("out[%d] = %.15g, want %.15g", i, y, want)
		}
	}
	if s.At() != 1000 {
		t.Errorf("At = %d", s.At())
	}
}

// TestBatchSplit 验证分批执行与一次执行的结果逐位相同。
func TestBatchSplit(t *testing.T) {
	ts := load(t, "clipper.yaml")
	in := sine(1000, 3)
	whole := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"))
	split := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"))
	a, b := make([]float64, 1000), make([]float64, 1000)
	if err := whole.RunMono(in, a); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := split.RunMono(in[:300], b[:300]); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := split.RunMono(in[300:], b[300:]); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			t.Fatalf("sample %d differs: %v != %v", i, a[i], b[i])
		}
	}
}

// TestDeterminism 验证相同配置的实例输出相同。
func TestDeterminism(t *testing.T) {
	ts := load(t, "clipper.yaml")
	in := sine(512, 2)
	var results [2][]float64
	for k := range results {
		s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"), oversample(4))
		results[k] = make([]float64, len(in))
		if err := s.RunMono(in, results[k]); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}
	for i := range in {
		if results[0][i] != results[1][i] {
			t.Fatalf("sample %d differs", i)
		}
	}
}

// TestConvergence 验证默认迭代上限内收敛，严格模式报告未收敛。
func TestConvergence(t *testing.T) {
	ts := load(t, "clipper.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"))
	out := make([]float64, 2048)
	if err := s.RunMono(sine(2048, 2), out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if st := s.Stats(); st.NotConverged != 0 || st.MaxIterations > DefaultIterations || st.Solves == 0 {
		t.Errorf("stats = %+v", st)
	}

	strict := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"), func(c *Config) {
		c.Strict = true
		c.Iterations = 1
	})
	err := strict.RunMono(sine(64, 2), make([]float64, 64))
	var nc *NotConvergedError
	if !errors.As(err, &nc) || nc.Count == 0 || nc.Iterations != 1 {
		t.Fatalf("expected NotConvergedError, got %v", err)
	}
	if strict.At() != 64 {
		t.Errorf("At = %d, counter must advance", strict.At())
	}
}

const divergent = `timestep: 1e-3
solutions:
  - newton:
      unknowns: ["x[t]"]
      deltas: ["dx[t]"]
      guesses: [{unknown: "x[t]", value: "x[t0]"}]
      equations:
        - terms: {"dx[t]": "1 - u[t]"}
          constant: "x[t] - 0.5*u[t] - 0.5"`

// TestDivergence 验证发散位置换算为绝对采样下标。
func TestDivergence(t *testing.T) {
	ts, err := solution.Load(strings.NewReader(divergent))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s := newSim(t, ts, WithInput("u[t]"), WithOutput("x[t]"), oversample(1))
	if err := s.RunMono(make([]float64, 200), make([]float64, 200)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	in := make([]float64, 400)
	for i := 100; i < len(in); i++ {
		in[i] = 1
	}
	err = s.RunMono(in, make([]float64, 400))
	var d *DivergedError
	if !errors.As(err, &d) {
		t.Fatalf("expected DivergedError, got %v", err)
	}
	if d.At != 200+256 || d.Offset != 256 {
		t.Errorf("At = %d, Offset = %d", d.At, d.Offset)
	}
	if !strings.Contains(d.Error(), "附近发散") {
		t.Errorf("message = %q", d.Error())
	}
	if s.At() != 200 {
		t.Errorf("counter advanced to %d", s.At())
	}
	// 复位后可以继续运行
	s.Reset()
	if err := s.RunMono(make([]float64, 10), make([]float64, 10)); err != nil {
		t.Errorf("Run after Reset failed: %v", err)
	}
}

const clock = `timestep: 1e-3
solutions:
  - linear:
      - unknown: "z[t]"
        value: "t"`

// TestDivergenceKeepsTime 验证发散批次不推进仿真时间。
func TestDivergenceKeepsTime(t *testing.T) {
	ts, err := solution.Load(strings.NewReader(clock))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	opts := []func(*Config){WithInput("Vin[t]"), WithOutput("z[t]", "1/Vin[t]"), oversample(1)}
	run := func(s *Simulation, in float64) ([]float64, error) {
		out := [][]float64{make([]float64, 1), make([]float64, 1)}
		err := s.Run(1, [][]float64{{in}}, out)
		return []float64{out[0][0], out[1][0]}, err
	}

	s := newSim(t, ts, opts...)
	for range 3 {
		var d *DivergedError
		if _, err := run(s, 0); !errors.As(err, &d) || d.At != 0 {
			t.Fatalf("expected DivergedError at 0, got %v", err)
		}
	}
	if s.At() != 0 || s.Time() != 0 {
		t.Errorf("At = %d, Time = %g", s.At(), s.Time())
	}
	s.Reset()
	got, err := run(s, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	fresh := newSim(t, ts, opts...)
	want, err := run(fresh, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got[0] != want[0] || want[0] != 1e-3 {
		t.Errorf("z = %g, fresh instance z = %g", got[0], want[0])
	}
	if s.At() != 1 || s.Time() != fresh.Time() {
		t.Errorf("At = %d, Time = %g", s.At(), s.Time())
	}
}

// TestLenientAllocs 验证未收敛的宽松模式运行不分配内存。
func TestLenientAllocs(t *testing.T) {
	ts := load(t, "clipper.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"), func(c *Config) {
		c.Iterations = 1
		c.Log = logging.NewStd("", logging.Verbose)
	})
	in, out := sine(256, 2), make([]float64, 256)
	allocs := testing.AllocsPerRun(20, func() {
		if err := s.RunMono(in, out); err != nil {
			t.Fatal(err)
		}
	})
	if st := s.Stats(); st.NotConverged == 0 {
		t.Fatalf("expected non-converged solves, stats = %+v", st)
	}
	if allocs != 0 {
		t.Errorf("allocs per Run = %g", allocs)
	}
}

// TestOversampleKeepsGlobals 验证修改过采样不改变全局状态。
func TestOversampleKeepsGlobals(t *testing.T) {
	ts := load(t, "clipper.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"))
	if err := s.RunMono(sine(100, 1), make([]float64, 100)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	keys, values := s.Globals()
	if err := s.SetOversample(2); err != nil {
		t.Fatalf("SetOversample failed: %v", err)
	}
	keys2, values2 := s.Globals()
	if len(keys) != len(keys2) {
		t.Fatalf("key count changed: %d -> %d", len(keys), len(keys2))
	}
	for i := range keys {
		if !expr.Equal(keys[i], keys2[i]) || values[i] != values2[i] {
			t.Errorf("global %s: %g -> %s: %g", keys[i], values[i], keys2[i], values2[i])
		}
	}
	if values[0] == 0 {
		t.Error("state not advanced before rebuild")
	}
	if got := s.TimeStep(); math.Abs(got-2*ts.TimeStep) > 1e-18 {
		t.Errorf("TimeStep = %g", got)
	}
}

// TestAbsentPlan 验证生成失败后输出静音且不推进状态。
func TestAbsentPlan(t *testing.T) {
	ts := load(t, "rc.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"))
	err := s.SetInput()
	var be *plan.BuildError
	if !errors.As(err, &be) || !errors.Is(err, plan.ErrUnresolved) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if s.Ready() {
		t.Fatal("plan should be absent")
	}
	out := []float64{1, 2, 3, 4}
	if err := s.RunOutput(4, [][]float64{out}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %g", i, v)
		}
	}
	if s.At() != 0 {
		t.Errorf("At = %d", s.At())
	}
	if err := s.SetInput(expr.V("Vin")); err != nil || !s.Ready() {
		t.Errorf("rebuild failed: %v", err)
	}
	// 无效配置不影响当前执行计划
	if err := s.SetOversample(0); err == nil || !s.Ready() {
		t.Errorf("SetOversample(0) = %v, ready %v", err, s.Ready())
	}
}

// TestBufferMismatch 验证缓冲区数量与长度检查。
func TestBufferMismatch(t *testing.T) {
	ts := load(t, "rc.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]", "Vo[t]"))
	buf := make([]float64, 8)
	cases := []struct {
		name    string
		n       int
		in, out [][]float64
	}{
		{"输出数量", 8, [][]float64{buf}, [][]float64{buf}},
		{"输入数量", 8, nil, [][]float64{buf, buf}},
		{"长度", 16, [][]float64{buf}, [][]float64{buf, buf}},
		{"负数", -1, [][]float64{buf}, [][]float64{buf, buf}},
	}
	for _, c := range cases {
		if err := s.Run(c.n, c.in, c.out); !errors.Is(err, ErrBufferMismatch) {
			t.Errorf("%s: err = %v", c.name, err)
		}
	}
	if s.At() != 0 {
		t.Errorf("At = %d", s.At())
	}
}

// TestParameter 验证参数在下一次 Run 生效并截断到范围内。
func TestParameter(t *testing.T) {
	ts := load(t, "rc.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"), oversample(1))
	if err := s.SetParameter("R", 100); err != nil {
		t.Fatalf("SetParameter failed: %v", err)
	}
	out := make([]float64, 1)
	if err := s.RunMono([]float64{1}, out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	a := ts.TimeStep / (100 * 1e-6)
	if want := a / (1 + a); math.Abs(out[0]-want) > 1e-12 {
		t.Errorf("out = %g, want %g", out[0], want)
	}
	if err := s.SetParameter("R", 1e9); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Parameter("R"); v != 10000 {
		t.Errorf("R = %g, want clamped 10000", v)
	}
	if err := s.SetParameter("C", 1); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("err = %v", err)
	}
}

// TestUpdateAsync 验证后台生成以及过期结果被丢弃。
func TestUpdateAsync(t *testing.T) {
	ts := load(t, "rc.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"))
	first := s.UpdateAsync(func(c *Config) { c.Oversample = 2 })
	second := s.UpdateAsync(func(c *Config) { c.Oversample = 3 })
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second update failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
	if err := <-first; err != nil && !errors.Is(err, ErrStale) {
		t.Errorf("first update: %v", err)
	}
	if p := s.Plan(); p == nil || p.Oversample != 3 {
		t.Errorf("plan = %+v", p)
	}
	if err := <-s.UpdateAsync(func(c *Config) { c.Iterations = 0 }); err == nil {
		t.Error("expected error for zero iterations")
	}
}

// TestReset 验证复位恢复初始状态而保留采样计数。
func TestReset(t *testing.T) {
	ts := load(t, "rc.yaml")
	s := newSim(t, ts, WithInput("Vin[t]"), WithOutput("Vo[t]"))
	first := make([]float64, 1)
	if err := s.RunMono([]float64{1}, first); err != nil {
		t.Fatal(err)
	}
	if err := s.RunMono(step(99), make([]float64, 99)); err != nil {
		t.Fatal(err)
	}
	s.Reset()
	_, values := s.Globals()
	for i, v := range values {
		if v != 0 {
			t.Errorf("global %d = %g", i, v)
		}
	}
	if s.At() != 100 {
		t.Errorf("At = %d", s.At())
	}
	again := make([]float64, 1)
	if err := s.RunMono([]float64{1}, again); err != nil {
		t.Fatal(err)
	}
	if again[0] != first[0] {
		t.Errorf("after Reset %g, want %g", again[0], first[0])
	}
}

// TestSetSolution 验证替换瞬态解时全局状态只增不减。
func TestSetSolution(t *testing.T) {
	s := newSim(t, load(t, "rc.yaml"), WithInput("Vin[t]"), WithOutput("Vo[t]"))
	if err := s.RunMono(step(10), make([]float64, 10)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSolution(load(t, "clipper.yaml")); err != nil {
		t.Fatalf("SetSolution failed: %v", err)
	}
	keys, values := s.Globals()
	var names []string
	for _, k := range keys {
		names = append(names, k.String())
	}
	if got := strings.Join(names, " "); got != "Vo[t0] Vin[t0] x[t0]" {
		t.Errorf("keys = %s", got)
	}
	if values[0] == 0 || values[1] != 1 {
		t.Errorf("values = %v", values)
	}
	if _, ok := s.Parameter("Level"); !ok {
		t.Error("parameters not replaced")
	}
}

// TestMetrics 验证指标更新。
func TestMetrics(t *testing.T) {
	m := metrics.New("test")
	s := newSim(t, load(t, "clipper.yaml"), WithInput("Vin[t]"), WithOutput("Vo[t]"), func(c *Config) {
		c.Metrics = m
	})
	if err := s.RunMono(sine(64, 1), make([]float64, 64)); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.Samples); got != 64 {
		t.Errorf("samples = %g", got)
	}
	if got := testutil.ToFloat64(m.Builds.WithLabelValues("ok")); got != 1 {
		t.Errorf("builds = %g", got)
	}
	if got := testutil.ToFloat64(m.Solves); got != 64*float64(DefaultOversample) {
		t.Errorf("solves = %g", got)
	}
}

func TestFormatSI(t *testing.T) {
	cases := map[float64]string{
		0:       "0 s",
		0.0123:  "12.3 ms",
		2.5e-6:  "2.5 μs",
		1.5:     "1.5 s",
		3e-15:   "0.003 ps",
		1234567: "1.235 Ms",
	}
	for v, want := range cases {
		if got := FormatSI(v, "s"); got != want {
			t.Errorf("FormatSI(%g) = %q, want %q", v, got, want)
		}
	}
	d := &DivergedError{Time: 0.0123, Offset: 5}
	if got := d.Error(); got != "仿真在 t = 12.3 ms + 5 附近发散" {
		t.Errorf("message = %q", got)
	}
}
